package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

const (
	minDiagonal = 1e-6
	maxDiagonal = 1e32

	doglegIncreaseThreshold = 0.75
	doglegMinMu             = 1e-8
	doglegMaxMu             = 1.0
	doglegMuIncrease        = 10.0
)

// trustRegionStrategy computes steps in the jacobi-scaled space and owns the
// trust region radius.
type trustRegionStrategy interface {
	computeStep(jac *mat.Dense, r, g []float64) ([]float64, error)
	stepAccepted(relativeDecrease float64)
	stepRejected()
	stepInvalid()
	radius() float64
}

func newStrategy(opts Options, lin linearSolver) trustRegionStrategy {
	if opts.TrustRegionStrategy == Dogleg {
		return &dogleg{
			lin:       lin,
			r:         opts.InitialTrustRegionRadius,
			maxRadius: opts.MaxTrustRegionRadius,
			mu:        doglegMinMu,
		}
	}
	return &levenbergMarquardt{
		lin:            lin,
		r:              opts.InitialTrustRegionRadius,
		maxRadius:      opts.MaxTrustRegionRadius,
		decreaseFactor: 2,
	}
}

func clampedDiagonal(jac *mat.Dense, scale float64) []float64 {
	d := columnSquaredNorms(jac)
	for i, v := range d {
		d[i] = math.Min(maxDiagonal, math.Max(minDiagonal, v)) * scale
	}
	return d
}

// levenbergMarquardt damps the normal equations with diag(J^T J)/radius.
type levenbergMarquardt struct {
	lin            linearSolver
	r, maxRadius   float64
	decreaseFactor float64
}

func (lm *levenbergMarquardt) computeStep(jac *mat.Dense, r, _ []float64) ([]float64, error) {
	return lm.lin.solve(jac, r, clampedDiagonal(jac, 1/lm.r))
}

func (lm *levenbergMarquardt) stepAccepted(rho float64) {
	t := 2*rho - 1
	lm.r = math.Min(lm.maxRadius, lm.r/math.Max(1.0/3.0, 1-t*t*t))
	lm.decreaseFactor = 2
}

func (lm *levenbergMarquardt) stepRejected() {
	lm.r /= lm.decreaseFactor
	lm.decreaseFactor *= 2
}

func (lm *levenbergMarquardt) stepInvalid() { lm.stepRejected() }

func (lm *levenbergMarquardt) radius() float64 { return lm.r }

// dogleg blends the Cauchy point with a lightly damped Gauss-Newton step.
type dogleg struct {
	lin          linearSolver
	r, maxRadius float64
	mu           float64
	stepNorm     float64
}

func (dl *dogleg) computeStep(jac *mat.Dense, r, g []float64) ([]float64, error) {
	gn, err := dl.lin.solve(jac, r, clampedDiagonal(jac, dl.mu))
	if err != nil {
		return nil, err
	}
	gnNorm := floats.Norm(gn, 2)

	step := make([]float64, len(g))
	switch {
	case gnNorm <= dl.r:
		copy(step, gn)
	default:
		gNorm := floats.Norm(g, 2)
		m, _ := jac.Dims()
		jg := mat.NewVecDense(m, nil)
		jg.MulVec(jac, mat.NewVecDense(len(g), g))
		jgNorm := mat.Norm(jg, 2)
		if gNorm == 0 || jgNorm == 0 {
			copy(step, gn)
			floats.Scale(dl.r/gnNorm, step)
			break
		}
		alpha := gNorm * gNorm / (jgNorm * jgNorm)
		if alpha*gNorm >= dl.r {
			floats.ScaleTo(step, -dl.r/gNorm, g)
			break
		}
		// Walk from the Cauchy point a toward the Gauss-Newton point b until
		// the boundary: |a + beta (b - a)| = r.
		a := make([]float64, len(g))
		floats.ScaleTo(a, -alpha, g)
		diff := make([]float64, len(g))
		floats.SubTo(diff, gn, a)
		qa := floats.Dot(diff, diff)
		qb := 2 * floats.Dot(a, diff)
		qc := floats.Dot(a, a) - dl.r*dl.r
		beta := (-qb + math.Sqrt(qb*qb-4*qa*qc)) / (2 * qa)
		floats.AddScaledTo(step, a, beta, diff)
	}
	dl.stepNorm = floats.Norm(step, 2)
	return step, nil
}

func (dl *dogleg) stepAccepted(rho float64) {
	if rho > doglegIncreaseThreshold {
		dl.r = math.Max(dl.r, 3*dl.stepNorm)
	}
	dl.r = math.Min(dl.r, dl.maxRadius)
	dl.mu = math.Max(doglegMinMu, dl.mu/doglegMuIncrease)
}

func (dl *dogleg) stepRejected() { dl.r *= 0.5 }

func (dl *dogleg) stepInvalid() {
	dl.mu = math.Min(doglegMaxMu, dl.mu*doglegMuIncrease)
	dl.r *= 0.5
}

func (dl *dogleg) radius() float64 { return dl.r }

// minimizeTrustRegion runs the trust region loop, leaving the problem's
// parameters at the best accepted point.
func minimizeTrustRegion(opts Options, e *evaluator, s *Summary, log logging.Logger) {
	clock := timeutil.OrReal(opts.Clock)
	start := clock.Now()
	progress := opts.MinimizerProgressToLog
	trace := opts.Logging == PerMinimizerIteration

	ev, ok := e.evaluate(true)
	if !ok {
		s.Termination = Failure
		s.Message = "Residual and Jacobian evaluation failed at the initial point."
		return
	}
	cost := ev.cost
	s.InitialCost, s.FinalCost = cost, cost

	scale := make([]float64, e.numCols)
	for i := range scale {
		scale[i] = 1
	}
	g := gradient(ev.jacobian, ev.residuals)
	if ev.jacobian != nil {
		if opts.JacobiScaling {
			scale = jacobiScale(ev.jacobian)
		}
		scaleColumns(ev.jacobian, scale)
	}
	gmax := maxNorm(g)

	strategy := newStrategy(opts, newLinearSolver(opts.LinearSolver, e))
	record := func(it IterationSummary) {
		it.CumulativeTime = clock.Since(start)
		s.Iterations = append(s.Iterations, it)
		if progress {
			if it.Iteration == 0 {
				log.Diagf("%s", iterationHeader)
			}
			log.Diagf("%s", formatIteration(it))
		}
	}
	record(IterationSummary{
		Cost:              cost,
		GradientMaxNorm:   gmax,
		TrustRegionRadius: strategy.radius(),
		StepIsValid:       true,
		StepIsSuccessful:  true,
	})

	finish := func(t TerminationType, msg string) {
		s.Termination = t
		s.Message = msg
		s.FinalCost = cost
		if trace {
			log.Tracef("trust region: %s: %s", t, msg)
		}
	}

	invalid := 0
	iter := 0
	for {
		if iter >= opts.MaxNumIterations {
			finish(NoConvergence, fmt.Sprintf("Maximum number of iterations reached. Number of iterations: %d.", iter))
			return
		}
		if elapsed := clock.Since(start); elapsed >= opts.MaxSolverTime {
			finish(NoConvergence, fmt.Sprintf("Maximum solver time reached. Total solver time: %v >= %v.", elapsed, opts.MaxSolverTime))
			return
		}
		if gmax <= opts.GradientTolerance {
			finish(Convergence, fmt.Sprintf("Gradient tolerance reached. Gradient max norm: %e <= %e", gmax, opts.GradientTolerance))
			return
		}
		if strategy.radius() < opts.MinTrustRegionRadius {
			finish(Convergence, fmt.Sprintf("Minimum trust region radius reached. Trust region radius: %e <= %e", strategy.radius(), opts.MinTrustRegionRadius))
			return
		}

		iterStart := clock.Now()
		iter++
		it := IterationSummary{Iteration: iter, Cost: cost, GradientMaxNorm: gmax}

		scaledGrad := gradient(ev.jacobian, ev.residuals)
		step, err := strategy.computeStep(ev.jacobian, ev.residuals, scaledGrad)
		modelChange := 0.0
		if err == nil {
			modelChange = modelCostChange(ev.jacobian, ev.residuals, step)
		}
		if err != nil || !(modelChange > 0) || !finite(step) {
			invalid++
			strategy.stepInvalid()
			s.NumUnsuccessfulSteps++
			if trace {
				log.Tracef("trust region: iteration %d invalid step (model cost change %e, err %v)", iter, modelChange, err)
			}
			it.TrustRegionRadius = strategy.radius()
			it.IterationTime = clock.Since(iterStart)
			record(it)
			if invalid > opts.MaxConsecutiveInvalid {
				finish(Failure, fmt.Sprintf("Number of consecutive invalid steps more than max_num_consecutive_invalid_steps: %d", opts.MaxConsecutiveInvalid))
				return
			}
			continue
		}
		invalid = 0
		it.StepIsValid = true

		delta := make([]float64, len(step))
		floats.MulTo(delta, step, scale)
		stepNorm := floats.Norm(delta, 2)
		it.StepNorm = stepNorm

		xNorm := e.parameterNorm()
		if tol := opts.ParameterTolerance * (xNorm + opts.ParameterTolerance); stepNorm <= tol {
			s.NumUnsuccessfulSteps++
			it.TrustRegionRadius = strategy.radius()
			it.IterationTime = clock.Since(iterStart)
			record(it)
			finish(Convergence, fmt.Sprintf("Parameter tolerance reached. Relative step_norm: %e <= %e.", stepNorm/(xNorm+opts.ParameterTolerance), opts.ParameterTolerance))
			return
		}

		saved := e.snapshot()
		e.plus(delta)
		newCost := math.Inf(1)
		if cand, ok := e.evaluate(false); ok {
			newCost = cand.cost
		}
		costChange := cost - newCost
		rho := costChange / modelChange
		it.CostChange = costChange
		it.RelativeDecrease = rho
		if trace {
			log.Tracef("trust region: iteration %d model cost change %e actual %e ratio %e", iter, modelChange, costChange, rho)
		}

		if math.Abs(costChange) <= opts.FunctionTolerance*cost {
			e.restore(saved)
			s.NumUnsuccessfulSteps++
			it.TrustRegionRadius = strategy.radius()
			it.IterationTime = clock.Since(iterStart)
			record(it)
			finish(Convergence, fmt.Sprintf("Function tolerance reached. |cost_change|/cost: %e <= %e", math.Abs(costChange)/cost, opts.FunctionTolerance))
			return
		}

		accepted := false
		if rho > opts.MinRelativeDecrease {
			next, ok := e.evaluate(true)
			if ok {
				accepted = true
				ev = next
				cost = ev.cost
				g = gradient(ev.jacobian, ev.residuals)
				if ev.jacobian != nil {
					scaleColumns(ev.jacobian, scale)
				}
				gmax = maxNorm(g)
			}
		}
		if accepted {
			strategy.stepAccepted(rho)
			s.NumSuccessfulSteps++
			it.StepIsSuccessful = true
		} else {
			e.restore(saved)
			strategy.stepRejected()
			s.NumUnsuccessfulSteps++
		}
		it.Cost = cost
		it.GradientMaxNorm = gmax
		it.TrustRegionRadius = strategy.radius()
		it.IterationTime = clock.Since(iterStart)
		record(it)
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
