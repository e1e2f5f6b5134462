package solver

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

// iterationRecorder turns gonum major iterations into IterationSummary
// records.
type iterationRecorder struct {
	clock    timeutil.Clock
	start    time.Time
	last     time.Time
	lastCost float64
	progress bool
	log      logging.Logger
	summary  *Summary
}

func (r *iterationRecorder) Init() error {
	r.last = r.clock.Now()
	return nil
}

func (r *iterationRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	now := r.clock.Now()
	it := IterationSummary{
		Iteration:        stats.MajorIterations,
		Cost:             loc.F,
		CostChange:       r.lastCost - loc.F,
		GradientMaxNorm:  maxNorm(loc.Gradient),
		StepIsValid:      true,
		StepIsSuccessful: true,
		IterationTime:    now.Sub(r.last),
		CumulativeTime:   now.Sub(r.start),
	}
	r.last = now
	r.lastCost = loc.F
	r.summary.Iterations = append(r.summary.Iterations, it)
	if r.progress {
		r.log.Diagf("%s", formatIteration(it))
	}
	return nil
}

// minimizeLineSearch minimizes the total cost over the tangent space at the
// initial point with a quasi-Newton line search.
func minimizeLineSearch(opts Options, e *evaluator, s *Summary, log logging.Logger) {
	clock := timeutil.OrReal(opts.Clock)
	start := clock.Now()
	base := e.snapshot()

	ev, ok := e.evaluate(true)
	if !ok {
		s.Termination = Failure
		s.Message = "Residual and Jacobian evaluation failed at the initial point."
		return
	}
	s.InitialCost, s.FinalCost = ev.cost, ev.cost
	g0 := gradient(ev.jacobian, ev.residuals)
	it0 := IterationSummary{Cost: ev.cost, GradientMaxNorm: maxNorm(g0), StepIsValid: true, StepIsSuccessful: true}
	s.Iterations = append(s.Iterations, it0)
	if opts.MinimizerProgressToLog {
		log.Diagf("%s", iterationHeader)
		log.Diagf("%s", formatIteration(it0))
	}

	switch {
	case opts.MaxNumIterations == 0:
		s.Termination = NoConvergence
		s.Message = "Maximum number of iterations reached. Number of iterations: 0."
		return
	case it0.GradientMaxNorm <= opts.GradientTolerance:
		s.Termination = Convergence
		s.Message = fmt.Sprintf("Gradient tolerance reached. Gradient max norm: %e <= %e", it0.GradientMaxNorm, opts.GradientTolerance)
		return
	}

	moveTo := func(x []float64) {
		e.restore(base)
		e.plus(x)
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			moveTo(x)
			ev, ok := e.evaluate(false)
			if !ok {
				return math.Inf(1)
			}
			return ev.cost
		},
		Grad: func(grad, x []float64) {
			moveTo(x)
			ev, ok := e.evaluate(true)
			if !ok {
				for i := range grad {
					grad[i] = math.NaN()
				}
				return
			}
			copy(grad, gradient(ev.jacobian, ev.residuals))
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Relative:   opts.FunctionTolerance,
			Iterations: 1,
		},
		MajorIterations: opts.MaxNumIterations,
		Runtime:         opts.MaxSolverTime,
		Recorder: &iterationRecorder{
			clock:    clock,
			start:    start,
			lastCost: ev.cost,
			progress: opts.MinimizerProgressToLog,
			log:      log,
			summary:  s,
		},
	}
	var method optimize.Method = &optimize.LBFGS{}
	if opts.LineSearchDirection == BFGS {
		method = &optimize.BFGS{}
	}

	res, err := optimize.Minimize(problem, make([]float64, e.numCols), settings, method)
	if res == nil {
		e.restore(base)
		s.Termination = Failure
		s.Message = fmt.Sprintf("Line search failed: %v", err)
		return
	}

	final := res.X
	if !(res.F <= s.InitialCost) {
		final = make([]float64, e.numCols)
	}
	moveTo(final)
	if fin, ok := e.evaluate(false); ok {
		s.FinalCost = fin.cost
	}
	s.NumSuccessfulSteps = res.Stats.MajorIterations

	switch res.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence, optimize.FunctionThreshold:
		s.Termination = Convergence
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		s.Termination = NoConvergence
	default:
		s.Termination = NoConvergence
		if err != nil && s.FinalCost >= s.InitialCost {
			s.Termination = Failure
		}
	}
	s.Message = fmt.Sprintf("Line search %s: %v", opts.LineSearchDirection, res.Status)
	if err != nil {
		s.Message += fmt.Sprintf(" (%v)", err)
	}
	if opts.Logging == PerMinimizerIteration {
		log.Tracef("line search: %d major iterations, %d function and %d gradient evaluations, status %v",
			res.Stats.MajorIterations, res.Stats.FuncEvaluations, res.Stats.GradEvaluations, res.Status)
	}
}
