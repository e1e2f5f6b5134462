package solver

import (
	"fmt"
	"strings"
	"time"
)

// TerminationType reports why the minimizer stopped.
type TerminationType int

const (
	// Convergence means a tolerance was met.
	Convergence TerminationType = iota
	// NoConvergence means an iteration or time limit was hit first. The
	// parameters hold the best point found and are usable.
	NoConvergence
	// Failure means the minimizer could not make progress, e.g. every step
	// evaluated to an invalid residual.
	Failure
)

var terminationNames = map[TerminationType]string{
	Convergence:   "convergence",
	NoConvergence: "no_convergence",
	Failure:       "failure",
}

func (t TerminationType) String() string { return enumString(terminationNames, t) }

// IterationSummary records one minimizer iteration. Iteration 0 is the
// initial evaluation.
type IterationSummary struct {
	Iteration         int
	Cost              float64
	CostChange        float64
	GradientMaxNorm   float64
	StepNorm          float64
	RelativeDecrease  float64
	TrustRegionRadius float64
	StepIsValid       bool
	StepIsSuccessful  bool
	IterationTime     time.Duration
	CumulativeTime    time.Duration
}

// Summary describes a completed Solve.
type Summary struct {
	MinimizerType       MinimizerType
	TrustRegionStrategy TrustRegionStrategyType
	LinearSolver        LinearSolverType
	LineSearchDirection LineSearchDirectionType

	Termination TerminationType
	Message     string

	InitialCost float64
	FinalCost   float64

	NumSuccessfulSteps   int
	NumUnsuccessfulSteps int
	Iterations           []IterationSummary

	NumParameterBlocks     int
	NumParameters          int
	NumEffectiveParameters int
	NumResidualBlocks      int
	NumResiduals           int
	NumEliminatedBlocks    int
	NumThreads             int

	MinimizerTime time.Duration
	TotalTime     time.Duration
}

// NumIterations counts steps taken, successful or not.
func (s *Summary) NumIterations() int {
	return s.NumSuccessfulSteps + s.NumUnsuccessfulSteps
}

// IsSolutionUsable reports whether the parameters hold a point at least as
// good as the initial one.
func (s *Summary) IsSolutionUsable() bool {
	return s.Termination == Convergence || s.Termination == NoConvergence
}

// BriefReport is a one line summary.
func (s *Summary) BriefReport() string {
	return fmt.Sprintf("Solver Report: Iterations: %d, Initial cost: %e, Final cost: %e, Termination: %s",
		s.NumIterations(), s.InitialCost, s.FinalCost, strings.ToUpper(s.Termination.String()))
}

// FullReport describes the problem, the solver configuration and the outcome.
func (s *Summary) FullReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nSolver Summary\n\n")
	fmt.Fprintf(&b, "%-28s%d\n", "Parameter blocks", s.NumParameterBlocks)
	fmt.Fprintf(&b, "%-28s%d\n", "Parameters", s.NumParameters)
	fmt.Fprintf(&b, "%-28s%d\n", "Effective parameters", s.NumEffectiveParameters)
	fmt.Fprintf(&b, "%-28s%d\n", "Residual blocks", s.NumResidualBlocks)
	fmt.Fprintf(&b, "%-28s%d\n", "Residuals", s.NumResiduals)
	fmt.Fprintf(&b, "\n%-28s%s\n", "Minimizer", s.MinimizerType)
	if s.MinimizerType == TrustRegion {
		fmt.Fprintf(&b, "%-28s%s\n", "Trust region strategy", s.TrustRegionStrategy)
		fmt.Fprintf(&b, "%-28s%s\n", "Linear solver", s.LinearSolver)
		if s.LinearSolver == DenseSchur {
			fmt.Fprintf(&b, "%-28s%d\n", "Eliminated blocks", s.NumEliminatedBlocks)
		}
	} else {
		fmt.Fprintf(&b, "%-28s%s\n", "Line search direction", s.LineSearchDirection)
	}
	fmt.Fprintf(&b, "%-28s%d\n", "Threads", s.NumThreads)

	fmt.Fprintf(&b, "\n%-28s%e\n", "Initial cost", s.InitialCost)
	fmt.Fprintf(&b, "%-28s%e\n", "Final cost", s.FinalCost)
	fmt.Fprintf(&b, "%-28s%e\n", "Change", s.InitialCost-s.FinalCost)

	fmt.Fprintf(&b, "\n%-28s%d\n", "Successful steps", s.NumSuccessfulSteps)
	fmt.Fprintf(&b, "%-28s%d\n", "Unsuccessful steps", s.NumUnsuccessfulSteps)
	fmt.Fprintf(&b, "\n%-28s%.6f\n", "Minimizer time (s)", s.MinimizerTime.Seconds())
	fmt.Fprintf(&b, "%-28s%.6f\n", "Total time (s)", s.TotalTime.Seconds())

	fmt.Fprintf(&b, "\n%-28s%s (%s)\n", "Termination", strings.ToUpper(s.Termination.String()), s.Message)
	return b.String()
}

// iterationHeader and formatIteration produce the per-iteration progress
// table.
const iterationHeader = "iter      cost      cost_change  |gradient|   |step|    tr_ratio  tr_radius  iter_time  total_time"

func formatIteration(it IterationSummary) string {
	return fmt.Sprintf("% 4d % 8e   % 3.2e   % 3.2e  % 3.2e  % 3.2e % 3.2e  % 3.2e   % 3.2e",
		it.Iteration, it.Cost, it.CostChange, it.GradientMaxNorm, it.StepNorm,
		it.RelativeDecrease, it.TrustRegionRadius,
		it.IterationTime.Seconds(), it.CumulativeTime.Seconds())
}
