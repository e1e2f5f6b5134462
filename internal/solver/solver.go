package solver

import (
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

// Solve minimizes the problem in place. It returns an error only for invalid
// options or a problem whose structure the chosen linear solver rejects; a
// minimizer that fails to make progress is reported through the summary.
func Solve(opts Options, p *Problem) (*Summary, error) {
	clock := timeutil.OrReal(opts.Clock)
	opts.Clock = clock
	start := clock.Now()
	if err := opts.IsValid(); err != nil {
		return nil, err
	}
	log := logging.OrNop(opts.Logger)

	s := &Summary{
		MinimizerType:          opts.MinimizerType,
		TrustRegionStrategy:    opts.TrustRegionStrategy,
		LinearSolver:           opts.LinearSolver,
		LineSearchDirection:    opts.LineSearchDirection,
		NumParameterBlocks:     p.NumParameterBlocks(),
		NumParameters:          p.NumParameters(),
		NumEffectiveParameters: p.NumEffectiveParameters(),
		NumResidualBlocks:      p.NumResidualBlocks(),
		NumResiduals:           p.NumResiduals(),
		NumThreads:             opts.NumThreads,
	}
	if p.NumResidualBlocks() == 0 {
		s.Termination = Convergence
		s.Message = "No residual blocks; nothing to do."
		s.TotalTime = clock.Since(start)
		return s, nil
	}

	eliminate := opts.MinimizerType == TrustRegion && opts.LinearSolver == DenseSchur
	e, err := newEvaluator(p, opts.NumThreads, eliminate)
	if err != nil {
		return nil, err
	}
	s.NumEliminatedBlocks = len(e.eliminated)

	minStart := clock.Now()
	switch opts.MinimizerType {
	case LineSearch:
		minimizeLineSearch(opts, e, s, log)
	default:
		minimizeTrustRegion(opts, e, s, log)
	}
	s.MinimizerTime = clock.Since(minStart)
	s.TotalTime = clock.Since(start)
	return s, nil
}
