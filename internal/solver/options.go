package solver

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

// Options configures Solve. Field names follow the configuration keys used
// by Read and Write.
type Options struct {
	MinimizerType            MinimizerType
	TrustRegionStrategy      TrustRegionStrategyType
	LinearSolver             LinearSolverType
	LineSearchDirection      LineSearchDirectionType
	MaxNumIterations         int
	MaxSolverTime            time.Duration
	FunctionTolerance        float64
	GradientTolerance        float64
	ParameterTolerance       float64
	InitialTrustRegionRadius float64
	MaxTrustRegionRadius     float64
	MinTrustRegionRadius     float64
	MinRelativeDecrease      float64
	MaxConsecutiveInvalid    int
	JacobiScaling            bool
	NumThreads               int

	// MinimizerProgressToLog logs one line per iteration to the diag stream.
	MinimizerProgressToLog bool
	// Logging adds per-iteration solver internals to the trace stream.
	Logging LoggingType

	// Logger receives progress output. Nil discards it.
	Logger logging.Logger
	// Clock times the solve and enforces MaxSolverTime. Nil uses the
	// wall clock.
	Clock timeutil.Clock
}

// DefaultOptions returns the defaults of a trust-region LM solve.
func DefaultOptions() Options {
	return Options{
		MinimizerType:            TrustRegion,
		TrustRegionStrategy:      LevenbergMarquardt,
		LinearSolver:             DenseSchur,
		LineSearchDirection:      LBFGS,
		MaxNumIterations:         100,
		MaxSolverTime:            time.Duration(1e9) * time.Second,
		FunctionTolerance:        1e-6,
		GradientTolerance:        1e-10,
		ParameterTolerance:       1e-8,
		InitialTrustRegionRadius: 1e4,
		MaxTrustRegionRadius:     1e16,
		MinTrustRegionRadius:     1e-32,
		MinRelativeDecrease:      1e-3,
		MaxConsecutiveInvalid:    5,
		JacobiScaling:            true,
		NumThreads:               1,
		Logging:                  Silent,
	}
}

// ErrInvalidOptions wraps every IsValid failure.
var ErrInvalidOptions = errors.New("invalid solver options")

// IsValid reports the first problem with the options, or nil.
func (o Options) IsValid() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
	}
	switch {
	case o.MaxNumIterations < 0:
		return bad("max_num_iterations must be >= 0, got %d", o.MaxNumIterations)
	case o.MaxSolverTime <= 0:
		return bad("max_solver_time_in_seconds must be > 0, got %v", o.MaxSolverTime.Seconds())
	case o.FunctionTolerance < 0:
		return bad("function_tolerance must be >= 0, got %g", o.FunctionTolerance)
	case o.GradientTolerance < 0:
		return bad("gradient_tolerance must be >= 0, got %g", o.GradientTolerance)
	case o.ParameterTolerance < 0:
		return bad("parameter_tolerance must be >= 0, got %g", o.ParameterTolerance)
	case o.InitialTrustRegionRadius <= 0:
		return bad("initial_trust_region_radius must be > 0, got %g", o.InitialTrustRegionRadius)
	case o.MinTrustRegionRadius <= 0:
		return bad("min_trust_region_radius must be > 0, got %g", o.MinTrustRegionRadius)
	case o.MaxTrustRegionRadius <= 0:
		return bad("max_trust_region_radius must be > 0, got %g", o.MaxTrustRegionRadius)
	case o.MinTrustRegionRadius > o.MaxTrustRegionRadius:
		return bad("min_trust_region_radius (%g) must be <= max_trust_region_radius (%g)", o.MinTrustRegionRadius, o.MaxTrustRegionRadius)
	case o.InitialTrustRegionRadius < o.MinTrustRegionRadius || o.InitialTrustRegionRadius > o.MaxTrustRegionRadius:
		return bad("initial_trust_region_radius (%g) must lie in [%g, %g]", o.InitialTrustRegionRadius, o.MinTrustRegionRadius, o.MaxTrustRegionRadius)
	case o.MinRelativeDecrease <= 0:
		return bad("min_relative_decrease must be > 0, got %g", o.MinRelativeDecrease)
	case o.MaxConsecutiveInvalid < 0:
		return bad("max_num_consecutive_invalid_steps must be >= 0, got %d", o.MaxConsecutiveInvalid)
	case o.NumThreads < 1:
		return bad("num_threads must be >= 1, got %d", o.NumThreads)
	}
	if _, ok := minimizerNames[o.MinimizerType]; !ok {
		return bad("unknown minimizer type %d", int(o.MinimizerType))
	}
	if _, ok := strategyNames[o.TrustRegionStrategy]; !ok {
		return bad("unknown trust region strategy %d", int(o.TrustRegionStrategy))
	}
	if _, ok := linearSolverNames[o.LinearSolver]; !ok {
		return bad("unknown linear solver type %d", int(o.LinearSolver))
	}
	if _, ok := lineSearchNames[o.LineSearchDirection]; !ok {
		return bad("unknown line search direction %d", int(o.LineSearchDirection))
	}
	return nil
}

// Write records the options and their descriptions in b.
func (o Options) Write(b *config.Block) {
	b.SetValue("minimizer_type", o.MinimizerType.String(),
		"Outer loop: "+enumChoices(minimizerNames))
	b.SetValue("trust_region_strategy_type", o.TrustRegionStrategy.String(),
		"Trust region step computation: "+enumChoices(strategyNames))
	b.SetValue("linear_solver_type", o.LinearSolver.String(),
		"Linear solver for trust region steps: "+enumChoices(linearSolverNames))
	b.SetValue("line_search_direction_type", o.LineSearchDirection.String(),
		"Line search direction: "+enumChoices(lineSearchNames))
	b.SetValue("max_num_iterations", o.MaxNumIterations,
		"Maximum number of minimizer iterations")
	b.SetValue("max_solver_time_in_seconds", o.MaxSolverTime.Seconds(),
		"Maximum wall time spent in the minimizer")
	b.SetValue("function_tolerance", o.FunctionTolerance,
		"Stop when |cost change| / cost falls below this")
	b.SetValue("gradient_tolerance", o.GradientTolerance,
		"Stop when the gradient max-norm falls below this")
	b.SetValue("parameter_tolerance", o.ParameterTolerance,
		"Stop when |step| <= tol * (|x| + tol)")
	b.SetValue("initial_trust_region_radius", o.InitialTrustRegionRadius, "")
	b.SetValue("max_trust_region_radius", o.MaxTrustRegionRadius, "")
	b.SetValue("min_trust_region_radius", o.MinTrustRegionRadius,
		"Stop when the trust region shrinks below this")
	b.SetValue("min_relative_decrease", o.MinRelativeDecrease,
		"Minimum actual/predicted cost reduction ratio for accepting a step")
	b.SetValue("max_num_consecutive_invalid_steps", o.MaxConsecutiveInvalid, "")
	b.SetValue("jacobi_scaling", o.JacobiScaling,
		"Scale jacobian columns to unit norm before solving")
	b.SetValue("num_threads", o.NumThreads,
		"Goroutines used for residual and jacobian evaluation")
	b.SetValue("minimizer_progress_to_stdout", o.MinimizerProgressToLog,
		"Log one line per minimizer iteration")
	b.SetValue("logging_type", o.Logging.String(),
		"Trace output: "+enumChoices(loggingNames))
}

// Read overwrites the options with any values present in b.
func (o *Options) Read(b *config.Block) error {
	var err error
	if v, ok := b.Get("minimizer_type"); ok {
		if o.MinimizerType, err = ParseMinimizerType(v); err != nil {
			return err
		}
	}
	if v, ok := b.Get("trust_region_strategy_type"); ok {
		if o.TrustRegionStrategy, err = ParseTrustRegionStrategyType(v); err != nil {
			return err
		}
	}
	if v, ok := b.Get("linear_solver_type"); ok {
		if o.LinearSolver, err = ParseLinearSolverType(v); err != nil {
			return err
		}
	}
	if v, ok := b.Get("line_search_direction_type"); ok {
		if o.LineSearchDirection, err = ParseLineSearchDirectionType(v); err != nil {
			return err
		}
	}
	if v, ok := b.Get("logging_type"); ok {
		if o.Logging, err = ParseLoggingType(v); err != nil {
			return err
		}
	}

	if o.MaxNumIterations, err = b.GetInt("max_num_iterations", o.MaxNumIterations); err != nil {
		return err
	}
	secs, err := b.GetFloat("max_solver_time_in_seconds", o.MaxSolverTime.Seconds())
	if err != nil {
		return err
	}
	o.MaxSolverTime = time.Duration(secs * float64(time.Second))

	floats := []struct {
		key string
		dst *float64
	}{
		{"function_tolerance", &o.FunctionTolerance},
		{"gradient_tolerance", &o.GradientTolerance},
		{"parameter_tolerance", &o.ParameterTolerance},
		{"initial_trust_region_radius", &o.InitialTrustRegionRadius},
		{"max_trust_region_radius", &o.MaxTrustRegionRadius},
		{"min_trust_region_radius", &o.MinTrustRegionRadius},
		{"min_relative_decrease", &o.MinRelativeDecrease},
	}
	for _, f := range floats {
		if *f.dst, err = b.GetFloat(f.key, *f.dst); err != nil {
			return err
		}
	}

	if o.MaxConsecutiveInvalid, err = b.GetInt("max_num_consecutive_invalid_steps", o.MaxConsecutiveInvalid); err != nil {
		return err
	}
	if o.NumThreads, err = b.GetInt("num_threads", o.NumThreads); err != nil {
		return err
	}
	if o.JacobiScaling, err = b.GetBool("jacobi_scaling", o.JacobiScaling); err != nil {
		return err
	}
	if o.MinimizerProgressToLog, err = b.GetBool("minimizer_progress_to_stdout", o.MinimizerProgressToLog); err != nil {
		return err
	}
	return nil
}
