// Package bundle refines cameras and landmarks by minimizing reprojection
// error over every track observation.
package bundle

import (
	"errors"
	"fmt"

	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

var (
	// ErrMissingInput is returned when the camera, landmark or track
	// collection is nil, or the camera or landmark collection is empty.
	ErrMissingInput = errors.New("bundle: missing input")
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("bundle: invalid configuration")
	// ErrMissingIntrinsics is returned when a camera's intrinsics ID does not
	// resolve.
	ErrMissingIntrinsics = errors.New("bundle: camera has no intrinsics")
)

// Solver runs the nonlinear least squares solve.
type Solver interface {
	Solve(opts solver.Options, p *solver.Problem) (*solver.Summary, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(opts solver.Options, p *solver.Problem) (*solver.Summary, error)

func (f SolverFunc) Solve(opts solver.Options, p *solver.Problem) (*solver.Summary, error) {
	return f(opts, p)
}

// Result holds new collections; the inputs to Optimize are never modified.
type Result struct {
	Cameras   *sfm.CameraMap
	Landmarks *sfm.LandmarkMap
	Summary   *solver.Summary
	Stats     Stats
}

// Adjuster runs bundle adjustment with a fixed configuration. An Adjuster is
// not safe for concurrent reconfiguration, but Optimize holds no state
// between calls.
type Adjuster struct {
	cfg    Config
	log    logging.Logger
	solver Solver
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithLogger routes progress and errors to l.
func WithLogger(l logging.Logger) Option {
	return func(a *Adjuster) { a.log = logging.OrNop(l) }
}

// WithSolver replaces the default solver.
func WithSolver(s Solver) Option {
	return func(a *Adjuster) {
		if s != nil {
			a.solver = s
		}
	}
}

// New returns an Adjuster using cfg.
func New(cfg Config, opts ...Option) *Adjuster {
	a := &Adjuster{
		cfg:    cfg,
		log:    logging.Nop(),
		solver: SolverFunc(solver.Solve),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Config returns the current configuration.
func (a *Adjuster) Config() Config { return a.cfg }

// Configuration returns every setting with its description.
func (a *Adjuster) Configuration() *config.Block {
	b := config.NewBlock()
	a.cfg.Write(b)
	return b
}

// SetConfiguration applies the values present in b over the current
// configuration. Nothing changes if any value fails to parse.
func (a *Adjuster) SetConfiguration(b *config.Block) error {
	cfg := a.cfg
	if err := cfg.Read(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	a.cfg = cfg
	return nil
}

// CheckConfiguration reports whether b, applied over the current
// configuration, would be valid. Failures are logged.
func (a *Adjuster) CheckConfiguration(b *config.Block) bool {
	cfg := a.cfg
	if err := cfg.Read(b); err != nil {
		a.log.Opsf("bundle adjust configuration rejected: %v", err)
		return false
	}
	if err := cfg.Validate(); err != nil {
		a.log.Opsf("bundle adjust configuration rejected: %v", err)
		return false
	}
	return true
}

// Optimize jointly refines camera poses, intrinsics and landmark positions.
// Tracks without a landmark and observations of frames missing from cams
// are ignored. The returned collections have the same frame and track IDs as
// the inputs.
func (a *Adjuster) Optimize(cams *sfm.CameraMap, lms *sfm.LandmarkMap, tracks *sfm.TrackSet) (Result, error) {
	switch {
	case cams == nil || cams.Len() == 0:
		return Result{}, fmt.Errorf("%w: no cameras", ErrMissingInput)
	case lms == nil || lms.Len() == 0:
		return Result{}, fmt.Errorf("%w: no landmarks", ErrMissingInput)
	case tracks == nil:
		return Result{}, fmt.Errorf("%w: no tracks", ErrMissingInput)
	}

	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		a.log.Opsf("bundle adjust: invalid configuration: %v", err)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	params, err := extractParameters(cams, lms, cfg.Camera.LensDistortion)
	if err != nil {
		a.log.Opsf("bundle adjust: %v", err)
		return Result{}, err
	}
	loss, err := solver.NewLossFunction(cfg.LossFunctionType, cfg.LossFunctionScale)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	problem, stats, err := buildProblem(cfg, params, tracks, loss)
	if err != nil {
		return Result{}, fmt.Errorf("bundle adjust: build problem: %w", err)
	}
	a.log.Tracef("bundle adjust: %d residuals over %d tracks (%d tracks, %d observations skipped), %d intrinsics groups (%d frozen, %d constrained)",
		stats.Residuals, stats.TracksUsed, stats.TracksSkipped, stats.ObservationsSkipped,
		stats.IntrinsicsGroups, stats.FrozenGroups, stats.ConstrainedGroups)

	opts := cfg.Solver
	opts.Logger = a.log
	if cfg.Verbose {
		opts.MinimizerProgressToLog = true
		opts.Logging = solver.PerMinimizerIteration
	}
	summary, err := a.solver.Solve(opts, problem)
	if err != nil {
		a.log.Opsf("bundle adjust: solve failed: %v", err)
		return Result{}, fmt.Errorf("bundle adjust: solve: %w", err)
	}
	if summary == nil {
		return Result{}, errors.New("bundle adjust: solver returned no summary")
	}
	if cfg.Verbose {
		a.log.Diagf("%s", summary.FullReport())
	} else {
		a.log.Diagf("%s", summary.BriefReport())
	}

	return Result{
		Cameras:   params.updateCameras(cams),
		Landmarks: params.updateLandmarks(lms),
		Summary:   summary,
		Stats:     stats,
	}, nil
}
