package bundle

import (
	"fmt"

	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

// Config is the full adjustment configuration. The solver and camera groups
// read and write their own keys in the same flat block.
type Config struct {
	Verbose           bool
	LossFunctionType  solver.LossType
	LossFunctionScale float64

	Solver solver.Options
	Camera CameraOptions

	// Blocks of these frames and landmarks are held constant.
	FixedFrames    []sfm.FrameID
	FixedLandmarks []sfm.TrackID
}

// DefaultConfig returns the configuration used by New when none is given.
func DefaultConfig() Config {
	return Config{
		LossFunctionType:  solver.TrivialLoss,
		LossFunctionScale: 1,
		Solver:            solver.DefaultOptions(),
		Camera:            DefaultCameraOptions(),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := solver.ParseLossType(c.LossFunctionType.String()); err != nil {
		return err
	}
	if !(c.LossFunctionScale > 0) {
		return fmt.Errorf("loss_function_scale must be positive, got %g", c.LossFunctionScale)
	}
	if c.Camera.LensDistortion.NumParams() == 0 && c.Camera.LensDistortion != sfm.DistortionNone {
		return fmt.Errorf("unknown lens distortion type %d", int(c.Camera.LensDistortion))
	}
	return c.Solver.IsValid()
}

// Write records every setting in b.
func (c Config) Write(b *config.Block) {
	b.SetValue("verbose", c.Verbose, "If true, write status messages to the log while optimizing")
	b.SetValue("loss_function_type", c.LossFunctionType.String(),
		"Robust loss applied to reprojection residuals: trivial, huber, soft_l_one, cauchy, arctan, tukey")
	b.SetValue("loss_function_scale", c.LossFunctionScale,
		"Scale of the robust loss in pixels; residuals beyond it are downweighted")
	c.Solver.Write(b)
	c.Camera.Write(b)

	frames := make([]interface{}, len(c.FixedFrames))
	for i, f := range c.FixedFrames {
		frames[i] = int64(f)
	}
	b.SetValue("fixed_frames", frames, "Comma separated frame IDs whose poses are held constant")
	landmarks := make([]interface{}, len(c.FixedLandmarks))
	for i, l := range c.FixedLandmarks {
		landmarks[i] = int64(l)
	}
	b.SetValue("fixed_landmarks", landmarks, "Comma separated track IDs whose landmarks are held constant")
}

// Read overwrites the configuration with any values present in b.
func (c *Config) Read(b *config.Block) error {
	var err error
	if c.Verbose, err = b.GetBool("verbose", c.Verbose); err != nil {
		return err
	}
	if v, ok := b.Get("loss_function_type"); ok {
		if c.LossFunctionType, err = solver.ParseLossType(v); err != nil {
			return err
		}
	}
	if c.LossFunctionScale, err = b.GetFloat("loss_function_scale", c.LossFunctionScale); err != nil {
		return err
	}
	if err := c.Solver.Read(b); err != nil {
		return err
	}
	if err := c.Camera.Read(b); err != nil {
		return err
	}

	if b.Has("fixed_frames") {
		ids, err := b.GetInt64List("fixed_frames")
		if err != nil {
			return err
		}
		c.FixedFrames = nil
		for _, id := range ids {
			c.FixedFrames = append(c.FixedFrames, sfm.FrameID(id))
		}
	}
	if b.Has("fixed_landmarks") {
		ids, err := b.GetInt64List("fixed_landmarks")
		if err != nil {
			return err
		}
		c.FixedLandmarks = nil
		for _, id := range ids {
			c.FixedLandmarks = append(c.FixedLandmarks, sfm.TrackID(id))
		}
	}
	return nil
}
