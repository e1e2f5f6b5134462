package bundle

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

func TestConstantIntrinsics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts CameraOptions
		want []int
	}{
		{
			name: "nothing optimized without distortion",
			opts: CameraOptions{LensDistortion: sfm.DistortionNone},
			want: []int{0, 1, 2, 3, 4},
		},
		{
			name: "defaults hold all but focal and k1",
			opts: DefaultCameraOptions(),
			want: []int{1, 2, 3, 4, 6},
		},
		{
			name: "distortion flags ignored by the none model",
			opts: CameraOptions{LensDistortion: sfm.DistortionNone, OptimizeFocalLength: true},
			want: []int{1, 2, 3, 4},
		},
		{
			name: "radial tangential with p1 p2 free",
			opts: CameraOptions{
				LensDistortion:         sfm.DistortionPolynomialRadialTangential,
				OptimizePrincipalPoint: true,
				OptimizeDistP1P2:       true,
			},
			want: []int{0, 3, 4, 9, 6, 5},
		},
		{
			name: "rational with nothing optimized",
			opts: CameraOptions{LensDistortion: sfm.DistortionRationalRadialTangential},
			want: []int{0, 1, 2, 3, 4, 12, 11, 10, 9, 8, 7, 6, 5},
		},
		{
			name: "everything optimized",
			opts: CameraOptions{
				LensDistortion:         sfm.DistortionRationalRadialTangential,
				OptimizeFocalLength:    true,
				OptimizeAspectRatio:    true,
				OptimizePrincipalPoint: true,
				OptimizeSkew:           true,
				OptimizeDistK1:         true,
				OptimizeDistK2:         true,
				OptimizeDistK3:         true,
				OptimizeDistP1P2:       true,
				OptimizeDistK4K5K6:     true,
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.opts.ConstantIntrinsics()
			assert.Equal(t, tt.want, got)
			for _, i := range got {
				assert.Less(t, i, tt.opts.NumIntrinsicParams())
			}
		})
	}
}

func TestConstantIntrinsicsFreezesExactlyWhenNothingOptimized(t *testing.T) {
	t.Parallel()

	for _, m := range sfm.DistortionModels() {
		o := CameraOptions{LensDistortion: m}
		assert.Len(t, o.ConstantIntrinsics(), 5+m.NumParams(), m.String())
		o.OptimizeSkew = true
		assert.Less(t, len(o.ConstantIntrinsics()), o.NumIntrinsicParams(), m.String())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Verbose = true
	cfg.LossFunctionType = solver.HuberLoss
	cfg.LossFunctionScale = 2.5
	cfg.Solver.LinearSolver = solver.DenseQR
	cfg.Solver.MaxNumIterations = 42
	cfg.Camera.LensDistortion = sfm.DistortionRationalRadialTangential
	cfg.Camera.OptimizeDistK4K5K6 = true
	cfg.FixedFrames = []sfm.FrameID{1, 5}
	cfg.FixedLandmarks = []sfm.TrackID{3}

	b := config.NewBlock()
	cfg.Write(b)
	for _, k := range []string{"verbose", "loss_function_type", "max_num_iterations", "lens_distortion_type", "fixed_frames"} {
		assert.True(t, b.Has(k), k)
		assert.NotEmpty(t, b.Description(k), k)
	}
	v, _ := b.Get("fixed_frames")
	assert.Equal(t, "1,5", v)

	var got Config
	require.NoError(t, got.Read(b))
	assert.Equal(t, cfg, got)
}

func TestConfigReadErrors(t *testing.T) {
	t.Parallel()

	for key, value := range map[string]string{
		"verbose":              "sometimes",
		"loss_function_type":   "squared",
		"loss_function_scale":  "wide",
		"lens_distortion_type": "fisheye",
		"optimize_skew":        "2",
		"fixed_frames":         "1,x",
		"num_threads":          "many",
	} {
		b := config.NewBlock()
		b.Set(key, value)
		cfg := DefaultConfig()
		assert.Error(t, cfg.Read(b), key)
	}
}

func TestSetConfiguration(t *testing.T) {
	t.Parallel()

	a := New(DefaultConfig())
	b := config.NewBlock()
	b.Set("loss_function_type", "cauchy")
	b.Set("optimize_skew", "true")
	require.NoError(t, a.SetConfiguration(b))
	assert.Equal(t, solver.CauchyLoss, a.Config().LossFunctionType)
	assert.True(t, a.Config().Camera.OptimizeSkew)
	assert.True(t, a.Config().Camera.OptimizeFocalLength, "absent keys keep their value")

	bad := config.NewBlock()
	bad.Set("optimize_skew", "false")
	bad.Set("max_num_iterations", "lots")
	assert.ErrorIs(t, a.SetConfiguration(bad), ErrInvalidConfig)
	assert.True(t, a.Config().Camera.OptimizeSkew, "a failed read changes nothing")

	out := a.Configuration()
	v, ok := out.Get("loss_function_type")
	require.True(t, ok)
	assert.Equal(t, "cauchy", v)
}

func TestCheckConfiguration(t *testing.T) {
	t.Parallel()

	var ops bytes.Buffer
	a := New(DefaultConfig(), WithLogger(logging.New("", logging.Writers{Ops: &ops})))

	good := config.NewBlock()
	good.Set("function_tolerance", "1e-8")
	assert.True(t, a.CheckConfiguration(good))
	assert.Empty(t, ops.String())

	invalid := config.NewBlock()
	invalid.Set("function_tolerance", "-1")
	assert.False(t, a.CheckConfiguration(invalid))
	assert.Contains(t, ops.String(), "function_tolerance")

	unparsable := config.NewBlock()
	unparsable.Set("loss_function_scale", "big")
	assert.False(t, a.CheckConfiguration(unparsable))

	assert.Equal(t, DefaultConfig(), a.Config(), "checking never applies")
}
