package synth_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/synth"
	"github.com/banshee-data/bundle.adjust/internal/testutil"
)

func smallOptions() synth.Options {
	o := synth.DefaultOptions()
	o.NumCameras = 5
	o.NumLandmarks = 30
	return o
}

func TestGenerateIsConsistent(t *testing.T) {
	t.Parallel()

	s, err := synth.Generate(smallOptions())
	require.NoError(t, err)

	assert.Equal(t, 5, s.Cameras.Len())
	assert.Equal(t, 1, s.Cameras.NumIntrinsics())
	assert.Equal(t, s.Landmarks.Len(), s.Tracks.Len())
	assert.Positive(t, s.Tracks.Len())

	rep := bundle.ReprojectionErrors(s.Cameras, s.Landmarks, s.Tracks, s.Model)
	assert.InDelta(t, 0, rep.Max, 1e-6, "noiseless observations reproject exactly")

	for _, tr := range s.Tracks.Tracks() {
		assert.GreaterOrEqual(t, len(tr.History), 2)
		lm, ok := s.Landmarks.Landmark(tr.ID)
		require.True(t, ok)
		assert.Equal(t, len(tr.History), lm.Observations)
		assert.LessOrEqual(t, lm.Loc.Norm(), 2.0)
	}
}

func TestGenerateCamerasLookAtOrigin(t *testing.T) {
	t.Parallel()

	s, err := synth.Generate(smallOptions())
	require.NoError(t, err)
	k, _ := s.Cameras.IntrinsicsAt(0)
	for _, id := range s.Cameras.FrameIDs() {
		c, _ := s.Cameras.Camera(id)
		assert.InDelta(t, 10, c.Center.Norm(), 1e-9)
		assert.InDelta(t, 10, c.Depth(sfm.Landmark{}.Loc), 1e-9)
		uv := sfm.Project(c, k, s.Model, sfm.Landmark{}.Loc)
		assert.InDelta(t, 640, uv.X, 1e-6)
		assert.InDelta(t, 480, uv.Y, 1e-6)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	o := smallOptions()
	o.NoiseStdDev = 0.5
	a, err := synth.Generate(o)
	require.NoError(t, err)
	b, err := synth.Generate(o)
	require.NoError(t, err)
	assert.Equal(t, a.Tracks.Tracks(), b.Tracks.Tracks())
	assert.Equal(t, a.Landmarks.Landmarks(), b.Landmarks.Landmarks())

	o.Seed = 2
	c, err := synth.Generate(o)
	require.NoError(t, err)
	assert.NotEqual(t, a.Landmarks.Landmarks(), c.Landmarks.Landmarks())
}

func TestGeneratePerCameraIntrinsics(t *testing.T) {
	t.Parallel()

	o := smallOptions()
	o.SharedIntrinsics = false
	o.Model = sfm.DistortionRationalRadialTangential
	s, err := synth.Generate(o)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Cameras.NumIntrinsics())
	for _, id := range s.Cameras.FrameIDs() {
		k, ok := s.Cameras.IntrinsicsFor(id)
		require.True(t, ok)
		assert.Len(t, k.Distortion, 8)
	}
}

func TestGenerateValidatesOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*synth.Options)
	}{
		{"one camera", func(o *synth.Options) { o.NumCameras = 1 }},
		{"no landmarks", func(o *synth.Options) { o.NumLandmarks = 0 }},
		{"cloud outside ring", func(o *synth.Options) { o.CloudRadius = 20 }},
		{"zero arc", func(o *synth.Options) { o.RingArc = 0 }},
		{"arc beyond circle", func(o *synth.Options) { o.RingArc = 7 }},
		{"zero focal", func(o *synth.Options) { o.Intrinsics.FocalLength = 0 }},
		{"negative noise", func(o *synth.Options) { o.NoiseStdDev = -1 }},
		{"zero min observations", func(o *synth.Options) { o.MinObservations = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := smallOptions()
			tt.modify(&o)
			_, err := synth.Generate(o)
			assert.ErrorIs(t, err, synth.ErrInvalidOptions)
		})
	}
}

func TestGenerateFullRing(t *testing.T) {
	t.Parallel()

	o := smallOptions()
	o.RingArc = 2 * math.Pi
	o.NumCameras = 4
	s, err := synth.Generate(o)
	require.NoError(t, err)
	c1, _ := s.Cameras.Camera(1)
	c3, _ := s.Cameras.Camera(3)
	assert.InDelta(t, 0, c1.Center.Add(c3.Center).Norm(), 1e-9, "opposite cameras")
}

func TestPerturb(t *testing.T) {
	t.Parallel()

	s, err := synth.Generate(smallOptions())
	require.NoError(t, err)
	p := synth.Perturb(s, synth.Perturbation{
		LandmarkStdDev: 0.05,
		CenterStdDev:   0.1,
		RotationStdDev: 0.01,
		FocalStdDev:    0.02,
		FixedFrames:    []sfm.FrameID{1},
		Seed:           3,
	})

	assert.Equal(t, s.Cameras.FrameIDs(), p.Cameras.FrameIDs())
	assert.Equal(t, s.Landmarks.TrackIDs(), p.Landmarks.TrackIDs())
	assert.Same(t, s.Tracks, p.Tracks)

	c1, _ := s.Cameras.Camera(1)
	p1, _ := p.Cameras.Camera(1)
	assert.Equal(t, c1, p1, "fixed frames are exact")
	c2, _ := s.Cameras.Camera(2)
	p2, _ := p.Cameras.Camera(2)
	assert.NotEqual(t, c2, p2)

	k, _ := s.Cameras.IntrinsicsAt(0)
	pk, _ := p.Cameras.IntrinsicsAt(0)
	assert.NotEqual(t, k.FocalLength, pk.FocalLength)

	orig, _ := s.Landmarks.Landmark(s.Landmarks.TrackIDs()[0])
	moved, _ := p.Landmarks.Landmark(s.Landmarks.TrackIDs()[0])
	assert.NotEqual(t, orig.Loc, moved.Loc)
	assert.Equal(t, orig.Color, moved.Color)

	exact := synth.Perturb(s, synth.Perturbation{Seed: 3})
	assert.Equal(t, s.Landmarks.Landmarks(), exact.Landmarks.Landmarks())
	assert.Equal(t, s.Cameras.Cameras(), exact.Cameras.Cameras())
}

func TestAdjustRecoversPerturbedScene(t *testing.T) {
	t.Parallel()

	s, err := synth.Generate(smallOptions())
	require.NoError(t, err)
	start := synth.Perturb(s, synth.Perturbation{
		LandmarkStdDev: 0.05,
		CenterStdDev:   0.05,
		RotationStdDev: 0.005,
		FixedFrames:    []sfm.FrameID{1, 2},
		Seed:           7,
	})

	cfg := bundle.DefaultConfig()
	cfg.Camera = bundle.CameraOptions{LensDistortion: s.Model}
	cfg.FixedFrames = []sfm.FrameID{1, 2}
	before := bundle.ReprojectionErrors(start.Cameras, start.Landmarks, start.Tracks, s.Model)

	res, err := bundle.New(cfg).Optimize(start.Cameras, start.Landmarks, start.Tracks)
	require.NoError(t, err)
	require.True(t, res.Summary.IsSolutionUsable(), res.Summary.FullReport())
	assert.Less(t, res.Summary.FinalCost, res.Summary.InitialCost)

	after := bundle.ReprojectionErrors(res.Cameras, res.Landmarks, start.Tracks, s.Model)
	assert.Greater(t, before.RMSE, 1.0)
	assert.Less(t, after.RMSE, 1e-3)

	testutil.AssertLandmarksNear(t, s.Landmarks, res.Landmarks, 1e-4)
	testutil.AssertCamerasNear(t, s.Cameras, res.Cameras, 1e-4)
}
