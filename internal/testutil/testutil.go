// Package testutil provides shared scene fixtures and geometry assertions
// for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/synth"
)

// RingScene generates a noiseless ring scene with the default lens.
func RingScene(t testing.TB, cameras, landmarks int) *synth.Scene {
	t.Helper()
	o := synth.DefaultOptions()
	o.NumCameras = cameras
	o.NumLandmarks = landmarks
	s, err := synth.Generate(o)
	require.NoError(t, err)
	return s
}

// PerturbedRing returns a ring scene and a copy with landmarks and camera
// poses perturbed by sigma. Frames 1 and 2 are left exact to fix the gauge.
func PerturbedRing(t testing.TB, cameras, landmarks int, sigma float64, seed int64) (truth, start *synth.Scene) {
	t.Helper()
	truth = RingScene(t, cameras, landmarks)
	start = synth.Perturb(truth, synth.Perturbation{
		LandmarkStdDev: sigma,
		CenterStdDev:   sigma,
		RotationStdDev: sigma / 10,
		FixedFrames:    []sfm.FrameID{1, 2},
		Seed:           seed,
	})
	return truth, start
}

// TempPath returns name inside a per-test temporary directory.
func TempPath(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// AssertVectorNear fails when want and got are more than tol apart.
func AssertVectorNear(t testing.TB, want, got r3.Vector, tol float64, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.LessOrEqual(t, want.Sub(got).Norm(), tol, msgAndArgs...)
}

// AssertLandmarksNear compares every landmark position of want with got.
func AssertLandmarksNear(t testing.TB, want, got *sfm.LandmarkMap, tol float64) {
	t.Helper()
	require.Equal(t, want.TrackIDs(), got.TrackIDs())
	for _, id := range want.TrackIDs() {
		w, _ := want.Landmark(id)
		g, _ := got.Landmark(id)
		AssertVectorNear(t, w.Loc, g.Loc, tol, "landmark %d", id)
	}
}

// AssertCamerasNear compares the centers and rotations of every camera.
func AssertCamerasNear(t testing.TB, want, got *sfm.CameraMap, tol float64) {
	t.Helper()
	require.Equal(t, want.FrameIDs(), got.FrameIDs())
	for _, id := range want.FrameIDs() {
		w, _ := want.Camera(id)
		g, _ := got.Camera(id)
		AssertVectorNear(t, w.Center, g.Center, tol, "camera %d center", id)
		AssertVectorNear(t, w.Rotation, g.Rotation, tol, "camera %d rotation", id)
	}
}
