package synth

import (
	"math/rand"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// Perturbation describes the gaussian noise added to a scene to produce an
// optimizer starting point. Zero fields leave the matching values exact.
type Perturbation struct {
	LandmarkStdDev float64
	CenterStdDev   float64
	// RotationStdDev is added to each angle-axis component, in radians.
	RotationStdDev float64
	// FocalStdDev is a relative error: f *= 1 + N(0, FocalStdDev).
	FocalStdDev float64
	// FixedFrames are left exact so the result has a reference.
	FixedFrames []sfm.FrameID
	Seed        int64
}

// Perturb returns a copy of s with noisy cameras, intrinsics and landmarks.
// Tracks are shared unchanged.
func Perturb(s *Scene, p Perturbation) *Scene {
	rng := rand.New(rand.NewSource(p.Seed))
	fixed := make(map[sfm.FrameID]bool, len(p.FixedFrames))
	for _, id := range p.FixedFrames {
		fixed[id] = true
	}

	intrinsics := s.Cameras.Intrinsics()
	for i := range intrinsics {
		if p.FocalStdDev > 0 {
			intrinsics[i].FocalLength *= 1 + p.FocalStdDev*rng.NormFloat64()
		}
	}

	cams := s.Cameras.Cameras()
	for _, id := range s.Cameras.FrameIDs() {
		if fixed[id] {
			continue
		}
		c := cams[id]
		c.Rotation = c.Rotation.Add(gaussian(rng, p.RotationStdDev))
		c.Center = c.Center.Add(gaussian(rng, p.CenterStdDev))
		cams[id] = c
	}

	lms := s.Landmarks.Landmarks()
	for _, id := range s.Landmarks.TrackIDs() {
		l := lms[id]
		lms[id] = l.WithLoc(l.Loc.Add(gaussian(rng, p.LandmarkStdDev)))
	}

	return &Scene{
		Model:     s.Model,
		Cameras:   sfm.NewCameraMap(intrinsics, cams),
		Landmarks: sfm.NewLandmarkMap(lms),
		Tracks:    s.Tracks,
	}
}

// gaussian draws a vector with independent N(0, sigma) components. Iteration
// order is fixed by the callers so results are reproducible.
func gaussian(rng *rand.Rand, sigma float64) r3.Vector {
	if sigma <= 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(sigma)
}
