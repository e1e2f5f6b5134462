package bundle

import (
	"github.com/golang/geo/r3"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// updateCameras builds a new camera map from the optimized blocks. Frames
// and intrinsics the problem never touched keep their values.
func (p *parameters) updateCameras(orig *sfm.CameraMap) *sfm.CameraMap {
	intrinsics := orig.Intrinsics()
	for g, id := range p.source {
		intrinsics[id] = unpackIntrinsics(p.intrinsics[g], intrinsics[id])
	}

	cams := orig.Cameras()
	for id, c := range cams {
		if ext, ok := p.extrinsics[id]; ok {
			cams[id] = unpackExtrinsics(ext, c.Intrinsics)
		}
	}
	return sfm.NewCameraMap(intrinsics, cams)
}

// updateLandmarks builds a new landmark map where each optimized landmark
// is a copy of the original with only its position replaced.
func (p *parameters) updateLandmarks(orig *sfm.LandmarkMap) *sfm.LandmarkMap {
	lms := orig.Landmarks()
	for id, l := range lms {
		if b, ok := p.landmarks[id]; ok {
			lms[id] = l.WithLoc(r3.Vector{X: b[0], Y: b[1], Z: b[2]})
		}
	}
	return sfm.NewLandmarkMap(lms)
}
