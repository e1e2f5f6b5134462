package bundle

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// parameters holds the flat blocks built for one Optimize call. Intrinsics
// groups are indexed by position in intrinsics; groupOf maps each frame to
// its group and source records which camera-map intrinsics a group came
// from.
type parameters struct {
	model sfm.DistortionModel

	extrinsics map[sfm.FrameID][]float64
	intrinsics [][]float64
	source     []sfm.IntrinsicsID
	groupOf    map[sfm.FrameID]int
	landmarks  map[sfm.TrackID][]float64
}

// extractParameters copies every camera and landmark into parameter blocks.
// Cameras sharing an intrinsics ID share one intrinsics block.
func extractParameters(cams *sfm.CameraMap, lms *sfm.LandmarkMap, model sfm.DistortionModel) (*parameters, error) {
	p := &parameters{
		model:      model,
		extrinsics: make(map[sfm.FrameID][]float64, cams.Len()),
		groupOf:    make(map[sfm.FrameID]int, cams.Len()),
		landmarks:  make(map[sfm.TrackID][]float64, lms.Len()),
	}

	group := make(map[sfm.IntrinsicsID]int)
	for _, id := range cams.FrameIDs() {
		c, _ := cams.Camera(id)
		k, ok := cams.IntrinsicsAt(c.Intrinsics)
		if !ok {
			return nil, fmt.Errorf("%w: frame %d references intrinsics %d of %d", ErrMissingIntrinsics, id, c.Intrinsics, cams.NumIntrinsics())
		}
		g, seen := group[c.Intrinsics]
		if !seen {
			g = len(p.intrinsics)
			group[c.Intrinsics] = g
			p.intrinsics = append(p.intrinsics, packIntrinsics(k, model))
			p.source = append(p.source, c.Intrinsics)
		}
		p.groupOf[id] = g
		p.extrinsics[id] = packExtrinsics(c)
	}

	for id, l := range lms.Landmarks() {
		p.landmarks[id] = []float64{l.Loc.X, l.Loc.Y, l.Loc.Z}
	}
	return p, nil
}

// packExtrinsics lays a camera out as [rx ry rz cx cy cz].
func packExtrinsics(c sfm.Camera) []float64 {
	return []float64{
		c.Rotation.X, c.Rotation.Y, c.Rotation.Z,
		c.Center.X, c.Center.Y, c.Center.Z,
	}
}

func unpackExtrinsics(ext []float64, intrinsics sfm.IntrinsicsID) sfm.Camera {
	return sfm.Camera{
		Rotation:   r3.Vector{X: ext[0], Y: ext[1], Z: ext[2]},
		Center:     r3.Vector{X: ext[3], Y: ext[4], Z: ext[5]},
		Intrinsics: intrinsics,
	}
}

// packIntrinsics lays intrinsics out as [f ppx ppy aspect skew dist...] with
// the distortion resized to the model.
func packIntrinsics(k sfm.Intrinsics, model sfm.DistortionModel) []float64 {
	out := make([]float64, numBaseIntrinsics, numBaseIntrinsics+model.NumParams())
	out[idxFocal] = k.FocalLength
	out[idxPrincipalX] = k.PrincipalPoint.X
	out[idxPrincipalY] = k.PrincipalPoint.Y
	out[idxAspect] = k.AspectRatio
	out[idxSkew] = k.Skew
	return append(out, sfm.FlattenDistortion(model, k.Distortion)...)
}

// unpackIntrinsics writes a block back over orig. Coefficients beyond the
// model's count are left as they were, and padding that stayed zero is not
// added.
func unpackIntrinsics(block []float64, orig sfm.Intrinsics) sfm.Intrinsics {
	k := orig.Clone()
	k.FocalLength = block[idxFocal]
	k.PrincipalPoint = r2.Point{X: block[idxPrincipalX], Y: block[idxPrincipalY]}
	k.AspectRatio = block[idxAspect]
	k.Skew = block[idxSkew]
	dist := block[idxDistortion:]
	n := len(dist)
	for n > len(k.Distortion) && dist[n-1] == 0 {
		n--
	}
	if n > len(k.Distortion) {
		k.Distortion = append(k.Distortion, make([]float64, n-len(k.Distortion))...)
	}
	copy(k.Distortion, dist[:n])
	return k
}
