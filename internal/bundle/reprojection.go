package bundle

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

// projectBlocks projects a landmark block through intrinsics and extrinsics
// blocks. ok is false for points on the camera plane.
func projectBlocks(model sfm.DistortionModel, intr, ext, lm []float64) (r2.Point, bool) {
	aa := r3.Vector{X: ext[0], Y: ext[1], Z: ext[2]}
	center := r3.Vector{X: ext[3], Y: ext[4], Z: ext[5]}
	xc := sfm.RotatePoint(aa, r3.Vector{X: lm[0], Y: lm[1], Z: lm[2]}.Sub(center))
	if xc.Z == 0 {
		return r2.Point{}, false
	}
	x, y := sfm.Distort(model, intr[idxDistortion:], xc.X/xc.Z, xc.Y/xc.Z)
	f := intr[idxFocal]
	return r2.Point{
		X: f*x + intr[idxSkew]*y + intr[idxPrincipalX],
		Y: f/intr[idxAspect]*y + intr[idxPrincipalY],
	}, true
}

// newReprojectionCost returns the residual projected - observed over the
// blocks (intrinsics, extrinsics, landmark).
func newReprojectionCost(model sfm.DistortionModel, observed r2.Point) solver.CostFunction {
	sizes := []int{numBaseIntrinsics + model.NumParams(), 6, 3}
	return solver.NewNumericDiffCost(2, sizes, func(params [][]float64, r []float64) bool {
		p, ok := projectBlocks(model, params[0], params[1], params[2])
		if !ok {
			return false
		}
		r[0] = p.X - observed.X
		r[1] = p.Y - observed.Y
		return true
	})
}

// ObservationError is the reprojection residual of one track state.
type ObservationError struct {
	Track    sfm.TrackID
	Frame    sfm.FrameID
	Residual r2.Point
}

// ReprojectionReport summarizes residuals over every observation that has
// both a camera and a landmark.
type ReprojectionReport struct {
	Errors []ObservationError
	RMSE   float64
	Mean   float64
	Max    float64
}

// ReprojectionErrors projects every observed landmark through its camera.
// Observations of unknown frames or tracks without landmarks are skipped.
func ReprojectionErrors(cams *sfm.CameraMap, lms *sfm.LandmarkMap, tracks *sfm.TrackSet, model sfm.DistortionModel) ReprojectionReport {
	var rep ReprojectionReport
	if cams == nil || lms == nil || tracks == nil {
		return rep
	}

	var norms, squares []float64
	for _, t := range tracks.Tracks() {
		l, ok := lms.Landmark(t.ID)
		if !ok {
			continue
		}
		for _, s := range t.History {
			c, ok := cams.Camera(s.Frame)
			if !ok {
				continue
			}
			k, ok := cams.IntrinsicsAt(c.Intrinsics)
			if !ok {
				continue
			}
			res := sfm.Project(c, k, model, l.Loc).Sub(s.Feature.Loc)
			n := res.Norm()
			if math.IsNaN(n) || math.IsInf(n, 0) {
				continue
			}
			rep.Errors = append(rep.Errors, ObservationError{Track: t.ID, Frame: s.Frame, Residual: res})
			norms = append(norms, n)
			squares = append(squares, n*n)
			rep.Max = math.Max(rep.Max, n)
		}
	}
	if len(norms) == 0 {
		return rep
	}
	rep.Mean = stat.Mean(norms, nil)
	rep.RMSE = math.Sqrt(stat.Mean(squares, nil))
	return rep
}
