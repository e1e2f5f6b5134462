package bundle

import (
	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// Intrinsic parameter layout: 0 focal length, 1-2 principal point,
// 3 aspect ratio, 4 skew, then the distortion coefficients.
const (
	idxFocal = iota
	idxPrincipalX
	idxPrincipalY
	idxAspect
	idxSkew
	idxDistortion

	numBaseIntrinsics = idxDistortion
)

// Distortion coefficient positions in the intrinsics block, OpenCV order.
const (
	idxK1 = idxDistortion + iota
	idxK2
	idxP1
	idxP2
	idxK3
	idxK4
	idxK5
	idxK6
)

// CameraOptions selects the lens model and which intrinsics the adjustment
// may change.
type CameraOptions struct {
	LensDistortion         sfm.DistortionModel
	OptimizeFocalLength    bool
	OptimizeAspectRatio    bool
	OptimizePrincipalPoint bool
	OptimizeSkew           bool
	OptimizeDistK1         bool
	OptimizeDistK2         bool
	OptimizeDistK3         bool
	OptimizeDistP1P2       bool
	OptimizeDistK4K5K6     bool
}

// DefaultCameraOptions refines focal length and k1 of a two-coefficient
// radial model.
func DefaultCameraOptions() CameraOptions {
	return CameraOptions{
		LensDistortion:      sfm.DistortionPolynomialRadial,
		OptimizeFocalLength: true,
		OptimizeDistK1:      true,
	}
}

// NumIntrinsicParams is the length of an intrinsics parameter block.
func (o CameraOptions) NumIntrinsicParams() int {
	return numBaseIntrinsics + o.LensDistortion.NumParams()
}

// ConstantIntrinsics lists the intrinsics block indices held fixed. Only
// indices inside the block for the configured lens model are returned.
func (o CameraOptions) ConstantIntrinsics() []int {
	var out []int
	if !o.OptimizeFocalLength {
		out = append(out, idxFocal)
	}
	if !o.OptimizePrincipalPoint {
		out = append(out, idxPrincipalX, idxPrincipalY)
	}
	if !o.OptimizeAspectRatio {
		out = append(out, idxAspect)
	}
	if !o.OptimizeSkew {
		out = append(out, idxSkew)
	}

	m := o.LensDistortion
	if m == sfm.DistortionRationalRadialTangential && !o.OptimizeDistK4K5K6 {
		out = append(out, idxK6, idxK5, idxK4)
	}
	if m == sfm.DistortionRationalRadialTangential || m == sfm.DistortionPolynomialRadialTangential {
		if !o.OptimizeDistK3 {
			out = append(out, idxK3)
		}
		if !o.OptimizeDistP1P2 {
			out = append(out, idxP2, idxP1)
		}
	}
	if m != sfm.DistortionNone {
		if !o.OptimizeDistK2 {
			out = append(out, idxK2)
		}
		if !o.OptimizeDistK1 {
			out = append(out, idxK1)
		}
	}
	return out
}

// Write records the camera options in b.
func (o CameraOptions) Write(b *config.Block) {
	b.SetValue("lens_distortion_type", o.LensDistortion.String(),
		"Lens distortion model to estimate: none, polynomial_radial, polynomial_radial_tangential, rational_radial_tangential")
	b.SetValue("optimize_focal_length", o.OptimizeFocalLength, "Include focal length in the optimization")
	b.SetValue("optimize_aspect_ratio", o.OptimizeAspectRatio, "Include aspect ratio in the optimization")
	b.SetValue("optimize_principal_point", o.OptimizePrincipalPoint, "Include principal point in the optimization")
	b.SetValue("optimize_skew", o.OptimizeSkew, "Include skew in the optimization")
	b.SetValue("optimize_dist_k1", o.OptimizeDistK1, "Include radial distortion parameter k1 in the optimization")
	b.SetValue("optimize_dist_k2", o.OptimizeDistK2, "Include radial distortion parameter k2 in the optimization")
	b.SetValue("optimize_dist_k3", o.OptimizeDistK3, "Include radial distortion parameter k3 in the optimization")
	b.SetValue("optimize_dist_p1_p2", o.OptimizeDistP1P2, "Include tangential distortion parameters p1 and p2 in the optimization")
	b.SetValue("optimize_dist_k4_k5_k6", o.OptimizeDistK4K5K6, "Include rational distortion parameters k4, k5 and k6 in the optimization")
}

// Read overwrites the options with any values present in b.
func (o *CameraOptions) Read(b *config.Block) error {
	if v, ok := b.Get("lens_distortion_type"); ok {
		m, err := sfm.ParseDistortionModel(v)
		if err != nil {
			return err
		}
		o.LensDistortion = m
	}
	flags := []struct {
		key string
		dst *bool
	}{
		{"optimize_focal_length", &o.OptimizeFocalLength},
		{"optimize_aspect_ratio", &o.OptimizeAspectRatio},
		{"optimize_principal_point", &o.OptimizePrincipalPoint},
		{"optimize_skew", &o.OptimizeSkew},
		{"optimize_dist_k1", &o.OptimizeDistK1},
		{"optimize_dist_k2", &o.OptimizeDistK2},
		{"optimize_dist_k3", &o.OptimizeDistK3},
		{"optimize_dist_p1_p2", &o.OptimizeDistP1P2},
		{"optimize_dist_k4_k5_k6", &o.OptimizeDistK4K5K6},
	}
	for _, f := range flags {
		v, err := b.GetBool(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}
