package sfm

import (
	"fmt"
	"strings"
)

// DistortionModel selects the lens distortion model applied after the
// pinhole projection. Coefficients follow the OpenCV ordering
// (k1, k2, p1, p2, k3, k4, k5, k6).
type DistortionModel int

const (
	DistortionNone DistortionModel = iota
	DistortionPolynomialRadial
	DistortionPolynomialRadialTangential
	DistortionRationalRadialTangential
)

// MaxDistortionParams is the largest coefficient count of any model.
const MaxDistortionParams = 8

var distortionNames = map[DistortionModel]string{
	DistortionNone:                       "none",
	DistortionPolynomialRadial:           "polynomial_radial",
	DistortionPolynomialRadialTangential: "polynomial_radial_tangential",
	DistortionRationalRadialTangential:   "rational_radial_tangential",
}

// DistortionModels lists every supported model in declaration order.
func DistortionModels() []DistortionModel {
	return []DistortionModel{
		DistortionNone,
		DistortionPolynomialRadial,
		DistortionPolynomialRadialTangential,
		DistortionRationalRadialTangential,
	}
}

func (m DistortionModel) String() string {
	if s, ok := distortionNames[m]; ok {
		return s
	}
	return fmt.Sprintf("DistortionModel(%d)", int(m))
}

// ParseDistortionModel maps a configuration name to a model.
func ParseDistortionModel(s string) (DistortionModel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range distortionNames {
		if n == name {
			return m, nil
		}
	}
	return DistortionNone, fmt.Errorf("unknown lens distortion type %q", s)
}

// NumParams returns how many distortion coefficients the model uses.
func (m DistortionModel) NumParams() int {
	switch m {
	case DistortionPolynomialRadial:
		return 2
	case DistortionPolynomialRadialTangential:
		return 5
	case DistortionRationalRadialTangential:
		return 8
	default:
		return 0
	}
}

// FlattenDistortion returns coeffs resized to the model's coefficient count,
// zero-padding missing coefficients and dropping extra ones.
func FlattenDistortion(m DistortionModel, coeffs []float64) []float64 {
	out := make([]float64, m.NumParams())
	copy(out, coeffs)
	return out
}

// Distort applies the model to normalized image coordinates (x, y).
// Coefficients in d beyond m.NumParams() are ignored.
func Distort(m DistortionModel, d []float64, x, y float64) (float64, float64) {
	if m == DistortionNone {
		return x, y
	}
	var c [MaxDistortionParams]float64
	copy(c[:m.NumParams()], d)
	// Coefficients beyond the model's count stay zero, so one rational
	// formula covers every model.
	k1, k2, p1, p2, k3, k4, k5, k6 := c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]

	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + k1*r2 + k2*r4 + k3*r6) / (1 + k4*r2 + k5*r4 + k6*r6)
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}
