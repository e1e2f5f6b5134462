package sfm

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// smallAngle is the rotation magnitude (radians) below which Rodrigues
// rotation falls back to its first-order expansion.
const smallAngle = 1e-12

// RotatePoint applies the rotation encoded by the angle-axis vector aa to p.
func RotatePoint(aa, p r3.Vector) r3.Vector {
	theta := aa.Norm()
	if theta < smallAngle {
		return p.Add(aa.Cross(p))
	}
	k := aa.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	return p.Mul(c).Add(k.Cross(p).Mul(s)).Add(k.Mul(k.Dot(p) * (1 - c)))
}

// RotationMatrix returns the 3x3 rotation matrix for angle-axis aa.
func RotationMatrix(aa r3.Vector) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	basis := [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	for j, e := range basis {
		col := RotatePoint(aa, e)
		m.Set(0, j, col.X)
		m.Set(1, j, col.Y)
		m.Set(2, j, col.Z)
	}
	return m
}

// AngleAxisFromMatrix converts a proper rotation matrix to angle-axis form.
func AngleAxisFromMatrix(r mat.Matrix) r3.Vector {
	tr := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (tr-1)/2))

	skew := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	// atan2 keeps full precision near 0 and pi where acos does not.
	theta := math.Atan2(skew.Norm()/2, cosTheta)
	if theta < 1e-9 {
		return skew.Mul(0.5)
	}
	if math.Pi-theta > 1e-6 {
		return skew.Mul(theta / (2 * math.Sin(theta)))
	}

	// Near pi the skew part vanishes; recover the axis from the symmetric part
	// using the largest diagonal entry for stability.
	diag := [3]float64{r.At(0, 0), r.At(1, 1), r.At(2, 2)}
	i := 0
	for k := 1; k < 3; k++ {
		if diag[k] > diag[i] {
			i = k
		}
	}
	j, k := (i+1)%3, (i+2)%3
	var axis [3]float64
	axis[i] = math.Sqrt(math.Max(0, (diag[i]-cosTheta)/(1-cosTheta)))
	axis[j] = (r.At(j, i) + r.At(i, j)) / (2 * (1 - cosTheta) * axis[i])
	axis[k] = (r.At(k, i) + r.At(i, k)) / (2 * (1 - cosTheta) * axis[i])
	v := r3.Vector{X: axis[0], Y: axis[1], Z: axis[2]}.Normalize()
	// Resolve the sign ambiguity with whatever skew signal remains.
	if v.Dot(skew) < 0 {
		v = v.Mul(-1)
	}
	return v.Mul(theta)
}
