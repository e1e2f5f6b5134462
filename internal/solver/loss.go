package solver

import (
	"fmt"
	"math"
)

// LossFunction is a robust loss rho(s) applied to the squared norm s of a
// residual block. Evaluate returns rho(s), rho'(s) and rho''(s).
type LossFunction interface {
	Evaluate(s float64) [3]float64
}

// LossType names a robust loss family.
type LossType int

const (
	TrivialLoss LossType = iota
	HuberLoss
	SoftLOneLoss
	CauchyLoss
	ArctanLoss
	TukeyLoss
)

var lossNames = map[LossType]string{
	TrivialLoss:  "trivial",
	HuberLoss:    "huber",
	SoftLOneLoss: "soft_l_one",
	CauchyLoss:   "cauchy",
	ArctanLoss:   "arctan",
	TukeyLoss:    "tukey",
}

func (t LossType) String() string { return enumString(lossNames, t) }

// ParseLossType parses a loss_function_type value.
func ParseLossType(s string) (LossType, error) {
	return parseEnum(lossNames, s, "loss function type")
}

// minRho1 keeps rho' strictly positive so corrected jacobians stay finite.
const minRho1 = math.SmallestNonzeroFloat64

// NewLossFunction builds the loss of the given type and scale. The trivial
// loss is represented by nil, meaning plain squared error.
func NewLossFunction(t LossType, scale float64) (LossFunction, error) {
	if t != TrivialLoss && !(scale > 0) {
		return nil, fmt.Errorf("loss function scale must be positive, got %g", scale)
	}
	switch t {
	case TrivialLoss:
		return nil, nil
	case HuberLoss:
		return &Huber{A: scale}, nil
	case SoftLOneLoss:
		return &SoftLOne{A: scale}, nil
	case CauchyLoss:
		return &Cauchy{A: scale}, nil
	case ArctanLoss:
		return &Arctan{A: scale}, nil
	case TukeyLoss:
		return &Tukey{A: scale}, nil
	default:
		return nil, fmt.Errorf("unsupported loss function type %v", t)
	}
}

// Trivial is rho(s) = s.
type Trivial struct{}

func (Trivial) Evaluate(s float64) [3]float64 { return [3]float64{s, 1, 0} }

// Huber is quadratic below A and linear above.
type Huber struct{ A float64 }

func (l Huber) Evaluate(s float64) [3]float64 {
	b := l.A * l.A
	if s > b {
		r := math.Sqrt(s)
		rho1 := math.Max(minRho1, l.A/r)
		return [3]float64{2*l.A*r - b, rho1, -rho1 / (2 * s)}
	}
	return [3]float64{s, 1, 0}
}

// SoftLOne is a smooth approximation of Huber: 2 a^2 (sqrt(1 + s/a^2) - 1).
type SoftLOne struct{ A float64 }

func (l SoftLOne) Evaluate(s float64) [3]float64 {
	b := l.A * l.A
	c := 1 / b
	sum := 1 + s*c
	tmp := math.Sqrt(sum)
	rho1 := math.Max(minRho1, 1/tmp)
	return [3]float64{2 * b * (tmp - 1), rho1, -(c * rho1) / (2 * sum)}
}

// Cauchy is a^2 log(1 + s/a^2).
type Cauchy struct{ A float64 }

func (l Cauchy) Evaluate(s float64) [3]float64 {
	b := l.A * l.A
	c := 1 / b
	sum := 1 + s*c
	inv := 1 / sum
	return [3]float64{b * math.Log(sum), math.Max(minRho1, inv), -c * inv * inv}
}

// Arctan is a atan(s/a); it saturates at a*pi/2.
type Arctan struct{ A float64 }

func (l Arctan) Evaluate(s float64) [3]float64 {
	b := 1 / (l.A * l.A)
	sum := 1 + s*s*b
	inv := 1 / sum
	return [3]float64{l.A * math.Atan2(s, l.A), math.Max(minRho1, inv), -2 * s * b * inv * inv}
}

// Tukey is the biweight loss; residuals beyond A contribute a constant.
type Tukey struct{ A float64 }

func (l Tukey) Evaluate(s float64) [3]float64 {
	b := l.A * l.A
	if s <= b {
		v := 1 - s/b
		v2 := v * v
		return [3]float64{b / 3 * (1 - v2*v), v2, -2 / b * v}
	}
	return [3]float64{b / 3, 0, 0}
}

// corrector robustifies a residual block so a Gauss-Newton step on the
// corrected residuals and jacobian matches the second order model of the
// robustified cost (Triggs et al., "Bundle Adjustment - A Modern Synthesis").
type corrector struct {
	sqrtRho1         float64
	residualScaling  float64
	alphaSquaredNorm float64
}

func newCorrector(sqNorm float64, rho [3]float64) corrector {
	c := corrector{sqrtRho1: math.Sqrt(rho[1])}
	if sqNorm == 0 || rho[2] <= 0 {
		c.residualScaling = c.sqrtRho1
		return c
	}
	d := 1 + 2*sqNorm*rho[2]/rho[1]
	alpha := 1 - math.Sqrt(d)
	c.residualScaling = c.sqrtRho1 / (1 - alpha)
	c.alphaSquaredNorm = alpha / sqNorm
	return c
}

func (c corrector) correctResiduals(r []float64) {
	for i := range r {
		r[i] *= c.residualScaling
	}
}

// correctJacobian rescales a row-major nres x ncols jacobian in place. It
// must run before correctResiduals since it reads the raw residuals.
func (c corrector) correctJacobian(r []float64, jac []float64, ncols int) {
	if c.alphaSquaredNorm == 0 {
		for i := range jac {
			jac[i] *= c.sqrtRho1
		}
		return
	}
	nres := len(r)
	for col := 0; col < ncols; col++ {
		rtj := 0.0
		for row := 0; row < nres; row++ {
			rtj += r[row] * jac[row*ncols+col]
		}
		for row := 0; row < nres; row++ {
			idx := row*ncols + col
			jac[idx] = c.sqrtRho1 * (jac[idx] - c.alphaSquaredNorm*r[row]*rtj)
		}
	}
}
