package solver

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// CostFunction computes a residual vector from a fixed number of parameter
// blocks.
//
// Evaluate fills residuals (length NumResiduals) and, when jacobians is
// non-nil, every non-nil jacobians[i] with the row-major
// NumResiduals x ParameterBlockSizes()[i] derivative of the residuals with
// respect to block i. It returns false when the residual cannot be computed
// at params (for example a point behind the camera).
//
// Evaluate may be called concurrently for different residual blocks, so
// implementations must not share mutable scratch state between instances.
type CostFunction interface {
	NumResiduals() int
	ParameterBlockSizes() []int
	Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) bool
}

// ResidualFunc computes residuals only.
type ResidualFunc func(params [][]float64, residuals []float64) bool

// NumericDiffCost is a CostFunction whose jacobians are computed by central
// finite differences of a ResidualFunc.
type NumericDiffCost struct {
	numResiduals int
	sizes        []int
	fn           ResidualFunc
	formula      fd.Formula
}

// NewNumericDiffCost wraps fn as a CostFunction.
func NewNumericDiffCost(numResiduals int, sizes []int, fn ResidualFunc) *NumericDiffCost {
	return &NumericDiffCost{
		numResiduals: numResiduals,
		sizes:        append([]int(nil), sizes...),
		fn:           fn,
		formula:      fd.Central,
	}
}

func (c *NumericDiffCost) NumResiduals() int          { return c.numResiduals }
func (c *NumericDiffCost) ParameterBlockSizes() []int { return c.sizes }

func (c *NumericDiffCost) Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) bool {
	if !c.fn(params, residuals) {
		return false
	}
	if jacobians == nil {
		return true
	}

	local := make([][]float64, len(params))
	for i, jac := range jacobians {
		if jac == nil {
			continue
		}
		copy(local, params)
		ok := true
		f := func(y, x []float64) {
			local[i] = x
			if !c.fn(local, y) {
				ok = false
			}
		}
		dst := mat.NewDense(c.numResiduals, c.sizes[i], jac)
		fd.Jacobian(dst, f, params[i], &fd.JacobianSettings{Formula: c.formula})
		if !ok {
			return false
		}
	}
	return true
}
