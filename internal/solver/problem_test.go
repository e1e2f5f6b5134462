package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offsetCost is r = x - target for a single block.
type offsetCost struct{ target []float64 }

func (c offsetCost) NumResiduals() int          { return len(c.target) }
func (c offsetCost) ParameterBlockSizes() []int { return []int{len(c.target)} }

func (c offsetCost) Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) bool {
	n := len(c.target)
	for i := range c.target {
		residuals[i] = params[0][i] - c.target[i]
	}
	if jacobians != nil && jacobians[0] != nil {
		for i := 0; i < n*n; i++ {
			jacobians[0][i] = 0
		}
		for i := 0; i < n; i++ {
			jacobians[0][i*n+i] = 1
		}
	}
	return true
}

// sumCost is r = a + b - target for two blocks of equal size.
type sumCost struct{ target []float64 }

func (c sumCost) NumResiduals() int { return len(c.target) }
func (c sumCost) ParameterBlockSizes() []int {
	return []int{len(c.target), len(c.target)}
}

func (c sumCost) Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) bool {
	n := len(c.target)
	for i := range c.target {
		residuals[i] = params[0][i] + params[1][i] - c.target[i]
	}
	for _, jac := range jacobians {
		if jac == nil {
			continue
		}
		for i := 0; i < n*n; i++ {
			jac[i] = 0
		}
		for i := 0; i < n; i++ {
			jac[i*n+i] = 1
		}
	}
	return true
}

func TestProblemBlocks(t *testing.T) {
	t.Parallel()

	p := NewProblem()
	x := []float64{1, 2, 3}
	require.NoError(t, p.AddParameterBlock(x))
	require.NoError(t, p.AddParameterBlock(x), "re-adding is a no-op")
	assert.Equal(t, 1, p.NumParameterBlocks())
	assert.True(t, p.HasParameterBlock(x))
	assert.False(t, p.HasParameterBlock([]float64{1, 2, 3}))

	err := p.AddParameterBlock(x[:2])
	assert.ErrorIs(t, err, ErrBlockMismatch)
	assert.ErrorIs(t, p.AddParameterBlock(nil), ErrEmptyBlock)
	assert.ErrorIs(t, p.SetParameterBlockConstant([]float64{0}), ErrUnknownBlock)

	require.NoError(t, p.SetParameterBlockConstant(x))
	assert.True(t, p.IsParameterBlockConstant(x))
	assert.Equal(t, 0, p.NumEffectiveParameters())
	require.NoError(t, p.SetParameterBlockVariable(x))
	assert.Equal(t, 3, p.NumEffectiveParameters())
	assert.Equal(t, 3, p.NumParameters())
}

func TestProblemAddResidualBlock(t *testing.T) {
	t.Parallel()

	p := NewProblem()
	a := []float64{0, 0}
	b := []float64{0, 0}

	id, err := p.AddResidualBlock(sumCost{target: []float64{1, 1}}, nil, a, b)
	require.NoError(t, err)
	assert.Equal(t, ResidualBlockID(0), id)
	assert.Equal(t, 2, p.NumParameterBlocks(), "blocks are added implicitly")
	assert.Equal(t, 2, p.NumResiduals())

	_, err = p.AddResidualBlock(sumCost{target: []float64{1, 1}}, nil, a)
	assert.ErrorIs(t, err, ErrBlockMismatch)
	_, err = p.AddResidualBlock(sumCost{target: []float64{1, 1}}, nil, a, []float64{1})
	assert.ErrorIs(t, err, ErrBlockMismatch)
	_, err = p.AddResidualBlock(sumCost{target: []float64{1, 1}}, nil, a, a)
	assert.ErrorIs(t, err, ErrBlockMismatch)
	assert.Equal(t, 1, p.NumResidualBlocks())
}

func TestProblemSetSubsetConstant(t *testing.T) {
	t.Parallel()

	p := NewProblem()
	x := []float64{1, 2, 3, 4}
	require.NoError(t, p.AddParameterBlock(x))

	require.NoError(t, p.SetSubsetConstant(x, []int{3, 0}))
	assert.Equal(t, []int{0, 3}, p.ConstantIndices(x))
	assert.Equal(t, 2, p.NumEffectiveParameters())

	assert.ErrorIs(t, p.SetSubsetConstant(x, []int{4}), ErrInvalidSubset)
	assert.ErrorIs(t, p.SetSubsetConstant(x, []int{-1}), ErrInvalidSubset)
	assert.ErrorIs(t, p.SetSubsetConstant(x, []int{1, 1}), ErrInvalidSubset)
	assert.ErrorIs(t, p.SetSubsetConstant(x, []int{0, 1, 2, 3}), ErrInvalidSubset)
	assert.Equal(t, []int{0, 3}, p.ConstantIndices(x), "failed calls leave the subset unchanged")
}

func TestProblemLossFunctions(t *testing.T) {
	t.Parallel()

	p := NewProblem()
	shared, err := NewLossFunction(HuberLoss, 1)
	require.NoError(t, err)
	other, err := NewLossFunction(HuberLoss, 1)
	require.NoError(t, err)

	assert.Empty(t, p.LossFunctions())
	for i := 0; i < 3; i++ {
		_, err := p.AddResidualBlock(offsetCost{target: []float64{1}}, shared, make([]float64, 1))
		require.NoError(t, err)
	}
	_, err = p.AddResidualBlock(offsetCost{target: []float64{1}}, nil, make([]float64, 1))
	require.NoError(t, err)
	_, err = p.AddResidualBlock(offsetCost{target: []float64{1}}, other, make([]float64, 1))
	require.NoError(t, err)

	losses := p.LossFunctions()
	require.Len(t, losses, 2)
	assert.True(t, losses[0] == shared)
	assert.True(t, losses[1] == other)
}

func TestNumericDiffCost(t *testing.T) {
	t.Parallel()

	// r0 = a0 * b0, r1 = a0 + 2 a1
	cost := NewNumericDiffCost(2, []int{2, 1}, func(params [][]float64, r []float64) bool {
		a, b := params[0], params[1]
		r[0] = a[0] * b[0]
		r[1] = a[0] + 2*a[1]
		return true
	})
	assert.Equal(t, 2, cost.NumResiduals())
	assert.Equal(t, []int{2, 1}, cost.ParameterBlockSizes())

	a := []float64{3, -1}
	b := []float64{2}
	r := make([]float64, 2)
	ja := make([]float64, 4)
	jb := make([]float64, 2)
	require.True(t, cost.Evaluate([][]float64{a, b}, r, [][]float64{ja, jb}))
	assert.InDeltaSlice(t, []float64{6, 1}, r, 1e-12)
	assert.InDeltaSlice(t, []float64{2, 0, 1, 2}, ja, 1e-6)
	assert.InDeltaSlice(t, []float64{3, 0}, jb, 1e-6)
	assert.Equal(t, []float64{3, -1}, a, "parameters are not modified")

	jb2 := make([]float64, 2)
	require.True(t, cost.Evaluate([][]float64{a, b}, r, [][]float64{nil, jb2}))
	assert.InDeltaSlice(t, []float64{3, 0}, jb2, 1e-6)
}

func TestNumericDiffCostPropagatesFailure(t *testing.T) {
	t.Parallel()
	cost := NewNumericDiffCost(1, []int{1}, func(params [][]float64, r []float64) bool {
		r[0] = params[0][0]
		return params[0][0] > 0
	})
	r := make([]float64, 1)
	assert.False(t, cost.Evaluate([][]float64{{-1}}, r, nil))
	assert.True(t, cost.Evaluate([][]float64{{1}}, r, nil))
}
