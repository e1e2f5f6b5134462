package solver

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidElimination is returned by Solve when a residual block reads two
// blocks marked with SetEliminationGroup.
var ErrInvalidElimination = errors.New("solver: elimination group is not an independent set")

var errInvalidResidual = errors.New("solver: residual evaluation failed")

// elimBlock is an eliminated parameter block's column range in the jacobian
// and the residual rows that depend on it.
type elimBlock struct {
	col, size int
	rows      []int
}

// evaluator lays the problem out as a dense jacobian. Columns cover the free
// coordinates of every non-constant block: blocks kept in the reduced system
// first, eliminated blocks last. Rows follow residual block order.
type evaluator struct {
	problem *Problem
	threads int

	active      []*parameterBlock
	colOffset   map[*parameterBlock]int
	numCols     int
	reducedCols int
	eliminated  []elimBlock

	rowOffset []int
	numRows   int
}

type evaluation struct {
	cost      float64
	residuals []float64
	jacobian  *mat.Dense // nil unless requested, or when nothing is free
}

func newEvaluator(p *Problem, threads int, eliminate bool) (*evaluator, error) {
	e := &evaluator{
		problem:   p,
		threads:   threads,
		colOffset: make(map[*parameterBlock]int),
	}

	var kept, elim []*parameterBlock
	for _, pb := range p.order {
		if pb.localSize() == 0 {
			continue
		}
		if eliminate && pb.eliminate {
			elim = append(elim, pb)
		} else {
			kept = append(kept, pb)
		}
	}
	for _, pb := range kept {
		e.colOffset[pb] = e.numCols
		e.numCols += pb.localSize()
	}
	e.reducedCols = e.numCols
	elimIndex := make(map[*parameterBlock]int, len(elim))
	for i, pb := range elim {
		e.colOffset[pb] = e.numCols
		elimIndex[pb] = i
		e.eliminated = append(e.eliminated, elimBlock{col: e.numCols, size: pb.localSize()})
		e.numCols += pb.localSize()
	}
	e.active = append(kept, elim...)

	e.rowOffset = make([]int, len(p.residuals))
	for i, rb := range p.residuals {
		e.rowOffset[i] = e.numRows
		nres := rb.cost.NumResiduals()
		touched := -1
		for _, pb := range rb.blocks {
			idx, ok := elimIndex[pb]
			if !ok {
				continue
			}
			if touched >= 0 {
				return nil, fmt.Errorf("%w: residual block %d reads two eliminated blocks", ErrInvalidElimination, i)
			}
			touched = idx
		}
		if touched >= 0 {
			eb := &e.eliminated[touched]
			for r := 0; r < nres; r++ {
				eb.rows = append(eb.rows, e.numRows+r)
			}
		}
		e.numRows += nres
	}
	return e, nil
}

// snapshot copies the values of every registered block.
func (e *evaluator) snapshot() [][]float64 {
	out := make([][]float64, len(e.problem.order))
	for i, pb := range e.problem.order {
		out[i] = append([]float64(nil), pb.values...)
	}
	return out
}

func (e *evaluator) restore(state [][]float64) {
	for i, pb := range e.problem.order {
		copy(pb.values, state[i])
	}
}

// plus applies a tangent-space step to the free coordinates in place.
func (e *evaluator) plus(delta []float64) {
	for _, pb := range e.active {
		off := e.colOffset[pb]
		for k, idx := range pb.free {
			pb.values[idx] += delta[off+k]
		}
	}
}

// parameterNorm is the Euclidean norm of the free coordinates.
func (e *evaluator) parameterNorm() float64 {
	sq := 0.0
	for _, pb := range e.active {
		for _, idx := range pb.free {
			sq += pb.values[idx] * pb.values[idx]
		}
	}
	return math.Sqrt(sq)
}

// evaluate computes the robustified residuals and cost at the current
// parameter values and, when withJacobian is set, the corrected jacobian.
// It reports false when any residual block fails to evaluate or produces a
// non-finite value.
func (e *evaluator) evaluate(withJacobian bool) (evaluation, bool) {
	ev := evaluation{residuals: make([]float64, e.numRows)}
	if withJacobian && e.numCols > 0 {
		ev.jacobian = mat.NewDense(e.numRows, e.numCols, nil)
	}

	n := len(e.problem.residuals)
	chunks := e.threads
	if chunks > n {
		chunks = n
	}
	costs := make([]float64, chunks)

	var g errgroup.Group
	g.SetLimit(e.threads)
	for c := 0; c < chunks; c++ {
		lo, hi := c*n/chunks, (c+1)*n/chunks
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				cost, ok := e.evaluateBlock(i, ev.residuals, ev.jacobian)
				if !ok {
					return fmt.Errorf("%w: residual block %d", errInvalidResidual, i)
				}
				costs[c] += cost
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ev, false
	}
	ev.cost = floats.Sum(costs)
	return ev, !math.IsNaN(ev.cost) && !math.IsInf(ev.cost, 0)
}

func (e *evaluator) evaluateBlock(i int, residuals []float64, jac *mat.Dense) (float64, bool) {
	rb := e.problem.residuals[i]
	row := e.rowOffset[i]
	nres := rb.cost.NumResiduals()
	r := residuals[row : row+nres]

	params := make([][]float64, len(rb.blocks))
	for k, pb := range rb.blocks {
		params[k] = pb.values
	}
	var jacs [][]float64
	if jac != nil {
		jacs = make([][]float64, len(rb.blocks))
		for k, pb := range rb.blocks {
			if pb.localSize() > 0 {
				jacs[k] = make([]float64, nres*pb.size())
			}
		}
	}
	if !rb.cost.Evaluate(params, r, jacs) {
		return 0, false
	}

	sq := 0.0
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		sq += v * v
	}
	cost := 0.5 * sq
	if rb.loss != nil {
		rho := rb.loss.Evaluate(sq)
		cost = 0.5 * rho[0]
		c := newCorrector(sq, rho)
		for k, j := range jacs {
			if j != nil {
				c.correctJacobian(r, j, rb.blocks[k].size())
			}
		}
		c.correctResiduals(r)
	}

	for k, j := range jacs {
		if j == nil {
			continue
		}
		pb := rb.blocks[k]
		off := e.colOffset[pb]
		size := pb.size()
		for rr := 0; rr < nres; rr++ {
			for col, idx := range pb.free {
				v := j[rr*size+idx]
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return 0, false
				}
				jac.Set(row+rr, off+col, v)
			}
		}
	}
	return cost, true
}

// gradient returns J^T r.
func gradient(jac *mat.Dense, r []float64) []float64 {
	if jac == nil {
		return nil
	}
	_, n := jac.Dims()
	g := make([]float64, n)
	mat.NewVecDense(n, g).MulVec(jac.T(), mat.NewVecDense(len(r), r))
	return g
}

func columnSquaredNorms(jac *mat.Dense) []float64 {
	m, n := jac.Dims()
	out := make([]float64, n)
	for i := 0; i < m; i++ {
		row := jac.RawRowView(i)
		for j, v := range row {
			out[j] += v * v
		}
	}
	return out
}

// jacobiScale returns the column weights 1/(1+|J_j|).
func jacobiScale(jac *mat.Dense) []float64 {
	sq := columnSquaredNorms(jac)
	for j, v := range sq {
		sq[j] = 1 / (1 + math.Sqrt(v))
	}
	return sq
}

func scaleColumns(jac *mat.Dense, scale []float64) {
	m, _ := jac.Dims()
	for i := 0; i < m; i++ {
		floats.Mul(jac.RawRowView(i), scale)
	}
}

// modelCostChange is the decrease predicted by the linearization,
// -(r.J step + |J step|^2 / 2).
func modelCostChange(jac *mat.Dense, r, step []float64) float64 {
	m, _ := jac.Dims()
	js := make([]float64, m)
	mat.NewVecDense(m, js).MulVec(jac, mat.NewVecDense(len(step), step))
	return -(floats.Dot(r, js) + 0.5*floats.Dot(js, js))
}

func maxNorm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, math.Inf(1))
}
