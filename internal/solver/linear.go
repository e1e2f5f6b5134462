package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var errLinearSolve = errors.New("solver: linear solve failed")

// linearSolver returns the step minimizing |J step + r|^2 + sum d_i step_i^2.
type linearSolver interface {
	solve(jac *mat.Dense, r, d []float64) ([]float64, error)
}

func newLinearSolver(t LinearSolverType, e *evaluator) linearSolver {
	switch t {
	case DenseQR:
		return denseQR{}
	case DenseSchur:
		return denseSchur{reduced: e.reducedCols, blocks: e.eliminated}
	default:
		return denseNormalCholesky{}
	}
}

// checkCondition lets ill-conditioned but finite solves through; gonum
// reports those as a mat.Condition error alongside a usable result.
func checkCondition(err error) error {
	if err == nil {
		return nil
	}
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 0) && !math.IsNaN(float64(cond)) {
		return nil
	}
	return fmt.Errorf("%w: %v", errLinearSolve, err)
}

func negGradient(jac mat.Matrix, r []float64) *mat.VecDense {
	_, n := jac.Dims()
	g := mat.NewVecDense(n, nil)
	g.MulVec(jac.T(), mat.NewVecDense(len(r), r))
	g.ScaleVec(-1, g)
	return g
}

// denseQR solves the augmented least squares problem [J; sqrt(D)] with a
// QR factorization.
type denseQR struct{}

func (denseQR) solve(jac *mat.Dense, r, d []float64) ([]float64, error) {
	m, n := jac.Dims()
	a := mat.NewDense(m+n, n, nil)
	a.Slice(0, m, 0, n).(*mat.Dense).Copy(jac)
	b := mat.NewVecDense(m+n, nil)
	for i := 0; i < m; i++ {
		b.SetVec(i, -r[i])
	}
	for i := 0; i < n; i++ {
		a.Set(m+i, i, math.Sqrt(d[i]))
	}

	var qr mat.QR
	qr.Factorize(a)
	step := make([]float64, n)
	if err := checkCondition(qr.SolveVecTo(mat.NewVecDense(n, step), false, b)); err != nil {
		return nil, err
	}
	return step, nil
}

// denseNormalCholesky factors the damped normal equations J^T J + D.
type denseNormalCholesky struct{}

func (denseNormalCholesky) solve(jac *mat.Dense, r, d []float64) ([]float64, error) {
	_, n := jac.Dims()
	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, jac.T())
	for i := 0; i < n; i++ {
		h.SetSym(i, i, h.At(i, i)+d[i])
	}

	var ch mat.Cholesky
	if !ch.Factorize(h) {
		return nil, fmt.Errorf("%w: normal equations are not positive definite", errLinearSolve)
	}
	step := make([]float64, n)
	if err := checkCondition(ch.SolveVecTo(mat.NewVecDense(n, step), negGradient(jac, r))); err != nil {
		return nil, err
	}
	return step, nil
}

// denseSchur eliminates the trailing independent blocks from the normal
// equations, solves the reduced camera system and back-substitutes.
//
//	[B  E] [x1]   [g1]
//	[E' C] [x2] = [g2]    S = B - E C^-1 E',  S x1 = g1 - E C^-1 g2
//
// C is block diagonal, one small block per eliminated parameter block.
type denseSchur struct {
	reduced int
	blocks  []elimBlock
}

type schurBlock struct {
	c  mat.Cholesky
	e  *mat.Dense // reduced x size
	g2 *mat.VecDense
}

func (s denseSchur) solve(jac *mat.Dense, r, d []float64) ([]float64, error) {
	if len(s.blocks) == 0 {
		return denseNormalCholesky{}.solve(jac, r, d)
	}
	m, n := jac.Dims()
	nc := s.reduced

	var (
		reduced *mat.SymDense
		rhs     *mat.VecDense
	)
	if nc > 0 {
		j1 := jac.Slice(0, m, 0, nc)
		reduced = mat.NewSymDense(nc, nil)
		reduced.SymOuterK(1, j1.T())
		for i := 0; i < nc; i++ {
			reduced.SetSym(i, i, reduced.At(i, i)+d[i])
		}
		rhs = negGradient(j1, r)
	}

	factored := make([]schurBlock, len(s.blocks))
	for bi, b := range s.blocks {
		rows := len(b.rows)
		f := &factored[bi]
		if rows == 0 {
			// Unobserved block: only the damping term constrains it.
			cb := mat.NewSymDense(b.size, nil)
			for c := 0; c < b.size; c++ {
				cb.SetSym(c, c, d[b.col+c])
			}
			if !f.c.Factorize(cb) {
				return nil, fmt.Errorf("%w: eliminated block %d is singular", errLinearSolve, bi)
			}
			f.g2 = mat.NewVecDense(b.size, nil)
			continue
		}

		jb := mat.NewDense(rows, b.size, nil)
		rb := make([]float64, rows)
		var jr *mat.Dense
		if nc > 0 {
			jr = mat.NewDense(rows, nc, nil)
		}
		for k, row := range b.rows {
			for c := 0; c < b.size; c++ {
				jb.Set(k, c, jac.At(row, b.col+c))
			}
			if jr != nil {
				for c := 0; c < nc; c++ {
					jr.Set(k, c, jac.At(row, c))
				}
			}
			rb[k] = r[row]
		}

		cb := mat.NewSymDense(b.size, nil)
		cb.SymOuterK(1, jb.T())
		for c := 0; c < b.size; c++ {
			cb.SetSym(c, c, cb.At(c, c)+d[b.col+c])
		}
		if !f.c.Factorize(cb) {
			return nil, fmt.Errorf("%w: eliminated block %d is not positive definite", errLinearSolve, bi)
		}
		f.g2 = negGradient(jb, rb)
		if jr == nil {
			continue
		}

		f.e = mat.NewDense(nc, b.size, nil)
		f.e.Mul(jr.T(), jb)

		var cinvEt mat.Dense
		if err := checkCondition(f.c.SolveTo(&cinvEt, f.e.T())); err != nil {
			return nil, err
		}
		var update mat.Dense
		update.Mul(f.e, &cinvEt)
		for i := 0; i < nc; i++ {
			for k := i; k < nc; k++ {
				reduced.SetSym(i, k, reduced.At(i, k)-update.At(i, k))
			}
		}

		var cinvG, t mat.VecDense
		if err := checkCondition(f.c.SolveVecTo(&cinvG, f.g2)); err != nil {
			return nil, err
		}
		t.MulVec(f.e, &cinvG)
		rhs.SubVec(rhs, &t)
	}

	step := make([]float64, n)
	var x1 *mat.VecDense
	if nc > 0 {
		var ch mat.Cholesky
		if !ch.Factorize(reduced) {
			return nil, fmt.Errorf("%w: reduced system is not positive definite", errLinearSolve)
		}
		x1 = mat.NewVecDense(nc, step[:nc:nc])
		if err := checkCondition(ch.SolveVecTo(x1, rhs)); err != nil {
			return nil, err
		}
	}

	for bi, b := range s.blocks {
		f := &factored[bi]
		g := mat.VecDenseCopyOf(f.g2)
		if f.e != nil && x1 != nil {
			var t mat.VecDense
			t.MulVec(f.e.T(), x1)
			g.SubVec(g, &t)
		}
		x2 := mat.NewVecDense(b.size, step[b.col:b.col+b.size:b.col+b.size])
		if err := checkCondition(f.c.SolveVecTo(x2, g)); err != nil {
			return nil, err
		}
	}
	return step, nil
}
