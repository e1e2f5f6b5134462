package solver

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyBlock is returned for zero-length parameter blocks, which have
	// no address to key on.
	ErrEmptyBlock = errors.New("solver: empty parameter block")
	// ErrUnknownBlock is returned when a block was never added.
	ErrUnknownBlock = errors.New("solver: unknown parameter block")
	// ErrBlockMismatch is returned when block sizes disagree with a cost
	// function or a previous registration.
	ErrBlockMismatch = errors.New("solver: parameter block mismatch")
	// ErrInvalidSubset is returned for bad constant-coordinate subsets.
	ErrInvalidSubset = errors.New("solver: invalid constant subset")
)

// parameterBlock is a contiguous slice of caller-owned values. The solver
// reads and writes values in place.
type parameterBlock struct {
	values    []float64
	constant  bool
	held      []int // coordinates held constant, ascending
	free      []int // coordinates the solver may change, ascending
	eliminate bool
	order     int
}

func (pb *parameterBlock) size() int { return len(pb.values) }

// localSize is the dimension of the block's update space.
func (pb *parameterBlock) localSize() int {
	if pb.constant {
		return 0
	}
	return len(pb.free)
}

type residualBlock struct {
	cost   CostFunction
	loss   LossFunction
	blocks []*parameterBlock
}

// ResidualBlockID identifies a residual block within its Problem.
type ResidualBlockID int

// Problem is a sparse nonlinear least-squares problem: a set of parameter
// blocks identified by the address of their first element, and residual
// blocks each reading a fixed list of parameter blocks.
type Problem struct {
	blocks    map[*float64]*parameterBlock
	order     []*parameterBlock
	residuals []*residualBlock
}

// NewProblem returns an empty Problem.
func NewProblem() *Problem {
	return &Problem{blocks: make(map[*float64]*parameterBlock)}
}

func blockKey(values []float64) (*float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptyBlock
	}
	return &values[0], nil
}

// AddParameterBlock registers values as a parameter block. Adding the same
// block again is a no-op; adding it with a different length is an error.
func (p *Problem) AddParameterBlock(values []float64) error {
	_, err := p.addBlock(values)
	return err
}

func (p *Problem) addBlock(values []float64) (*parameterBlock, error) {
	key, err := blockKey(values)
	if err != nil {
		return nil, err
	}
	if pb, ok := p.blocks[key]; ok {
		if pb.size() != len(values) {
			return nil, fmt.Errorf("%w: block re-added with size %d, registered with %d", ErrBlockMismatch, len(values), pb.size())
		}
		return pb, nil
	}
	pb := &parameterBlock{values: values, order: len(p.order)}
	pb.free = make([]int, len(values))
	for i := range pb.free {
		pb.free[i] = i
	}
	p.blocks[key] = pb
	p.order = append(p.order, pb)
	return pb, nil
}

func (p *Problem) lookup(values []float64) (*parameterBlock, error) {
	key, err := blockKey(values)
	if err != nil {
		return nil, err
	}
	pb, ok := p.blocks[key]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return pb, nil
}

// AddResidualBlock adds a residual term reading blocks, in the order cost
// expects them. Unregistered blocks are added implicitly. loss may be nil
// for squared error; one loss instance may be shared by many residual
// blocks.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, blocks ...[]float64) (ResidualBlockID, error) {
	sizes := cost.ParameterBlockSizes()
	if len(sizes) != len(blocks) {
		return -1, fmt.Errorf("%w: cost function expects %d blocks, got %d", ErrBlockMismatch, len(sizes), len(blocks))
	}
	rb := &residualBlock{cost: cost, loss: loss, blocks: make([]*parameterBlock, len(blocks))}
	seen := make(map[*parameterBlock]bool, len(blocks))
	for i, values := range blocks {
		if len(values) != sizes[i] {
			return -1, fmt.Errorf("%w: block %d has size %d, cost function expects %d", ErrBlockMismatch, i, len(values), sizes[i])
		}
		pb, err := p.addBlock(values)
		if err != nil {
			return -1, err
		}
		if seen[pb] {
			return -1, fmt.Errorf("%w: block %d appears twice in one residual", ErrBlockMismatch, i)
		}
		seen[pb] = true
		rb.blocks[i] = pb
	}
	p.residuals = append(p.residuals, rb)
	return ResidualBlockID(len(p.residuals) - 1), nil
}

// SetParameterBlockConstant holds every coordinate of the block fixed.
func (p *Problem) SetParameterBlockConstant(values []float64) error {
	pb, err := p.lookup(values)
	if err != nil {
		return err
	}
	pb.constant = true
	return nil
}

// SetParameterBlockVariable undoes SetParameterBlockConstant. Coordinates
// held by SetSubsetConstant stay held.
func (p *Problem) SetParameterBlockVariable(values []float64) error {
	pb, err := p.lookup(values)
	if err != nil {
		return err
	}
	pb.constant = false
	return nil
}

// SetSubsetConstant holds the listed coordinates of the block fixed while
// the rest are optimized. Holding every coordinate is rejected; use
// SetParameterBlockConstant for that.
func (p *Problem) SetSubsetConstant(values []float64, indices []int) error {
	pb, err := p.lookup(values)
	if err != nil {
		return err
	}
	held := append([]int(nil), indices...)
	sort.Ints(held)
	for i, idx := range held {
		if idx < 0 || idx >= pb.size() {
			return fmt.Errorf("%w: index %d out of range for block of size %d", ErrInvalidSubset, idx, pb.size())
		}
		if i > 0 && held[i-1] == idx {
			return fmt.Errorf("%w: duplicate index %d", ErrInvalidSubset, idx)
		}
	}
	if len(held) == pb.size() {
		return fmt.Errorf("%w: all %d coordinates held constant", ErrInvalidSubset, pb.size())
	}

	isHeld := make(map[int]bool, len(held))
	for _, idx := range held {
		isHeld[idx] = true
	}
	pb.held = held
	pb.free = pb.free[:0]
	for i := 0; i < pb.size(); i++ {
		if !isHeld[i] {
			pb.free = append(pb.free, i)
		}
	}
	return nil
}

// SetEliminationGroup marks the block for elimination by the dense_schur
// linear solver. No residual block may read two eliminated blocks.
func (p *Problem) SetEliminationGroup(values []float64) error {
	pb, err := p.lookup(values)
	if err != nil {
		return err
	}
	pb.eliminate = true
	return nil
}

// HasParameterBlock reports whether values is registered.
func (p *Problem) HasParameterBlock(values []float64) bool {
	_, err := p.lookup(values)
	return err == nil
}

// IsParameterBlockConstant reports whether the whole block is held fixed.
func (p *Problem) IsParameterBlockConstant(values []float64) bool {
	pb, err := p.lookup(values)
	return err == nil && pb.constant
}

// ConstantIndices returns the coordinates held by SetSubsetConstant.
func (p *Problem) ConstantIndices(values []float64) []int {
	pb, err := p.lookup(values)
	if err != nil {
		return nil
	}
	return append([]int(nil), pb.held...)
}

// NumParameterBlocks returns the number of registered blocks.
func (p *Problem) NumParameterBlocks() int { return len(p.order) }

// NumResidualBlocks returns the number of residual terms.
func (p *Problem) NumResidualBlocks() int { return len(p.residuals) }

// NumParameters returns the total size of all registered blocks.
func (p *Problem) NumParameters() int {
	n := 0
	for _, pb := range p.order {
		n += pb.size()
	}
	return n
}

// NumEffectiveParameters returns the dimension of the update space.
func (p *Problem) NumEffectiveParameters() int {
	n := 0
	for _, pb := range p.order {
		n += pb.localSize()
	}
	return n
}

// NumResiduals returns the total residual dimension.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.cost.NumResiduals()
	}
	return n
}

// LossFunctions returns the distinct non-nil loss instances attached to
// residual blocks, in first-use order.
func (p *Problem) LossFunctions() []LossFunction {
	var out []LossFunction
	seen := make(map[LossFunction]bool)
	for _, rb := range p.residuals {
		if rb.loss == nil || seen[rb.loss] {
			continue
		}
		seen[rb.loss] = true
		out = append(out, rb.loss)
	}
	return out
}
