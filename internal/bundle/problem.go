package bundle

import (
	"fmt"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

// Stats describes the problem built for one Optimize call.
type Stats struct {
	Residuals           int
	TracksUsed          int
	TracksSkipped       int
	ObservationsSkipped int
	IntrinsicsGroups    int
	FrozenGroups        int
	ConstrainedGroups   int
	FixedFrames         int
	FixedLandmarks      int
	// LossAttached is false when no residual took the loss instance, in which
	// case it was released with the problem.
	LossAttached bool
}

// buildProblem adds one reprojection residual per observation whose frame
// and landmark both have parameter blocks. Tracks without a landmark and
// observations of unknown frames are skipped.
func buildProblem(cfg Config, params *parameters, tracks *sfm.TrackSet, loss solver.LossFunction) (*solver.Problem, Stats, error) {
	problem := solver.NewProblem()
	var stats Stats

	usedGroups := make(map[int]bool)
	var groupOrder []int
	for _, t := range tracks.Tracks() {
		lm, ok := params.landmarks[t.ID]
		if !ok {
			stats.TracksSkipped++
			continue
		}
		added := 0
		for _, s := range t.History {
			ext, ok := params.extrinsics[s.Frame]
			if !ok {
				stats.ObservationsSkipped++
				continue
			}
			g := params.groupOf[s.Frame]
			cost := newReprojectionCost(params.model, s.Feature.Loc)
			if _, err := problem.AddResidualBlock(cost, loss, params.intrinsics[g], ext, lm); err != nil {
				return nil, stats, fmt.Errorf("track %d frame %d: %w", t.ID, s.Frame, err)
			}
			if !usedGroups[g] {
				usedGroups[g] = true
				groupOrder = append(groupOrder, g)
			}
			added++
		}
		if added == 0 {
			stats.TracksSkipped++
			continue
		}
		stats.TracksUsed++
		stats.Residuals += added
		if err := problem.SetEliminationGroup(lm); err != nil {
			return nil, stats, err
		}
	}
	stats.LossAttached = loss != nil && stats.Residuals > 0
	stats.IntrinsicsGroups = len(groupOrder)

	// The constant set is the same for every group, so apply it once per
	// group rather than once per camera.
	constant := cfg.Camera.ConstantIntrinsics()
	for _, g := range groupOrder {
		block := params.intrinsics[g]
		switch {
		case len(constant) >= len(block):
			if err := problem.SetParameterBlockConstant(block); err != nil {
				return nil, stats, err
			}
			stats.FrozenGroups++
		case len(constant) > 0:
			if err := problem.SetSubsetConstant(block, constant); err != nil {
				return nil, stats, fmt.Errorf("intrinsics group %d: %w", g, err)
			}
			stats.ConstrainedGroups++
		}
	}

	for _, id := range cfg.FixedFrames {
		ext, ok := params.extrinsics[id]
		if !ok || !problem.HasParameterBlock(ext) {
			continue
		}
		if err := problem.SetParameterBlockConstant(ext); err != nil {
			return nil, stats, err
		}
		stats.FixedFrames++
	}
	for _, id := range cfg.FixedLandmarks {
		lm, ok := params.landmarks[id]
		if !ok || !problem.HasParameterBlock(lm) {
			continue
		}
		if err := problem.SetParameterBlockConstant(lm); err != nil {
			return nil, stats, err
		}
		stats.FixedLandmarks++
	}
	return problem, stats, nil
}
