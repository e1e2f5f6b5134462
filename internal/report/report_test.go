package report

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

func errorsReport(norms ...float64) bundle.ReprojectionReport {
	var rep bundle.ReprojectionReport
	var sq float64
	for i, n := range norms {
		rep.Errors = append(rep.Errors, bundle.ObservationError{Track: 1, Frame: 1, Residual: r2.Point{X: n}})
		sq += n * n
		if i == 0 || n > rep.Max {
			rep.Max = n
		}
	}
	if len(norms) > 0 {
		rep.RMSE = math.Sqrt(sq / float64(len(norms)))
	}
	return rep
}

func testSummary() *solver.Summary {
	return &solver.Summary{
		Termination: solver.Convergence,
		InitialCost: 100,
		FinalCost:   1e-6,
		Iterations: []solver.IterationSummary{
			{Iteration: 0, Cost: 100, GradientMaxNorm: 50},
			{Iteration: 1, Cost: 1, GradientMaxNorm: 2, StepIsSuccessful: true},
			{Iteration: 2, Cost: 1e-6, GradientMaxNorm: 0, StepIsSuccessful: true},
		},
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	s := Describe(errorsReport(3, 1, 2, 4))
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.Equal(t, 2.0, s.Median)
	assert.Equal(t, 4.0, s.P95)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, math.Sqrt(7.5), s.RMSE, 1e-12)
	assert.Greater(t, s.StdDev, 0.0)

	one := Describe(errorsReport(2))
	assert.Zero(t, one.StdDev)
	assert.Equal(t, ErrorStats{}, Describe(bundle.ReprojectionReport{}))
}

func TestHistogram(t *testing.T) {
	t.Parallel()

	edges, counts := histogram(4, errorsReport(0, 1, 2, 3, 4), errorsReport(0.5))
	require.Len(t, edges, 4)
	require.Len(t, counts, 2)
	assert.Equal(t, 5.0, sum(counts[0]), "the largest error lands in the last bin")
	assert.Equal(t, 1.0, sum(counts[1]))
	assert.Equal(t, 1.0, counts[1][0])

	_, empty := histogram(3, bundle.ReprojectionReport{})
	assert.Equal(t, []float64{0, 0, 0}, empty[0])
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func TestConvergencePlot(t *testing.T) {
	t.Parallel()

	p, err := ConvergencePlot(testSummary())
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "convergence")

	_, err = ConvergencePlot(&solver.Summary{})
	assert.ErrorIs(t, err, ErrNoIterations)
	_, err = ConvergencePlot(nil)
	assert.ErrorIs(t, err, ErrNoIterations)
}

func TestWriteConvergencePNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteConvergencePNG(&buf, testSummary()))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())

	flat := &solver.Summary{Iterations: []solver.IterationSummary{{Cost: 2, GradientMaxNorm: 2}}}
	buf.Reset()
	require.NoError(t, WriteConvergencePNG(&buf, flat), "a single value still renders")

	zero := &solver.Summary{Iterations: []solver.IterationSummary{{}}}
	buf.Reset()
	require.NoError(t, WriteConvergencePNG(&buf, zero))
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteHTML(&buf, Input{
		Title:   "ring-12",
		Summary: testSummary(),
		Before:  errorsReport(5, 7, 9),
		After:   errorsReport(0.1, 0.2, 0.05),
	})
	require.NoError(t, err)
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "ring-12")
	assert.Contains(t, html, "Reprojection error")
	assert.Contains(t, html, "gradient max norm")

	buf.Reset()
	require.NoError(t, WriteHTML(&buf, Input{Title: "empty"}))
	assert.NotContains(t, buf.String(), "gradient max norm")
}
