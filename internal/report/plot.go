package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/bundle.adjust/internal/solver"
)

// ErrNoIterations is returned when a summary has no iterations to plot.
var ErrNoIterations = errors.New("report: summary has no iterations")

// ConvergencePlot plots cost and gradient max-norm against iteration on a
// log scale. Non-positive values cannot be shown and are dropped.
func ConvergencePlot(s *solver.Summary) (*plot.Plot, error) {
	if s == nil || len(s.Iterations) == 0 {
		return nil, ErrNoIterations
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Convergence (%s, %s)", s.MinimizerType, s.Termination)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Value"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	cost := make(plotter.XYs, 0, len(s.Iterations))
	grad := make(plotter.XYs, 0, len(s.Iterations))
	for _, it := range s.Iterations {
		if it.Cost > 0 {
			cost = append(cost, plotter.XY{X: float64(it.Iteration), Y: it.Cost})
		}
		if it.GradientMaxNorm > 0 {
			grad = append(grad, plotter.XY{X: float64(it.Iteration), Y: it.GradientMaxNorm})
		}
	}
	if len(cost) == 0 && len(grad) == 0 {
		p.Y.Scale = plot.LinearScale{}
		p.Y.Tick.Marker = plot.DefaultTicks{}
		return p, nil
	}

	series := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"cost", cost, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"gradient max norm", grad, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
	}
	for _, sr := range series {
		if len(sr.pts) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(sr.pts)
		if err != nil {
			return nil, fmt.Errorf("%s series: %w", sr.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = sr.color
		points.Color = sr.color
		points.Radius = vg.Points(2)
		p.Add(line, points)
		p.Legend.Add(sr.name, line)
	}
	// A single distinct value leaves no range for the log axis.
	if p.Y.Min == p.Y.Max {
		p.Y.Min, p.Y.Max = p.Y.Min/10, p.Y.Max*10
	}
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Add(plotter.NewGrid())
	return p, nil
}

// WriteConvergencePNG renders the convergence plot of s to w as a PNG.
func WriteConvergencePNG(w io.Writer, s *solver.Summary) error {
	p, err := ConvergencePlot(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render convergence plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write convergence plot: %w", err)
	}
	return nil
}
