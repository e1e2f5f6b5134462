package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
	"github.com/banshee-data/bundle.adjust/internal/solver"
)

const histogramBins = 20

// maxScatterPoints caps the residual scatter; larger reports are strided.
const maxScatterPoints = 5000

// Input is everything the HTML report shows.
type Input struct {
	Title   string
	Summary *solver.Summary
	Before  bundle.ReprojectionReport
	After   bundle.ReprojectionReport
}

// WriteHTML renders the report page to w: cost per iteration, overlaid
// error histograms and residual scatter before and after.
func WriteHTML(w io.Writer, in Input) error {
	page := components.NewPage()
	if in.Summary != nil && len(in.Summary.Iterations) > 0 {
		page.AddCharts(costChart(in.Title, in.Summary))
	}
	page.AddCharts(histogramChart(in.Before, in.After), scatterChart(in.Before, in.After))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func costChart(title string, s *solver.Summary) *charts.Line {
	x := make([]string, len(s.Iterations))
	cost := make([]opts.LineData, len(s.Iterations))
	grad := make([]opts.LineData, len(s.Iterations))
	for i, it := range s.Iterations {
		x[i] = strconv.Itoa(it.Iteration)
		cost[i] = opts.LineData{Value: it.Cost}
		grad[i] = opts.LineData{Value: it.GradientMaxNorm}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: s.BriefReport()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "log", Name: "value"}),
	)
	line.SetXAxis(x).
		AddSeries("cost", cost).
		AddSeries("gradient max norm", grad)
	return line
}

func histogramChart(before, after bundle.ReprojectionReport) *charts.Bar {
	edges, counts := histogram(histogramBins, before, after)
	x := make([]string, len(edges))
	for i, e := range edges {
		x[i] = strconv.FormatFloat(e, 'g', 3, 64)
	}
	series := func(c []float64) []opts.BarData {
		out := make([]opts.BarData, len(c))
		for i, v := range c {
			out[i] = opts.BarData{Value: v}
		}
		return out
	}

	b, a := Describe(before), Describe(after)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Reprojection error (px)",
			Subtitle: fmt.Sprintf("before: rmse %.4g median %.4g p95 %.4g | after: rmse %.4g median %.4g p95 %.4g", b.RMSE, b.Median, b.P95, a.RMSE, a.Median, a.P95),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "error upper bound (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "observations"}),
	)
	bar.SetXAxis(x).
		AddSeries("before", series(counts[0])).
		AddSeries("after", series(counts[1]))
	return bar
}

func scatterChart(before, after bundle.ReprojectionReport) *charts.Scatter {
	points := func(rep bundle.ReprojectionReport) []opts.ScatterData {
		stride := len(rep.Errors)/maxScatterPoints + 1
		out := make([]opts.ScatterData, 0, len(rep.Errors)/stride+1)
		for i := 0; i < len(rep.Errors); i += stride {
			r := rep.Errors[i].Residual
			out = append(out, opts.ScatterData{Value: []interface{}{r.X, r.Y}})
		}
		return out
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Residuals (px)", Subtitle: fmt.Sprintf("observations=%d", len(before.Errors))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "du", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dv", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("before", points(before), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4})).
		AddSeries("after", points(after), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}
