// Package report renders optimization results: a convergence plot as PNG
// and an interactive HTML page comparing reprojection errors before and
// after adjustment.
package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
)

// ErrorStats summarizes reprojection error magnitudes in pixels.
type ErrorStats struct {
	Count  int     `json:"count"`
	RMSE   float64 `json:"rmse"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Describe computes ErrorStats for a reprojection report.
func Describe(rep bundle.ReprojectionReport) ErrorStats {
	norms := errorNorms(rep)
	if len(norms) == 0 {
		return ErrorStats{}
	}
	sort.Float64s(norms)
	mean, std := stat.MeanStdDev(norms, nil)
	if len(norms) == 1 {
		std = 0
	}
	return ErrorStats{
		Count:  len(norms),
		RMSE:   rep.RMSE,
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, norms, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, norms, nil),
		Max:    norms[len(norms)-1],
	}
}

func errorNorms(rep bundle.ReprojectionReport) []float64 {
	out := make([]float64, len(rep.Errors))
	for i, e := range rep.Errors {
		out[i] = e.Residual.Norm()
	}
	return out
}

// histogram bins the error norms of every report over shared bins spanning
// zero to the largest error. It returns the bin upper edges and one count
// slice per report.
func histogram(bins int, reps ...bundle.ReprojectionReport) ([]float64, [][]float64) {
	hi := 0.0
	all := make([][]float64, len(reps))
	for i, r := range reps {
		all[i] = errorNorms(r)
		sort.Float64s(all[i])
		if n := len(all[i]); n > 0 {
			hi = math.Max(hi, all[i][n-1])
		}
	}
	if hi == 0 {
		hi = 1
	}
	dividers := floats.Span(make([]float64, bins+1), 0, math.Nextafter(hi, math.Inf(1)))
	counts := make([][]float64, len(reps))
	for i, x := range all {
		counts[i] = make([]float64, bins)
		if len(x) > 0 {
			stat.Histogram(counts[i], dividers, x, nil)
		}
	}
	return dividers[1:], counts
}
