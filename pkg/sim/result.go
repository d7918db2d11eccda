package sim

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minutesPerYear under the simulator's 365-day convention.
const minutesPerYear = 60 * 24 * 365

// Metrics are the post-run derivations for one grid point.
type Metrics struct {
	// AnnualizedReturn is exp(mean(log returns)·Y) − 1 with
	// Y = minutes-per-year / step-minutes.
	AnnualizedReturn float64

	// LogReturns are the step-to-step log returns of pool value.
	LogReturns []float64

	// Summary statistics over the run.
	MedianPriceErr float64
	MedianDepth    float64
	MinDepth       float64
	MedianBalance  float64
	MinBalance     float64
	TotalVolume    float64
}

// ComputeMetrics derives metrics from a run. stepMinutes is the sampling
// interval of the driving series (Frames.StepMinutes).
func (s *RunSeries) ComputeMetrics(stepMinutes float64) *Metrics {
	if stepMinutes <= 0 {
		stepMinutes = 30
	}

	logReturns := make([]float64, 0, len(s.Value))
	for t := 1; t < len(s.Value); t++ {
		logReturns = append(logReturns, math.Log(s.Value[t])-math.Log(s.Value[t-1]))
	}

	yearMult := minutesPerYear / stepMinutes
	ar := math.NaN()
	if len(logReturns) > 0 {
		ar = math.Exp(stat.Mean(logReturns, nil)*yearMult) - 1
	}

	total := 0.0
	for _, v := range s.Volume {
		total += v
	}

	return &Metrics{
		AnnualizedReturn: ar,
		LogReturns:       logReturns,
		MedianPriceErr:   median(s.PriceErr),
		MedianDepth:      median(s.Depth),
		MinDepth:         minOf(s.Depth),
		MedianBalance:    median(s.Balance),
		MinBalance:       minOf(s.Balance),
		TotalVolume:      total,
	}
}

// median ignores NaN entries; all-NaN input yields NaN.
func median(v []float64) float64 {
	clean := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	return stat.Quantile(0.5, stat.Empirical, clean, nil)
}

func minOf(v []float64) float64 {
	out := math.NaN()
	for _, x := range v {
		if math.IsNaN(x) {
			continue
		}
		if math.IsNaN(out) || x < out {
			out = x
		}
	}
	return out
}
