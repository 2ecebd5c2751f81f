// Package predictor turns per-item history into predictions: single
// timestamps from PointPredictor and ranked candidate windows from
// WindowPredictor. Both read history through restock.StatsCache at call time
// and keep no copies of event data.
package predictor

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Coefficient-of-variation thresholds splitting the three timing regimes.
const (
	cvConsistent = 0.5
	cvMemoryless = 1.0
)

// minSamplesForHigh is the interval count needed for high or medium grades.
const minSamplesForHigh = 10

// distribution summarizes an item's inter-arrival intervals, in hours.
type distribution struct {
	all      []float64 // every interval, ascending
	filtered []float64 // outliers removed, ascending
	clamped  int

	median, mean, stdDev, cv float64
	p25, p75, p95            float64
	min                      float64 // smallest interval over all samples
}

// describe builds a distribution. It reports false with fewer than two intervals.
// Intervals above Q3 + k*IQR are dropped before the central statistics unless
// fewer than two would remain.
func describe(intervals []float64, k float64) (distribution, bool) {
	if len(intervals) < 2 {
		return distribution{}, false
	}

	all := append([]float64(nil), intervals...)
	sort.Float64s(all)

	q1 := stat.Quantile(0.25, stat.Empirical, all, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, all, nil)
	upper := q3 + k*(q3-q1)

	filtered := make([]float64, 0, len(all))
	for _, v := range all {
		if v <= upper {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) < 2 {
		filtered = all
	}

	d := distribution{
		all:      all,
		filtered: filtered,
		clamped:  len(all) - len(filtered),
		median:   median(filtered),
		p25:      stat.Quantile(0.25, stat.Empirical, filtered, nil),
		p75:      stat.Quantile(0.75, stat.Empirical, filtered, nil),
		p95:      stat.Quantile(0.95, stat.Empirical, filtered, nil),
		min:      floats.Min(all),
	}
	d.mean, d.stdDev = stat.MeanStdDev(filtered, nil)
	if d.mean > 0 {
		d.cv = d.stdDev / d.mean
	}
	return d, true
}

// probWithin is the empirical probability that an interval is at most hours.
func (d distribution) probWithin(hours float64) float64 {
	return stat.CDF(hours, stat.Empirical, d.all, nil)
}

// median of an ascending slice; the mean of the two middle values for even lengths.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
