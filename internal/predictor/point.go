package predictor

import (
	"fmt"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/restock"
)

// DefaultOutlierIQRMultiplier is k in the Q3 + k*IQR outlier cut.
const DefaultOutlierIQRMultiplier = 1.5

// PointPredictor produces single predicted timestamps per item.
type PointPredictor struct {
	stats *restock.StatsCache
	k     float64
	now   func() time.Time
}

// NewPointPredictor creates a predictor reading from stats. k <= 0 uses
// DefaultOutlierIQRMultiplier.
func NewPointPredictor(stats *restock.StatsCache, k float64) *PointPredictor {
	if k <= 0 {
		k = DefaultOutlierIQRMultiplier
	}
	return &PointPredictor{stats: stats, k: k, now: time.Now}
}

// SetClock replaces the time source, for tests and backtests.
func (p *PointPredictor) SetClock(now func() time.Time) {
	p.now = now
}

// Conservative predicts lastSeen + median interval after outlier filtering,
// with an interval whose width follows the coefficient of variation.
// It returns nil with fewer than two intervals.
func (p *PointPredictor) Conservative(name string) *models.PointPrediction {
	st, d, ok := p.load(name)
	if !ok {
		return nil
	}
	if d.clamped > 0 {
		logger.Debug("%s: dropped %d outlier interval(s) above the IQR cut before median", name, d.clamped)
	}

	last := st.LastSeen
	at := func(hours float64) time.Time { return last.Add(hoursToDuration(hours)) }

	n := len(d.all)
	interval := &models.ConfidenceInterval{P25: at(d.p25), P75: at(d.p75), P95: at(d.p95)}
	var conf models.Confidence

	switch {
	case d.cv < cvConsistent:
		lower := d.median - d.stdDev
		if lower < d.min {
			lower = d.min
		}
		interval.Lower, interval.Upper = at(lower), at(d.median+d.stdDev)
		conf = gradeBySamples(n, models.ConfidenceHigh, models.ConfidenceMedium)
	case d.cv < cvMemoryless:
		interval.Lower, interval.Upper = at(d.p25), at(d.p75)
		conf = gradeBySamples(n, models.ConfidenceMedium, models.ConfidenceLow)
	default:
		interval.Lower, interval.Upper = at(d.p25), at(d.p95)
		conf = models.ConfidenceLow
	}

	return &models.PointPrediction{
		ItemName:       name,
		Strategy:       models.StrategyConservative,
		PredictedTime:  at(d.median),
		Confidence:     conf,
		Interval:       interval,
		BasedOnSamples: n,
		Overdue:        p.now().After(interval.Upper),
	}
}

// Optimistic predicts now + averageEventSpacing / appearanceRate without
// outlier filtering, never earlier than lastSeen + the smallest interval.
// It returns nil with fewer than two intervals.
func (p *PointPredictor) Optimistic(name string) *models.PointPrediction {
	st, d, ok := p.load(name)
	if !ok || st.AppearanceRate <= 0 {
		return nil
	}

	now := p.now()
	spacing := p.stats.AverageEventSpacing()
	predicted := now.Add(time.Duration(float64(spacing) / st.AppearanceRate))

	floor := st.LastSeen.Add(hoursToDuration(d.min))
	if predicted.Before(floor) {
		predicted = floor
	}

	return &models.PointPrediction{
		ItemName:       name,
		Strategy:       models.StrategyOptimistic,
		PredictedTime:  predicted,
		Confidence:     gradeBySamples(st.TotalRestocks, models.ConfidenceMedium, models.ConfidenceLow),
		BasedOnSamples: len(d.all),
	}
}

// PredictDual returns both strategies. Both are nil below two intervals.
func (p *PointPredictor) PredictDual(name string) models.DualPrediction {
	return models.DualPrediction{
		ItemName:     name,
		Optimistic:   p.Optimistic(name),
		Conservative: p.Conservative(name),
	}
}

// DetailedStats describes the interval distribution for display.
func (p *PointPredictor) DetailedStats(name string) models.DetailedPredictionStats {
	intervals := p.stats.Intervals(name)
	d, ok := describe(intervals, p.k)
	if !ok {
		return models.DetailedPredictionStats{
			ItemName:            name,
			SampleSize:          len(intervals),
			RecommendedApproach: "Not enough history yet: at least two intervals between appearances are needed.",
			Confidence:          models.ConfidenceNone,
		}
	}

	out := models.DetailedPredictionStats{
		ItemName:         name,
		SampleSize:       len(d.all),
		MedianHours:      d.median,
		MeanHours:        d.mean,
		StdDevHours:      d.stdDev,
		CoefficientOfVar: d.cv,
		P25Hours:         d.p25,
		P75Hours:         d.p75,
		P95Hours:         d.p95,
		ProbWithin6h:     d.probWithin(6),
		ProbWithin24h:    d.probWithin(24),
		ProbWithin7d:     d.probWithin(7 * 24),
	}

	switch {
	case d.cv >= cvMemoryless:
		out.Variability = models.VariabilityHighlyVariable
		out.RecommendedApproach = fmt.Sprintf(
			"Highly variable timing: treat appearances as random. Expect it within %.1fh half the time and within %.1fh 95%% of the time; rely on windows and alerts.",
			d.median, d.p95)
	case d.cv >= cvConsistent:
		out.Variability = models.VariabilityModerate
		out.RecommendedApproach = fmt.Sprintf(
			"Moderately variable timing: watch between %.1fh and %.1fh after the last appearance.",
			d.p25, d.p75)
	default:
		out.Variability = models.VariabilityConsistent
		out.RecommendedApproach = fmt.Sprintf(
			"Consistent timing: expect it about %.1fh after the last appearance (±%.1fh).",
			d.median, d.stdDev)
	}

	if c := p.Conservative(name); c != nil {
		out.Confidence = c.Confidence
	}
	return out
}

func (p *PointPredictor) load(name string) (models.ItemStats, distribution, bool) {
	st, apps, ok := p.stats.Item(name)
	if !ok {
		return models.ItemStats{}, distribution{}, false
	}
	d, ok := describe(restock.IntervalsHours(apps), p.k)
	return st, d, ok
}

func gradeBySamples(n int, enough, otherwise models.Confidence) models.Confidence {
	if n >= minSamplesForHigh {
		return enough
	}
	return otherwise
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
