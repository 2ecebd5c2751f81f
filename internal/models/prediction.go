package models

import (
	"errors"
	"time"
)

// Confidence grades a prediction or window.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Rank orders confidences from none (0) to high (3).
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Strategy names a point-prediction strategy.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyOptimistic   Strategy = "optimistic"
)

// Variability classifies how regular an item's inter-arrival times are.
type Variability string

const (
	VariabilityHighlyVariable Variability = "highly_variable"
	VariabilityModerate       Variability = "moderate"
	VariabilityConsistent     Variability = "consistent"
)

// Window signal names, also used as reasons.
const (
	SignalCooldownCleared = "cooldown-cleared"
	SignalHourPattern     = "hour-pattern"
	SignalCorrelation     = "correlation"
	SignalBurst           = "burst"
)

// ConfidenceInterval is a range around a point prediction.
type ConfidenceInterval struct {
	Lower time.Time `json:"lower"`
	Upper time.Time `json:"upper"`
	P25   time.Time `json:"p25"`
	P75   time.Time `json:"p75"`
	P95   time.Time `json:"p95"`
}

// PointPrediction is a single predicted timestamp for an item.
type PointPrediction struct {
	ItemName       string              `json:"item_name"`
	Strategy       Strategy            `json:"strategy"`
	PredictedTime  time.Time           `json:"predicted_time"`
	Confidence     Confidence          `json:"confidence"`
	Interval       *ConfidenceInterval `json:"interval,omitempty"`
	BasedOnSamples int                 `json:"based_on_samples"`
	Overdue        bool                `json:"overdue"`
}

// DualPrediction exposes both strategies so callers can show a range.
// Both are nil when the item has fewer than two observed intervals.
type DualPrediction struct {
	ItemName     string           `json:"item_name"`
	Optimistic   *PointPrediction `json:"optimistic"`
	Conservative *PointPrediction `json:"conservative"`
}

// DetailedPredictionStats describes an item's interval distribution. It is
// informational output and is not used for ranking.
type DetailedPredictionStats struct {
	ItemName            string      `json:"item_name"`
	SampleSize          int         `json:"sample_size"`
	MedianHours         float64     `json:"median_hours"`
	MeanHours           float64     `json:"mean_hours"`
	StdDevHours         float64     `json:"std_dev_hours"`
	CoefficientOfVar    float64     `json:"coefficient_of_variation"`
	P25Hours            float64     `json:"p25_hours"`
	P75Hours            float64     `json:"p75_hours"`
	P95Hours            float64     `json:"p95_hours"`
	ProbWithin6h        float64     `json:"prob_within_6h"`
	ProbWithin24h       float64     `json:"prob_within_24h"`
	ProbWithin7d        float64     `json:"prob_within_7d"`
	Variability         Variability `json:"variability,omitempty"`
	RecommendedApproach string      `json:"recommended_approach"`
	Confidence          Confidence  `json:"confidence"`
}

// PredictionWindow is a candidate interval during which an item is expected.
type PredictionWindow struct {
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Hour       int        `json:"hour"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
	Signals    []string   `json:"signals,omitempty"`
}

// CorrelationSignal records that a correlated item was seen recently.
type CorrelationSignal struct {
	TriggerItem string    `json:"trigger_item"`
	DetectedAt  time.Time `json:"detected_at"`
	WindowEnd   time.Time `json:"window_end"`
	Probability float64   `json:"probability"`
}

// MonitoringSlot is a suggested watch period.
type MonitoringSlot struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Confidence Confidence `json:"confidence"`
	Note       string     `json:"note"`
}

// WindowBasedPrediction is the per-item output of the window predictor.
type WindowBasedPrediction struct {
	ItemName                string              `json:"item_name"`
	NextWindows             []PredictionWindow  `json:"next_windows"`
	Confidence              Confidence          `json:"confidence,omitempty"`
	TooEarly                bool                `json:"too_early"`
	CooldownActive          bool                `json:"cooldown_active"`
	LastSeenTime            time.Time           `json:"last_seen_time"`
	TimeSinceLastSeen       time.Duration       `json:"time_since_last_seen"`
	HardCooldownHours       float64             `json:"hard_cooldown_hours"`
	PracticalMinimumHours   float64             `json:"practical_minimum_hours"`
	CooldownRemainingHours  float64             `json:"cooldown_remaining_hours"`
	PracticalRemainingHours float64             `json:"practical_remaining_hours"`
	CorrelationSignals      []CorrelationSignal `json:"correlation_signals,omitempty"`
	MonitoringSchedule      []MonitoringSlot    `json:"monitoring_schedule,omitempty"`
}

// ActivePrediction is a prediction waiting for the item's next appearance.
type ActivePrediction struct {
	ItemName      string    `json:"item_name"`
	PredictedTime time.Time `json:"predicted_time"`
	MadeAt        time.Time `json:"made_at"`
}

// PredictionRecord is a resolved prediction. It never changes once written.
type PredictionRecord struct {
	ItemName          string    `json:"item_name"`
	PredictedTime     time.Time `json:"predicted_time"`
	PredictionMadeAt  time.Time `json:"prediction_made_at"`
	ActualTime        time.Time `json:"actual_time"`
	DifferenceMinutes float64   `json:"difference_minutes"`
	DifferenceMs      int64     `json:"difference_ms"`
}

// Validate checks that the record is internally consistent.
func (r *PredictionRecord) Validate() error {
	if r.ItemName == "" {
		return errors.New("item name must not be empty")
	}
	if r.PredictedTime.IsZero() || r.ActualTime.IsZero() {
		return errors.New("predicted and actual time must be set")
	}
	if r.ActualTime.Sub(r.PredictedTime).Milliseconds() != r.DifferenceMs {
		return errors.New("difference must equal actual - predicted")
	}
	return nil
}
