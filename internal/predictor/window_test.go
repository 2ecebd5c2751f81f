package predictor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/profile"
	"github.com/rewired-gh/restockoracle/internal/restock"
)

func hasSignal(w models.PredictionWindow, s string) bool {
	for _, got := range w.Signals {
		if got == s {
			return true
		}
	}
	return false
}

// daily returns one event per day at hour for days [0, days).
func daily(name string, hour, days int) []models.RestockEvent {
	evs := make([]models.RestockEvent, 0, days)
	for d := 0; d < days; d++ {
		evs = append(evs, eventAt(hoursAfter(float64(d*24+hour)), name))
	}
	return evs
}

func newWindowPredictor(reg *profile.Registry, inf *profile.Inferrer, stats *restock.StatsCache, now time.Time) *WindowPredictor {
	w := NewWindowPredictor(stats, reg, inf, DefaultWindowConfig())
	w.SetClock(fixedClock(now))
	return w
}

func TestPredictItemWindows_NoHistory(t *testing.T) {
	_, stats := newStats(eventAt(t0, "Carrot"))
	w := newWindowPredictor(profile.NewRegistry(), nil, stats, t0)

	got := w.PredictItemWindows("Ghost", time.Time{}, nil)
	assert.Equal(t, models.ConfidenceNone, got.Confidence)
	assert.NotNil(t, got.NextWindows)
	assert.Empty(t, got.NextWindows)
}

// Seen at 0h, 10h and 22h: the hard cooldown is the 10h minimum gap, so
// nothing can open before 32h.
func TestPredictItemWindows_HardCooldownFromHistory(t *testing.T) {
	_, stats := newStats(
		eventAt(hoursAfter(0), "Starweaver"),
		eventAt(hoursAfter(10), "Starweaver"),
		eventAt(hoursAfter(22), "Starweaver"),
	)
	now := hoursAfter(23)
	w := newWindowPredictor(profile.DefaultRegistry(), nil, stats, now)

	got := w.PredictItemWindows("Starweaver", time.Time{}, nil)
	assert.Equal(t, 10.0, got.HardCooldownHours)
	assert.True(t, got.CooldownActive)
	assert.False(t, got.TooEarly)
	assert.InDelta(t, 9.0, got.CooldownRemainingHours, 1e-9)
	require.NotEmpty(t, got.NextWindows)

	floor := hoursAfter(32)
	for _, win := range got.NextWindows {
		assert.False(t, win.StartTime.Before(floor), "window at %s opens before %s", win.StartTime, floor)
	}
	assert.True(t, got.NextWindows[0].StartTime.Equal(floor))
	assert.True(t, hasSignal(got.NextWindows[0], models.SignalCooldownCleared))

	// Curated allowed hours keep hour windows to {0, 4, 8, ...}
	for _, win := range got.NextWindows {
		if win.Reason == models.SignalHourPattern {
			assert.Zero(t, win.Hour%4)
		}
	}
}

func TestPredictItemWindows_CooldownFloorProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 2 + rng.Intn(12)
		intervals := make([]float64, n)
		minInterval := 0.0
		for i := range intervals {
			intervals[i] = 0.5 + rng.Float64()*50
			if i == 0 || intervals[i] < minInterval {
				minInterval = intervals[i]
			}
		}
		evs := eventsFromIntervals("Carrot", intervals)
		store, stats := newStats(evs...)
		last := evs[len(evs)-1].Timestamp
		now := last.Add(hoursToDuration(rng.Float64() * 60))

		inf := profile.NewInferrer(store, profile.DefaultInferenceConfig())
		w := newWindowPredictor(profile.NewRegistry(), inf, stats, now)
		got := w.PredictItemWindows("Carrot", time.Time{}, store.All())

		require.NotEmpty(t, got.NextWindows, "trial %d", trial)
		assert.InDelta(t, minInterval, got.HardCooldownHours, 1e-6, "trial %d", trial)
		floor := last.Add(hoursToDuration(got.HardCooldownHours))
		for _, win := range got.NextWindows {
			assert.False(t, win.StartTime.Before(floor), "trial %d: window at %s before floor %s", trial, win.StartTime, floor)
			assert.True(t, win.EndTime.After(win.StartTime), "trial %d", trial)
		}
		assert.LessOrEqual(t, len(got.NextWindows), DefaultWindowConfig().MaxWindows)
	}
}

func TestPredictItemWindows_HourPattern(t *testing.T) {
	_, stats := newStats(daily("Sunflower", 9, 20)...)
	last := hoursAfter(19*24 + 9)
	w := newWindowPredictor(profile.NewRegistry(), nil, stats, last.Add(30*time.Hour))

	got := w.PredictItemWindows("Sunflower", time.Time{}, nil)
	assert.False(t, got.CooldownActive)
	assert.False(t, got.TooEarly)
	require.Len(t, got.NextWindows, 2)
	for i, win := range got.NextWindows {
		assert.Equal(t, 9, win.Hour)
		assert.Equal(t, models.ConfidenceMedium, win.Confidence)
		assert.True(t, win.StartTime.Equal(hoursAfter(float64((21+i)*24+9))))
		assert.Equal(t, time.Hour, win.EndTime.Sub(win.StartTime))
	}
	assert.Equal(t, models.ConfidenceMedium, got.Confidence)
	assert.Len(t, got.MonitoringSchedule, 2)
}

func TestPredictItemWindows_BurstAndHourPatternIsHigh(t *testing.T) {
	_, stats := newStats(daily("Sunflower", 9, 20)...)
	reg := profile.NewRegistry()
	require.NoError(t, reg.Register(profile.Profile{
		Name:  "Sunflower",
		Burst: &profile.BurstBehavior{WindowHours: 30, Probability: 0.5},
	}))

	last := hoursAfter(19*24 + 9)
	w := newWindowPredictor(reg, nil, stats, last.Add(23*time.Hour))

	got := w.PredictItemWindows("Sunflower", time.Time{}, nil)
	assert.True(t, got.CooldownActive)
	require.NotEmpty(t, got.NextWindows)

	first := got.NextWindows[0]
	assert.True(t, first.StartTime.Equal(last.Add(24*time.Hour)))
	assert.True(t, hasSignal(first, models.SignalBurst))
	assert.True(t, hasSignal(first, models.SignalHourPattern))
	assert.True(t, hasSignal(first, models.SignalCooldownCleared))
	assert.Equal(t, models.ConfidenceHigh, first.Confidence)
	assert.Equal(t, models.ConfidenceHigh, got.Confidence)
}

// pairedDays has A at 10:00 and B at 10:30 every day, then one more A.
func pairedDays() []models.RestockEvent {
	var evs []models.RestockEvent
	for d := 0; d < 10; d++ {
		evs = append(evs,
			eventAt(hoursAfter(float64(d*24)+10), "A"),
			eventAt(hoursAfter(float64(d*24)+10.5), "B"),
		)
	}
	return append(evs, eventAt(hoursAfter(10*24+10), "A"))
}

func TestPredictItemWindows_Correlation(t *testing.T) {
	now := hoursAfter(10*24 + 10).Add(10 * time.Minute)
	base := hoursAfter(10*24 + 10.5)

	curated := profile.NewRegistry()
	require.NoError(t, curated.Register(profile.Profile{
		Name:         "B",
		Correlations: []profile.CorrelationRule{{ItemName: "A", WindowHours: 1, Probability: 0.9}},
	}))

	tests := []struct {
		name  string
		setup func(store *restock.EventStore) (*profile.Registry, *profile.Inferrer)
	}{
		{"curated rule", func(*restock.EventStore) (*profile.Registry, *profile.Inferrer) {
			return curated, nil
		}},
		{"inferred rule", func(store *restock.EventStore) (*profile.Registry, *profile.Inferrer) {
			cfg := profile.DefaultInferenceConfig()
			cfg.CorrelationWindow = time.Hour
			return profile.NewRegistry(), profile.NewInferrer(store, cfg)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, stats := newStats(pairedDays()...)
			reg, inf := tt.setup(store)
			w := newWindowPredictor(reg, inf, stats, now)

			got := w.PredictItemWindows("B", time.Time{}, store.All())
			require.Len(t, got.CorrelationSignals, 1)
			sig := got.CorrelationSignals[0]
			assert.Equal(t, "A", sig.TriggerItem)
			assert.True(t, sig.DetectedAt.Equal(hoursAfter(10*24+10)))
			assert.True(t, sig.WindowEnd.Equal(hoursAfter(10*24+11)))

			require.NotEmpty(t, got.NextWindows)
			first := got.NextWindows[0]
			assert.True(t, first.StartTime.Equal(base), "window clipped to the cooldown floor")
			assert.True(t, hasSignal(first, models.SignalCorrelation))
			assert.Equal(t, models.ConfidenceHigh, first.Confidence)
		})
	}
}

func TestPredictItemWindows_TooEarly(t *testing.T) {
	_, stats := newStats(daily("Slow", 9, 20)...)
	reg := profile.NewRegistry()
	require.NoError(t, reg.Register(profile.Profile{Name: "Slow", PracticalMinimumHours: 48}))

	last := hoursAfter(19*24 + 9)
	w := newWindowPredictor(reg, nil, stats, last.Add(30*time.Hour))

	got := w.PredictItemWindows("Slow", time.Time{}, nil)
	assert.False(t, got.CooldownActive)
	assert.True(t, got.TooEarly)
	assert.InDelta(t, 18.0, got.PracticalRemainingHours, 1e-9)
	require.NotEmpty(t, got.NextWindows)
	for _, win := range got.NextWindows {
		assert.False(t, win.StartTime.Before(last.Add(48*time.Hour)))
		assert.Equal(t, models.ConfidenceLow, win.Confidence)
	}
	assert.Equal(t, models.ConfidenceLow, got.Confidence)
	assert.Empty(t, got.MonitoringSchedule)
}

func TestPredictItemWindows_AllowedHours(t *testing.T) {
	var evs []models.RestockEvent
	for d := 0; d < 20; d++ {
		hour := 3
		if d%2 == 1 {
			hour = 9
		}
		evs = append(evs, eventAt(hoursAfter(float64(d*24+hour)), "Picky"))
	}
	_, stats := newStats(evs...)
	reg := profile.NewRegistry()
	require.NoError(t, reg.Register(profile.Profile{Name: "Picky", AllowedHours: []int{9}}))

	last := hoursAfter(19*24 + 9)
	w := newWindowPredictor(reg, nil, stats, last.Add(30*time.Hour))

	got := w.PredictItemWindows("Picky", time.Time{}, nil)
	require.NotEmpty(t, got.NextWindows)
	for _, win := range got.NextWindows {
		assert.Equal(t, 9, win.Hour)
	}
}

func TestPredictItemWindows_MaxWindows(t *testing.T) {
	var evs []models.RestockEvent
	for h := 0; h < 48; h++ {
		evs = append(evs, eventAt(hoursAfter(float64(h)), "Carrot"))
	}
	_, stats := newStats(evs...)

	cfg := DefaultWindowConfig()
	cfg.MaxWindows = 2
	w := NewWindowPredictor(stats, profile.NewRegistry(), nil, cfg)
	w.SetClock(fixedClock(hoursAfter(50)))

	got := w.PredictItemWindows("Carrot", time.Time{}, nil)
	require.Len(t, got.NextWindows, 2)
	assert.True(t, got.NextWindows[0].StartTime.Before(got.NextWindows[1].StartTime))
}

func TestWindowConfidence(t *testing.T) {
	tests := []struct {
		name     string
		signals  []string
		tooEarly bool
		want     models.Confidence
	}{
		{"nothing", nil, false, models.ConfidenceLow},
		{"cooldown only", []string{models.SignalCooldownCleared}, false, models.ConfidenceLow},
		{"hour pattern", []string{models.SignalHourPattern}, false, models.ConfidenceMedium},
		{"correlation", []string{models.SignalCorrelation}, false, models.ConfidenceMedium},
		{"burst", []string{models.SignalBurst}, false, models.ConfidenceMedium},
		{"hour and correlation", []string{models.SignalHourPattern, models.SignalCorrelation}, false, models.ConfidenceHigh},
		{"hour and burst", []string{models.SignalBurst, models.SignalHourPattern}, false, models.ConfidenceHigh},
		{"too early caps", []string{models.SignalHourPattern, models.SignalBurst}, true, models.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, windowConfidence(tt.signals, tt.tooEarly))
		})
	}

	// Adding a signal never lowers confidence
	all := []string{models.SignalCooldownCleared, models.SignalHourPattern, models.SignalCorrelation, models.SignalBurst}
	for mask := 0; mask < 1<<len(all); mask++ {
		var set []string
		for i, s := range all {
			if mask&(1<<i) != 0 {
				set = append(set, s)
			}
		}
		base := windowConfidence(set, false).Rank()
		for _, extra := range all {
			assert.GreaterOrEqual(t, windowConfidence(append(append([]string(nil), set...), extra), false).Rank(), base)
		}
	}
}
