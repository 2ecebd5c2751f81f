package predictor

import (
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/profile"
	"github.com/rewired-gh/restockoracle/internal/restock"
)

// topHoursFallback is how many hours are used when no hour reaches the
// candidate share.
const topHoursFallback = 3

// WindowConfig tunes window layout.
type WindowConfig struct {
	Location           *time.Location // hour-of-day buckets are taken in this zone
	Horizon            time.Duration
	MaxWindows         int
	StrongHourShare    float64 // share that earns the hour-pattern signal
	CandidateHourShare float64 // share that makes an hour a candidate at all
}

// DefaultWindowConfig returns the layout used when none is configured.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Location:           time.UTC,
		Horizon:            48 * time.Hour,
		MaxWindows:         6,
		StrongHourShare:    0.15,
		CandidateHourShare: 0.08,
	}
}

// WindowPredictor produces ranked candidate windows per item.
type WindowPredictor struct {
	stats    *restock.StatsCache
	registry *profile.Registry
	inferrer *profile.Inferrer // nil disables rule inference
	cfg      WindowConfig
	now      func() time.Time
}

// NewWindowPredictor creates a window predictor. inferrer may be nil.
func NewWindowPredictor(stats *restock.StatsCache, registry *profile.Registry, inferrer *profile.Inferrer, cfg WindowConfig) *WindowPredictor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxWindows <= 0 {
		cfg.MaxWindows = DefaultWindowConfig().MaxWindows
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultWindowConfig().Horizon
	}
	return &WindowPredictor{stats: stats, registry: registry, inferrer: inferrer, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source, for tests and backtests.
func (w *WindowPredictor) SetClock(now func() time.Time) {
	w.now = now
}

// PredictItemWindows returns the candidate windows for name. lastSeen
// defaults to the item's most recent appearance when zero; recent is the
// slice of events scanned for correlation triggers.
func (w *WindowPredictor) PredictItemWindows(name string, lastSeen time.Time, recent []models.RestockEvent) models.WindowBasedPrediction {
	_, apps, ok := w.stats.Item(name)
	if !ok || len(apps) == 0 {
		return models.WindowBasedPrediction{
			ItemName:    name,
			NextWindows: []models.PredictionWindow{},
			Confidence:  models.ConfidenceNone,
		}
	}
	if lastSeen.IsZero() {
		lastSeen = apps[len(apps)-1]
	}

	now := w.now()
	prof, _ := profile.Resolve(w.registry, w.inferrer, name, restock.IntervalsHours(apps))

	hard := hoursToDuration(prof.HardCooldownHours)
	practical := hoursToDuration(prof.PracticalMinimumHours)
	since := now.Sub(lastSeen)

	out := models.WindowBasedPrediction{
		ItemName:                name,
		LastSeenTime:            lastSeen,
		TimeSinceLastSeen:       since,
		HardCooldownHours:       prof.HardCooldownHours,
		PracticalMinimumHours:   prof.PracticalMinimumHours,
		CooldownRemainingHours:  positiveHours(hard - since),
		PracticalRemainingHours: positiveHours(practical - since),
	}
	out.CooldownActive = since < hard
	out.TooEarly = !out.CooldownActive && since < practical

	// No window may start before base
	base := lastSeen.Add(hard)
	if out.TooEarly {
		base = lastSeen.Add(practical)
	}

	ws := &windowSet{}
	hist := hourHistogram(apps, w.cfg.Location)
	candidates, strong := w.candidateHours(hist, len(apps), &prof)
	w.layoutHourWindows(ws, candidates, strong, base, now)

	if base.After(now) {
		ws.add(models.PredictionWindow{
			StartTime: base,
			EndTime:   base.Add(time.Hour),
			Hour:      base.In(w.cfg.Location).Hour(),
			Reason:    models.SignalCooldownCleared,
			Signals:   signalsFor(models.SignalCooldownCleared, strong[base.In(w.cfg.Location).Hour()]),
		})
	}

	out.CorrelationSignals = w.applyCorrelations(ws, &prof, recent, base, now)
	w.applyBurst(ws, &prof, lastSeen, base, now)

	windows := ws.windows
	if len(windows) == 0 {
		// History exists, so never return nothing; fall back to the floor
		start := base
		if start.Before(now) {
			start = now
		}
		windows = append(windows, models.PredictionWindow{
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			Hour:      start.In(w.cfg.Location).Hour(),
			Reason:    models.SignalCooldownCleared,
			Signals:   []string{models.SignalCooldownCleared},
		})
	}

	for i := range windows {
		windows[i].Confidence = windowConfidence(windows[i].Signals, out.TooEarly)
	}
	sort.SliceStable(windows, func(i, j int) bool {
		if !windows[i].StartTime.Equal(windows[j].StartTime) {
			return windows[i].StartTime.Before(windows[j].StartTime)
		}
		return windows[i].Confidence.Rank() > windows[j].Confidence.Rank()
	})
	if len(windows) > w.cfg.MaxWindows {
		windows = windows[:w.cfg.MaxWindows]
	}
	out.NextWindows = windows

	out.Confidence = models.ConfidenceLow
	for _, win := range windows {
		if win.Confidence.Rank() > out.Confidence.Rank() {
			out.Confidence = win.Confidence
		}
		if win.Confidence.Rank() >= models.ConfidenceMedium.Rank() {
			out.MonitoringSchedule = append(out.MonitoringSchedule, models.MonitoringSlot{
				Start:      win.StartTime,
				End:        win.EndTime,
				Confidence: win.Confidence,
				Note:       win.Reason + ": " + strings.Join(win.Signals, ", "),
			})
		}
	}
	return out
}

// candidateHours picks the hours to lay windows on and marks the strong ones.
func (w *WindowPredictor) candidateHours(hist [24]int, total int, prof *profile.Profile) (map[int]bool, map[int]bool) {
	candidates := make(map[int]bool)
	strong := make(map[int]bool)

	for h, n := range hist {
		share := float64(n) / float64(total)
		if n > 0 && share >= w.cfg.CandidateHourShare {
			candidates[h] = true
		}
		if n > 0 && share >= w.cfg.StrongHourShare {
			strong[h] = true
		}
	}
	if len(candidates) == 0 {
		for _, h := range topHours(hist, topHoursFallback) {
			candidates[h] = true
		}
	}

	if len(prof.AllowedHours) > 0 {
		allowed := make(map[int]bool)
		for h := range candidates {
			if prof.Allows(h) {
				allowed[h] = true
			}
		}
		if len(allowed) == 0 {
			for _, h := range prof.AllowedHours {
				allowed[h] = true
			}
		}
		candidates = allowed
	}
	return candidates, strong
}

// layoutHourWindows adds one-hour windows at candidate hours across the horizon.
func (w *WindowPredictor) layoutHourWindows(ws *windowSet, candidates, strong map[int]bool, base, now time.Time) {
	from := base
	if from.Before(now) {
		from = now
	}
	end := from.Add(w.cfg.Horizon)

	local := from.In(w.cfg.Location)
	slot := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, w.cfg.Location)
	for slot.Before(end) {
		next := slot.Add(time.Hour)
		h := slot.Hour()
		if candidates[h] {
			start := slot
			if start.Before(base) {
				start = base
			}
			if start.Before(next) {
				ws.add(models.PredictionWindow{
					StartTime: start,
					EndTime:   next,
					Hour:      h,
					Reason:    models.SignalHourPattern,
					Signals:   signalsFor("", strong[h]),
				})
			}
		}
		slot = next
	}
}

// applyCorrelations fires rules whose trigger appeared in recent within the
// rule window, tagging overlapping windows or adding a correlation window.
func (w *WindowPredictor) applyCorrelations(ws *windowSet, prof *profile.Profile, recent []models.RestockEvent, base, now time.Time) []models.CorrelationSignal {
	var signals []models.CorrelationSignal
	for _, rule := range prof.Correlations {
		window := hoursToDuration(rule.WindowHours)
		seenAt, ok := latestAppearance(recent, rule.ItemName, now.Add(-window), now)
		if !ok {
			continue
		}
		sig := models.CorrelationSignal{
			TriggerItem: rule.ItemName,
			DetectedAt:  seenAt,
			WindowEnd:   seenAt.Add(window),
			Probability: rule.Probability,
		}
		signals = append(signals, sig)

		if ws.tagOverlapping(seenAt, sig.WindowEnd, models.SignalCorrelation) {
			continue
		}
		start := seenAt
		if start.Before(base) {
			start = base
		}
		// The floor may swallow the whole correlation window; the signal stays
		if start.Before(sig.WindowEnd) {
			ws.add(models.PredictionWindow{
				StartTime: start,
				EndTime:   sig.WindowEnd,
				Hour:      start.In(w.cfg.Location).Hour(),
				Reason:    models.SignalCorrelation,
				Signals:   []string{models.SignalCorrelation},
			})
		}
	}
	return signals
}

// applyBurst adds a short window at the floor when the item itself was seen
// within its burst window.
func (w *WindowPredictor) applyBurst(ws *windowSet, prof *profile.Profile, lastSeen, base, now time.Time) {
	if prof.Burst == nil {
		return
	}
	burstEnd := lastSeen.Add(hoursToDuration(prof.Burst.WindowHours))
	if now.After(burstEnd) {
		return
	}
	start := base
	if start.Before(now) {
		start = now
	}
	if !start.Before(burstEnd) {
		return
	}
	end := start.Add(time.Hour)
	if end.After(burstEnd) {
		end = burstEnd
	}
	ws.add(models.PredictionWindow{
		StartTime: start,
		EndTime:   end,
		Hour:      start.In(w.cfg.Location).Hour(),
		Reason:    models.SignalBurst,
		Signals:   []string{models.SignalBurst},
	})
}

// windowConfidence grades a window by its independent signals.
func windowConfidence(signals []string, tooEarly bool) models.Confidence {
	if tooEarly {
		return models.ConfidenceLow
	}
	var hourPattern, other bool
	for _, s := range signals {
		switch s {
		case models.SignalHourPattern:
			hourPattern = true
		case models.SignalCorrelation, models.SignalBurst:
			other = true
		}
	}
	switch {
	case hourPattern && other:
		return models.ConfidenceHigh
	case hourPattern || other:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// windowSet collects windows, merging those that start at the same instant.
type windowSet struct {
	windows []models.PredictionWindow
}

func (s *windowSet) add(w models.PredictionWindow) {
	for i := range s.windows {
		if s.windows[i].StartTime.Equal(w.StartTime) {
			for _, sig := range w.Signals {
				s.windows[i].Signals = addSignal(s.windows[i].Signals, sig)
			}
			if w.EndTime.After(s.windows[i].EndTime) {
				s.windows[i].EndTime = w.EndTime
			}
			return
		}
	}
	s.windows = append(s.windows, w)
}

// tagOverlapping adds signal to every window overlapping [start, end] and
// reports whether any did.
func (s *windowSet) tagOverlapping(start, end time.Time, signal string) bool {
	tagged := false
	for i := range s.windows {
		if s.windows[i].StartTime.Before(end) && s.windows[i].EndTime.After(start) {
			s.windows[i].Signals = addSignal(s.windows[i].Signals, signal)
			tagged = true
		}
	}
	return tagged
}

func addSignal(signals []string, s string) []string {
	for _, existing := range signals {
		if existing == s {
			return signals
		}
	}
	return append(signals, s)
}

func signalsFor(primary string, strongHour bool) []string {
	var out []string
	if primary != "" {
		out = append(out, primary)
	}
	if strongHour {
		out = append(out, models.SignalHourPattern)
	}
	return out
}

func hourHistogram(times []time.Time, loc *time.Location) [24]int {
	var hist [24]int
	for _, t := range times {
		hist[t.In(loc).Hour()]++
	}
	return hist
}

// topHours returns up to n hours with the most appearances, ties to the earlier hour.
func topHours(hist [24]int, n int) []int {
	hours := make([]int, 0, 24)
	for h, c := range hist {
		if c > 0 {
			hours = append(hours, h)
		}
	}
	sort.SliceStable(hours, func(i, j int) bool { return hist[hours[i]] > hist[hours[j]] })
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// latestAppearance finds the most recent event in [from, to] listing name.
func latestAppearance(events []models.RestockEvent, name string, from, to time.Time) (time.Time, bool) {
	var latest time.Time
	found := false
	for i := range events {
		ts := events[i].Timestamp
		if ts.Before(from) || ts.After(to) || !events[i].Contains(name) {
			continue
		}
		if !found || ts.After(latest) {
			latest, found = ts, true
		}
	}
	return latest, found
}

func positiveHours(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Hours()
}
