// Package engine owns the event store, statistics, predictors, accuracy
// ledger and watchlist of one restock history, and exposes the command
// surface used by the CLI, the HTTP API and the daemon.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/restockoracle/internal/accuracy"
	"github.com/rewired-gh/restockoracle/internal/config"
	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/monitor"
	"github.com/rewired-gh/restockoracle/internal/predictor"
	"github.com/rewired-gh/restockoracle/internal/profile"
	"github.com/rewired-gh/restockoracle/internal/restock"
	"github.com/rewired-gh/restockoracle/internal/storage"
)

// ErrUnknownItem is returned for items that never appeared in the history.
var ErrUnknownItem = errors.New("engine: unknown item")

// DefaultTopLimit is used by GetTopLikelyItems for non-positive limits.
const DefaultTopLimit = 10

// correlationLookback is the minimum span of recent events scanned for
// correlation triggers.
const correlationLookback = 48 * time.Hour

// Options configures an Engine.
type Options struct {
	OutlierIQRMultiplier float64
	Window               predictor.WindowConfig
	Registry             *profile.Registry // nil uses profile.DefaultRegistry()
	InferRules           bool
	Inference            profile.InferenceConfig
	RecordPredictions    bool
	Lookahead            time.Duration
	RecentEvents         int // cap on events scanned for correlation triggers
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		OutlierIQRMultiplier: predictor.DefaultOutlierIQRMultiplier,
		Window:               predictor.DefaultWindowConfig(),
		InferRules:           true,
		Inference:            profile.DefaultInferenceConfig(),
		RecordPredictions:    true,
		Lookahead:            monitor.DefaultLookahead,
		RecentEvents:         500,
	}
}

// OptionsFromConfig maps validated configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutlierIQRMultiplier: cfg.Engine.OutlierIQRMultiplier,
		Window: predictor.WindowConfig{
			Location:           cfg.TimeLocation(),
			Horizon:            cfg.Engine.WindowHorizon,
			MaxWindows:         cfg.Engine.MaxWindows,
			StrongHourShare:    cfg.Engine.StrongHourShare,
			CandidateHourShare: cfg.Engine.CandidateHourShare,
		},
		InferRules: cfg.Engine.InferRules,
		Inference: profile.InferenceConfig{
			CorrelationWindow:         cfg.Engine.CorrelationWindow,
			CorrelationMinProbability: cfg.Engine.CorrelationMinProbability,
			CorrelationMinSupport:     cfg.Engine.CorrelationMinSupport,
			BurstWindow:               cfg.Engine.BurstWindow,
			BurstMinProbability:       cfg.Engine.BurstMinProbability,
		},
		RecordPredictions: cfg.Engine.RecordPredictions,
		Lookahead:         cfg.Monitor.Lookahead,
		RecentEvents:      cfg.Monitor.MaxHistory,
	}
}

// IngestError represents a per-event error during ingestion.
type IngestError struct {
	Index   int
	EventID string
	Err     error
}

func (e IngestError) Error() string {
	return fmt.Sprintf("ingest error for event %d (%s): %v", e.Index, e.EventID, e.Err)
}

func (e IngestError) Unwrap() error {
	return e.Err
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	Received   int                       `json:"received"`
	Added      int                       `json:"added"`
	Duplicates int                       `json:"duplicates"`
	Rejected   int                       `json:"rejected"`
	Errors     []IngestError             `json:"-"`
	Resolved   []models.PredictionRecord `json:"resolved,omitempty"`
}

// SummaryStats is the overview returned by GetSummaryStats.
type SummaryStats struct {
	TotalEvents          int                `json:"total_events"`
	UniqueItems          int                `json:"unique_items"`
	FirstEvent           time.Time          `json:"first_event"`
	LastEvent            time.Time          `json:"last_event"`
	AvgEventSpacingHours float64            `json:"avg_event_spacing_hours"`
	WatchedItems         int                `json:"watched_items"`
	Accuracy             accuracy.Summary   `json:"accuracy"`
	Items                []models.ItemStats `json:"items"` // most restocked first
}

// LikelyItem is one entry of GetTopLikelyItems.
type LikelyItem struct {
	Stats         models.ItemStats        `json:"stats"`
	ProbWithin24h float64                 `json:"prob_within_24h"`
	Confidence    models.Confidence       `json:"confidence"`
	Prediction    *models.PointPrediction `json:"prediction"`
}

// Engine is the restock oracle for one history.
type Engine struct {
	kv   storage.KV // nil disables persistence
	opts Options

	store    *restock.EventStore
	stats    *restock.StatsCache
	registry *profile.Registry
	inferrer *profile.Inferrer
	point    *predictor.PointPredictor
	windows  *predictor.WindowPredictor
	ledger   *accuracy.Ledger
	advisor  *monitor.Advisor

	watchlist map[string]struct{}
	now       func() time.Time
	mu        sync.RWMutex // serializes mutations, guards watchlist and now
}

// New creates an empty engine persisting to kv. Call Load to restore state.
func New(kv storage.KV, opts Options) *Engine {
	registry := opts.Registry
	if registry == nil {
		registry = profile.DefaultRegistry()
	}

	store := restock.NewEventStore()
	stats := restock.NewStatsCache(store, 0)

	var inferrer *profile.Inferrer
	if opts.InferRules {
		inferrer = profile.NewInferrer(store, opts.Inference)
	}

	return &Engine{
		kv:        kv,
		opts:      opts,
		store:     store,
		stats:     stats,
		registry:  registry,
		inferrer:  inferrer,
		point:     predictor.NewPointPredictor(stats, opts.OutlierIQRMultiplier),
		windows:   predictor.NewWindowPredictor(stats, registry, inferrer, opts.Window),
		ledger:    accuracy.NewLedger(),
		advisor:   monitor.New(opts.Lookahead),
		watchlist: make(map[string]struct{}),
		now:       time.Now,
	}
}

// SetClock replaces the time source of the engine and its predictors.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.point.SetClock(now)
	e.windows.SetClock(now)
	e.advisor.SetClock(now)
}

func (e *Engine) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Ingest validates and appends events, scores outstanding predictions
// against the new ones and records fresh predictions for the items they
// contain. Invalid events are reported in the result and skipped; the
// returned error is only set when persisting fails.
func (e *Engine) Ingest(ctx context.Context, events []models.RestockEvent) (IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.ingestLocked(events)
	if res.Added == 0 {
		return res, nil
	}
	if err := e.saveJSON(ctx, KeyEvents, e.store.All()); err != nil {
		return res, err
	}
	if err := e.saveJSON(ctx, KeyPredictions, e.ledger.Export()); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) ingestLocked(events []models.RestockEvent) IngestResult {
	res := IngestResult{Received: len(events)}

	valid := make([]models.RestockEvent, 0, len(events))
	seen := make(map[string]bool, len(events))
	for i, ev := range events {
		ev.ID = models.EventID(ev.Timestamp, ev.Items)
		if err := ev.Validate(); err != nil {
			res.Errors = append(res.Errors, IngestError{Index: i, EventID: ev.ID, Err: err})
			continue
		}
		if seen[ev.ID] || e.store.Has(ev.ID) {
			res.Duplicates++
			continue
		}
		seen[ev.ID] = true
		valid = append(valid, ev)
	}
	res.Rejected = len(res.Errors)
	for _, ie := range res.Errors {
		logger.Debug("rejected %v", ie)
	}
	if len(valid) == 0 {
		return res
	}

	res.Added = e.store.AppendBatch(valid)

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })
	for _, ev := range valid {
		res.Resolved = append(res.Resolved, e.ledger.CheckAgainstEvent(ev)...)
	}

	if e.opts.RecordPredictions {
		madeAt := e.now()
		for _, name := range itemsIn(valid) {
			pred := e.point.Conservative(name)
			if pred == nil {
				continue
			}
			if err := e.ledger.RecordPrediction(name, pred.PredictedTime, madeAt); err != nil {
				logger.Warn("failed to record prediction for %s: %v", name, err)
			}
		}
	}
	return res
}

func itemsIn(events []models.RestockEvent) []string {
	set := make(map[string]bool)
	for i := range events {
		for _, item := range events[i].Items {
			set[item.Name] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSummaryStats returns an overview of the whole history.
func (e *Engine) GetSummaryStats() SummaryStats {
	all := e.stats.AllStats()
	items := make([]models.ItemStats, 0, len(all))
	for _, s := range all {
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].TotalRestocks != items[j].TotalRestocks {
			return items[i].TotalRestocks > items[j].TotalRestocks
		}
		return items[i].Name < items[j].Name
	})

	out := SummaryStats{
		TotalEvents:          e.stats.TotalEvents(),
		UniqueItems:          len(items),
		AvgEventSpacingHours: e.stats.AverageEventSpacing().Hours(),
		WatchedItems:         len(e.GetWatchedItems()),
		Accuracy:             e.ledger.Summary(),
		Items:                items,
	}
	events := e.store.All()
	if len(events) > 0 {
		out.FirstEvent = events[0].Timestamp
		out.LastEvent = events[len(events)-1].Timestamp
	}
	return out
}

// GetTopLikelyItems ranks items with enough history by their empirical
// chance of a restock within 24h, then by the earlier conservative
// prediction. limit <= 0 uses DefaultTopLimit.
func (e *Engine) GetTopLikelyItems(limit int) []LikelyItem {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	var out []LikelyItem
	for _, name := range e.stats.ItemNames() {
		detail := e.point.DetailedStats(name)
		if detail.Confidence == models.ConfidenceNone {
			continue
		}
		st, _ := e.stats.StatsFor(name)
		out = append(out, LikelyItem{
			Stats:         st,
			ProbWithin24h: detail.ProbWithin24h,
			Confidence:    detail.Confidence,
			Prediction:    e.point.Conservative(name),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProbWithin24h != out[j].ProbWithin24h {
			return out[i].ProbWithin24h > out[j].ProbWithin24h
		}
		pi, pj := out[i].Prediction, out[j].Prediction
		if pi != nil && pj != nil && !pi.PredictedTime.Equal(pj.PredictedTime) {
			return pi.PredictedTime.Before(pj.PredictedTime)
		}
		return out[i].Stats.Name < out[j].Stats.Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		return []LikelyItem{}
	}
	return out
}

// GetDetailedPredictionStats describes name's interval distribution.
func (e *Engine) GetDetailedPredictionStats(name string) (models.DetailedPredictionStats, error) {
	if _, ok := e.stats.StatsFor(name); !ok {
		return models.DetailedPredictionStats{}, fmt.Errorf("%w: %s", ErrUnknownItem, name)
	}
	return e.point.DetailedStats(name), nil
}

// GetDualPrediction returns both point predictions for name.
func (e *Engine) GetDualPrediction(name string) (models.DualPrediction, error) {
	if _, ok := e.stats.StatsFor(name); !ok {
		return models.DualPrediction{}, fmt.Errorf("%w: %s", ErrUnknownItem, name)
	}
	return e.point.PredictDual(name), nil
}

// GetItemWindows returns the window prediction for one item.
func (e *Engine) GetItemWindows(name string) (models.WindowBasedPrediction, error) {
	if _, ok := e.stats.StatsFor(name); !ok {
		return models.WindowBasedPrediction{}, fmt.Errorf("%w: %s", ErrUnknownItem, name)
	}
	return e.windows.PredictItemWindows(name, time.Time{}, e.recentEvents()), nil
}

// GetWindowPredictions returns window predictions for the watched items, or
// for every known item when nothing is watched.
func (e *Engine) GetWindowPredictions() map[string]models.WindowBasedPrediction {
	names := e.GetWatchedItems()
	if len(names) == 0 {
		names = e.stats.ItemNames()
	}
	recent := e.recentEvents()

	out := make(map[string]models.WindowBasedPrediction, len(names))
	for _, name := range names {
		out[name] = e.windows.PredictItemWindows(name, time.Time{}, recent)
	}
	return out
}

// recentEvents returns the newest events that can still trigger a
// correlation rule.
func (e *Engine) recentEvents() []models.RestockEvent {
	now := e.clock()
	lookback := correlationLookback
	if e.opts.Inference.CorrelationWindow > lookback {
		lookback = e.opts.Inference.CorrelationWindow
	}
	recent := e.store.RangeQuery(now.Add(-lookback), now)
	if n := e.opts.RecentEvents; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	return recent
}

// GetCurrentMonitoringAlerts returns alerts for windows open now or about to open.
func (e *Engine) GetCurrentMonitoringAlerts() []models.MonitoringAlert {
	return e.advisor.AlertsFor(e.GetWindowPredictions(), e.clock())
}

// PendingAlerts returns the current alerts not already delivered within cooldown.
func (e *Engine) PendingAlerts(cooldown time.Duration) []models.MonitoringAlert {
	return e.advisor.FilterRecentlySent(e.GetCurrentMonitoringAlerts(), cooldown)
}

// MarkNotified records alerts as delivered.
func (e *Engine) MarkNotified(alerts []models.MonitoringAlert) {
	e.advisor.RecordNotified(alerts)
}

// PredictionHistory returns name's resolved predictions, most recent first.
func (e *Engine) PredictionHistory(name string) []models.PredictionRecord {
	return e.ledger.HistoryFor(name)
}

// ActivePrediction returns name's unresolved prediction.
func (e *Engine) ActivePrediction(name string) (models.ActivePrediction, bool) {
	return e.ledger.Active(name)
}

// Events returns the full event log, oldest first.
func (e *Engine) Events() []models.RestockEvent {
	return e.store.All()
}

// AddWatchedItem adds name to the watchlist.
func (e *Engine) AddWatchedItem(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("item name must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.watchlist[name]; ok {
		return nil
	}
	e.watchlist[name] = struct{}{}
	return e.saveJSON(ctx, KeyWatchlist, e.watchedLocked())
}

// RemoveWatchedItem removes name from the watchlist and reports whether it was watched.
func (e *Engine) RemoveWatchedItem(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.watchlist[name]; !ok {
		return false, nil
	}
	delete(e.watchlist, name)
	return true, e.saveJSON(ctx, KeyWatchlist, e.watchedLocked())
}

// GetWatchedItems returns the watchlist, sorted.
func (e *Engine) GetWatchedItems() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.watchedLocked()
}

func (e *Engine) watchedLocked() []string {
	names := make([]string, 0, len(e.watchlist))
	for name := range e.watchlist {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearAllRestocks wipes events, predictions, the watchlist and the
// notification cooldown, then persists the empty state. It cannot be undone.
func (e *Engine) ClearAllRestocks(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Reset()
	e.ledger.Reset()
	e.advisor.Reset()
	e.watchlist = make(map[string]struct{})

	if err := e.saveJSON(ctx, KeyEvents, []models.RestockEvent{}); err != nil {
		return err
	}
	if err := e.saveJSON(ctx, KeyPredictions, e.ledger.Export()); err != nil {
		return err
	}
	return e.saveJSON(ctx, KeyWatchlist, []string{})
}
