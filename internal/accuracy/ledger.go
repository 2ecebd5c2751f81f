// Package accuracy scores predictions against the restocks that follow them.
package accuracy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// MaxHistory is the number of resolved records kept per item.
const MaxHistory = 3

// Summary aggregates resolved-prediction error across all items.
type Summary struct {
	Resolved             int     `json:"resolved"`
	Active               int     `json:"active"`
	MeanAbsErrorMinutes  float64 `json:"mean_abs_error_minutes"`
	MeanSignedErrMinutes float64 `json:"mean_signed_error_minutes"` // positive: restocks came late
}

// State is the persisted form of a ledger.
type State struct {
	Active  map[string]models.ActivePrediction   `json:"active"`
	History map[string][]models.PredictionRecord `json:"history"`
}

// Ledger holds at most one active prediction per item and a short history
// of resolved ones.
type Ledger struct {
	active  map[string]models.ActivePrediction
	history map[string][]models.PredictionRecord // oldest first
	mu      sync.RWMutex
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		active:  make(map[string]models.ActivePrediction),
		history: make(map[string][]models.PredictionRecord),
	}
}

// RecordPrediction makes predicted the active prediction for item. Any
// earlier active prediction is replaced without being scored.
func (l *Ledger) RecordPrediction(item string, predicted, madeAt time.Time) error {
	if item == "" {
		return errors.New("item name must not be empty")
	}
	if predicted.IsZero() || madeAt.IsZero() {
		return errors.New("predicted and made-at time must be set")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.active[item]; ok {
		logger.Debug("%s: prediction made at %s superseded before resolving", item, prev.MadeAt.Format(time.RFC3339))
	}
	l.active[item] = models.ActivePrediction{ItemName: item, PredictedTime: predicted, MadeAt: madeAt}
	return nil
}

// CheckAgainstEvent resolves the active predictions of every item in ev and
// returns the new records. Predictions made after ev are left untouched.
func (l *Ledger) CheckAgainstEvent(ev models.RestockEvent) []models.PredictionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var resolved []models.PredictionRecord
	for _, item := range ev.Items {
		pred, ok := l.active[item.Name]
		if !ok || ev.Timestamp.Before(pred.MadeAt) {
			continue
		}

		diff := ev.Timestamp.Sub(pred.PredictedTime)
		rec := models.PredictionRecord{
			ItemName:          item.Name,
			PredictedTime:     pred.PredictedTime,
			PredictionMadeAt:  pred.MadeAt,
			ActualTime:        ev.Timestamp,
			DifferenceMinutes: float64(diff.Milliseconds()) / 60000,
			DifferenceMs:      diff.Milliseconds(),
		}

		h := append(l.history[item.Name], rec)
		if len(h) > MaxHistory {
			h = append([]models.PredictionRecord(nil), h[len(h)-MaxHistory:]...)
		}
		l.history[item.Name] = h
		delete(l.active, item.Name)
		resolved = append(resolved, rec)
	}
	return resolved
}

// HistoryFor returns item's resolved records, most recent first.
func (l *Ledger) HistoryFor(item string) []models.PredictionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := l.history[item]
	out := make([]models.PredictionRecord, len(h))
	for i := range h {
		out[len(h)-1-i] = h[i]
	}
	return out
}

// Active returns item's unresolved prediction.
func (l *Ledger) Active(item string) (models.ActivePrediction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.active[item]
	return p, ok
}

// Summary aggregates error over every retained record.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{Active: len(l.active)}
	var abs, signed float64
	for _, h := range l.history {
		for _, rec := range h {
			s.Resolved++
			abs += math.Abs(rec.DifferenceMinutes)
			signed += rec.DifferenceMinutes
		}
	}
	if s.Resolved > 0 {
		s.MeanAbsErrorMinutes = abs / float64(s.Resolved)
		s.MeanSignedErrMinutes = signed / float64(s.Resolved)
	}
	return s
}

// Items returns every item with an active prediction or history, sorted.
func (l *Ledger) Items() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool, len(l.active)+len(l.history))
	for name := range l.active {
		seen[name] = true
	}
	for name := range l.history {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export returns a copy of the ledger state for persistence.
func (l *Ledger) Export() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := State{
		Active:  make(map[string]models.ActivePrediction, len(l.active)),
		History: make(map[string][]models.PredictionRecord, len(l.history)),
	}
	for k, v := range l.active {
		st.Active[k] = v
	}
	for k, v := range l.history {
		st.History[k] = append([]models.PredictionRecord(nil), v...)
	}
	return st
}

// Import replaces the ledger state. Records failing validation are rejected
// as a whole; histories longer than MaxHistory keep their newest entries.
func (l *Ledger) Import(st State) error {
	active := make(map[string]models.ActivePrediction, len(st.Active))
	for name, p := range st.Active {
		if name == "" || p.ItemName != name {
			return fmt.Errorf("active prediction keyed %q does not match item %q", name, p.ItemName)
		}
		active[name] = p
	}

	history := make(map[string][]models.PredictionRecord, len(st.History))
	for name, recs := range st.History {
		h := append([]models.PredictionRecord(nil), recs...)
		for i := range h {
			if err := h[i].Validate(); err != nil {
				return fmt.Errorf("history for %q, record %d: %w", name, i, err)
			}
			if h[i].ItemName != name {
				return fmt.Errorf("history for %q holds a record for %q", name, h[i].ItemName)
			}
		}
		sort.SliceStable(h, func(i, j int) bool { return h[i].ActualTime.Before(h[j].ActualTime) })
		if len(h) > MaxHistory {
			h = h[len(h)-MaxHistory:]
		}
		if len(h) > 0 {
			history[name] = h
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = active
	l.history = history
	return nil
}

// Reset drops all active predictions and history.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = make(map[string]models.ActivePrediction)
	l.history = make(map[string][]models.PredictionRecord)
}
