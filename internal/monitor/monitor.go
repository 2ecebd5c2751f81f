// Package monitor turns window predictions into urgency-ranked watch alerts
// and keeps the notification cooldown that stops the same window from being
// announced twice.
//
// An item alerts when its earliest open-ended window contains now or starts
// within the lookahead. Urgency follows window confidence and proximity:
//
//	high   = high confidence and (active or imminent)
//	medium = high confidence within lookahead, or medium confidence and (active or imminent)
//	low    = anything else that qualifies
//
// "Imminent" means the window starts within half the lookahead. Items whose
// hard cooldown is running, or that are still too early, never alert.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// DefaultLookahead is used when New receives a non-positive lookahead.
const DefaultLookahead = 30 * time.Minute

// notifiedRecord tracks a previously sent alert for cooldown deduplication.
type notifiedRecord struct {
	WindowStart time.Time
	Urgency     models.Urgency
	SentAt      time.Time
}

// Advisor produces monitoring alerts.
type Advisor struct {
	lookahead     time.Duration
	notifiedItems map[string]notifiedRecord // key = item name
	now           func() time.Time
	mu            sync.Mutex
}

// New creates an Advisor alerting on windows that start within lookahead.
func New(lookahead time.Duration) *Advisor {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Advisor{
		lookahead:     lookahead,
		notifiedItems: make(map[string]notifiedRecord),
		now:           time.Now,
	}
}

// SetClock replaces the time source used by the notification cooldown.
func (a *Advisor) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Lookahead returns the configured lookahead.
func (a *Advisor) Lookahead() time.Duration {
	return a.lookahead
}

// AlertsFor returns alerts for every item whose next window is open or
// about to open at now, sorted by urgency, then window start, then name.
// It returns a non-nil slice.
func (a *Advisor) AlertsFor(preds map[string]models.WindowBasedPrediction, now time.Time) []models.MonitoringAlert {
	alerts := []models.MonitoringAlert{}
	suppressed := 0

	for name, pred := range preds {
		if pred.CooldownActive || pred.TooEarly {
			suppressed++
			continue
		}
		win, ok := nextWindow(pred.NextWindows, now)
		if !ok {
			continue
		}

		active := !win.StartTime.After(now)
		until := win.StartTime.Sub(now)
		if !active && until > a.lookahead {
			continue
		}
		imminent := active || until <= a.lookahead/2

		itemName := pred.ItemName
		if itemName == "" {
			itemName = name
		}
		alerts = append(alerts, models.MonitoringAlert{
			ID:          uuid.New().String(),
			ItemName:    itemName,
			Message:     alertMessage(itemName, win, active, until),
			Urgency:     urgencyFor(win.Confidence, active, imminent),
			Confidence:  win.Confidence,
			WindowStart: win.StartTime,
			WindowEnd:   win.EndTime,
			Active:      active,
			GeneratedAt: now,
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		if ri, rj := alerts[i].Urgency.Rank(), alerts[j].Urgency.Rank(); ri != rj {
			return ri > rj
		}
		if !alerts[i].WindowStart.Equal(alerts[j].WindowStart) {
			return alerts[i].WindowStart.Before(alerts[j].WindowStart)
		}
		return alerts[i].ItemName < alerts[j].ItemName
	})

	logger.Debug("AlertsFor: %d items, %d suppressed by cooldown, %d alerts", len(preds), suppressed, len(alerts))
	return alerts
}

// nextWindow returns the earliest window that has not ended by now.
func nextWindow(windows []models.PredictionWindow, now time.Time) (models.PredictionWindow, bool) {
	var best models.PredictionWindow
	found := false
	for _, w := range windows {
		if !w.EndTime.After(now) {
			continue
		}
		if !found || w.StartTime.Before(best.StartTime) {
			best, found = w, true
		}
	}
	return best, found
}

func urgencyFor(conf models.Confidence, active, imminent bool) models.Urgency {
	switch {
	case conf == models.ConfidenceHigh && (active || imminent):
		return models.UrgencyHigh
	case conf == models.ConfidenceHigh,
		conf == models.ConfidenceMedium && (active || imminent):
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func alertMessage(name string, w models.PredictionWindow, active bool, until time.Duration) string {
	var b strings.Builder
	if active {
		fmt.Fprintf(&b, "%s window is open until %s", name, w.EndTime.Format("15:04 MST"))
	} else {
		fmt.Fprintf(&b, "%s window opens in %s", name, until.Round(time.Minute))
	}
	fmt.Fprintf(&b, " (%s confidence", w.Confidence)
	if len(w.Signals) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(w.Signals, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// FilterRecentlySent removes alerts for windows already announced within
// cooldown, unless the urgency has escalated since. A new window for the
// same item always passes. Returns a non-nil slice.
func (a *Advisor) FilterRecentlySent(alerts []models.MonitoringAlert, cooldown time.Duration) []models.MonitoringAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	result := []models.MonitoringAlert{}
	for _, alert := range alerts {
		rec, exists := a.notifiedItems[alert.ItemName]
		if exists && now.Sub(rec.SentAt) < cooldown {
			sameWindow := rec.WindowStart.Equal(alert.WindowStart)
			escalated := alert.Urgency.Rank() > rec.Urgency.Rank()
			if sameWindow && !escalated {
				continue
			}
		}
		result = append(result, alert)
	}
	return result
}

// RecordNotified records alerts as sent now. Call this after a successful
// delivery to enable cooldown deduplication.
func (a *Advisor) RecordNotified(alerts []models.MonitoringAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for _, alert := range alerts {
		a.notifiedItems[alert.ItemName] = notifiedRecord{
			WindowStart: alert.WindowStart,
			Urgency:     alert.Urgency,
			SentAt:      now,
		}
	}
}

// Reset forgets every sent notification.
func (a *Advisor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifiedItems = make(map[string]notifiedRecord)
}
