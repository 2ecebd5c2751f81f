package models

import (
	"errors"
	"time"
)

// Urgency ranks how soon a watcher should act on an alert.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Rank orders urgencies from low (1) to high (3).
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// MonitoringAlert tells a watcher that an item's window is open or about to open.
type MonitoringAlert struct {
	ID          string     `json:"id"`
	ItemName    string     `json:"item_name"`
	Message     string     `json:"message"`
	Urgency     Urgency    `json:"urgency"`
	Confidence  Confidence `json:"confidence"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Active      bool       `json:"active"` // Window already open at GeneratedAt
	GeneratedAt time.Time  `json:"generated_at"`
}

// Validate checks that all alert fields are valid
func (a *MonitoringAlert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.ItemName == "" {
		return errors.New("item name must not be empty")
	}
	if a.Urgency.Rank() == 0 {
		return errors.New("urgency must be 'high', 'medium' or 'low'")
	}
	if !a.WindowEnd.After(a.WindowStart) {
		return errors.New("window end must be after window start")
	}
	if a.Active && (a.GeneratedAt.Before(a.WindowStart) || a.GeneratedAt.After(a.WindowEnd)) {
		return errors.New("active alert must be generated inside its window")
	}
	return nil
}
