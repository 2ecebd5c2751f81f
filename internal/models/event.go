// Package models defines the core domain entities for the restock-oracle application.
// These models represent observed shop restocks, derived per-item statistics,
// predictions and the alerts raised from them.
// Entities that cross the import boundary include built-in validation.
//
// Terminology:
//   - Restock event: one observed shop refresh listing every item offered at once.
//   - Item: a named stock entry inside an event. This is the unit we predict.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the closed set of item kinds a shop can offer.
type Category string

const (
	CategorySeed    Category = "seed"
	CategoryCrop    Category = "crop"
	CategoryEgg     Category = "egg"
	CategoryWeather Category = "weather"
	CategoryUnknown Category = "unknown"
)

// ParseCategory maps a free-form label onto the closed category set.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategorySeed:
		return CategorySeed
	case CategoryCrop:
		return CategoryCrop
	case CategoryEgg:
		return CategoryEgg
	case CategoryWeather:
		return CategoryWeather
	default:
		return CategoryUnknown
	}
}

// Source tags where an event came from. It never affects ranking.
type Source string

const (
	SourceImported Source = "imported"
	SourceLive     Source = "live"
	SourceManual   Source = "manual"
)

// ParseSource maps a label onto the closed source set. Empty or unknown
// labels yield fallback.
func ParseSource(s string, fallback Source) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceImported:
		return SourceImported
	case SourceLive:
		return SourceLive
	case SourceManual:
		return SourceManual
	default:
		return fallback
	}
}

// eventNamespace scopes the name-based UUIDs used as event IDs.
var eventNamespace = uuid.MustParse("6f1c7a52-3d0e-5b8a-9c41-2e7d5f0b9a63")

// RestockItem is a single stock entry inside a restock event.
type RestockItem struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Category Category `json:"category"`
}

// RestockEvent is one observed shop refresh.
//
// The ID is derived from the timestamp and the item:quantity list so that
// importing the same export twice yields the same IDs.
type RestockEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Items     []RestockItem `json:"items"`
	Source    Source        `json:"source"`
}

// EventID returns the deterministic identifier for an event.
func EventID(ts time.Time, items []RestockItem) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ts.UnixMilli(), 10))
	b.WriteByte('|')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(item.Name)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(item.Quantity))
	}
	return uuid.NewSHA1(eventNamespace, []byte(b.String())).String()
}

// NewRestockEvent builds an event and fills in its deterministic ID.
func NewRestockEvent(ts time.Time, items []RestockItem, source Source) RestockEvent {
	return RestockEvent{
		ID:        EventID(ts, items),
		Timestamp: ts,
		Items:     items,
		Source:    source,
	}
}

// Contains reports whether the event lists the named item.
func (e *RestockEvent) Contains(name string) bool {
	for _, item := range e.Items {
		if item.Name == name {
			return true
		}
	}
	return false
}

// Validate checks that the event is well formed at the import boundary.
func (e *RestockEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if len(e.Items) == 0 {
		return errors.New("event must list at least one item")
	}
	for i, item := range e.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item %d: name must not be empty", i)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("item %q: quantity must not be negative", item.Name)
		}
	}
	return nil
}
