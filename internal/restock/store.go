// Package restock holds the event log and the per-item statistics derived from it.
//
// EventStore is the single owner of RestockEvent values. Everything else reads
// through it at call time, either directly or through StatsCache, which is
// guarded by the store's version counter.
package restock

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/restockoracle/internal/models"
)

// EventStore is an append-only, deduplicated, chronologically ordered event log.
type EventStore struct {
	events  []models.RestockEvent
	ids     map[string]struct{}
	version uint64
	mu      sync.RWMutex
}

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{ids: make(map[string]struct{})}
}

// Append inserts ev in timestamp order. Events with an ID already in the
// store are ignored and Append reports false.
func (s *EventStore) Append(ev models.RestockEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[ev.ID]; dup {
		return false
	}

	// Insert after every event with timestamp <= ev so ties keep insertion order
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Timestamp.After(ev.Timestamp)
	})
	s.events = append(s.events, models.RestockEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = cloneEvent(ev)

	s.ids[ev.ID] = struct{}{}
	s.version++
	return true
}

// AppendBatch adds every new event under one lock and bumps the version once,
// so readers never observe a partially imported batch. Duplicates inside the
// batch are dropped as well. It returns the number of events added.
func (s *EventStore) AppendBatch(evs []models.RestockEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, ev := range evs {
		if _, dup := s.ids[ev.ID]; dup {
			continue
		}
		s.ids[ev.ID] = struct{}{}
		s.events = append(s.events, cloneEvent(ev))
		added++
	}
	if added == 0 {
		return 0
	}

	// Stable so equal timestamps keep store order, then batch order
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})
	s.version++
	return added
}

// RangeQuery returns events with start <= timestamp <= end, ascending.
func (s *EventStore) RangeQuery(start, end time.Time) []models.RestockEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Timestamp.After(end)
	})
	if lo >= hi {
		return []models.RestockEvent{}
	}
	return copyEvents(s.events[lo:hi])
}

// All returns a copy of the full ordered log.
func (s *EventStore) All() []models.RestockEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.events)
}

// Snapshot returns a consistent copy of the log together with its version.
func (s *EventStore) Snapshot() ([]models.RestockEvent, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.events), s.version
}

// Version returns the current version counter.
func (s *EventStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Has reports whether an event with id is stored.
func (s *EventStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Latest returns the most recent event, if any.
func (s *EventStore) Latest() (models.RestockEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return models.RestockEvent{}, false
	}
	return cloneEvent(s.events[len(s.events)-1]), true
}

// Reset drops every event. The version still advances so caches invalidate.
func (s *EventStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.ids = make(map[string]struct{})
	s.version++
}

// copyEvents deep-copies evs so callers can never reach stored item slices.
func copyEvents(evs []models.RestockEvent) []models.RestockEvent {
	out := make([]models.RestockEvent, len(evs))
	for i := range evs {
		out[i] = cloneEvent(evs[i])
	}
	return out
}

func cloneEvent(ev models.RestockEvent) models.RestockEvent {
	ev.Items = append([]models.RestockItem(nil), ev.Items...)
	return ev
}
