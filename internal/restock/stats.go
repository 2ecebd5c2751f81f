package restock

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

const (
	// DefaultYieldEvery is how many events the fold processes between scheduler yields.
	DefaultYieldEvery = 512
	// maxRebuildAttempts bounds the version-check-and-retry loop.
	maxRebuildAttempts = 3
)

// corpus is everything derived from one store snapshot.
type corpus struct {
	version     uint64
	totalEvents int
	stats       map[string]models.ItemStats
	appearances map[string][]time.Time
	avgSpacing  time.Duration
}

// StatsCache derives per-item statistics from an EventStore. It recomputes
// the whole corpus in one pass whenever the store version has advanced.
type StatsCache struct {
	store      *EventStore
	yieldEvery int

	cached *corpus
	mu     sync.Mutex
}

// NewStatsCache creates a cache over store. yieldEvery <= 0 uses DefaultYieldEvery.
func NewStatsCache(store *EventStore, yieldEvery int) *StatsCache {
	if yieldEvery <= 0 {
		yieldEvery = DefaultYieldEvery
	}
	return &StatsCache{store: store, yieldEvery: yieldEvery}
}

// StatsFor returns the statistics for one item.
func (c *StatsCache) StatsFor(name string) (models.ItemStats, bool) {
	s, ok := c.current().stats[name]
	return s, ok
}

// Item returns an item's statistics and appearance times from one snapshot.
func (c *StatsCache) Item(name string) (models.ItemStats, []time.Time, bool) {
	cur := c.current()
	s, ok := cur.stats[name]
	if !ok {
		return models.ItemStats{}, nil, false
	}
	return s, append([]time.Time(nil), cur.appearances[name]...), true
}

// AllStats returns statistics for every item ever observed.
func (c *StatsCache) AllStats() map[string]models.ItemStats {
	cur := c.current()
	out := make(map[string]models.ItemStats, len(cur.stats))
	for k, v := range cur.stats {
		out[k] = v
	}
	return out
}

// ItemNames returns every observed item name, sorted.
func (c *StatsCache) ItemNames() []string {
	cur := c.current()
	names := make([]string, 0, len(cur.stats))
	for name := range cur.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Appearances returns the ascending timestamps of events containing name,
// one per event.
func (c *StatsCache) Appearances(name string) []time.Time {
	return append([]time.Time(nil), c.current().appearances[name]...)
}

// Intervals returns the inter-arrival gaps for name in hours, chronological.
func (c *StatsCache) Intervals(name string) []float64 {
	return IntervalsHours(c.current().appearances[name])
}

// AverageEventSpacing is the mean gap between consecutive events of any kind.
// It is zero with fewer than two events.
func (c *StatsCache) AverageEventSpacing() time.Duration {
	return c.current().avgSpacing
}

// TotalEvents is the event count the current statistics were derived from.
func (c *StatsCache) TotalEvents() int {
	return c.current().totalEvents
}

// IntervalsHours converts ascending timestamps into consecutive gaps in hours.
func IntervalsHours(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	out := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		out = append(out, times[i].Sub(times[i-1]).Hours())
	}
	return out
}

// current returns an up-to-date corpus, rebuilding it if the store moved on.
func (c *StatsCache) current() *corpus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cached.version == c.store.Version() {
		return c.cached
	}

	var built *corpus
	for attempt := 1; attempt <= maxRebuildAttempts; attempt++ {
		events, version := c.store.Snapshot()
		built = c.fold(events, version)
		if c.store.Version() == version {
			break
		}
		logger.Debug("event store advanced during stats rebuild (attempt %d), retrying", attempt)
	}
	// On exhausted retries the last fold is still a consistent snapshot; it is
	// tagged with its own version so the next read rebuilds again.
	c.cached = built
	return built
}

// fold computes every item's statistics in a single pass over events.
func (c *StatsCache) fold(events []models.RestockEvent, version uint64) *corpus {
	stats := make(map[string]models.ItemStats)
	appearances := make(map[string][]time.Time)

	for i := range events {
		if i > 0 && i%c.yieldEvery == 0 {
			runtime.Gosched()
		}

		ev := &events[i]
		seen := make(map[string]bool, len(ev.Items))
		for _, item := range ev.Items {
			s := stats[item.Name]
			if s.Name == "" {
				s.Name = item.Name
				s.Category = models.CategoryUnknown
				s.FirstSeen = ev.Timestamp
			}
			if s.Category == models.CategoryUnknown && item.Category != "" {
				s.Category = item.Category
			}
			s.TotalQuantity += item.Quantity

			// An item listed twice in one event is still one restock
			if !seen[item.Name] {
				seen[item.Name] = true
				s.TotalRestocks++
				s.LastSeen = ev.Timestamp
				appearances[item.Name] = append(appearances[item.Name], ev.Timestamp)
			}
			stats[item.Name] = s
		}
	}

	total := len(events)
	for name, s := range stats {
		if s.TotalRestocks > 0 {
			s.AvgQuantity = float64(s.TotalQuantity) / float64(s.TotalRestocks)
		}
		if total > 0 {
			s.AppearanceRate = float64(s.TotalRestocks) / float64(total)
		}
		s.Rarity = models.RarityForRate(s.AppearanceRate)
		stats[name] = s
	}

	var spacing time.Duration
	if total >= 2 {
		spacing = events[total-1].Timestamp.Sub(events[0].Timestamp) / time.Duration(total-1)
	}

	return &corpus{
		version:     version,
		totalEvents: total,
		stats:       stats,
		appearances: appearances,
		avgSpacing:  spacing,
	}
}
