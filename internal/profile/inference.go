package profile

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/restock"
)

// maxInferredCorrelations caps how many triggers an item can receive.
const maxInferredCorrelations = 3

// InferCorrelations finds items whose appearance was followed by item within
// window. A trigger qualifies when it appeared at least minSupport times and
// item followed in at least minProbability of those cases. Rules are ordered
// by probability, strongest first.
func InferCorrelations(events []models.RestockEvent, item string, window time.Duration, minProbability float64, minSupport int) []CorrelationRule {
	return inferCorrelations(appearancesOf(events), item, window, minProbability, minSupport)
}

// InferBurst reports burst behavior when at least minProbability of the
// item's intervals (hours) fall within window. It returns nil when the
// heuristic does not fire or fewer than minSupport intervals exist.
func InferBurst(intervals []float64, window time.Duration, minProbability float64, minSupport int) *BurstBehavior {
	if len(intervals) == 0 || len(intervals) < minSupport {
		return nil
	}
	windowHours := window.Hours()
	hits := 0
	for _, v := range intervals {
		if v <= windowHours {
			hits++
		}
	}
	p := float64(hits) / float64(len(intervals))
	if hits == 0 || p < minProbability {
		return nil
	}
	return &BurstBehavior{WindowHours: windowHours, Probability: p, Inferred: true}
}

func inferCorrelations(apps map[string][]time.Time, item string, window time.Duration, minProbability float64, minSupport int) []CorrelationRule {
	targets := apps[item]
	if len(targets) == 0 {
		return nil
	}

	var rules []CorrelationRule
	for trigger, times := range apps {
		if trigger == item || len(times) < minSupport || len(times) == 0 {
			continue
		}
		hits := 0
		for _, t := range times {
			// First appearance of item strictly after the trigger
			i := sort.Search(len(targets), func(i int) bool { return targets[i].After(t) })
			if i < len(targets) && targets[i].Sub(t) <= window {
				hits++
			}
		}
		p := float64(hits) / float64(len(times))
		if hits > 0 && p >= minProbability {
			rules = append(rules, CorrelationRule{
				ItemName:    trigger,
				WindowHours: window.Hours(),
				Probability: p,
				Inferred:    true,
			})
		}
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Probability != rules[j].Probability {
			return rules[i].Probability > rules[j].Probability
		}
		return rules[i].ItemName < rules[j].ItemName
	})
	if len(rules) > maxInferredCorrelations {
		rules = rules[:maxInferredCorrelations]
	}
	return rules
}

// appearancesOf returns, per item, the ascending timestamps of events listing it.
func appearancesOf(events []models.RestockEvent) map[string][]time.Time {
	apps := make(map[string][]time.Time)
	for i := range events {
		seen := make(map[string]bool, len(events[i].Items))
		for _, item := range events[i].Items {
			if seen[item.Name] {
				continue
			}
			seen[item.Name] = true
			apps[item.Name] = append(apps[item.Name], events[i].Timestamp)
		}
	}
	for _, ts := range apps {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	}
	return apps
}

// InferenceConfig tunes rule inference. The thresholds are heuristics fit to
// one history and do not generalize by themselves.
type InferenceConfig struct {
	CorrelationWindow         time.Duration
	CorrelationMinProbability float64
	CorrelationMinSupport     int
	BurstWindow               time.Duration
	BurstMinProbability       float64
}

// DefaultInferenceConfig returns the thresholds used when none are configured.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		CorrelationWindow:         2 * time.Hour,
		CorrelationMinProbability: 0.6,
		CorrelationMinSupport:     3,
		BurstWindow:               6 * time.Hour,
		BurstMinProbability:       0.25,
	}
}

// Inferrer infers rules for every item from an event store and caches them
// until the store version advances.
type Inferrer struct {
	store *restock.EventStore
	cfg   InferenceConfig

	version      uint64
	built        bool
	correlations map[string][]CorrelationRule
	bursts       map[string]*BurstBehavior
	mu           sync.Mutex
}

// NewInferrer creates an inferrer over store.
func NewInferrer(store *restock.EventStore, cfg InferenceConfig) *Inferrer {
	return &Inferrer{store: store, cfg: cfg}
}

// RulesFor returns the inferred correlation rules and burst behavior for name.
func (in *Inferrer) RulesFor(name string) ([]CorrelationRule, *BurstBehavior) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.built || in.version != in.store.Version() {
		in.rebuild()
	}

	rules := append([]CorrelationRule(nil), in.correlations[name]...)
	var burst *BurstBehavior
	if b := in.bursts[name]; b != nil {
		c := *b
		burst = &c
	}
	return rules, burst
}

func (in *Inferrer) rebuild() {
	events, version := in.store.Snapshot()
	apps := appearancesOf(events)

	in.correlations = make(map[string][]CorrelationRule, len(apps))
	in.bursts = make(map[string]*BurstBehavior, len(apps))
	for name, times := range apps {
		if rules := inferCorrelations(apps, name, in.cfg.CorrelationWindow, in.cfg.CorrelationMinProbability, in.cfg.CorrelationMinSupport); len(rules) > 0 {
			in.correlations[name] = rules
		}
		if b := InferBurst(restock.IntervalsHours(times), in.cfg.BurstWindow, in.cfg.BurstMinProbability, in.cfg.CorrelationMinSupport); b != nil {
			in.bursts[name] = b
		}
	}

	in.version = version
	in.built = true
	logger.Debug("inferred rules for %d items (%d with correlations, %d with bursts) at store version %d",
		len(apps), len(in.correlations), len(in.bursts), version)
}

// Resolve returns the profile the predictors should use for name: the
// curated entry (or the permissive default) with missing rules filled in by
// inf when it is non-nil, merged with observed intervals via Effective.
func Resolve(reg *Registry, inf *Inferrer, name string, intervals []float64) (Profile, bool) {
	p, curated := reg.Lookup(name)
	if !curated {
		p = Profile{Name: name}
	}
	if inf != nil && (len(p.Correlations) == 0 || p.Burst == nil) {
		rules, burst := inf.RulesFor(name)
		if len(p.Correlations) == 0 {
			p.Correlations = rules
		}
		if p.Burst == nil {
			p.Burst = burst
		}
	}
	return Effective(p, curated, intervals), curated
}
