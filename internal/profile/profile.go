// Package profile holds per-item behavioral parameters that bias predictions
// beyond what the raw statistics show: cooldown floors, allowed hours of day,
// correlation rules and burst behavior.
//
// Curated entries come from a hand-maintained table. Items without an entry
// (or entries lacking a rule) can receive rules inferred from the event log,
// see Inferrer.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CorrelationRule says that seeing ItemName makes the profiled item likely
// to appear within WindowHours.
type CorrelationRule struct {
	ItemName    string  `json:"item_name"`
	WindowHours float64 `json:"window_hours"`
	Probability float64 `json:"probability"`
	Inferred    bool    `json:"inferred,omitempty"`
}

// BurstBehavior is the chance that an item repeats within WindowHours of its
// own appearance.
type BurstBehavior struct {
	WindowHours float64 `json:"window_hours"`
	Probability float64 `json:"probability"`
	Inferred    bool    `json:"inferred,omitempty"`
}

// Profile is one item's behavioral configuration.
type Profile struct {
	Name                  string            `json:"name"`
	HardCooldownHours     float64           `json:"hard_cooldown_hours"`
	PracticalMinimumHours float64           `json:"practical_minimum_hours"`
	AllowedHours          []int             `json:"allowed_hours,omitempty"` // nil = unrestricted
	Correlations          []CorrelationRule `json:"correlations,omitempty"`
	Burst                 *BurstBehavior    `json:"burst,omitempty"`
}

// Validate checks that all profile fields are valid
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name must not be empty")
	}
	if p.HardCooldownHours < 0 || p.PracticalMinimumHours < 0 {
		return errors.New("cooldown hours must not be negative")
	}
	for _, h := range p.AllowedHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("allowed hour %d out of range 0-23", h)
		}
	}
	for _, r := range p.Correlations {
		if r.ItemName == "" || r.ItemName == p.Name {
			return fmt.Errorf("correlation trigger %q is invalid", r.ItemName)
		}
		if r.WindowHours <= 0 {
			return fmt.Errorf("correlation with %q must have a positive window", r.ItemName)
		}
		if r.Probability < 0 || r.Probability > 1 {
			return fmt.Errorf("correlation with %q must have probability in [0, 1]", r.ItemName)
		}
	}
	if p.Burst != nil && (p.Burst.WindowHours <= 0 || p.Burst.Probability < 0 || p.Burst.Probability > 1) {
		return errors.New("burst behavior must have a positive window and probability in [0, 1]")
	}
	return nil
}

// Allows reports whether hour is permitted. An unrestricted profile allows all.
func (p *Profile) Allows(hour int) bool {
	if len(p.AllowedHours) == 0 {
		return true
	}
	for _, h := range p.AllowedHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Registry is a thread-safe table of profiles keyed by item name.
type Registry struct {
	profiles map[string]Profile
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Lookup returns a copy of the profile for name.
func (r *Registry) Lookup(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[p.Name] = p.clone()
	return nil
}

// Names returns all registered item names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Profile) clone() Profile {
	p.AllowedHours = append([]int(nil), p.AllowedHours...)
	p.Correlations = append([]CorrelationRule(nil), p.Correlations...)
	if p.Burst != nil {
		b := *p.Burst
		p.Burst = &b
	}
	return p
}

// Effective merges a profile (curated or the permissive default when
// curated is false) with observed history. The hard cooldown becomes the
// smallest observed interval once one exists; the practical minimum never
// drops below it.
func Effective(p Profile, curated bool, intervals []float64) Profile {
	p = p.clone()
	if len(intervals) > 0 {
		minInterval := intervals[0]
		for _, v := range intervals[1:] {
			if v < minInterval {
				minInterval = v
			}
		}
		p.HardCooldownHours = minInterval
	}
	if !curated {
		p.PracticalMinimumHours = p.HardCooldownHours
		p.AllowedHours = nil
	}
	if p.PracticalMinimumHours < p.HardCooldownHours {
		p.PracticalMinimumHours = p.HardCooldownHours
	}
	return p
}
