package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/restock"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func event(at time.Duration, names ...string) models.RestockEvent {
	items := make([]models.RestockItem, len(names))
	for i, n := range names {
		items[i] = models.RestockItem{Name: n, Quantity: 1}
	}
	return models.NewRestockEvent(t0.Add(at), items, models.SourceImported)
}

// A is always followed by B within the hour.
func pairedHistory() []models.RestockEvent {
	var evs []models.RestockEvent
	for day := 0; day < 5; day++ {
		base := time.Duration(day) * 24 * time.Hour
		evs = append(evs,
			event(base+2*time.Hour, "A", "Carrot"),
			event(base+2*time.Hour+30*time.Minute, "B"),
			event(base+9*time.Hour, "Carrot"),
		)
	}
	return evs
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	names := r.Names()
	require.NotEmpty(t, names)
	assert.IsNonDecreasing(t, names)

	p, ok := r.Lookup("Starweaver")
	require.True(t, ok)
	assert.Equal(t, 10.0, p.HardCooldownHours)
	assert.GreaterOrEqual(t, p.PracticalMinimumHours, p.HardCooldownHours)

	_, ok = r.Lookup("Carrot")
	assert.False(t, ok)
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	r := DefaultRegistry()
	p, _ := r.Lookup("Starweaver")
	p.AllowedHours[0] = 23
	p.Burst.Probability = 1

	again, _ := r.Lookup("Starweaver")
	assert.Equal(t, 0, again.AllowedHours[0])
	assert.Equal(t, 0.15, again.Burst.Probability)
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{Name: "X", HardCooldownHours: 1, PracticalMinimumHours: 2, AllowedHours: []int{0, 23}}, false},
		{"empty name", Profile{}, true},
		{"negative cooldown", Profile{Name: "X", HardCooldownHours: -1}, true},
		{"bad hour", Profile{Name: "X", AllowedHours: []int{24}}, true},
		{"self correlation", Profile{Name: "X", Correlations: []CorrelationRule{{ItemName: "X", WindowHours: 1, Probability: 0.5}}}, true},
		{"bad probability", Profile{Name: "X", Correlations: []CorrelationRule{{ItemName: "Y", WindowHours: 1, Probability: 1.5}}}, true},
		{"bad burst", Profile{Name: "X", Burst: &BurstBehavior{WindowHours: 0, Probability: 0.5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.profile)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfile_Allows(t *testing.T) {
	open := Profile{Name: "X"}
	assert.True(t, open.Allows(3))

	restricted := Profile{Name: "X", AllowedHours: []int{5, 6}}
	assert.True(t, restricted.Allows(6))
	assert.False(t, restricted.Allows(7))
}

func TestEffective(t *testing.T) {
	curated := Profile{Name: "Starweaver", HardCooldownHours: 10, PracticalMinimumHours: 24, AllowedHours: []int{0, 12}}

	tests := []struct {
		name          string
		profile       Profile
		isCurated     bool
		intervals     []float64
		wantHard      float64
		wantPractical float64
		wantAllowed   int
	}{
		{"curated without history", curated, true, nil, 10, 24, 2},
		{"history overrides hard floor", curated, true, []float64{12, 10.5, 30}, 10.5, 24, 2},
		{"practical never below hard", curated, true, []float64{40, 30}, 30, 30, 2},
		{"unknown item uses observed floor", Profile{Name: "Carrot"}, false, []float64{3, 5}, 3, 3, 0},
		{"unknown item without history", Profile{Name: "Carrot"}, false, nil, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Effective(tt.profile, tt.isCurated, tt.intervals)
			assert.Equal(t, tt.wantHard, got.HardCooldownHours)
			assert.Equal(t, tt.wantPractical, got.PracticalMinimumHours)
			assert.Len(t, got.AllowedHours, tt.wantAllowed)
		})
	}
}

func TestInferCorrelations(t *testing.T) {
	rules := InferCorrelations(pairedHistory(), "B", time.Hour, 0.6, 3)
	require.Len(t, rules, 1)
	assert.Equal(t, "A", rules[0].ItemName)
	assert.Equal(t, 1.0, rules[0].Probability)
	assert.Equal(t, 1.0, rules[0].WindowHours)
	assert.True(t, rules[0].Inferred)

	// B is never followed by A within the window
	assert.Empty(t, InferCorrelations(pairedHistory(), "A", time.Hour, 0.6, 3))

	// Support threshold
	assert.Empty(t, InferCorrelations(pairedHistory(), "B", time.Hour, 0.6, 6))

	assert.Nil(t, InferCorrelations(pairedHistory(), "Unseen", time.Hour, 0.6, 1))
}

func TestInferBurst(t *testing.T) {
	b := InferBurst([]float64{0.5, 1, 30, 40}, 2*time.Hour, 0.25, 3)
	require.NotNil(t, b)
	assert.Equal(t, 0.5, b.Probability)
	assert.Equal(t, 2.0, b.WindowHours)

	assert.Nil(t, InferBurst([]float64{30, 40, 50}, 2*time.Hour, 0.25, 3), "no short intervals")
	assert.Nil(t, InferBurst([]float64{0.5}, 2*time.Hour, 0.25, 3), "not enough support")
}

func TestResolveWithInferrer(t *testing.T) {
	store := restock.NewEventStore()
	store.AppendBatch(pairedHistory())

	cfg := DefaultInferenceConfig()
	cfg.CorrelationWindow = time.Hour
	inf := NewInferrer(store, cfg)

	p, curated := Resolve(NewRegistry(), inf, "B", []float64{24, 24, 24, 24})
	assert.False(t, curated)
	require.Len(t, p.Correlations, 1)
	assert.Equal(t, "A", p.Correlations[0].ItemName)
	assert.Equal(t, 24.0, p.HardCooldownHours)

	// Curated rules win over inferred ones
	reg := NewRegistry()
	require.NoError(t, reg.Register(Profile{
		Name:         "B",
		Correlations: []CorrelationRule{{ItemName: "Carrot", WindowHours: 3, Probability: 0.9}},
	}))
	p, curated = Resolve(reg, inf, "B", nil)
	assert.True(t, curated)
	require.Len(t, p.Correlations, 1)
	assert.Equal(t, "Carrot", p.Correlations[0].ItemName)

	// Cache follows the store
	store.Reset()
	rules, burst := inf.RulesFor("B")
	assert.Empty(t, rules)
	assert.Nil(t, burst)
}
