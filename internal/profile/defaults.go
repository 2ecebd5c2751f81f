package profile

// curated holds hand-maintained profiles for items whose timing differs from
// what a short history shows. Cooldowns are in hours. Values were read off
// one long restock history and should be revisited as more data arrives.
var curated = []Profile{
	{
		Name:                  "Starweaver",
		HardCooldownHours:     10,
		PracticalMinimumHours: 24,
		AllowedHours:          []int{0, 4, 8, 12, 16, 20},
		Burst:                 &BurstBehavior{WindowHours: 4, Probability: 0.15},
	},
	{
		Name:                  "Dawnbinder",
		HardCooldownHours:     12,
		PracticalMinimumHours: 30,
		AllowedHours:          []int{5, 6, 7},
		Correlations: []CorrelationRule{
			{ItemName: "Starweaver", WindowHours: 6, Probability: 0.35},
		},
	},
	{
		Name:                  "Moonbinder",
		HardCooldownHours:     12,
		PracticalMinimumHours: 30,
		AllowedHours:          []int{19, 20, 21, 22},
		Correlations: []CorrelationRule{
			{ItemName: "Dawnbinder", WindowHours: 18, Probability: 0.3},
		},
	},
	{
		Name:                  "Sunflower",
		HardCooldownHours:     6,
		PracticalMinimumHours: 18,
		Burst:                 &BurstBehavior{WindowHours: 2, Probability: 0.2},
	},
	{
		Name:                  "Elder Strawberry",
		HardCooldownHours:     8,
		PracticalMinimumHours: 20,
	},
	{
		Name:                  "Burning Bud",
		HardCooldownHours:     4,
		PracticalMinimumHours: 12,
		Correlations: []CorrelationRule{
			{ItemName: "Ember Lily", WindowHours: 2, Probability: 0.4},
		},
	},
	{
		Name:                  "Ember Lily",
		HardCooldownHours:     2,
		PracticalMinimumHours: 6,
	},
	{
		Name:                  "Mythical Egg",
		HardCooldownHours:     3,
		PracticalMinimumHours: 8,
		Burst:                 &BurstBehavior{WindowHours: 1, Probability: 0.25},
	},
	{
		Name:                  "Bug Egg",
		HardCooldownHours:     6,
		PracticalMinimumHours: 16,
		Correlations: []CorrelationRule{
			{ItemName: "Mythical Egg", WindowHours: 3, Probability: 0.3},
		},
	},
	{
		Name:                  "Legendary Egg",
		HardCooldownHours:     2,
		PracticalMinimumHours: 5,
	},
}

// DefaultRegistry returns a registry pre-loaded with the curated table.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range curated {
		if err := r.Register(p); err != nil {
			// The table is static; a bad entry is a programming error
			panic(err)
		}
	}
	return r
}
