package models

import "time"

// Rarity buckets an item's appearance rate. The order is significant.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityMythic    Rarity = "mythic"
	RarityDivine    Rarity = "divine"
	RarityCelestial Rarity = "celestial"
)

// Appearance-rate thresholds for the rarity buckets. Changing them changes
// the meaning of every confidence message built on top, so they are fixed.
const (
	commonRate   = 0.50
	uncommonRate = 0.25
	rareRate     = 0.10
	mythicRate   = 0.05
	divineRate   = 0.01
)

// RarityForRate maps an appearance rate (fraction of events containing the
// item) onto its rarity bucket.
func RarityForRate(rate float64) Rarity {
	switch {
	case rate >= commonRate:
		return RarityCommon
	case rate >= uncommonRate:
		return RarityUncommon
	case rate >= rareRate:
		return RarityRare
	case rate >= mythicRate:
		return RarityMythic
	case rate >= divineRate:
		return RarityDivine
	default:
		return RarityCelestial
	}
}

// Rank orders rarities from most common (0) to rarest (5).
func (r Rarity) Rank() int {
	switch r {
	case RarityCommon:
		return 0
	case RarityUncommon:
		return 1
	case RarityRare:
		return 2
	case RarityMythic:
		return 3
	case RarityDivine:
		return 4
	default:
		return 5
	}
}

// ItemStats holds aggregate statistics for one item, derived from the full event log.
type ItemStats struct {
	Name           string    `json:"name"`
	Category       Category  `json:"category"`
	TotalRestocks  int       `json:"total_restocks"`
	TotalQuantity  int       `json:"total_quantity"`
	AvgQuantity    float64   `json:"avg_quantity"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	AppearanceRate float64   `json:"appearance_rate"` // Fraction of all events containing the item
	Rarity         Rarity    `json:"rarity"`
}
