package models

import "time"

// StalenessClass buckets how old a symbol's cached data is.
// Transitions are monotonic with age and reset only on a successful fetch.
type StalenessClass string

const (
	StalenessFresh    StalenessClass = "fresh"
	StalenessAging    StalenessClass = "aging"
	StalenessStale    StalenessClass = "stale"
	StalenessCritical StalenessClass = "critical"
)

// FreshnessRecord is the monitor's per-symbol freshness view.
// DataAgeMs is always recomputed from LastUpdateAt, never cached.
type FreshnessRecord struct {
	Symbol              string         `json:"symbol"`
	LastUpdateAt        time.Time      `json:"last_update_at"`
	DataAgeMs           int64          `json:"data_age_ms"`
	FreshnessScore      float64        `json:"freshness_score"` // [0,100]
	Staleness           StalenessClass `json:"staleness"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	UpdatesPerHour      float64        `json:"updates_per_hour"`
}

// QualityRecord scores the trustworthiness of a symbol's cached consensus.
// All scores are [0,100].
type QualityRecord struct {
	Symbol            string    `json:"symbol"`
	PriceConsistency  float64   `json:"price_consistency"`
	VolumeReliability float64   `json:"volume_reliability"`
	SourceAgreement   float64   `json:"source_agreement"`
	OutlierCount      int       `json:"outlier_count"`
	ConfidenceScore   float64   `json:"confidence_score"`
	ComputedAt        time.Time `json:"computed_at"`
}
