package models

import "time"

// RawQuote is a single source's observation for one symbol.
// Immutable once created.
type RawQuote struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	Source           string    `json:"source"`
	ObservedAt       time.Time `json:"observed_at"`
	Volume           *float64  `json:"volume,omitempty"`
	Change           float64   `json:"change,omitempty"`
	ChangePercent    float64   `json:"change_percent,omitempty"`
	SourceConfidence float64   `json:"source_confidence"` // static per-source weight in [0,1]
}

// ConsensusMeta describes how a consensus price was derived.
type ConsensusMeta struct {
	SourcesUsed  int     `json:"sources_used"`
	PriceMin     float64 `json:"price_min"`
	PriceMax     float64 `json:"price_max"`
	DeviationPct float64 `json:"deviation_pct"`
	DataAgeMs    int64   `json:"data_age_ms"`
}

// ConsensusQuote is the aggregator's reconciled output for one symbol.
// Never mutated, only replaced by a newer one.
type ConsensusQuote struct {
	Symbol       string        `json:"symbol"`
	Price        float64       `json:"price"`
	Confidence   float64       `json:"confidence"` // [0,1], derived from contributing quotes
	Contributing []RawQuote    `json:"contributing_quotes"`
	ComputedAt   time.Time     `json:"computed_at"`
	Meta         ConsensusMeta `json:"metadata"`
}

// Priority ranks cache entries and market events.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps a string to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// UpdateStrategy tunes how aggressively a cached value should be refreshed.
type UpdateStrategy string

const (
	StrategyAggressive UpdateStrategy = "aggressive"
	StrategyNormal     UpdateStrategy = "normal"
	StrategyLazy       UpdateStrategy = "lazy"
)
