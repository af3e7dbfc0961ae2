package models

import "time"

// AlertKind classifies what a monitor alert is about.
type AlertKind string

const (
	AlertStaleness    AlertKind = "staleness"
	AlertQuality      AlertKind = "quality"
	AlertFailure      AlertKind = "failure"
	AlertSourceHealth AlertKind = "source_health"
)

// Alert is raised by the freshness monitor. Alerts of the same (kind, symbol)
// are deduplicated within a short window, auto-acknowledged after 24h and
// purged after 7 days.
type Alert struct {
	ID           string    `json:"id"`
	Kind         AlertKind `json:"kind"`
	Severity     Priority  `json:"severity"`
	Symbol       string    `json:"symbol,omitempty"`
	Message      string    `json:"message"`
	RaisedAt     time.Time `json:"raised_at"`
	Acknowledged bool      `json:"acknowledged"`
}
