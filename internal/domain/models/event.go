package models

import "time"

// EventType names the market signals the refresh service reacts to.
type EventType string

const (
	EventPriceChange EventType = "price_change"
	EventVolumeSpike EventType = "volume_spike"
	EventNewsAlert   EventType = "news_alert"
	EventMarketOpen  EventType = "market_open"
	EventMarketClose EventType = "market_close"
	EventSystemAlert EventType = "system_alert"
)

// System alert subtypes carried in MarketEvent.Data["alert_type"].
const (
	SystemAlertSourceFailure   = "data_source_failure"
	SystemAlertHighLatency     = "high_latency"
	SystemAlertCacheCorruption = "cache_corruption"
)

// MarketEvent is one signal flowing through the event-driven refresh service.
type MarketEvent struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Priority  Priority               `json:"priority"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
