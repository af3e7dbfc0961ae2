package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/logger"
)

// Emitter accepts market events; rejected events are not an error at this
// boundary.
type Emitter interface {
	Emit(evt models.MarketEvent) error
}

// inboundEvent is the wire shape of an external market event. Priority comes
// in as a string so upstream producers don't need our enum ordering.
type inboundEvent struct {
	Type      string                 `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventIngestHandler decodes external market events off Kafka and forwards
// them into the refresh service.
type EventIngestHandler struct {
	topic   string
	emitter Emitter
	log     *logger.Logger
}

func NewEventIngestHandler(topic string, emitter Emitter, log *logger.Logger) *EventIngestHandler {
	return &EventIngestHandler{topic: topic, emitter: emitter, log: log.Named("event_ingest")}
}

func (h *EventIngestHandler) Topic() string { return h.topic }

func (h *EventIngestHandler) Handle(_ context.Context, data []byte) error {
	var in inboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if in.Type == "" {
		return fmt.Errorf("event missing type")
	}

	evt := models.MarketEvent{
		Type:      models.EventType(in.Type),
		Symbol:    in.Symbol,
		Priority:  models.ParsePriority(in.Priority),
		Source:    in.Source,
		Data:      in.Data,
		Timestamp: in.Timestamp,
	}
	if evt.Source == "" {
		evt.Source = "kafka"
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if err := h.emitter.Emit(evt); err != nil {
		// Disabled types and rate-limited bursts are normal operation.
		h.log.Debug("event not accepted",
			logger.String("type", in.Type),
			logger.String("symbol", in.Symbol),
			logger.Error(err))
	}
	return nil
}
