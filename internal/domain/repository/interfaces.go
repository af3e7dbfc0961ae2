package repository

import (
	"context"

	"QuotePulse/internal/domain/models"
)

// Source is one external price provider for the fixed symbol universe.
// Implementations must resolve quickly, honor ctx deadlines, and never panic
// past their own boundary.
type Source interface {
	Name() string
	// Confidence is the static per-source reliability weight in [0,1].
	Confidence() float64
	Fetch(ctx context.Context, symbol string) (*models.RawQuote, error)
}

// Publisher forwards refreshed quotes and raised alerts to downstream
// consumers. All methods are best-effort from the pipeline's point of view.
type Publisher interface {
	PublishQuote(ctx context.Context, q *models.ConsensusQuote) error
	PublishAlert(ctx context.Context, a *models.Alert) error
	Close() error
}

// HistoryStore appends consensus quotes to durable storage for later analysis.
type HistoryStore interface {
	Init(ctx context.Context) error // ensure tables exist
	Append(ctx context.Context, q *models.ConsensusQuote) error
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordFetch(source string, seconds float64, success bool)
	RecordConsensus(symbol string, price, confidence float64)
	RecordCacheAccess(hit bool)
	RecordEviction()
	RecordAlert(kind, severity string)
	RecordEvent(eventType string, accepted bool)
}
