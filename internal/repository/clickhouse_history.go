package repository

import (
	"context"
	"fmt"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/clickhouse"
)

// ClickHouseHistory appends consensus quotes to a MergeTree table for
// later analysis. Writes are row-at-a-time; the driver's async_insert
// setting does the batching.
type ClickHouseHistory struct {
	client *clickhouse.Client
	table  string
}

func NewClickHouseHistory(client *clickhouse.Client, table string) *ClickHouseHistory {
	if table == "" {
		table = "consensus_quotes"
	}
	return &ClickHouseHistory{client: client, table: table}
}

// Init ensures the history table exists.
func (h *ClickHouseHistory) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    symbol        LowCardinality(String),
    price         Float64,
    confidence    Float64,
    sources_used  UInt8,
    price_min     Float64,
    price_max     Float64,
    deviation_pct Float64,
    data_age_ms   Int64,
    computed_at   DateTime64(3, 'UTC')
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(computed_at)
ORDER BY (symbol, computed_at)
TTL toDateTime(computed_at) + INTERVAL 90 DAY`, h.table)
	return h.client.InitSchema(ctx, []string{ddl})
}

// Append writes one consensus quote.
func (h *ClickHouseHistory) Append(ctx context.Context, q *models.ConsensusQuote) error {
	query := fmt.Sprintf(`
INSERT INTO %s (symbol, price, confidence, sources_used, price_min, price_max, deviation_pct, data_age_ms, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, h.table)
	_, err := h.client.DB().ExecContext(ctx, query,
		q.Symbol,
		q.Price,
		q.Confidence,
		uint8(q.Meta.SourcesUsed),
		q.Meta.PriceMin,
		q.Meta.PriceMax,
		q.Meta.DeviationPct,
		q.Meta.DataAgeMs,
		q.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("append quote: %w", err)
	}
	return nil
}

func (h *ClickHouseHistory) Health(ctx context.Context) error {
	return h.client.Health(ctx)
}

func (h *ClickHouseHistory) Close() error {
	return h.client.Close()
}
