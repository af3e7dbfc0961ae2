package source

import (
	"context"
	"fmt"
	"time"

	"QuotePulse/internal/domain/models"
)

// FixtureQuote is one static observation served by the fixture source.
type FixtureQuote struct {
	Price         float64
	Volume        float64
	Change        float64
	ChangePercent float64
}

// Fixture serves quotes from a static per-symbol table. It stands in for a
// real provider integration in local development and doubles as the test
// double for the aggregator.
type Fixture struct {
	name       string
	confidence float64
	table      map[string]FixtureQuote
}

// DefaultFixtureTable covers a small universe of liquid equities.
var DefaultFixtureTable = map[string]FixtureQuote{
	"AAPL":  {Price: 228.50, Volume: 48_000_000, Change: 1.12, ChangePercent: 0.49},
	"MSFT":  {Price: 446.20, Volume: 21_000_000, Change: -2.31, ChangePercent: -0.52},
	"GOOGL": {Price: 186.75, Volume: 25_000_000, Change: 0.84, ChangePercent: 0.45},
	"AMZN":  {Price: 219.30, Volume: 33_000_000, Change: 3.05, ChangePercent: 1.41},
	"NVDA":  {Price: 132.90, Volume: 210_000_000, Change: 2.17, ChangePercent: 1.66},
	"META":  {Price: 585.40, Volume: 14_000_000, Change: -4.88, ChangePercent: -0.83},
	"TSLA":  {Price: 248.60, Volume: 95_000_000, Change: 5.43, ChangePercent: 2.23},
}

// NewFixture creates a fixture source. A nil table uses DefaultFixtureTable.
func NewFixture(name string, confidence float64, table map[string]FixtureQuote) *Fixture {
	if table == nil {
		table = DefaultFixtureTable
	}
	return &Fixture{name: name, confidence: confidence, table: table}
}

func (f *Fixture) Name() string        { return f.name }
func (f *Fixture) Confidence() float64 { return f.confidence }

func (f *Fixture) Fetch(ctx context.Context, symbol string) (*models.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fq, ok := f.table[symbol]
	if !ok {
		return nil, fmt.Errorf("fixture %s: symbol %s not covered", f.name, symbol)
	}
	vol := fq.Volume
	return &models.RawQuote{
		Symbol:           symbol,
		Price:            fq.Price,
		Source:           f.name,
		ObservedAt:       time.Now(),
		Volume:           &vol,
		Change:           fq.Change,
		ChangePercent:    fq.ChangePercent,
		SourceConfidence: f.confidence,
	}, nil
}
