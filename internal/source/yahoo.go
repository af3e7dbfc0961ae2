package source

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"

	"QuotePulse/internal/domain/models"
)

// Yahoo fetches quotes from Yahoo Finance via piquette/finance-go.
type Yahoo struct {
	confidence float64
}

func NewYahoo(confidence float64) *Yahoo {
	return &Yahoo{confidence: confidence}
}

func (y *Yahoo) Name() string        { return "yahoo" }
func (y *Yahoo) Confidence() float64 { return y.confidence }

// Fetch runs the finance-go call in a goroutine so the caller's deadline is
// honored even though the library does not take a context.
func (y *Yahoo) Fetch(ctx context.Context, symbol string) (*models.RawQuote, error) {
	type result struct {
		q   *finance.Quote
		err error
	}
	ch := make(chan result, 1)
	go func() {
		q, err := quote.Get(symbol)
		ch <- result{q: q, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("yahoo fetch %s: %w", symbol, res.err)
		}
		if res.q == nil || res.q.RegularMarketPrice <= 0 {
			return nil, fmt.Errorf("yahoo fetch %s: no usable price", symbol)
		}
		observed := time.Now()
		if res.q.RegularMarketTime > 0 {
			observed = time.Unix(int64(res.q.RegularMarketTime), 0)
		}
		vol := float64(res.q.RegularMarketVolume)
		return &models.RawQuote{
			Symbol:           symbol,
			Price:            res.q.RegularMarketPrice,
			Source:           "yahoo",
			ObservedAt:       observed,
			Volume:           &vol,
			Change:           res.q.RegularMarketChange,
			ChangePercent:    res.q.RegularMarketChangePercent,
			SourceConfidence: y.confidence,
		}, nil
	}
}
