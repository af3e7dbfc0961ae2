package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QuotePulse/internal/domain/models"
	xhttp "QuotePulse/pkg/http"
)

// restQuote is the JSON shape a generic REST price endpoint must return.
type restQuote struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Volume        *float64 `json:"volume"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"change_percent"`
	Timestamp     int64    `json:"timestamp"` // unix seconds, optional
}

// REST adapts any JSON-over-HTTP quote endpoint. The configured URL contains
// a {symbol} placeholder, e.g. https://feed.example.com/v1/quote/{symbol}.
type REST struct {
	name       string
	url        string
	confidence float64
	client     *xhttp.Client
}

func NewREST(name, url string, confidence float64, timeout time.Duration) *REST {
	return &REST{
		name:       name,
		url:        url,
		confidence: confidence,
		client:     xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (r *REST) Name() string        { return r.name }
func (r *REST) Confidence() float64 { return r.confidence }

func (r *REST) Fetch(ctx context.Context, symbol string) (*models.RawQuote, error) {
	url := strings.ReplaceAll(r.url, "{symbol}", symbol)

	var rq restQuote
	if err := r.client.GetJSON(ctx, url, &rq); err != nil {
		return nil, fmt.Errorf("rest source %s: %w", r.name, err)
	}
	if rq.Price <= 0 {
		return nil, fmt.Errorf("rest source %s: no usable price for %s", r.name, symbol)
	}

	observed := time.Now()
	if rq.Timestamp > 0 {
		observed = time.Unix(rq.Timestamp, 0)
	}
	return &models.RawQuote{
		Symbol:           symbol,
		Price:            rq.Price,
		Source:           r.name,
		ObservedAt:       observed,
		Volume:           rq.Volume,
		Change:           rq.Change,
		ChangePercent:    rq.ChangePercent,
		SourceConfidence: r.confidence,
	}, nil
}
