package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/pkg/logger"
)

// ErrNoData is returned when zero sources produced a usable price for a
// symbol. Single-source failures never surface past the aggregator.
var ErrNoData = errors.New("no quote data available")

const (
	outlierSigma = 2.0
	// Fallback rejection tolerance (fraction of the median price) when the
	// spread estimate degenerates to zero.
	outlierFlatTolerance = 0.10
)

// Aggregator fans a symbol out to every configured source concurrently,
// rejects outliers, and folds the survivors into one consensus quote.
type Aggregator struct {
	sources []repository.Source
	timeout time.Duration
	canary  string
	log     *logger.Logger
	metrics repository.Metrics
}

func NewAggregator(sources []repository.Source, fetchTimeout time.Duration, canarySymbol string, log *logger.Logger, metrics repository.Metrics) *Aggregator {
	if fetchTimeout <= 0 {
		fetchTimeout = 8 * time.Second
	}
	return &Aggregator{
		sources: sources,
		timeout: fetchTimeout,
		canary:  canarySymbol,
		log:     log.Named("aggregator"),
		metrics: metrics,
	}
}

// GetAggregatedQuote fetches symbol from every source and reconciles the
// results. It fails with ErrNoData only when no source returned a usable
// price.
func (a *Aggregator) GetAggregatedQuote(ctx context.Context, symbol string) (*models.ConsensusQuote, error) {
	quotes := a.fanOut(ctx, symbol)
	if len(quotes) == 0 {
		return nil, ErrNoData
	}
	q := a.consensus(symbol, quotes)
	a.metrics.RecordConsensus(symbol, q.Price, q.Confidence)
	return q, nil
}

// GetPortfolioQuotes is best-effort over a symbol list: failed symbols are
// logged and absent from the result, they never fail the batch.
func (a *Aggregator) GetPortfolioQuotes(ctx context.Context, symbols []string) map[string]*models.ConsensusQuote {
	out := make(map[string]*models.ConsensusQuote, len(symbols))
	for _, sym := range symbols {
		q, err := a.GetAggregatedQuote(ctx, sym)
		if err != nil {
			a.log.Warn("portfolio fetch failed", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		out[sym] = q
	}
	return out
}

// CheckSourceHealth fetches a canary symbol through every source and reports
// which ones answered.
func (a *Aggregator) CheckSourceHealth(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(a.sources))
	results := make([]bool, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()
			q, err := src.Fetch(fctx, a.canary)
			results[i] = err == nil && q != nil && q.Price > 0
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range a.sources {
		health[src.Name()] = results[i]
	}
	return health
}

// Sources returns the number of configured sources.
func (a *Aggregator) Sources() int { return len(a.sources) }

// fanOut dispatches one fetch per source with an individual timeout. Tasks
// share no state: each writes only its own result slot.
func (a *Aggregator) fanOut(ctx context.Context, symbol string) []models.RawQuote {
	results := make([]*models.RawQuote, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			start := time.Now()
			q, err := src.Fetch(fctx, symbol)
			a.metrics.RecordFetch(src.Name(), time.Since(start).Seconds(), err == nil)
			if err != nil {
				a.log.Debug("source fetch failed",
					logger.String("source", src.Name()),
					logger.String("symbol", symbol),
					logger.Error(err))
				return nil
			}
			if q == nil || q.Price <= 0 {
				return nil
			}
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]models.RawQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

// consensus computes the confidence-weighted consensus over the surviving
// quotes. Outlier rejection only runs with three or more quotes.
func (a *Aggregator) consensus(symbol string, quotes []models.RawQuote) *models.ConsensusQuote {
	now := time.Now()

	allPrices := prices(quotes)
	surviving := quotes
	rejected := 0
	if len(quotes) >= 3 {
		surviving = rejectOutliers(quotes)
		rejected = len(quotes) - len(surviving)
		if rejected > 0 {
			a.log.Info("rejected outlier quotes",
				logger.String("symbol", symbol),
				logger.Int("rejected", rejected),
				logger.Int("surviving", len(surviving)))
		}
	}

	var weightedSum, weightTotal, confSum float64
	minP, maxP := surviving[0].Price, surviving[0].Price
	var oldest time.Time
	for _, q := range surviving {
		w := q.SourceConfidence
		if w <= 0 {
			w = 0.01
		}
		weightedSum += q.Price * w
		weightTotal += w
		confSum += q.SourceConfidence
		minP = math.Min(minP, q.Price)
		maxP = math.Max(maxP, q.Price)
		if oldest.IsZero() || q.ObservedAt.Before(oldest) {
			oldest = q.ObservedAt
		}
	}

	// deviationPct is the coefficient of variation over everything the
	// sources reported, pre-rejection, so a discarded outlier still shows
	// up in the metadata.
	deviationPct := 0.0
	if m := mean(allPrices); m > 0 {
		deviationPct = stdDev(allPrices) / m * 100
	}

	survivingDeviationPct := 0.0
	sp := prices(surviving)
	if m := mean(sp); m > 0 {
		survivingDeviationPct = stdDev(sp) / m * 100
	}

	sourceCountFactor := math.Min(float64(len(surviving))/3.0, 1.0)
	deviationFactor := math.Max(0, 1-survivingDeviationPct/10)
	meanSourceConfidence := confSum / float64(len(surviving))
	confidence := 0.3*sourceCountFactor + 0.3*deviationFactor + 0.4*meanSourceConfidence

	dataAgeMs := int64(0)
	if !oldest.IsZero() {
		dataAgeMs = now.Sub(oldest).Milliseconds()
	}

	return &models.ConsensusQuote{
		Symbol:       symbol,
		Price:        round2(weightedSum / weightTotal),
		Confidence:   confidence,
		Contributing: surviving,
		ComputedAt:   now,
		Meta: models.ConsensusMeta{
			SourcesUsed:  len(surviving),
			PriceMin:     minP,
			PriceMax:     maxP,
			DeviationPct: deviationPct,
			DataAgeMs:    dataAgeMs,
		},
	}
}

// rejectOutliers drops quotes farther than outlierSigma robust standard
// deviations from the median price. The spread is estimated with scaled MAD
// rather than the plain standard deviation: in a three-quote set a single
// wild price caps its own classic z-score near 1.15, so it could never be
// rejected by the estimate it is inflating.
func rejectOutliers(quotes []models.RawQuote) []models.RawQuote {
	ps := prices(quotes)
	med := median(ps)
	spread := robustStdDev(ps)

	keep := make([]models.RawQuote, 0, len(quotes))
	for _, q := range quotes {
		dev := math.Abs(q.Price - med)
		if spread > 0 {
			if dev <= outlierSigma*spread {
				keep = append(keep, q)
			}
			continue
		}
		// Degenerate spread: the majority of prices are identical. Fall
		// back to a flat tolerance around the median.
		if med == 0 || dev/med <= outlierFlatTolerance {
			keep = append(keep, q)
		}
	}
	if len(keep) == 0 {
		return quotes
	}
	return keep
}

func prices(quotes []models.RawQuote) []float64 {
	ps := make([]float64, len(quotes))
	for i, q := range quotes {
		ps[i] = q.Price
	}
	return ps
}
