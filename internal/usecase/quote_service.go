package usecase

import (
	"context"
	"strings"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/pkg/logger"
)

// Mirror is an optional external key-value mirror of the in-process cache,
// used for warm starts across restarts. All mirror traffic is best-effort.
type Mirror interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// QuoteService fronts the aggregator with the adaptive cache and fans
// successful refreshes out to the mirror, the stream publisher, and the
// history sink. It satisfies the refresher interfaces of the event and
// schedule services.
type QuoteService struct {
	agg     *Aggregator
	cache   *quotecache.Cache[models.ConsensusQuote]
	mirror  Mirror
	pub     repository.Publisher
	history repository.HistoryStore
	log     *logger.Logger

	priorities map[string]models.Priority
	strategy   models.UpdateStrategy
	mirrorTTL  time.Duration

	onResult func(symbol string, ok bool)
	onQuote  func(q *models.ConsensusQuote)
}

// QuoteServiceOption configures the facade.
type QuoteServiceOption func(*QuoteService)

// WithMirror installs the external cache mirror.
func WithMirror(m Mirror) QuoteServiceOption {
	return func(s *QuoteService) { s.mirror = m }
}

// WithPublisher installs the downstream quote/alert publisher.
func WithPublisher(p repository.Publisher) QuoteServiceOption {
	return func(s *QuoteService) { s.pub = p }
}

// WithHistory installs the durable history sink.
func WithHistory(h repository.HistoryStore) QuoteServiceOption {
	return func(s *QuoteService) { s.history = h }
}

// WithSymbolPriorities sets per-symbol cache priorities. Unlisted symbols
// default to medium.
func WithSymbolPriorities(p map[string]models.Priority) QuoteServiceOption {
	return func(s *QuoteService) { s.priorities = p }
}

// WithUpdateStrategy sets the cache update strategy for every write.
func WithUpdateStrategy(st models.UpdateStrategy) QuoteServiceOption {
	return func(s *QuoteService) { s.strategy = st }
}

// WithMirrorTTL sets how long mirrored quotes live in the external store.
func WithMirrorTTL(d time.Duration) QuoteServiceOption {
	return func(s *QuoteService) {
		if d > 0 {
			s.mirrorTTL = d
		}
	}
}

// SetResultHook registers a callback invoked after every refresh attempt,
// successful or not. The freshness monitor uses this to keep its per-symbol
// event log ordered. Set once during wiring, before anything fetches.
func (s *QuoteService) SetResultHook(fn func(symbol string, ok bool)) {
	s.onResult = fn
}

// SetQuoteObserver registers a callback invoked with every fresh consensus
// quote. The event service's threshold detectors hang off this. Set once
// during wiring, before anything fetches.
func (s *QuoteService) SetQuoteObserver(fn func(q *models.ConsensusQuote)) {
	s.onQuote = fn
}

func NewQuoteService(agg *Aggregator, cache *quotecache.Cache[models.ConsensusQuote], log *logger.Logger, opts ...QuoteServiceOption) *QuoteService {
	s := &QuoteService{
		agg:       agg,
		cache:     cache,
		log:       log.Named("quote_service"),
		strategy:  models.StrategyNormal,
		mirrorTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuote serves symbol cache-first. On a miss it aggregates, stores, and
// fans out. A stale hit is still a hit; Meta.IsStale tells the caller.
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (*models.ConsensusQuote, quotecache.Meta, error) {
	if q, meta := s.cache.Get(cacheKey(symbol)); q != nil {
		return q, meta, nil
	}

	q, err := s.FetchAndStore(ctx, symbol)
	if err != nil {
		return nil, quotecache.Meta{}, err
	}
	return q, quotecache.Meta{StoredAt: q.ComputedAt, FreshnessScore: 100}, nil
}

// GetPortfolio serves a symbol list cache-first, best-effort. Symbols that
// can be neither served nor fetched are absent from the result.
func (s *QuoteService) GetPortfolio(ctx context.Context, symbols []string) map[string]*models.ConsensusQuote {
	out := make(map[string]*models.ConsensusQuote, len(symbols))
	for _, sym := range symbols {
		if q, _ := s.cache.Get(cacheKey(sym)); q != nil {
			out[sym] = q
			continue
		}
		q, err := s.FetchAndStore(ctx, sym)
		if err != nil {
			s.log.Warn("portfolio fetch failed", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		out[sym] = q
	}
	return out
}

// FetchAndStore aggregates a fresh consensus quote, caches it, and fans it
// out to the mirror, publisher, and history sink.
func (s *QuoteService) FetchAndStore(ctx context.Context, symbol string) (*models.ConsensusQuote, error) {
	q, err := s.agg.GetAggregatedQuote(ctx, symbol)
	if err != nil {
		if s.onResult != nil {
			s.onResult(symbol, false)
		}
		return nil, err
	}

	s.cache.Set(cacheKey(symbol), *q, quotecache.SetOptions{
		Priority:   s.priorityFor(symbol),
		Tags:       []string{"quotes"},
		Confidence: q.Confidence,
		Strategy:   s.strategy,
	})
	if s.onResult != nil {
		s.onResult(symbol, true)
	}
	if s.onQuote != nil {
		s.onQuote(q)
	}
	s.fanOut(ctx, q)
	return q, nil
}

// Cached returns the cached quote without triggering a fetch.
func (s *QuoteService) Cached(symbol string) (*models.ConsensusQuote, quotecache.Meta, bool) {
	q, meta := s.cache.Get(cacheKey(symbol))
	if q == nil {
		return nil, quotecache.Meta{}, false
	}
	return q, meta, true
}

// Refresh force-fetches the given symbols sequentially; failures are logged
// and skipped.
func (s *QuoteService) Refresh(ctx context.Context, symbols ...string) {
	for _, sym := range symbols {
		if _, err := s.FetchAndStore(ctx, sym); err != nil {
			s.log.Warn("refresh failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
}

// RefreshAll refreshes every currently cached symbol.
func (s *QuoteService) RefreshAll(ctx context.Context) {
	symbols := make([]string, 0)
	for _, key := range s.cache.Keys() {
		symbols = append(symbols, symbolFromKey(key))
	}
	s.Refresh(ctx, symbols...)
}

// Invalidate drops a single symbol from the cache and the mirror.
func (s *QuoteService) Invalidate(symbol string) {
	s.cache.Invalidate(cacheKey(symbol))
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.mirror.Delete(ctx, cacheKey(symbol)); err != nil {
			s.log.Debug("mirror delete failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
}

// ClearCache drops every cached quote. The mirror is left alone so a restart
// can still warm-start from it.
func (s *QuoteService) ClearCache() {
	s.cache.Clear()
}

// Stats exposes the cache summary.
func (s *QuoteService) Stats() quotecache.Stats {
	return s.cache.Stats()
}

// CheckSourceHealth proxies the aggregator's canary probe.
func (s *QuoteService) CheckSourceHealth(ctx context.Context) map[string]bool {
	return s.agg.CheckSourceHealth(ctx)
}

// PublishAlert forwards an alert to the downstream publisher, best-effort.
func (s *QuoteService) PublishAlert(ctx context.Context, a *models.Alert) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishAlert(ctx, a); err != nil {
		s.log.Debug("alert publish failed", logger.String("alert", a.ID), logger.Error(err))
	}
}

// WarmStart seeds the in-process cache from the mirror. Mirrored quotes
// re-enter with their persisted confidence so TTLs come out sensible.
func (s *QuoteService) WarmStart(ctx context.Context) int {
	if s.mirror == nil {
		return 0
	}
	keys, err := s.mirror.Keys(ctx, "quote:*")
	if err != nil {
		s.log.Warn("warm start scan failed", logger.Error(err))
		return 0
	}

	loaded := 0
	for _, key := range keys {
		var q models.ConsensusQuote
		if err := s.mirror.Get(ctx, key, &q); err != nil {
			continue
		}
		if q.Symbol == "" {
			continue
		}
		s.cache.Set(cacheKey(q.Symbol), q, quotecache.SetOptions{
			Priority:   s.priorityFor(q.Symbol),
			Tags:       []string{"quotes"},
			Confidence: q.Confidence,
			Strategy:   s.strategy,
		})
		loaded++
	}
	if loaded > 0 {
		s.log.Info("warm start complete", logger.Int("loaded", loaded))
	}
	return loaded
}

// fanOut pushes a fresh quote to the mirror, publisher, and history sink.
// Every leg is best-effort; a slow or dead sink never blocks serving.
func (s *QuoteService) fanOut(ctx context.Context, q *models.ConsensusQuote) {
	if s.mirror != nil {
		if err := s.mirror.Set(ctx, cacheKey(q.Symbol), q, s.mirrorTTL); err != nil {
			s.log.Debug("mirror write failed", logger.String("symbol", q.Symbol), logger.Error(err))
		}
	}
	if s.pub != nil {
		if err := s.pub.PublishQuote(ctx, q); err != nil {
			s.log.Debug("quote publish failed", logger.String("symbol", q.Symbol), logger.Error(err))
		}
	}
	if s.history != nil {
		if err := s.history.Append(ctx, q); err != nil {
			s.log.Debug("history append failed", logger.String("symbol", q.Symbol), logger.Error(err))
		}
	}
}

func (s *QuoteService) priorityFor(symbol string) models.Priority {
	if p, ok := s.priorities[symbol]; ok {
		return p
	}
	return models.PriorityMedium
}

func cacheKey(symbol string) string {
	return "quote:" + strings.ToUpper(symbol)
}

func symbolFromKey(key string) string {
	return strings.TrimPrefix(key, "quote:")
}
