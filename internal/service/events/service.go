package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/pkg/logger"
)

// Refresher is the slice of the quote service the event handlers need.
type Refresher interface {
	Refresh(ctx context.Context, symbols ...string)
	RefreshAll(ctx context.Context)
	Invalidate(symbol string)
	ClearCache()
}

// Handler receives events synchronously at emit time.
type Handler func(evt models.MarketEvent)

// Config tunes the event service.
type Config struct {
	// Symbols is the configured universe, refetched after a full cache
	// clear. The cached key set is useless for that: the clear just
	// emptied it.
	Symbols []string

	DrainInterval      time.Duration
	BatchSize          int
	RateLimitPerMinute int
	// EnabledTypes restricts which event types Emit accepts. Empty enables
	// all known types.
	EnabledTypes       []string
	PriceChangePct     float64
	PriceChangeHighPct float64
	VolumeSpikeRatio   float64
	VolumeWindow       int
}

// Status is a point-in-time service summary.
type Status struct {
	Running    bool              `json:"running"`
	QueueDepth int               `json:"queue_depth"`
	Processed  uint64            `json:"processed"`
	Rejected   uint64            `json:"rejected"`
	ByType     map[string]uint64 `json:"by_type"`
}

// Service is the event-driven refresh pipeline: signals come in through
// Emit, are rate limited, queued, and drained in priority order into
// targeted remediation.
type Service struct {
	cfg       Config
	log       *logger.Logger
	metrics   repository.Metrics
	refresher Refresher
	// healthCheck re-probes all sources; wired to the aggregator.
	healthCheck func(ctx context.Context) map[string]bool
	// reduceCadence asks the update manager to slow down polling.
	reduceCadence func()

	enabled map[models.EventType]bool
	limiter *typeLimiter

	mu        sync.Mutex
	queue     []models.MarketEvent
	subs      map[models.EventType][]Handler
	processed uint64
	rejected  uint64
	byType    map[string]uint64
	running   bool

	lastPrice map[string]float64
	volumes   map[string][]float64

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, refresher Refresher, log *logger.Logger, metrics repository.Metrics) *Service {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	if cfg.PriceChangePct <= 0 {
		cfg.PriceChangePct = 2
	}
	if cfg.PriceChangeHighPct <= 0 {
		cfg.PriceChangeHighPct = 5
	}
	if cfg.VolumeSpikeRatio <= 0 {
		cfg.VolumeSpikeRatio = 3
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = 20
	}

	enabled := make(map[models.EventType]bool)
	if len(cfg.EnabledTypes) == 0 {
		for _, t := range []models.EventType{
			models.EventPriceChange, models.EventVolumeSpike, models.EventNewsAlert,
			models.EventMarketOpen, models.EventMarketClose, models.EventSystemAlert,
		} {
			enabled[t] = true
		}
	} else {
		for _, t := range cfg.EnabledTypes {
			enabled[models.EventType(t)] = true
		}
	}

	return &Service{
		cfg:       cfg,
		log:       log.Named("events"),
		metrics:   metrics,
		refresher: refresher,
		enabled:   enabled,
		limiter:   newTypeLimiter(cfg.RateLimitPerMinute),
		subs:      make(map[models.EventType][]Handler),
		byType:    make(map[string]uint64),
		lastPrice: make(map[string]float64),
		volumes:   make(map[string][]float64),
		stopCh:    make(chan struct{}),
	}
}

// SetHealthCheck wires the source health probe used by system-alert
// remediation.
func (s *Service) SetHealthCheck(fn func(ctx context.Context) map[string]bool) {
	s.healthCheck = fn
}

// SetCadenceReducer wires the update manager's slow-down hook.
func (s *Service) SetCadenceReducer(fn func()) {
	s.reduceCadence = fn
}

// Subscribe registers a handler notified synchronously on every accepted
// event of the given type. Registration is expected at construction time.
func (s *Service) Subscribe(t models.EventType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[t] = append(s.subs[t], h)
}

// Emit validates, rate limits, enqueues, and synchronously notifies
// subscribers. Rejected events are counted, not errors for the caller's
// control flow.
func (s *Service) Emit(evt models.MarketEvent) error {
	if !s.enabled[evt.Type] {
		s.reject(evt)
		return fmt.Errorf("event type %s not enabled", evt.Type)
	}
	if !s.limiter.Allow(string(evt.Type)) {
		s.reject(evt)
		return fmt.Errorf("event type %s rate limited", evt.Type)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.metrics.RecordEvent(string(evt.Type), true)

	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.byType[string(evt.Type)]++
	subs := append([]Handler(nil), s.subs[evt.Type]...)
	s.mu.Unlock()

	for _, h := range subs {
		h(evt)
	}
	return nil
}

func (s *Service) reject(evt models.MarketEvent) {
	s.metrics.RecordEvent(string(evt.Type), false)
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

// Start runs the drain loop until Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, evt := range s.pop(s.cfg.BatchSize) {
					s.process(ctx, evt)
				}
			}
		}
	}()
}

// Stop terminates the drain loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Status reports queue depth and counters.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := make(map[string]uint64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	return Status{
		Running:    s.running,
		QueueDepth: len(s.queue),
		Processed:  s.processed,
		Rejected:   s.rejected,
		ByType:     byType,
	}
}

// pop removes up to n events ordered by priority (critical first), FIFO
// within a tier.
func (s *Service) pop(n int) []models.MarketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	sort.SliceStable(s.queue, func(i, j int) bool {
		if s.queue[i].Priority != s.queue[j].Priority {
			return s.queue[i].Priority > s.queue[j].Priority
		}
		return s.queue[i].Timestamp.Before(s.queue[j].Timestamp)
	})
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := append([]models.MarketEvent(nil), s.queue[:n]...)
	s.queue = s.queue[n:]
	s.processed += uint64(len(batch))
	return batch
}

// process runs the remediation for one drained event. Failures are logged
// and never stop the drain loop.
func (s *Service) process(ctx context.Context, evt models.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panic", logger.Any("recover", r), logger.String("type", string(evt.Type)))
		}
	}()

	switch evt.Type {
	case models.EventPriceChange, models.EventVolumeSpike:
		if evt.Symbol == "" {
			return
		}
		s.refresher.Invalidate(evt.Symbol)
		s.refresher.Refresh(ctx, evt.Symbol)

	case models.EventMarketOpen, models.EventMarketClose:
		// Cadence switching is the update manager's job; it subscribes to
		// these events. Here we reset the cache for the new session.
		s.refresher.ClearCache()
		s.bulkRefresh(ctx)

	case models.EventNewsAlert:
		if evt.Symbol != "" {
			s.refresher.Refresh(ctx, evt.Symbol)
		} else {
			s.refresher.RefreshAll(ctx)
		}

	case models.EventSystemAlert:
		s.handleSystemAlert(ctx, evt)

	default:
		s.log.Warn("unhandled event type", logger.String("type", string(evt.Type)))
	}
}

// handleSystemAlert dispatches on the embedded alert subtype.
func (s *Service) handleSystemAlert(ctx context.Context, evt models.MarketEvent) {
	subtype, _ := evt.Data["alert_type"].(string)
	switch subtype {
	case models.SystemAlertSourceFailure:
		if s.healthCheck == nil {
			return
		}
		health := s.healthCheck(ctx)
		healthy := 0
		for _, ok := range health {
			if ok {
				healthy++
			}
		}
		s.log.Info("source health re-check",
			logger.Int("healthy", healthy),
			logger.Int("total", len(health)))
		if evt.Symbol != "" {
			s.refresher.Refresh(ctx, evt.Symbol)
		}

	case models.SystemAlertHighLatency:
		if s.reduceCadence != nil {
			s.reduceCadence()
		}
		s.log.Warn("high latency reported, cadence reduced", logger.String("source", evt.Source))

	case models.SystemAlertCacheCorruption:
		if evt.Symbol != "" {
			s.refresher.Invalidate(evt.Symbol)
			s.refresher.Refresh(ctx, evt.Symbol)
		} else {
			s.refresher.ClearCache()
			s.bulkRefresh(ctx)
		}

	default:
		s.log.Warn("unknown system alert subtype", logger.String("subtype", subtype))
	}
}

// bulkRefresh refetches the configured universe after a cache clear.
func (s *Service) bulkRefresh(ctx context.Context) {
	if len(s.cfg.Symbols) > 0 {
		s.refresher.Refresh(ctx, s.cfg.Symbols...)
		return
	}
	s.refresher.RefreshAll(ctx)
}
