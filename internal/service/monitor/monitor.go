package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/pkg/logger"
)

// QuoteAccess is the slice of the quote service the monitor needs: a
// cache-only read and a fetch-through write.
type QuoteAccess interface {
	Cached(symbol string) (*models.ConsensusQuote, quotecache.Meta, bool)
	FetchAndStore(ctx context.Context, symbol string) (*models.ConsensusQuote, error)
}

// Emitter feeds remediation events back into the event-driven refresh
// service.
type Emitter interface {
	Emit(evt models.MarketEvent) error
}

// Config tunes the monitor.
type Config struct {
	Interval time.Duration

	FreshThreshold    time.Duration
	AgingThreshold    time.Duration
	StaleThreshold    time.Duration
	CriticalThreshold time.Duration

	AlertAgeThreshold      time.Duration
	MinConfidence          float64
	MaxConsecutiveFailures int

	DedupWindow time.Duration
	AckAfter    time.Duration
	PurgeAfter  time.Duration

	// HistorySize bounds the per-symbol fetch event log.
	HistorySize int
}

// fetchEvent is one entry in a symbol's ordered success/failure log.
type fetchEvent struct {
	at time.Time
	ok bool
}

// Monitor sweeps the symbol universe, classifies staleness, scores quality,
// and raises deduplicated alerts. A cache miss is a fetch-and-recover
// attempt, not a failure by itself.
type Monitor struct {
	cfg     Config
	symbols []string
	quotes  QuoteAccess
	emitter Emitter
	health  func(ctx context.Context) map[string]bool
	log     *logger.Logger
	metrics repository.Metrics

	alerts *alertStore

	mu        sync.Mutex
	history   map[string][]fetchEvent
	freshness map[string]models.FreshnessRecord
	quality   map[string]models.QualityRecord
	onAlert   []func(models.Alert)

	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, symbols []string, quotes QuoteAccess, emitter Emitter, health func(ctx context.Context) map[string]bool, log *logger.Logger, metrics repository.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FreshThreshold <= 0 {
		cfg.FreshThreshold = 2 * time.Minute
	}
	if cfg.AgingThreshold <= 0 {
		cfg.AgingThreshold = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 15 * time.Minute
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 30 * time.Minute
	}
	if cfg.AlertAgeThreshold <= 0 {
		cfg.AlertAgeThreshold = 10 * time.Minute
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.AckAfter <= 0 {
		cfg.AckAfter = 24 * time.Hour
	}
	if cfg.PurgeAfter <= 0 {
		cfg.PurgeAfter = 7 * 24 * time.Hour
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	return &Monitor{
		cfg:       cfg,
		symbols:   symbols,
		quotes:    quotes,
		emitter:   emitter,
		health:    health,
		log:       log.Named("monitor"),
		metrics:   metrics,
		alerts:    newAlertStore(cfg.DedupWindow, cfg.AckAfter, cfg.PurgeAfter),
		history:   make(map[string][]fetchEvent),
		freshness: make(map[string]models.FreshnessRecord),
		quality:   make(map[string]models.QualityRecord),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// OnAlert registers a callback invoked for every newly stored alert.
func (m *Monitor) OnAlert(fn func(models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = append(m.onAlert, fn)
}

// Start runs the sweep loop until Stop.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Sweep runs one monitoring cycle over the whole universe.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, sym := range m.symbols {
		m.checkSymbol(ctx, sym)
	}
	m.checkSources(ctx)
	m.alerts.housekeeping()
}

// checkSymbol derives freshness and quality for one symbol and raises alerts
// as needed.
func (m *Monitor) checkSymbol(ctx context.Context, symbol string) {
	now := m.now()

	q, meta, ok := m.quotes.Cached(symbol)
	if !ok {
		// Fetch-and-recover: a miss only becomes a failure if the
		// aggregator cannot produce a quote either.
		fresh, err := m.quotes.FetchAndStore(ctx, symbol)
		if err != nil {
			m.recordFetch(symbol, now, false)
			m.log.Warn("recovery fetch failed", logger.String("symbol", symbol), logger.Error(err))
		} else {
			m.recordFetch(symbol, now, true)
			q = fresh
			meta = quotecache.Meta{StoredAt: now}
		}
	}

	rec := m.buildFreshness(symbol, q, meta, now)
	var qual models.QualityRecord
	if q != nil {
		qual = computeQuality(q)
	}

	m.mu.Lock()
	m.freshness[symbol] = rec
	if q != nil {
		m.quality[symbol] = qual
	}
	m.mu.Unlock()

	m.raiseAlerts(symbol, q, rec)
}

// buildFreshness recomputes the record from scratch; DataAgeMs is always
// now − lastUpdate, never carried over.
func (m *Monitor) buildFreshness(symbol string, q *models.ConsensusQuote, meta quotecache.Meta, now time.Time) models.FreshnessRecord {
	lastUpdate := m.lastSuccess(symbol)
	if q != nil && meta.StoredAt.After(lastUpdate) {
		lastUpdate = meta.StoredAt
	}

	rec := models.FreshnessRecord{
		Symbol:              symbol,
		LastUpdateAt:        lastUpdate,
		ConsecutiveFailures: m.consecutiveFailures(symbol),
		UpdatesPerHour:      m.updatesPerHour(symbol, now),
	}
	if lastUpdate.IsZero() {
		rec.Staleness = models.StalenessCritical
		return rec
	}

	age := now.Sub(lastUpdate)
	rec.DataAgeMs = age.Milliseconds()
	rec.Staleness = m.classify(age)

	score := 100 * (1 - float64(age)/float64(m.cfg.CriticalThreshold))
	if score < 0 {
		score = 0
	}
	rec.FreshnessScore = score
	return rec
}

// classify maps an age onto the monotonic staleness ladder.
func (m *Monitor) classify(age time.Duration) models.StalenessClass {
	switch {
	case age <= m.cfg.FreshThreshold:
		return models.StalenessFresh
	case age <= m.cfg.AgingThreshold:
		return models.StalenessAging
	case age <= m.cfg.StaleThreshold:
		return models.StalenessStale
	default:
		return models.StalenessCritical
	}
}

func (m *Monitor) raiseAlerts(symbol string, q *models.ConsensusQuote, rec models.FreshnessRecord) {
	if rec.DataAgeMs > m.cfg.AlertAgeThreshold.Milliseconds() || rec.LastUpdateAt.IsZero() {
		sev := models.PriorityMedium
		switch rec.Staleness {
		case models.StalenessCritical:
			sev = models.PriorityCritical
		case models.StalenessStale:
			sev = models.PriorityHigh
		}
		m.raise(models.AlertStaleness, symbol, sev,
			fmt.Sprintf("data for %s is %s (%.0fs old)", symbol, rec.Staleness, float64(rec.DataAgeMs)/1000))
	}

	if q != nil && q.Confidence < m.cfg.MinConfidence {
		m.raise(models.AlertQuality, symbol, models.PriorityHigh,
			fmt.Sprintf("confidence for %s dropped to %.2f", symbol, q.Confidence))
	}

	if rec.ConsecutiveFailures > m.cfg.MaxConsecutiveFailures {
		m.raise(models.AlertFailure, symbol, models.PriorityCritical,
			fmt.Sprintf("%d consecutive fetch failures for %s", rec.ConsecutiveFailures, symbol))
	}
}

// checkSources probes source health and raises per-source alerts.
func (m *Monitor) checkSources(ctx context.Context) {
	if m.health == nil {
		return
	}
	for name, healthy := range m.health(ctx) {
		if healthy {
			continue
		}
		m.raise(models.AlertSourceHealth, name, models.PriorityHigh,
			fmt.Sprintf("source %s failed its canary fetch", name))
	}
}

// raise stores an alert (dedup permitting), notifies subscribers, and
// re-emits critical symbol alerts as system events so remediation starts
// immediately.
func (m *Monitor) raise(kind models.AlertKind, subject string, severity models.Priority, message string) {
	a, stored := m.alerts.Raise(kind, subject, severity, message)
	if !stored {
		return
	}
	m.metrics.RecordAlert(string(kind), severity.String())
	m.log.Warn("alert raised",
		logger.String("kind", string(kind)),
		logger.String("subject", subject),
		logger.String("severity", severity.String()),
		logger.String("message", message))

	m.mu.Lock()
	subs := append(([]func(models.Alert))(nil), m.onAlert...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(*a)
	}

	if severity == models.PriorityCritical && subject != "" && m.emitter != nil {
		subtype := models.SystemAlertSourceFailure
		if kind == models.AlertStaleness {
			subtype = models.SystemAlertHighLatency
		}
		_ = m.emitter.Emit(models.MarketEvent{
			Type:     models.EventSystemAlert,
			Symbol:   subject,
			Priority: models.PriorityCritical,
			Source:   "monitor",
			Data: map[string]interface{}{
				"alert_type": subtype,
				"alert_kind": string(kind),
				"alert_id":   a.ID,
			},
			Timestamp: a.RaisedAt,
		})
	}
}

// --- per-symbol event log ---

// RecordUpdate feeds an external successful refresh into the log so
// consecutive-failure counting sees the full ordered picture.
func (m *Monitor) RecordUpdate(symbol string) {
	m.recordFetch(symbol, m.now(), true)
}

// RecordFailure feeds an external failed refresh into the log.
func (m *Monitor) RecordFailure(symbol string) {
	m.recordFetch(symbol, m.now(), false)
}

func (m *Monitor) recordFetch(symbol string, at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := append(m.history[symbol], fetchEvent{at: at, ok: ok})
	if len(log) > m.cfg.HistorySize {
		log = log[len(log)-m.cfg.HistorySize:]
	}
	m.history[symbol] = log
}

// consecutiveFailures counts trailing failures in the ordered event log.
func (m *Monitor) consecutiveFailures(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.history[symbol]
	n := 0
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ok {
			break
		}
		n++
	}
	return n
}

func (m *Monitor) lastSuccess(symbol string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.history[symbol]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ok {
			return log[i].at
		}
	}
	return time.Time{}
}

func (m *Monitor) updatesPerHour(symbol string, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.history[symbol] {
		if e.ok && now.Sub(e.at) <= time.Hour {
			n++
		}
	}
	return float64(n)
}

// --- external API ---

// GetSymbolFreshness returns the last computed freshness record.
func (m *Monitor) GetSymbolFreshness(symbol string) (models.FreshnessRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.freshness[symbol]
	return rec, ok
}

// GetSymbolQuality returns the last computed quality record.
func (m *Monitor) GetSymbolQuality(symbol string) (models.QualityRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.quality[symbol]
	return rec, ok
}

// GetActiveAlerts returns unacknowledged alerts, newest first.
func (m *Monitor) GetActiveAlerts() []models.Alert {
	return m.alerts.Active()
}

// AcknowledgeAlert marks an alert handled.
func (m *Monitor) AcknowledgeAlert(id string) bool {
	return m.alerts.Acknowledge(id)
}
