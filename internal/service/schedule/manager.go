package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/logger"
)

// Refresher is the slice of the quote service the poller needs.
type Refresher interface {
	Refresh(ctx context.Context, symbols ...string)
	Invalidate(symbol string)
}

// Config tunes the update manager.
type Config struct {
	Symbols         []string
	OpenInterval    time.Duration
	ClosedInterval  time.Duration
	RecheckInterval time.Duration
	HealthWarnRatio float64
}

// Status is the manager's externally visible state.
type Status struct {
	IsRunning    bool          `json:"is_running"`
	LastUpdateAt time.Time     `json:"last_update_at"`
	MarketOpen   bool          `json:"market_open"`
	NextInterval time.Duration `json:"next_interval_ms"`
}

// Manager polls the whole symbol universe on a market-hours-aware cadence:
// a tight interval while the exchange is open, a relaxed one while closed,
// with an hourly re-check that emits open/close transition events.
type Manager struct {
	cfg     Config
	cal     *Calendar
	refresh Refresher
	health  func(ctx context.Context) map[string]bool
	emit    func(evt models.MarketEvent) error
	log     *logger.Logger

	sched *gocron.Scheduler
	now   func() time.Time

	mu         sync.Mutex
	running    bool
	marketOpen bool
	lastUpdate time.Time
	reduced    bool
}

func New(cfg Config, cal *Calendar, refresh Refresher, health func(ctx context.Context) map[string]bool, emit func(models.MarketEvent) error, log *logger.Logger) *Manager {
	if cfg.OpenInterval <= 0 {
		cfg.OpenInterval = 30 * time.Second
	}
	if cfg.ClosedInterval <= 0 {
		cfg.ClosedInterval = 5 * time.Minute
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = time.Hour
	}
	if cfg.HealthWarnRatio <= 0 {
		cfg.HealthWarnRatio = 0.6
	}
	return &Manager{
		cfg:     cfg,
		cal:     cal,
		refresh: refresh,
		health:  health,
		emit:    emit,
		log:     log.Named("update_manager"),
		now:     time.Now,
	}
}

// Start registers the polling jobs and begins scheduling. The fast and slow
// jobs are both always registered; the market-state gate decides which one
// actually polls, so an open/close transition needs no re-registration.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.marketOpen = m.cal.IsOpen(m.now())
	m.mu.Unlock()

	m.sched = gocron.NewScheduler(time.UTC)

	if _, err := m.sched.Every(m.cfg.OpenInterval).Do(func() {
		if m.isMarketOpen() {
			m.poll(ctx, m.cfg.Symbols, false)
		}
	}); err != nil {
		return err
	}
	if _, err := m.sched.Every(m.cfg.ClosedInterval).Do(func() {
		if !m.isMarketOpen() {
			m.poll(ctx, m.cfg.Symbols, false)
		}
	}); err != nil {
		return err
	}
	if _, err := m.sched.Every(m.cfg.RecheckInterval).Do(func() {
		m.recheckMarketState()
	}); err != nil {
		return err
	}

	m.sched.StartAsync()
	m.log.Info("started",
		logger.Bool("market_open", m.isMarketOpen()),
		logger.Duration("open_interval", m.cfg.OpenInterval),
		logger.Duration("closed_interval", m.cfg.ClosedInterval))
	return nil
}

// Stop halts all scheduled jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	if m.sched != nil {
		m.sched.Stop()
	}
	m.log.Info("stopped")
}

// TriggerUpdate forces a refresh of the given symbols, or the whole universe
// when none are given.
func (m *Manager) TriggerUpdate(ctx context.Context, symbols ...string) {
	if len(symbols) == 0 {
		symbols = m.cfg.Symbols
	}
	m.poll(ctx, symbols, true)
}

// OnMarketEvent keeps the manager's market state in sync with open/close
// events flowing through the event service.
func (m *Manager) OnMarketEvent(evt models.MarketEvent) {
	switch evt.Type {
	case models.EventMarketOpen:
		m.setMarketOpen(true)
	case models.EventMarketClose:
		m.setMarketOpen(false)
	}
}

// ReduceCadence doubles the effective polling interval, the remediation for
// high-latency system alerts. The next open/close transition resets it.
func (m *Manager) ReduceCadence() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reduced = true
}

// GetStatus reports the manager's current state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		IsRunning:    m.running,
		LastUpdateAt: m.lastUpdate,
		MarketOpen:   m.marketOpen,
		NextInterval: m.effectiveIntervalLocked(),
	}
}

// IsOpen exposes the calendar decision for the current instant.
func (m *Manager) IsOpen() bool {
	return m.cal.IsOpen(m.now())
}

func (m *Manager) isMarketOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketOpen
}

func (m *Manager) setMarketOpen(open bool) {
	m.mu.Lock()
	changed := m.marketOpen != open
	m.marketOpen = open
	if changed {
		m.reduced = false
	}
	m.mu.Unlock()
	if changed {
		m.log.Info("polling cadence switched",
			logger.Bool("market_open", open),
			logger.Duration("interval", m.currentInterval()))
	}
}

func (m *Manager) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveIntervalLocked()
}

func (m *Manager) effectiveIntervalLocked() time.Duration {
	iv := m.cfg.ClosedInterval
	if m.marketOpen {
		iv = m.cfg.OpenInterval
	}
	if m.reduced {
		iv *= 2
	}
	return iv
}

// recheckMarketState compares the calendar against the cached open flag and
// emits the transition event when they disagree. The event service clears
// the cache and triggers the bulk refresh; our own subscription flips the
// cadence.
func (m *Manager) recheckMarketState() {
	open := m.cal.IsOpen(m.now())
	if open == m.isMarketOpen() {
		return
	}

	evtType := models.EventMarketClose
	if open {
		evtType = models.EventMarketOpen
	}
	if m.emit != nil {
		if err := m.emit(models.MarketEvent{
			Type:      evtType,
			Priority:  models.PriorityCritical,
			Source:    "update_manager",
			Timestamp: m.now(),
		}); err != nil {
			m.log.Warn("market transition emit failed", logger.Error(err))
			// Fall back to flipping state directly so polling cadence is
			// never stuck on a rejected event.
			m.setMarketOpen(open)
		}
	} else {
		m.setMarketOpen(open)
	}
}

// poll refreshes symbols honoring the effective cadence, invalidating each
// entry first so the aggregator fetches genuinely fresh data. A failed cycle
// is logged and the loop carries on next tick.
func (m *Manager) poll(ctx context.Context, symbols []string, force bool) {
	m.mu.Lock()
	since := m.now().Sub(m.lastUpdate)
	if !force && !m.lastUpdate.IsZero() && since < m.effectiveIntervalLocked() {
		m.mu.Unlock()
		return
	}
	m.lastUpdate = m.now()
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("poll cycle panic", logger.Any("recover", r))
		}
	}()

	start := m.now()
	for _, sym := range symbols {
		m.refresh.Invalidate(sym)
	}
	m.refresh.Refresh(ctx, symbols...)

	if m.health != nil {
		health := m.health(ctx)
		healthy := 0
		for _, ok := range health {
			if ok {
				healthy++
			}
		}
		if len(health) > 0 {
			ratio := float64(healthy) / float64(len(health))
			if ratio < m.cfg.HealthWarnRatio {
				m.log.Warn("source health degraded",
					logger.Int("healthy", healthy),
					logger.Int("total", len(health)),
					logger.Float64("ratio", ratio))
			}
		}
	}

	m.log.Debug("poll cycle complete",
		logger.Int("symbols", len(symbols)),
		logger.Duration("took", m.now().Sub(start)))
}
