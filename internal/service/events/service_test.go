package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/internal/usecase"
	"QuotePulse/pkg/logger"
	"QuotePulse/pkg/metrics"
)

type fakeRefresher struct {
	ops         []string
	refreshed   [][]string
	refreshAll  int
	invalidated []string
	cleared     int
}

func (f *fakeRefresher) Refresh(ctx context.Context, symbols ...string) {
	f.ops = append(f.ops, "refresh")
	f.refreshed = append(f.refreshed, symbols)
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) {
	f.ops = append(f.ops, "refresh_all")
	f.refreshAll++
}

func (f *fakeRefresher) Invalidate(symbol string) {
	f.ops = append(f.ops, "invalidate")
	f.invalidated = append(f.invalidated, symbol)
}

func (f *fakeRefresher) ClearCache() {
	f.ops = append(f.ops, "clear")
	f.cleared++
}

func newTestService(cfg Config) (*Service, *fakeRefresher) {
	ref := &fakeRefresher{}
	s := New(cfg, ref, logger.Nop(), metrics.Nop{})
	return s, ref
}

func evt(t models.EventType, symbol string, p models.Priority) models.MarketEvent {
	return models.MarketEvent{Type: t, Symbol: symbol, Priority: p, Source: "test", Timestamp: time.Now()}
}

func TestEmitEnqueuesAndCounts(t *testing.T) {
	s, _ := newTestService(Config{})

	require.NoError(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))
	st := s.Status()
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, uint64(1), st.ByType["price_change"])
}

func TestEmitRejectsDisabledType(t *testing.T) {
	s, _ := newTestService(Config{EnabledTypes: []string{"price_change"}})

	assert.NoError(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))
	assert.Error(t, s.Emit(evt(models.EventNewsAlert, "AAPL", models.PriorityMedium)))
	assert.Equal(t, uint64(1), s.Status().Rejected)
}

func TestEmitRateLimitsPerType(t *testing.T) {
	s, _ := newTestService(Config{RateLimitPerMinute: 2})

	assert.NoError(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))
	assert.NoError(t, s.Emit(evt(models.EventPriceChange, "MSFT", models.PriorityMedium)))
	assert.Error(t, s.Emit(evt(models.EventPriceChange, "GOOGL", models.PriorityMedium)))

	// Other types have their own windows.
	assert.NoError(t, s.Emit(evt(models.EventNewsAlert, "AAPL", models.PriorityMedium)))
}

func TestRateLimitWindowResets(t *testing.T) {
	s, _ := newTestService(Config{RateLimitPerMinute: 1})
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.limiter.now = func() time.Time { return now }

	assert.NoError(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))
	assert.Error(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))

	now = now.Add(61 * time.Second)
	assert.NoError(t, s.Emit(evt(models.EventPriceChange, "AAPL", models.PriorityMedium)))
}

func TestPopOrdersByPriorityThenTime(t *testing.T) {
	s, _ := newTestService(Config{})

	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	lowFirst := evt(models.EventNewsAlert, "LOW", models.PriorityLow)
	lowFirst.Timestamp = base
	critical := evt(models.EventSystemAlert, "CRIT", models.PriorityCritical)
	critical.Timestamp = base.Add(time.Second)
	highA := evt(models.EventPriceChange, "HIGH_A", models.PriorityHigh)
	highA.Timestamp = base.Add(2 * time.Second)
	highB := evt(models.EventVolumeSpike, "HIGH_B", models.PriorityHigh)
	highB.Timestamp = base.Add(3 * time.Second)

	for _, e := range []models.MarketEvent{lowFirst, highB, critical, highA} {
		require.NoError(t, s.Emit(e))
	}

	batch := s.pop(3)
	require.Len(t, batch, 3)
	assert.Equal(t, "CRIT", batch[0].Symbol)
	assert.Equal(t, "HIGH_A", batch[1].Symbol)
	assert.Equal(t, "HIGH_B", batch[2].Symbol)

	rest := s.pop(10)
	require.Len(t, rest, 1)
	assert.Equal(t, "LOW", rest[0].Symbol)
	assert.Equal(t, uint64(4), s.Status().Processed)
}

func TestPriceChangeRemediation(t *testing.T) {
	s, ref := newTestService(Config{})

	s.process(context.Background(), evt(models.EventPriceChange, "AAPL", models.PriorityMedium))
	assert.Equal(t, []string{"AAPL"}, ref.invalidated)
	assert.Equal(t, [][]string{{"AAPL"}}, ref.refreshed)
}

func TestMarketTransitionRefetchesUniverseAfterClear(t *testing.T) {
	s, ref := newTestService(Config{Symbols: []string{"AAPL", "MSFT"}})

	s.process(context.Background(), evt(models.EventMarketClose, "", models.PriorityCritical))
	assert.Equal(t, 1, ref.cleared)
	// The clear empties the cached key set, so the bulk refresh must come
	// from the configured universe, and only after the clear.
	require.Equal(t, [][]string{{"AAPL", "MSFT"}}, ref.refreshed)
	assert.Equal(t, []string{"clear", "refresh"}, ref.ops)
	assert.Equal(t, 0, ref.refreshAll)
}

func TestMarketTransitionFallsBackWithoutUniverse(t *testing.T) {
	s, ref := newTestService(Config{})

	s.process(context.Background(), evt(models.EventMarketOpen, "", models.PriorityCritical))
	assert.Equal(t, 1, ref.cleared)
	assert.Equal(t, 1, ref.refreshAll)
}

func TestNewsAlertTargeted(t *testing.T) {
	s, ref := newTestService(Config{})

	s.process(context.Background(), evt(models.EventNewsAlert, "TSLA", models.PriorityHigh))
	assert.Equal(t, [][]string{{"TSLA"}}, ref.refreshed)
	assert.Equal(t, 0, ref.refreshAll)

	s.process(context.Background(), evt(models.EventNewsAlert, "", models.PriorityHigh))
	assert.Equal(t, 1, ref.refreshAll)
}

func TestSystemAlertHighLatencyReducesCadence(t *testing.T) {
	s, _ := newTestService(Config{})
	reduced := false
	s.SetCadenceReducer(func() { reduced = true })

	e := evt(models.EventSystemAlert, "", models.PriorityCritical)
	e.Data = map[string]interface{}{"alert_type": models.SystemAlertHighLatency}
	s.process(context.Background(), e)
	assert.True(t, reduced)
}

func TestSystemAlertCacheCorruption(t *testing.T) {
	s, ref := newTestService(Config{Symbols: []string{"AAPL", "MSFT"}})

	e := evt(models.EventSystemAlert, "AAPL", models.PriorityCritical)
	e.Data = map[string]interface{}{"alert_type": models.SystemAlertCacheCorruption}
	s.process(context.Background(), e)
	assert.Equal(t, []string{"AAPL"}, ref.invalidated)

	// Symbol-less corruption clears everything and refetches the universe.
	e.Symbol = ""
	s.process(context.Background(), e)
	assert.Equal(t, 1, ref.cleared)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ref.refreshed[len(ref.refreshed)-1])
}

func TestSystemAlertSourceFailureRechecksHealth(t *testing.T) {
	s, ref := newTestService(Config{})
	checked := false
	s.SetHealthCheck(func(ctx context.Context) map[string]bool {
		checked = true
		return map[string]bool{"a": true}
	})

	e := evt(models.EventSystemAlert, "AAPL", models.PriorityCritical)
	e.Data = map[string]interface{}{"alert_type": models.SystemAlertSourceFailure}
	s.process(context.Background(), e)
	assert.True(t, checked)
	assert.Equal(t, [][]string{{"AAPL"}}, ref.refreshed)
}

func TestSubscribersNotifiedSynchronously(t *testing.T) {
	s, _ := newTestService(Config{})

	var got []models.MarketEvent
	s.Subscribe(models.EventMarketOpen, func(e models.MarketEvent) { got = append(got, e) })

	require.NoError(t, s.Emit(evt(models.EventMarketOpen, "", models.PriorityCritical)))
	require.Len(t, got, 1)
	assert.Equal(t, models.EventMarketOpen, got[0].Type)
}

func TestMonitorPriceChangeThresholds(t *testing.T) {
	s, _ := newTestService(Config{PriceChangePct: 2, PriceChangeHighPct: 5})

	s.MonitorPriceChange("AAPL", 100)
	assert.Equal(t, 0, s.Status().QueueDepth) // first observation, no baseline

	s.MonitorPriceChange("AAPL", 101)
	assert.Equal(t, 0, s.Status().QueueDepth) // 1% < threshold

	s.MonitorPriceChange("AAPL", 104)
	require.Equal(t, 1, s.Status().QueueDepth)
	batch := s.pop(1)
	assert.Equal(t, models.PriorityMedium, batch[0].Priority)

	s.MonitorPriceChange("AAPL", 110)
	batch = s.pop(1)
	require.Len(t, batch, 1)
	assert.Equal(t, models.PriorityHigh, batch[0].Priority)
}

func TestMonitorVolumeSpike(t *testing.T) {
	s, _ := newTestService(Config{VolumeSpikeRatio: 3, VolumeWindow: 20})

	for _, v := range []float64{100, 110, 90, 100} {
		s.MonitorVolumeSpike("AAPL", v)
	}
	assert.Equal(t, 0, s.Status().QueueDepth)

	s.MonitorVolumeSpike("AAPL", 400)
	require.Equal(t, 1, s.Status().QueueDepth)
	batch := s.pop(1)
	assert.Equal(t, models.EventVolumeSpike, batch[0].Type)
}

func TestObserveQuoteFeedsDetectors(t *testing.T) {
	s, _ := newTestService(Config{PriceChangePct: 2, PriceChangeHighPct: 5, VolumeSpikeRatio: 3, VolumeWindow: 20})

	vol := func(v float64) *float64 { return &v }
	observe := func(price, volume float64) {
		s.ObserveQuote(&models.ConsensusQuote{
			Symbol:       "AAPL",
			Price:        price,
			Contributing: []models.RawQuote{{Price: price, Volume: vol(volume)}},
		})
	}

	for _, v := range []float64{100, 100, 100, 100} {
		observe(100, v)
	}
	assert.Equal(t, 0, s.Status().QueueDepth)

	// A 4% move on triple the rolling volume trips both detectors.
	observe(104, 300)
	require.Equal(t, 2, s.Status().QueueDepth)
	batch := s.pop(2)
	types := []models.EventType{batch[0].Type, batch[1].Type}
	assert.Contains(t, types, models.EventPriceChange)
	assert.Contains(t, types, models.EventVolumeSpike)
}

type staticSource struct {
	price float64
}

func (s *staticSource) Name() string        { return "static" }
func (s *staticSource) Confidence() float64 { return 0.9 }

func (s *staticSource) Fetch(ctx context.Context, symbol string) (*models.RawQuote, error) {
	return &models.RawQuote{
		Symbol:           symbol,
		Price:            s.price,
		Source:           "static",
		ObservedAt:       time.Now(),
		SourceConfidence: 0.9,
	}, nil
}

func TestMarketTransitionRepopulatesCache(t *testing.T) {
	agg := usecase.NewAggregator([]repository.Source{&staticSource{price: 100}},
		time.Second, "AAPL", logger.Nop(), metrics.Nop{})
	qc := quotecache.New[models.ConsensusQuote]()
	quotes := usecase.NewQuoteService(agg, qc, logger.Nop())
	quotes.Refresh(context.Background(), "AAPL", "MSFT")

	s := New(Config{Symbols: []string{"AAPL", "MSFT"}}, quotes, logger.Nop(), metrics.Nop{})
	s.process(context.Background(), evt(models.EventMarketClose, "", models.PriorityCritical))

	// The session reset ends with a warm cache, not an empty one.
	for _, sym := range []string{"AAPL", "MSFT"} {
		_, _, ok := quotes.Cached(sym)
		assert.True(t, ok, sym)
	}
}
