package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/pkg/logger"
	"QuotePulse/pkg/metrics"
)

type fakeQuotes struct {
	cached   map[string]*models.ConsensusQuote
	storedAt map[string]time.Time
	fetchErr error
	fetched  []string
}

func (f *fakeQuotes) Cached(symbol string) (*models.ConsensusQuote, quotecache.Meta, bool) {
	q, ok := f.cached[symbol]
	if !ok {
		return nil, quotecache.Meta{}, false
	}
	return q, quotecache.Meta{StoredAt: f.storedAt[symbol]}, true
}

func (f *fakeQuotes) FetchAndStore(ctx context.Context, symbol string) (*models.ConsensusQuote, error) {
	f.fetched = append(f.fetched, symbol)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &models.ConsensusQuote{Symbol: symbol, Price: 100, Confidence: 0.9}, nil
}

type capturingEmitter struct {
	events []models.MarketEvent
}

func (c *capturingEmitter) Emit(evt models.MarketEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func newTestMonitor(symbols []string, quotes QuoteAccess, emitter Emitter) (*Monitor, *time.Time) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := New(Config{}, symbols, quotes, emitter, nil, logger.Nop(), metrics.Nop{})
	m.now = func() time.Time { return now }
	m.alerts.now = m.now
	return m, &now
}

func TestStalenessClassificationMonotonic(t *testing.T) {
	m, _ := newTestMonitor(nil, &fakeQuotes{}, nil)

	cases := []struct {
		age  time.Duration
		want models.StalenessClass
	}{
		{30 * time.Second, models.StalenessFresh},
		{2 * time.Minute, models.StalenessFresh},
		{3 * time.Minute, models.StalenessAging},
		{10 * time.Minute, models.StalenessStale},
		{31 * time.Minute, models.StalenessCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, m.classify(tc.age), "age %s", tc.age)
	}
}

func TestFreshnessScoreDropsWithAge(t *testing.T) {
	quotes := &fakeQuotes{
		cached:   map[string]*models.ConsensusQuote{"AAPL": {Symbol: "AAPL", Price: 100, Confidence: 0.9}},
		storedAt: map[string]time.Time{},
	}
	m, now := newTestMonitor([]string{"AAPL"}, quotes, nil)
	quotes.storedAt["AAPL"] = *now

	m.Sweep(context.Background())
	rec, ok := m.GetSymbolFreshness("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 100, rec.FreshnessScore, 0.01)
	assert.Equal(t, models.StalenessFresh, rec.Staleness)

	*now = now.Add(15 * time.Minute)
	m.Sweep(context.Background())
	rec, _ = m.GetSymbolFreshness("AAPL")
	assert.InDelta(t, 50, rec.FreshnessScore, 0.01)
	assert.Equal(t, models.StalenessStale, rec.Staleness)

	*now = now.Add(20 * time.Minute)
	m.Sweep(context.Background())
	rec, _ = m.GetSymbolFreshness("AAPL")
	assert.Equal(t, 0.0, rec.FreshnessScore)
	assert.Equal(t, models.StalenessCritical, rec.Staleness)
}

func TestCacheMissTriggersRecoveryFetch(t *testing.T) {
	quotes := &fakeQuotes{cached: map[string]*models.ConsensusQuote{}}
	m, _ := newTestMonitor([]string{"AAPL"}, quotes, nil)

	m.Sweep(context.Background())
	assert.Equal(t, []string{"AAPL"}, quotes.fetched)

	rec, ok := m.GetSymbolFreshness("AAPL")
	require.True(t, ok)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
}

func TestConsecutiveFailuresCountedAndReset(t *testing.T) {
	quotes := &fakeQuotes{cached: map[string]*models.ConsensusQuote{}, fetchErr: errors.New("no data")}
	m, now := newTestMonitor([]string{"AAPL"}, quotes, nil)

	for i := 0; i < 4; i++ {
		*now = now.Add(30 * time.Second)
		m.Sweep(context.Background())
	}
	rec, _ := m.GetSymbolFreshness("AAPL")
	assert.Equal(t, 4, rec.ConsecutiveFailures)

	// A failure alert fires once the threshold is crossed.
	var found bool
	for _, a := range m.GetActiveAlerts() {
		if a.Kind == models.AlertFailure {
			found = true
		}
	}
	assert.True(t, found)

	// One success resets the trailing count.
	m.RecordUpdate("AAPL")
	quotes.cached["AAPL"] = &models.ConsensusQuote{Symbol: "AAPL", Price: 100, Confidence: 0.9}
	quotes.storedAt = map[string]time.Time{"AAPL": *now}
	m.Sweep(context.Background())
	rec, _ = m.GetSymbolFreshness("AAPL")
	assert.Equal(t, 0, rec.ConsecutiveFailures)
}

func TestStalenessAlertDeduplicated(t *testing.T) {
	quotes := &fakeQuotes{
		cached:   map[string]*models.ConsensusQuote{"AAPL": {Symbol: "AAPL", Price: 100, Confidence: 0.9}},
		storedAt: map[string]time.Time{},
	}
	m, now := newTestMonitor([]string{"AAPL"}, quotes, nil)
	quotes.storedAt["AAPL"] = *now

	*now = now.Add(12 * time.Minute)
	m.Sweep(context.Background())
	m.Sweep(context.Background())

	staleness := 0
	for _, a := range m.GetActiveAlerts() {
		if a.Kind == models.AlertStaleness {
			staleness++
		}
	}
	assert.Equal(t, 1, staleness)

	// Past the dedup window the alert may fire again.
	*now = now.Add(6 * time.Minute)
	m.Sweep(context.Background())
	staleness = 0
	for _, a := range m.GetActiveAlerts() {
		if a.Kind == models.AlertStaleness {
			staleness++
		}
	}
	assert.Equal(t, 2, staleness)
}

func TestLowConfidenceRaisesQualityAlert(t *testing.T) {
	quotes := &fakeQuotes{
		cached:   map[string]*models.ConsensusQuote{"AAPL": {Symbol: "AAPL", Price: 100, Confidence: 0.3}},
		storedAt: map[string]time.Time{},
	}
	m, now := newTestMonitor([]string{"AAPL"}, quotes, nil)
	quotes.storedAt["AAPL"] = *now

	m.Sweep(context.Background())

	var found bool
	for _, a := range m.GetActiveAlerts() {
		if a.Kind == models.AlertQuality && a.Symbol == "AAPL" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCriticalAlertReemittedAsSystemEvent(t *testing.T) {
	quotes := &fakeQuotes{
		cached:   map[string]*models.ConsensusQuote{"AAPL": {Symbol: "AAPL", Price: 100, Confidence: 0.9}},
		storedAt: map[string]time.Time{},
	}
	emitter := &capturingEmitter{}
	m, now := newTestMonitor([]string{"AAPL"}, quotes, emitter)
	quotes.storedAt["AAPL"] = *now

	*now = now.Add(45 * time.Minute)
	m.Sweep(context.Background())

	require.NotEmpty(t, emitter.events)
	evt := emitter.events[0]
	assert.Equal(t, models.EventSystemAlert, evt.Type)
	assert.Equal(t, "AAPL", evt.Symbol)
	assert.Equal(t, models.PriorityCritical, evt.Priority)
}

func TestAcknowledgeAlert(t *testing.T) {
	m, _ := newTestMonitor(nil, &fakeQuotes{}, nil)

	a, stored := m.alerts.Raise(models.AlertQuality, "AAPL", models.PriorityHigh, "test")
	require.True(t, stored)
	assert.Len(t, m.GetActiveAlerts(), 1)

	assert.True(t, m.AcknowledgeAlert(a.ID))
	assert.Empty(t, m.GetActiveAlerts())
	assert.False(t, m.AcknowledgeAlert("alert-unknown"))
}

func TestHousekeepingAutoAcksAndPurges(t *testing.T) {
	m, now := newTestMonitor(nil, &fakeQuotes{}, nil)

	_, stored := m.alerts.Raise(models.AlertStaleness, "AAPL", models.PriorityMedium, "old")
	require.True(t, stored)

	*now = now.Add(25 * time.Hour)
	m.alerts.housekeeping()
	assert.Empty(t, m.GetActiveAlerts())

	*now = now.Add(8 * 24 * time.Hour)
	m.alerts.housekeeping()
	assert.Empty(t, m.alerts.alerts)
}

func TestQualityScoring(t *testing.T) {
	vol := 1000.0
	q := &models.ConsensusQuote{
		Symbol:     "AAPL",
		Confidence: 0.8,
		Contributing: []models.RawQuote{
			{Price: 100, Volume: &vol},
			{Price: 100},
			{Price: 100},
		},
	}
	rec := computeQuality(q)
	assert.InDelta(t, 100, rec.PriceConsistency, 0.01)
	assert.InDelta(t, 100, rec.SourceAgreement, 0.01)
	assert.InDelta(t, 100.0/3.0, rec.VolumeReliability, 0.1)
	assert.InDelta(t, 80, rec.ConfidenceScore, 0.01)
	assert.Equal(t, 0, rec.OutlierCount)
}

func TestQualityScoringPenalizesDisagreement(t *testing.T) {
	q := &models.ConsensusQuote{
		Symbol:     "AAPL",
		Confidence: 0.8,
		Contributing: []models.RawQuote{
			{Price: 100},
			{Price: 110},
		},
	}
	rec := computeQuality(q)
	assert.Less(t, rec.PriceConsistency, 100.0)
	assert.Less(t, rec.SourceAgreement, 100.0)
}
