package quotecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuotePulse/internal/domain/models"
)

func newTestCache(opts ...Option[string]) (*Cache[string], *time.Time) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	c := New(opts...)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache()

	c.Set("quote:AAPL", "payload", SetOptions{Confidence: 0.9})
	v, meta := c.Get("quote:AAPL")
	require.NotNil(t, v)
	assert.Equal(t, "payload", *v)
	assert.False(t, meta.IsStale)
	assert.Equal(t, int64(0), meta.AgeMs)
	assert.Equal(t, int64(1), meta.AccessCount)
	assert.InDelta(t, 100, meta.FreshnessScore, 0.01)
}

func TestMissOnUnknownKey(t *testing.T) {
	c, _ := newTestCache()
	v, _ := c.Get("quote:NOPE")
	assert.Nil(t, v)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(0), stats.Hits)
}

func TestExpiredEntryRemovedOnGet(t *testing.T) {
	c, now := newTestCache()

	c.Set("quote:AAPL", "payload", SetOptions{Confidence: 0.5})
	ttl := c.entries["quote:AAPL"].ttl

	*now = now.Add(ttl + time.Second)
	v, _ := c.Get("quote:AAPL")
	assert.Nil(t, v)
	assert.Empty(t, c.Keys())

	// A new write for the key succeeds as usual.
	c.Set("quote:AAPL", "fresh", SetOptions{Confidence: 0.5})
	v, _ = c.Get("quote:AAPL")
	require.NotNil(t, v)
	assert.Equal(t, "fresh", *v)
}

func TestStaleServedWithFlag(t *testing.T) {
	c, now := newTestCache(
		WithBaseTTL[string](20*time.Minute),
		WithStalenessThreshold[string](5*time.Minute),
	)

	c.Set("quote:AAPL", "payload", SetOptions{Confidence: 0.9, Priority: models.PriorityLow})
	*now = now.Add(6 * time.Minute)

	v, meta := c.Get("quote:AAPL")
	require.NotNil(t, v)
	assert.True(t, meta.IsStale)
	assert.Less(t, meta.FreshnessScore, 100.0)
}

func TestComputeTTLAdaptive(t *testing.T) {
	c, _ := newTestCache(WithBaseTTL[string](5 * time.Minute))

	normal := c.computeTTL(SetOptions{Confidence: 0.5, Priority: models.PriorityMedium})
	assert.Equal(t, 5*time.Minute, normal)

	// Higher confidence extends, critical priority and aggressive strategy
	// shorten.
	confident := c.computeTTL(SetOptions{Confidence: 1.0, Priority: models.PriorityMedium})
	assert.Greater(t, confident, normal)

	critical := c.computeTTL(SetOptions{Confidence: 0.5, Priority: models.PriorityCritical})
	assert.Less(t, critical, normal)

	aggressive := c.computeTTL(SetOptions{Confidence: 0.5, Strategy: models.StrategyAggressive})
	assert.Less(t, aggressive, normal)

	lazy := c.computeTTL(SetOptions{Confidence: 0.5, Strategy: models.StrategyLazy})
	assert.Greater(t, lazy, normal)
}

func TestComputeTTLClampedToBounds(t *testing.T) {
	c, _ := newTestCache(
		WithBaseTTL[string](5*time.Minute),
		WithTTLBounds[string](30*time.Second, 30*time.Minute),
	)

	short := c.computeTTL(SetOptions{
		Confidence: 0,
		Priority:   models.PriorityCritical,
		Strategy:   models.StrategyAggressive,
	})
	assert.Equal(t, 30*time.Second, short)

	long := c.computeTTL(SetOptions{
		Confidence: 1,
		Priority:   models.PriorityLow,
		Strategy:   models.StrategyLazy,
	})
	assert.Equal(t, 30*time.Minute, long)
}

func TestMarketHoursHalveTTL(t *testing.T) {
	open := false
	c, _ := newTestCache(
		WithBaseTTL[string](10*time.Minute),
		WithMarketHours[string](func(time.Time) bool { return open }),
	)

	closed := c.computeTTL(SetOptions{Confidence: 0.5})
	open = true
	trading := c.computeTTL(SetOptions{Confidence: 0.5})
	assert.Equal(t, closed/2, trading)
}

func TestEvictionPrefersLowestValue(t *testing.T) {
	c, now := newTestCache(WithCapacity[string](2))

	c.Set("quote:HOT", "a", SetOptions{Confidence: 0.9, Priority: models.PriorityHigh})
	c.Set("quote:COLD", "b", SetOptions{Confidence: 0.2, Priority: models.PriorityLow})

	// Make HOT genuinely hot.
	for i := 0; i < 10; i++ {
		c.Get("quote:HOT")
	}
	*now = now.Add(time.Second)

	c.Set("quote:NEW", "c", SetOptions{Confidence: 0.5})

	assert.Len(t, c.Keys(), 2)
	v, _ := c.Get("quote:HOT")
	assert.NotNil(t, v)
	v, _ = c.Get("quote:COLD")
	assert.Nil(t, v)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(WithCapacity[string](2))

	c.Set("quote:A", "1", SetOptions{})
	c.Set("quote:B", "2", SetOptions{})
	c.Set("quote:A", "updated", SetOptions{})

	assert.Len(t, c.Keys(), 2)
	v, _ := c.Get("quote:A")
	require.NotNil(t, v)
	assert.Equal(t, "updated", *v)
}

func TestInvalidateByTag(t *testing.T) {
	c, _ := newTestCache()

	c.Set("quote:AAPL", "a", SetOptions{Tags: []string{"quotes", "tech"}})
	c.Set("quote:XOM", "b", SetOptions{Tags: []string{"quotes", "energy"}})

	n := c.InvalidateByTag("tech")
	assert.Equal(t, 1, n)
	assert.Len(t, c.Keys(), 1)
}

func TestInvalidateByPattern(t *testing.T) {
	c, _ := newTestCache()

	c.Set("quote:AAPL", "a", SetOptions{})
	c.Set("quote:AMZN", "b", SetOptions{})
	c.Set("quote:MSFT", "c", SetOptions{})

	n, err := c.InvalidateByPattern(`^quote:A`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.InvalidateByPattern(`[`)
	assert.Error(t, err)
}

func TestSweepRemovesExpiredAndFlagsStale(t *testing.T) {
	c, now := newTestCache(
		WithBaseTTL[string](10*time.Minute),
		WithStalenessThreshold[string](5*time.Minute),
	)

	c.Set("quote:OLD", "a", SetOptions{Confidence: 0.5, Priority: models.PriorityCritical})
	c.Set("quote:MID", "b", SetOptions{Confidence: 1.0, Priority: models.PriorityLow, Strategy: models.StrategyLazy})

	*now = now.Add(8 * time.Minute)
	removed, flagged := c.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, flagged)

	v, meta := c.Get("quote:MID")
	require.NotNil(t, v)
	assert.True(t, meta.IsStale)
}

func TestStatsHitRate(t *testing.T) {
	c, _ := newTestCache()

	c.Set("quote:AAPL", "a", SetOptions{})
	c.Get("quote:AAPL")
	c.Get("quote:AAPL")
	c.Get("quote:MISSING")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestClearDropsEverything(t *testing.T) {
	c, _ := newTestCache()
	c.Set("quote:AAPL", "a", SetOptions{})
	c.Set("quote:MSFT", "b", SetOptions{})
	c.Clear()
	assert.Empty(t, c.Keys())
}
