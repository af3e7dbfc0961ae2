package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/logger"
)

type fakeRefresher struct {
	refreshed   [][]string
	invalidated []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, symbols ...string) {
	f.refreshed = append(f.refreshed, symbols)
}
func (f *fakeRefresher) Invalidate(symbol string) { f.invalidated = append(f.invalidated, symbol) }

func mustCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York", "09:30", "16:00")
	require.NoError(t, err)
	return cal
}

func newTestManager(t *testing.T, cfg Config, emit func(models.MarketEvent) error) (*Manager, *fakeRefresher, *time.Time) {
	t.Helper()
	ref := &fakeRefresher{}
	m := New(cfg, mustCalendar(t), ref, nil, emit, logger.Nop())
	// Monday 2025-06-02 12:00 ET, mid-session.
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	m.now = func() time.Time { return now }
	return m, ref, &now
}

func TestCalendarBoundaries(t *testing.T) {
	cal := mustCalendar(t)
	et := time.FixedZone("EDT", -4*3600)

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"before open", time.Date(2025, 6, 2, 9, 29, 0, 0, et), false},
		{"at open", time.Date(2025, 6, 2, 9, 30, 0, 0, et), true},
		{"last minute", time.Date(2025, 6, 2, 15, 59, 0, 0, et), true},
		{"at close", time.Date(2025, 6, 2, 16, 0, 0, 0, et), false},
		{"saturday", time.Date(2025, 6, 7, 12, 0, 0, 0, et), false},
		{"sunday", time.Date(2025, 6, 8, 12, 0, 0, 0, et), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.open, cal.IsOpen(tc.at), tc.name)
	}
}

func TestCalendarConvertsTimezone(t *testing.T) {
	cal := mustCalendar(t)

	// 16:00 UTC on a June Monday is 12:00 in New York.
	assert.True(t, cal.IsOpen(time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)))
	// 02:00 UTC is 22:00 the previous evening in New York.
	assert.False(t, cal.IsOpen(time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC)))
}

func TestCalendarRejectsBadConfig(t *testing.T) {
	_, err := NewCalendar("Not/AZone", "09:30", "16:00")
	assert.Error(t, err)

	_, err = NewCalendar("UTC", "9h30", "16:00")
	assert.Error(t, err)

	_, err = NewCalendar("UTC", "16:00", "09:30")
	assert.Error(t, err)
}

func TestPollDedupWithinInterval(t *testing.T) {
	m, ref, now := newTestManager(t, Config{OpenInterval: 30 * time.Second, ClosedInterval: 5 * time.Minute}, nil)
	m.setMarketOpen(true)

	m.poll(context.Background(), []string{"AAPL", "MSFT"}, false)
	require.Len(t, ref.refreshed, 1)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ref.refreshed[0])
	assert.Equal(t, []string{"AAPL", "MSFT"}, ref.invalidated)

	// Second non-forced poll inside the interval is skipped.
	*now = now.Add(10 * time.Second)
	m.poll(context.Background(), []string{"AAPL", "MSFT"}, false)
	assert.Len(t, ref.refreshed, 1)

	// A forced trigger always runs.
	m.TriggerUpdate(context.Background(), "AAPL")
	require.Len(t, ref.refreshed, 2)
	assert.Equal(t, []string{"AAPL"}, ref.refreshed[1])

	// Past the interval the regular poll runs again.
	*now = now.Add(31 * time.Second)
	m.poll(context.Background(), []string{"AAPL", "MSFT"}, false)
	assert.Len(t, ref.refreshed, 3)
}

func TestTriggerUpdateDefaultsToUniverse(t *testing.T) {
	m, ref, _ := newTestManager(t, Config{Symbols: []string{"AAPL", "MSFT", "GOOGL"}}, nil)

	m.TriggerUpdate(context.Background())
	require.Len(t, ref.refreshed, 1)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL"}, ref.refreshed[0])
}

func TestCadenceFollowsMarketEvents(t *testing.T) {
	m, _, _ := newTestManager(t, Config{OpenInterval: 30 * time.Second, ClosedInterval: 5 * time.Minute}, nil)

	m.OnMarketEvent(models.MarketEvent{Type: models.EventMarketOpen})
	assert.Equal(t, 30*time.Second, m.GetStatus().NextInterval)
	assert.True(t, m.GetStatus().MarketOpen)

	m.OnMarketEvent(models.MarketEvent{Type: models.EventMarketClose})
	assert.Equal(t, 5*time.Minute, m.GetStatus().NextInterval)
	assert.False(t, m.GetStatus().MarketOpen)
}

func TestReduceCadenceDoublesUntilTransition(t *testing.T) {
	m, _, _ := newTestManager(t, Config{OpenInterval: 30 * time.Second, ClosedInterval: 5 * time.Minute}, nil)
	m.setMarketOpen(true)

	m.ReduceCadence()
	assert.Equal(t, time.Minute, m.GetStatus().NextInterval)

	// The next open/close transition clears the penalty.
	m.OnMarketEvent(models.MarketEvent{Type: models.EventMarketClose})
	assert.Equal(t, 5*time.Minute, m.GetStatus().NextInterval)
}

func TestRecheckEmitsTransitionEvent(t *testing.T) {
	var emitted []models.MarketEvent
	emit := func(evt models.MarketEvent) error {
		emitted = append(emitted, evt)
		return nil
	}
	m, _, now := newTestManager(t, Config{}, emit)

	// Cached state says closed, calendar says open (Monday noon ET).
	m.setMarketOpen(false)
	m.recheckMarketState()
	require.Len(t, emitted, 1)
	assert.Equal(t, models.EventMarketOpen, emitted[0].Type)
	assert.Equal(t, models.PriorityCritical, emitted[0].Priority)

	// The emit path leaves state flipping to the event subscription.
	assert.False(t, m.GetStatus().MarketOpen)
	m.OnMarketEvent(emitted[0])
	assert.True(t, m.GetStatus().MarketOpen)

	// In agreement, nothing is emitted.
	m.recheckMarketState()
	assert.Len(t, emitted, 1)

	// After hours the close transition fires.
	*now = now.Add(8 * time.Hour)
	m.recheckMarketState()
	require.Len(t, emitted, 2)
	assert.Equal(t, models.EventMarketClose, emitted[1].Type)
}

func TestRecheckFallsBackWhenEmitRejected(t *testing.T) {
	emit := func(models.MarketEvent) error { return errors.New("rate limited") }
	m, _, _ := newTestManager(t, Config{}, emit)

	m.setMarketOpen(false)
	m.recheckMarketState()
	assert.True(t, m.GetStatus().MarketOpen)
}
