package schedule

import (
	"fmt"
	"time"
)

// Calendar decides whether the exchange is open at a given instant:
// weekdays between the open and close wall-clock times in the exchange
// timezone.
type Calendar struct {
	loc       *time.Location
	openMins  int
	closeMins int
}

// NewCalendar builds a calendar from a timezone name and "15:04" open and
// close times.
func NewCalendar(tz, openTime, closeTime string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	open, err := parseClock(openTime)
	if err != nil {
		return nil, fmt.Errorf("open time: %w", err)
	}
	closeM, err := parseClock(closeTime)
	if err != nil {
		return nil, fmt.Errorf("close time: %w", err)
	}
	if open >= closeM {
		return nil, fmt.Errorf("open time %s must precede close time %s", openTime, closeTime)
	}
	return &Calendar{loc: loc, openMins: open, closeMins: closeM}, nil
}

// IsOpen reports whether t falls inside the trading window.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
