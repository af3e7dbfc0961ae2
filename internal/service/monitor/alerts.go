package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"QuotePulse/internal/domain/models"
)

// alertStore owns alert lifecycle: dedup on raise, auto-acknowledge, purge.
type alertStore struct {
	mu         sync.Mutex
	alerts     map[string]*models.Alert
	lastRaised map[string]time.Time // keyed by kind+subject

	dedupWindow time.Duration
	ackAfter    time.Duration
	purgeAfter  time.Duration

	seq uint64
	now func() time.Time
}

func newAlertStore(dedupWindow, ackAfter, purgeAfter time.Duration) *alertStore {
	return &alertStore{
		alerts:      make(map[string]*models.Alert),
		lastRaised:  make(map[string]time.Time),
		dedupWindow: dedupWindow,
		ackAfter:    ackAfter,
		purgeAfter:  purgeAfter,
		now:         time.Now,
	}
}

// Raise stores a new alert unless one of the same (kind, subject) was raised
// within the dedup window. Returns the alert and whether it was stored.
func (s *alertStore) Raise(kind models.AlertKind, subject string, severity models.Priority, message string) (*models.Alert, bool) {
	now := s.now()
	key := string(kind) + "|" + subject

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastRaised[key]; ok && now.Sub(last) < s.dedupWindow {
		return nil, false
	}

	s.seq++
	a := &models.Alert{
		ID:       fmt.Sprintf("alert-%d-%d", now.Unix(), s.seq),
		Kind:     kind,
		Severity: severity,
		Symbol:   subject,
		Message:  message,
		RaisedAt: now,
	}
	s.alerts[a.ID] = a
	s.lastRaised[key] = now
	return a, true
}

// Active returns unacknowledged alerts, newest first.
func (s *alertStore) Active() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if !a.Acknowledged {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.After(out[j].RaisedAt) })
	return out
}

// Acknowledge marks an alert handled.
func (s *alertStore) Acknowledge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false
	}
	a.Acknowledged = true
	return true
}

// housekeeping auto-acknowledges old alerts and purges ancient ones.
func (s *alertStore) housekeeping() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.alerts {
		age := now.Sub(a.RaisedAt)
		if age > s.purgeAfter {
			delete(s.alerts, id)
			continue
		}
		if !a.Acknowledged && age > s.ackAfter {
			a.Acknowledged = true
		}
	}
	for key, last := range s.lastRaised {
		if now.Sub(last) > s.purgeAfter {
			delete(s.lastRaised, key)
		}
	}
}
