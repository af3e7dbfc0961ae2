package quotecache

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/pkg/logger"
)

// SetOptions steers TTL computation for one write.
type SetOptions struct {
	// TTLHint overrides the cache-wide base TTL before the adaptive
	// multipliers are applied. Zero means use the base.
	TTLHint    time.Duration
	Priority   models.Priority
	Tags       []string
	Confidence float64
	Strategy   models.UpdateStrategy
}

// Meta describes the returned payload's freshness.
type Meta struct {
	AgeMs          int64
	IsStale        bool
	FreshnessScore float64 // [0,100], relative to the entry's TTL
	AccessCount    int64
	StoredAt       time.Time
}

// Stats is a point-in-time cache summary.
type Stats struct {
	Hits       uint64
	Misses     uint64
	HitRate    float64
	EntryCount int
	Evictions  uint64
	// Staleness buckets live entries into fresh vs stale.
	Staleness map[string]int
}

type entry[T any] struct {
	payload      T
	storedAt     time.Time
	ttl          time.Duration
	priority     models.Priority
	tags         map[string]struct{}
	confidence   float64
	accessCount  int64
	lastAccessAt time.Time
	stale        bool
}

// Cache is a bounded in-process store with per-write adaptive TTL,
// priority-weighted eviction, and staleness tagging. A single mutex guards
// the map; nothing expensive ever happens under it.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]

	capacity           int
	baseTTL            time.Duration
	minTTL             time.Duration
	maxTTL             time.Duration
	stalenessThreshold time.Duration
	cleanupInterval    time.Duration

	// marketOpen lets TTL computation halve expiries during trading hours.
	marketOpen func(time.Time) bool
	now        func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64

	log     *logger.Logger
	metrics repository.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

func WithCapacity[T any](n int) Option[T] {
	return func(c *Cache[T]) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithBaseTTL[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if d > 0 {
			c.baseTTL = d
		}
	}
}

func WithTTLBounds[T any](min, max time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if min > 0 && max >= min {
			c.minTTL, c.maxTTL = min, max
		}
	}
}

func WithStalenessThreshold[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if d > 0 {
			c.stalenessThreshold = d
		}
	}
}

func WithCleanupInterval[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithMarketHours installs the trading-hours predicate used by TTL
// computation.
func WithMarketHours[T any](open func(time.Time) bool) Option[T] {
	return func(c *Cache[T]) { c.marketOpen = open }
}

func WithLogger[T any](l *logger.Logger) Option[T] {
	return func(c *Cache[T]) { c.log = l.Named("cache") }
}

func WithMetrics[T any](m repository.Metrics) Option[T] {
	return func(c *Cache[T]) { c.metrics = m }
}

// New creates a cache. Start must be called to run the cleanup sweep.
func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries:            make(map[string]*entry[T]),
		capacity:           500,
		baseTTL:            5 * time.Minute,
		minTTL:             30 * time.Second,
		maxTTL:             30 * time.Minute,
		stalenessThreshold: 5 * time.Minute,
		cleanupInterval:    2 * time.Minute,
		marketOpen:         func(time.Time) bool { return false },
		now:                time.Now,
		log:                logger.Nop(),
		stopCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores payload under key, computing the entry's TTL from the write
// options and the current market state.
func (c *Cache[T]) Set(key string, payload T, o SetOptions) {
	ttl := c.computeTTL(o)
	now := c.now()

	tags := make(map[string]struct{}, len(o.Tags))
	for _, t := range o.Tags {
		tags[t] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLowestValueLocked(now)
	}
	c.entries[key] = &entry[T]{
		payload:      payload,
		storedAt:     now,
		ttl:          ttl,
		priority:     o.Priority,
		tags:         tags,
		confidence:   o.Confidence,
		lastAccessAt: now,
	}
}

// Get returns the payload and its freshness metadata. Expired entries are
// removed and reported as a miss; stale-but-unexpired entries are returned
// with Meta.IsStale set.
func (c *Cache[T]) Get(key string) (*T, Meta) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.recordAccess(false)
		return nil, Meta{}
	}

	age := now.Sub(e.storedAt)
	if age > e.ttl {
		delete(c.entries, key)
		c.misses++
		c.recordAccess(false)
		return nil, Meta{}
	}

	e.accessCount++
	e.lastAccessAt = now
	c.hits++
	c.recordAccess(true)

	score := 100 * (1 - float64(age)/float64(e.ttl))
	if score < 0 {
		score = 0
	}
	payload := e.payload
	return &payload, Meta{
		AgeMs:          age.Milliseconds(),
		IsStale:        e.stale || age > c.stalenessThreshold,
		FreshnessScore: score,
		AccessCount:    e.accessCount,
		StoredAt:       e.storedAt,
	}
}

// InvalidateByTag removes every entry carrying tag and reports how many went.
func (c *Cache[T]) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if _, ok := e.tags[tag]; ok {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// InvalidateByPattern removes entries whose key matches the regular
// expression.
func (c *Cache[T]) InvalidateByPattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if re.MatchString(key) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear drops all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
}

// Keys returns the live keys.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats summarizes hit rate and staleness distribution.
func (c *Cache[T]) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	hist := map[string]int{"fresh": 0, "stale": 0}
	for _, e := range c.entries {
		if e.stale || now.Sub(e.storedAt) > c.stalenessThreshold {
			hist["stale"]++
		} else {
			hist["fresh"]++
		}
	}

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
		EntryCount: len(c.entries),
		Evictions:  c.evictions,
		Staleness:  hist,
	}
}

// Start runs the periodic cleanup sweep until Stop is called.
func (c *Cache[T]) Start() {
	go func() {
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				removed, flagged := c.sweep()
				if removed > 0 || flagged > 0 {
					c.log.Debug("cleanup sweep",
						logger.Int("removed", removed),
						logger.Int("flagged_stale", flagged))
				}
			}
		}
	}()
}

// Stop terminates the cleanup sweep.
func (c *Cache[T]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// sweep removes expired entries and flags stale ones in place. Stale entries
// stay servable so readers get old data plus a flag instead of a miss.
func (c *Cache[T]) sweep() (removed, flagged int) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		age := now.Sub(e.storedAt)
		switch {
		case age > e.ttl:
			delete(c.entries, key)
			removed++
		case !e.stale && age > c.stalenessThreshold:
			e.stale = true
			flagged++
		}
	}
	return removed, flagged
}

// computeTTL applies the adaptive multipliers:
// base × (0.5+confidence) × priority × strategy × market-hours, clamped.
func (c *Cache[T]) computeTTL(o SetOptions) time.Duration {
	base := c.baseTTL
	if o.TTLHint > 0 {
		base = o.TTLHint
	}

	conf := o.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	ttl := float64(base)
	ttl *= 0.5 + conf
	ttl *= priorityTTLFactor(o.Priority)
	ttl *= strategyTTLFactor(o.Strategy)
	if c.marketOpen(c.now()) {
		ttl *= 0.5
	}

	d := time.Duration(ttl)
	if d < c.minTTL {
		return c.minTTL
	}
	if d > c.maxTTL {
		return c.maxTTL
	}
	return d
}

func priorityTTLFactor(p models.Priority) float64 {
	switch p {
	case models.PriorityCritical:
		return 0.3
	case models.PriorityHigh:
		return 0.7
	case models.PriorityLow:
		return 2.0
	default:
		return 1.0
	}
}

func strategyTTLFactor(s models.UpdateStrategy) float64 {
	switch s {
	case models.StrategyAggressive:
		return 0.4
	case models.StrategyLazy:
		return 3.0
	default:
		return 1.0
	}
}

// evictLowestValueLocked drops the entry with the smallest value score.
// Caller holds the lock.
func (c *Cache[T]) evictLowestValueLocked(now time.Time) {
	var victim string
	lowest := 0.0
	first := true
	for key, e := range c.entries {
		s := c.valueScore(e, now)
		if first || s < lowest {
			victim, lowest, first = key, s, false
		}
	}
	if victim == "" {
		return
	}
	delete(c.entries, victim)
	c.evictions++
	if c.metrics != nil {
		c.metrics.RecordEviction()
	}
	c.log.Debug("evicted entry", logger.String("key", victim), logger.Float64("score", lowest))
}

// valueScore rewards frequently accessed, high-priority, confident, recently
// touched, fresh entries. The lowest-scoring entry is evicted first.
func (c *Cache[T]) valueScore(e *entry[T], now time.Time) float64 {
	ageMin := now.Sub(e.storedAt).Minutes()
	if ageMin < 1 {
		ageMin = 1
	}
	accessPerMin := float64(e.accessCount) / ageMin

	stalenessRatio := float64(now.Sub(e.storedAt)) / float64(c.stalenessThreshold)
	if stalenessRatio > 1 {
		stalenessRatio = 1
	}

	recencyPenalty := float64(now.Sub(e.lastAccessAt)) / float64(10*time.Minute)
	if recencyPenalty > 1 {
		recencyPenalty = 1
	}

	return priorityWeight(e.priority) *
		(1 + accessPerMin*2) *
		(1 - 0.5*stalenessRatio) *
		(1 - 0.3*recencyPenalty) *
		(0.5 + 0.5*e.confidence)
}

func priorityWeight(p models.Priority) float64 {
	switch p {
	case models.PriorityCritical:
		return 4
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 2
	default:
		return 1
	}
}

func (c *Cache[T]) recordAccess(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheAccess(hit)
	}
}
