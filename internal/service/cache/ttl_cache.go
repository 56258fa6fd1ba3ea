package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/repository"
	pkgcache "CapitalDash/pkg/cache"
	xlogger "CapitalDash/pkg/logger"
)

type entry struct {
	v   any
	exp time.Time
}

func (e entry) fresh(now time.Time) bool {
	return e.exp.IsZero() || now.Before(e.exp)
}

// TTLCache is an in-process key/value cache with lazy per-entry expiry.
// Expired entries stay in the map until replaced and serve as a stale
// fallback when a recompute fails with ErrUpstreamUnavailable. An optional
// shared store keeps stale copies across restarts.
type TTLCache struct {
	mu sync.RWMutex
	m  map[string]entry

	now      func() time.Time
	sf       *singleflight.Group
	store    pkgcache.Service
	ns       string
	staleTTL time.Duration
	metrics  repository.Metrics
	logger   *xlogger.Logger

	hits, misses, stale atomic.Int64
}

type Option func(*TTLCache)

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) { c.now = now }
}

// WithSingleFlight coalesces concurrent misses on one key into a single
// compute call.
func WithSingleFlight() Option {
	return func(c *TTLCache) { c.sf = &singleflight.Group{} }
}

// WithStore mirrors computed values into svc under namespace for staleTTL.
func WithStore(svc pkgcache.Service, namespace string, staleTTL time.Duration) Option {
	return func(c *TTLCache) {
		c.store = svc
		c.ns = namespace
		c.staleTTL = staleTTL
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *TTLCache) { c.metrics = m }
}

func WithLogger(l *xlogger.Logger) Option {
	return func(c *TTLCache) { c.logger = l }
}

func NewTTLCache(opts ...Option) *TTLCache {
	c := &TTLCache{m: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a fresh value. Expired entries read as absent.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || !e.fresh(c.now()) {
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) getStale(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	return e.v, ok
}

// Set stores v until now+ttl. A non-positive ttl never expires.
func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len counts entries including expired ones.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// ClearLocal wipes the in-process entries, expired ones included. The shared
// stale tier is left for fallback reads.
func (c *TTLCache) ClearLocal() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

// Clear is ClearLocal plus the shared store namespace when configured.
func (c *TTLCache) Clear(ctx context.Context) {
	c.ClearLocal()
	if c.store == nil {
		return
	}
	if err := c.store.DeleteByPattern(ctx, pkgcache.PrefixPattern(c.ns+":")); err != nil && c.logger != nil {
		c.logger.Warn("clear shared cache failed", xlogger.String("namespace", c.ns), xlogger.Error(err))
	}
}

// Stats reports lookup counters since construction.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Stale  int64 `json:"stale"`
	Size   int   `json:"size"`
}

func (c *TTLCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Stale: c.stale.Load(), Size: c.Len()}
}

func (c *TTLCache) record(result string) {
	switch result {
	case "hit":
		c.hits.Add(1)
	case "miss":
		c.misses.Add(1)
	case "stale":
		c.stale.Add(1)
	}
	if c.metrics != nil {
		c.metrics.RecordCache(result)
	}
}

func (c *TTLCache) storeKey(key string) string { return c.ns + ":" + key }

func (c *TTLCache) mirror(ctx context.Context, key string, v any) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, c.storeKey(key), v, c.staleTTL); err != nil && c.logger != nil {
		c.logger.Debug("mirror cache entry failed", xlogger.String("key", key), xlogger.Error(err))
	}
}

// GetOrCompute returns the fresh value under key or runs fn and caches its
// result for ttl. Concurrent misses may each run fn; the last write wins
// unless single-flight is enabled. When fn fails with an error wrapping
// domain.ErrUpstreamUnavailable, the last known value is returned instead.
func GetOrCompute[T any](ctx context.Context, c *TTLCache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if tv, ok := v.(T); ok {
			c.record("hit")
			return tv, nil
		}
	}
	c.record("miss")

	compute := func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v, ttl)
		c.mirror(ctx, key, v)
		return v, nil
	}

	var (
		res any
		err error
	)
	if c.sf != nil {
		res, err, _ = c.sf.Do(key, compute)
	} else {
		res, err = compute()
	}
	if err == nil {
		return res.(T), nil
	}

	var zero T
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		return zero, err
	}
	if v, ok := c.getStale(key); ok {
		if tv, ok := v.(T); ok {
			c.record("stale")
			c.warnStale(key, err)
			return tv, nil
		}
	}
	if c.store != nil {
		var tv T
		if serr := c.store.Get(ctx, c.storeKey(key), &tv); serr == nil {
			c.record("stale")
			c.warnStale(key, err)
			return tv, nil
		}
	}
	return zero, err
}

func (c *TTLCache) warnStale(key string, err error) {
	if c.logger != nil {
		c.logger.Warn("serving stale value", xlogger.String("key", key), xlogger.Error(err))
	}
}
