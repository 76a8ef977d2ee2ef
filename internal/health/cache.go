// Package health caches per-provider availability.
//
// A cached flag is served until it is older than the staleness window; after
// that the next lookup probes the provider (bounded by a short probe timeout)
// and caches the outcome, failures included, so a dead backend is not
// hammered by every request.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prober checks a provider's liveness endpoint.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Status is a point-in-time snapshot of one provider's health record.
type Status struct {
	Provider      string     `json:"provider"`
	Available     bool       `json:"available"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Stale         bool       `json:"stale"`
	LastError     string     `json:"lastError,omitempty"`
}

type entry struct {
	available bool
	checkedAt time.Time
	lastErr   string
}

// Cache holds availability per provider.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	probers map[string]Prober

	staleAfter   time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache with the given staleness window and probe timeout.
func NewCache(staleAfter, probeTimeout time.Duration, opts ...Option) *Cache {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	c := &Cache{
		entries:      make(map[string]entry),
		probers:      make(map[string]Prober),
		staleAfter:   staleAfter,
		probeTimeout: probeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a prober for a provider. Call before serving traffic.
func (c *Cache) Register(id string, p Prober) {
	c.mu.Lock()
	c.probers[id] = p
	c.mu.Unlock()
}

// StaleAfter returns the staleness window.
func (c *Cache) StaleAfter() time.Duration { return c.staleAfter }

// IsAvailable returns the cached flag while fresh, otherwise probes.
// Providers without a prober are always available.
func (c *Cache) IsAvailable(ctx context.Context, id string) bool {
	c.mu.RLock()
	p, ok := c.probers[id]
	e, seen := c.entries[id]
	c.mu.RUnlock()

	if !ok {
		return true
	}
	if seen && c.now().Sub(e.checkedAt) < c.staleAfter {
		return e.available
	}
	return c.refresh(ctx, id, p)
}

// refresh probes id, collapsing concurrent probes for the same provider.
func (c *Cache) refresh(ctx context.Context, id string, p Prober) bool {
	v, _, _ := c.group.Do(id, func() (interface{}, error) {
		// Another caller may have refreshed while we waited for the group.
		c.mu.RLock()
		e, seen := c.entries[id]
		c.mu.RUnlock()
		if seen && c.now().Sub(e.checkedAt) < c.staleAfter {
			return e.available, nil
		}

		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.probeTimeout)
		defer cancel()

		err := p.HealthCheck(probeCtx)
		c.record(id, err)
		return err == nil, nil
	})
	return v.(bool)
}

func (c *Cache) record(id string, err error) {
	e := entry{available: err == nil, checkedAt: c.now()}
	if err != nil {
		e.lastErr = err.Error()
	}

	c.mu.Lock()
	prev, seen := c.entries[id]
	c.entries[id] = e
	c.mu.Unlock()

	if !seen || prev.available != e.available {
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("provider", id).Bool("available", e.available).Msg("Provider health changed")
	}
}

// Report records a passive observation made outside a probe, e.g. a
// refused connection during a real request.
func (c *Cache) Report(id string, err error) {
	c.mu.RLock()
	_, ok := c.probers[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.record(id, err)
}

// Warm probes every registered provider in the background. It returns
// immediately.
func (c *Cache) Warm(ctx context.Context) {
	c.mu.RLock()
	ids := make(map[string]Prober, len(c.probers))
	for id, p := range c.probers {
		ids[id] = p
	}
	c.mu.RUnlock()

	for id, p := range ids {
		go c.refresh(ctx, id, p)
	}
}

// Snapshot returns the status of every registered provider, sorted by name.
func (c *Cache) Snapshot() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]Status, 0, len(c.probers))
	for id := range c.probers {
		s := Status{Provider: id, Stale: true}
		if e, ok := c.entries[id]; ok {
			t := e.checkedAt
			s.Available = e.available
			s.LastCheckedAt = &t
			s.Stale = now.Sub(e.checkedAt) >= c.staleAfter
			s.LastError = e.lastErr
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
