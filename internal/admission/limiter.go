// Package admission bounds per-key request rates with bounded total memory.
package admission

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMaxKeys is the global ceiling on distinct tracked keys.
const DefaultMaxKeys = 10000

type record struct {
	instants []time.Time
	lastSeen time.Time
	window   time.Duration
}

// Limiter enforces a trailing-window request bound per key. Total memory is
// O(maxKeys) regardless of sender cardinality: once the ceiling is exceeded,
// idle keys are evicted first, then the least-recently-active ones.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*record
	maxKeys int
	logger  *slog.Logger
	now     func() time.Time
}

// Option tweaks a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given key ceiling (0 means DefaultMaxKeys).
func New(log *slog.Logger, maxKeys int, opts ...Option) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	l := &Limiter{
		keys:    make(map[string]*record),
		maxKeys: maxKeys,
		logger:  log.With(slog.String("component", "admission_limiter")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request for key is admitted under limit requests
// per trailing window. Admitted requests are recorded; denied ones are not.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.keys[key]
	if !ok {
		rec = &record{}
		l.keys[key] = rec
	}
	rec.window = window

	cutoff := now.Add(-window)
	kept := rec.instants[:0]
	for _, t := range rec.instants {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rec.instants = kept

	if len(rec.instants) >= limit {
		rec.lastSeen = now
		return false
	}
	rec.instants = append(rec.instants, now)
	rec.lastSeen = now
	if !ok {
		l.evictLocked(now)
	}
	return true
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// evictLocked enforces the key ceiling. Keys with no activity inside their
// own window go first; if still over, least-recently-active keys follow.
// Eviction can only re-admit a burst from a key that has been idle.
func (l *Limiter) evictLocked(now time.Time) {
	if len(l.keys) <= l.maxKeys {
		return
	}
	for key, rec := range l.keys {
		if len(l.keys) <= l.maxKeys {
			return
		}
		if now.Sub(rec.lastSeen) > rec.window {
			delete(l.keys, key)
		}
	}
	if len(l.keys) <= l.maxKeys {
		return
	}

	type aged struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]aged, 0, len(l.keys))
	for key, rec := range l.keys {
		entries = append(entries, aged{key: key, lastSeen: rec.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	over := len(l.keys) - l.maxKeys
	for i := 0; i < over; i++ {
		delete(l.keys, entries[i].key)
	}
	l.logger.Debug("evicted rate-limit keys", slog.Int("evicted", over), slog.Int("tracked", len(l.keys)))
}
