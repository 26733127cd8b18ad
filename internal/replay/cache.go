// Package replay tracks recently seen message nonces so a signed envelope
// can be accepted at most once within the clock-skew window.
package replay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultWindow        = 5 * time.Minute
	DefaultSweepInterval = 60 * time.Second
	DefaultFlushDelay    = time.Second
)

// Options configures a Cache. Zero durations fall back to defaults.
type Options struct {
	// Window is the clock-skew tolerance; nonces older than this are
	// rejected and eventually purged.
	Window time.Duration
	// SweepInterval is how often expired entries are removed.
	SweepInterval time.Duration
	// FlushDelay is the debounce interval between the first unflushed
	// mutation and the snapshot write.
	FlushDelay time.Duration
	// SnapshotPath, when set, enables snapshot persistence.
	SnapshotPath string
	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger *slog.Logger
}

type snapshot struct {
	Entries [][2]json.RawMessage `json:"entries"`
}

// Cache is a time-bounded, persisted set of seen (nonce, timestamp) pairs.
// It is safe for concurrent use; snapshot writes happen off the request path.
type Cache struct {
	mu         sync.Mutex
	seen       map[string]int64
	dirty      bool
	flushTimer *time.Timer
	destroyed  bool

	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates a Cache, loads any existing snapshot (discarding a corrupt
// one), sweeps expired entries, and starts the background sweeper.
func New(opts Options) *Cache {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		seen:      make(map[string]int64),
		opts:      opts,
		logger:    log.With(slog.String("component", "replay_cache")),
		now:       now,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	c.loadSnapshot()
	c.sweep()
	go c.sweepLoop()
	return c
}

// CheckAndStore returns true exactly once for a given nonce. It rejects
// without storing when |now - ts| exceeds the window or the nonce was seen.
func (c *Cache) CheckAndStore(nonce string, ts int64) bool {
	nowMs := c.now().UnixMilli()
	delta := nowMs - ts
	if delta < 0 {
		delta = -delta
	}
	if delta > c.opts.Window.Milliseconds() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false
	}
	if _, ok := c.seen[nonce]; ok {
		return false
	}
	c.seen[nonce] = ts
	c.markDirtyLocked()
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Destroy stops background work. With clear set, the in-memory state is
// emptied before the final synchronous flush.
func (c *Cache) Destroy(clear bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	if clear {
		c.seen = make(map[string]int64)
	}
	c.dirty = false
	data := c.encodeLocked()
	c.mu.Unlock()

	close(c.stopSweep)
	<-c.sweepDone
	c.writeSnapshot(data)
}

func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweep() {
	cutoff := c.now().UnixMilli() - c.opts.Window.Milliseconds()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	removed := 0
	for nonce, ts := range c.seen {
		if ts < cutoff {
			delete(c.seen, nonce)
			removed++
		}
	}
	if removed > 0 {
		c.markDirtyLocked()
		c.logger.Debug("swept expired nonces", slog.Int("removed", removed), slog.Int("remaining", len(c.seen)))
	}
}

// markDirtyLocked arms the debounced flush timer. Persistence is a deliberate
// latency/durability trade-off: the snapshot may lag in-memory state by up to
// FlushDelay.
func (c *Cache) markDirtyLocked() {
	if c.opts.SnapshotPath == "" || c.dirty {
		return
	}
	c.dirty = true
	c.flushTimer = time.AfterFunc(c.opts.FlushDelay, c.flush)
}

func (c *Cache) flush() {
	c.mu.Lock()
	if c.destroyed || !c.dirty {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	c.flushTimer = nil
	data := c.encodeLocked()
	c.mu.Unlock()
	c.writeSnapshot(data)
}

func (c *Cache) encodeLocked() []byte {
	entries := make([][2]json.RawMessage, 0, len(c.seen))
	for nonce, ts := range c.seen {
		rawNonce, err := json.Marshal(nonce)
		if err != nil {
			continue
		}
		rawTS, err := json.Marshal(ts)
		if err != nil {
			continue
		}
		entries = append(entries, [2]json.RawMessage{rawNonce, rawTS})
	}
	data, err := json.Marshal(snapshot{Entries: entries})
	if err != nil {
		c.logger.Warn("encode snapshot failed", slog.Any("error", err))
		return nil
	}
	return data
}

// writeSnapshot writes to a temp file and renames it into place so a crash
// mid-write never corrupts the on-disk snapshot.
func (c *Cache) writeSnapshot(data []byte) {
	path := c.opts.SnapshotPath
	if path == "" || data == nil {
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn("create snapshot dir failed", slog.Any("error", err))
			return
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		c.logger.Warn("write snapshot failed", slog.Any("error", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Warn("rename snapshot failed", slog.Any("error", err))
	}
}

func (c *Cache) loadSnapshot() {
	path := c.opts.SnapshotPath
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("read snapshot failed", slog.Any("error", err))
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is discarded rather than failing startup.
		c.logger.Warn("discarding corrupt snapshot", slog.Any("error", err))
		return
	}
	for _, entry := range snap.Entries {
		var nonce string
		var ts int64
		if err := json.Unmarshal(entry[0], &nonce); err != nil {
			continue
		}
		if err := json.Unmarshal(entry[1], &ts); err != nil {
			continue
		}
		if nonce == "" {
			continue
		}
		c.seen[nonce] = ts
	}
	c.logger.Info("loaded replay snapshot", slog.Int("entries", len(c.seen)), slog.String("path", path))
}

// String implements fmt.Stringer for diagnostics.
func (c *Cache) String() string {
	return fmt.Sprintf("replay.Cache(entries=%d)", c.Len())
}
