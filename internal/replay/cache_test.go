package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	c := New(opts)
	t.Cleanup(func() { c.Destroy(false) })
	return c
}

func TestCheckAndStoreAcceptsOnce(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	ts := time.Now().UnixMilli()

	assert.True(t, c.CheckAndStore("n1", ts))
	assert.False(t, c.CheckAndStore("n1", ts))
	assert.False(t, c.CheckAndStore("n1", time.Now().UnixMilli()))
	assert.True(t, c.CheckAndStore("n2", ts))
}

func TestCheckAndStoreClockSkewBoundary(t *testing.T) {
	t.Parallel()

	base := time.Now()
	c := newTestCache(t, Options{
		Window: 5 * time.Minute,
		Now:    func() time.Time { return base },
	})
	nowMs := base.UnixMilli()
	windowMs := (5 * time.Minute).Milliseconds()

	assert.True(t, c.CheckAndStore("past-edge", nowMs-windowMs+1), "one ms inside the window")
	assert.True(t, c.CheckAndStore("past-exact", nowMs-windowMs), "exactly at the window")
	assert.False(t, c.CheckAndStore("past-out", nowMs-windowMs-1), "one ms beyond the window")

	assert.True(t, c.CheckAndStore("future-edge", nowMs+windowMs-1))
	assert.False(t, c.CheckAndStore("future-out", nowMs+windowMs+1))
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := newTestCache(t, Options{
		Window: time.Minute,
		Now:    func() time.Time { return now },
	})
	require.True(t, c.CheckAndStore("fresh", now.UnixMilli()))
	require.True(t, c.CheckAndStore("old", now.UnixMilli()-30_000))
	assert.Equal(t, 2, c.Len())

	now = now.Add(45 * time.Second)
	c.sweep()
	assert.Equal(t, 1, c.Len(), "only the stale nonce is purged")
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")
	ts := time.Now().UnixMilli()

	c := New(Options{SnapshotPath: path, SweepInterval: time.Hour})
	require.True(t, c.CheckAndStore("n1", ts))
	require.True(t, c.CheckAndStore("n2", ts))
	c.Destroy(false)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap struct {
		Entries [][2]json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Len(t, snap.Entries, 2)

	reloaded := newTestCache(t, Options{SnapshotPath: path})
	assert.Equal(t, 2, reloaded.Len())
	assert.False(t, reloaded.CheckAndStore("n1", ts), "persisted nonce still rejected after restart")
}

func TestCorruptSnapshotDiscarded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	c := newTestCache(t, Options{SnapshotPath: path})
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.CheckAndStore("n1", time.Now().UnixMilli()))
}

func TestSnapshotLoadSweepsExpired(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")
	now := time.Now()

	c := New(Options{SnapshotPath: path, Window: time.Minute, SweepInterval: time.Hour})
	require.True(t, c.CheckAndStore("n1", now.UnixMilli()))
	c.Destroy(false)

	later := now.Add(10 * time.Minute)
	reloaded := newTestCache(t, Options{
		SnapshotPath: path,
		Window:       time.Minute,
		Now:          func() time.Time { return later },
	})
	assert.Equal(t, 0, reloaded.Len(), "expired entries dropped at load")
}

func TestDestroyClearFlushesEmptyState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")

	c := New(Options{SnapshotPath: path, SweepInterval: time.Hour})
	require.True(t, c.CheckAndStore("n1", time.Now().UnixMilli()))
	c.Destroy(true)

	reloaded := newTestCache(t, Options{SnapshotPath: path})
	assert.Equal(t, 0, reloaded.Len())
}

func TestDebouncedFlushWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")

	c := newTestCache(t, Options{SnapshotPath: path, FlushDelay: 10 * time.Millisecond})
	require.True(t, c.CheckAndStore("n1", time.Now().UnixMilli()))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentCheckAndStore(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	ts := time.Now().UnixMilli()

	const workers = 32
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			results <- c.CheckAndStore("contested", ts)
		}()
	}
	accepted := 0
	for i := 0; i < workers; i++ {
		if <-results {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "a nonce is admitted exactly once under contention")
}
