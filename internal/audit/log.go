// Package audit provides an ordered, durable, rotating append-only event
// stream for the admission pipeline. Writes never block the request path and
// write failures never propagate to callers.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusError  = "error"

	DefaultMaxBytes  int64 = 50 * 1024 * 1024
	DefaultRetention       = 5
	defaultQueueSize       = 1024
)

// Event is one audit record. Events for a single request preserve causal
// order in the log; records are append-only.
type Event struct {
	TS        string         `json:"ts"`
	RequestID string         `json:"requestId"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// Options configures a Log.
type Options struct {
	// Path is the live append-only file. Rotations live next to it as
	// <path>.1.gz .. <path>.<retention>.gz, newest first.
	Path string
	// MaxBytes triggers rotation once the live file reaches it.
	MaxBytes int64
	// Retention is the number of compressed rotation files kept.
	Retention int
	// QueueSize bounds the in-flight write queue.
	QueueSize int

	Logger *slog.Logger
}

type entry struct {
	event Event
	flush chan struct{}
}

// Log serializes appends through one ordered queue so concurrent writers
// never interleave or reorder on disk.
type Log struct {
	opts      Options
	logger    *slog.Logger
	ch        chan entry
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the log directory and starts the writer goroutine.
func New(opts Options) (*Log, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	l := &Log{
		opts:   opts,
		logger: log.With(slog.String("component", "audit_log")),
		ch:     make(chan entry, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Write enqueues the event for durable append without blocking the caller.
// When the queue is full the event is dropped and reported to the fallback
// diagnostic channel; audit logging is best-effort by design of the caller's
// success path.
func (l *Log) Write(event Event) {
	if event.TS == "" {
		event.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.ch <- entry{event: event}:
	case <-l.done:
		l.logger.Warn("audit write after close", slog.String("action", event.Action))
	default:
		l.logger.Warn("audit queue full, dropping event",
			slog.String("action", event.Action),
			slog.String("request_id", event.RequestID),
		)
	}
}

// Flush blocks until every previously enqueued write has completed.
func (l *Log) Flush() {
	marker := entry{flush: make(chan struct{})}
	select {
	case l.ch <- marker:
		<-marker.flush
	case <-l.done:
	}
}

// Close flushes pending writes and stops the writer goroutine.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		l.Flush()
		close(l.done)
	})
}

// QueueDepth returns the number of events waiting for the writer.
func (l *Log) QueueDepth() int {
	return len(l.ch)
}

func (l *Log) run() {
	for {
		select {
		case e := <-l.ch:
			l.handle(e)
		case <-l.done:
			// Drain whatever arrived before close.
			for {
				select {
				case e := <-l.ch:
					l.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) handle(e entry) {
	if e.flush != nil {
		close(e.flush)
		return
	}
	if err := l.append(e.event); err != nil {
		l.logger.Warn("audit append failed", slog.Any("error", err), slog.String("action", e.event.Action))
	}
}

func (l *Log) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if info, err := os.Stat(l.opts.Path); err == nil && info.Size() >= l.opts.MaxBytes {
		if err := l.rotate(); err != nil {
			l.logger.Warn("audit rotation failed", slog.Any("error", err))
		}
	}
	f, err := os.OpenFile(l.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// rotate compresses the live file into slot 1, shifting older slots down and
// discarding anything beyond the retention count.
func (l *Log) rotate() error {
	oldest := l.rotationPath(l.opts.Retention)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drop oldest rotation: %w", err)
	}
	for i := l.opts.Retention - 1; i >= 1; i-- {
		from := l.rotationPath(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, l.rotationPath(i+1)); err != nil {
			return fmt.Errorf("shift rotation %d: %w", i, err)
		}
	}
	if err := l.compressLive(l.rotationPath(1)); err != nil {
		return err
	}
	if err := os.Truncate(l.opts.Path, 0); err != nil {
		return fmt.Errorf("truncate live log: %w", err)
	}
	return nil
}

func (l *Log) compressLive(dest string) error {
	src, err := os.Open(l.opts.Path)
	if err != nil {
		return fmt.Errorf("open live log: %w", err)
	}
	defer src.Close()

	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create rotation: %w", err)
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		out.Close()
		return fmt.Errorf("compress rotation: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish rotation: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close rotation: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("place rotation: %w", err)
	}
	return nil
}

func (l *Log) rotationPath(slot int) string {
	return fmt.Sprintf("%s.%d.gz", l.opts.Path, slot)
}
