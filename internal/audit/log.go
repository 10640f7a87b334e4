package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Appender is the sink interface components emit audit events through.
// An append that returns nil must mean the event durably landed: callers
// treat append failure as failure of the whole operation.
type Appender interface {
	Append(ctx context.Context, e Event) error
}

const defaultSyncInterval = 10 * time.Millisecond

// Config holds configuration for the file-backed audit log.
type Config struct {
	Path         string        // Audit file path. Required.
	SyncMode     string        // "full", "batch", "none". Default: "batch".
	SyncInterval time.Duration // Sync interval for batch mode. Default: 10ms.
}

// Log is the file-backed audit trail. Events are serialized one JSON object
// per line and written under a mutex, so concurrent appends never interleave
// partial writes and on-disk order is a valid linearization of append calls.
type Log struct {
	path     string
	syncMode string

	mu   sync.Mutex
	file *os.File

	appended atomic.Int64

	// Batch sync goroutine.
	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

// Open opens (or creates) the audit log for appending.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: path is required")
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = "batch"
	}
	switch cfg.SyncMode {
	case "full", "batch", "none":
	default:
		return nil, fmt.Errorf("audit: invalid sync mode %q (must be full, batch, or none)", cfg.SyncMode)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}

	l := &Log{
		path:     cfg.Path,
		syncMode: cfg.SyncMode,
		file:     f,
	}

	if cfg.SyncMode == "batch" {
		ctx, cancel := context.WithCancel(context.Background())
		l.syncCancel = cancel
		l.syncDone = make(chan struct{})
		go l.syncLoop(ctx, cfg.SyncInterval)
	}

	l.registerMetrics()
	return l, nil
}

// Append attaches a timestamp, serializes, and durably appends one event.
// The write is atomic with respect to concurrent appenders.
func (l *Log) Append(_ context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit: log is closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	if l.syncMode == "full" {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("audit: fsync: %w", err)
		}
	}
	l.appended.Add(1)
	return nil
}

// Tail returns up to n events from the end of the log, oldest first when
// order is "asc", newest first otherwise. Only the operational summary
// endpoint reads the log back; the core treats it as write-only.
func (l *Log) Tail(n int, order string) ([]Event, error) {
	if n <= 0 {
		n = 500
	}

	l.mu.Lock()
	// Make buffered lines visible to the reader before scanning.
	if l.file != nil && l.syncMode != "none" {
		_ = l.file.Sync()
	}
	l.mu.Unlock()

	f, err := os.Open(l.path) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("audit: open log for tail: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// A torn final line can only come from a crash mid-write; skip it.
			continue
		}
		events = append(events, e)
		if len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}

	if order != "asc" {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

// Close syncs and closes the log file. Stops the batch sync goroutine.
func (l *Log) Close() error {
	if l.syncCancel != nil {
		l.syncCancel()
		<-l.syncDone
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("audit: final sync: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Log) syncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(l.syncDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.file != nil {
				_ = l.file.Sync()
			}
			l.mu.Unlock()
		}
	}
}

// registerMetrics registers OTEL metrics for audit log health monitoring.
func (l *Log) registerMetrics() {
	meter := otel.GetMeterProvider().Meter("sekimori/audit")

	_, _ = meter.Int64ObservableCounter("sekimori.audit.appended",
		metric.WithDescription("Events appended to the audit log since start"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(l.appended.Load())
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("sekimori.audit.file_bytes",
		metric.WithDescription("Current size of the audit log file"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			info, err := os.Stat(l.path)
			if err != nil {
				return nil //nolint:nilerr // gauge is best-effort
			}
			o.Observe(info.Size())
			return nil
		}),
	)
}

// Recorder is an in-memory Appender for tests. It preserves append order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Append implements Appender.
func (r *Recorder) Append(_ context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of all recorded events in append order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
