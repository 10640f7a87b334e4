package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestLog(t *testing.T, mode string) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(Config{Path: path, SyncMode: mode})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Open(Config{Path: "x.jsonl", SyncMode: "sometimes"}); err == nil {
		t.Fatal("expected error for invalid sync mode")
	}
}

func TestAppendWritesOneJSONLinePerEvent(t *testing.T) {
	l := openTestLog(t, "full")
	ctx := context.Background()

	kinds := []Kind{KindRequestCreated, KindApproved, KindExecuted}
	for i, k := range kinds {
		err := l.Append(ctx, Event{Kind: k, RunID: fmt.Sprintf("run-%d", i)})
		if err != nil {
			t.Fatalf("Append %d error: %v", i, err)
		}
	}

	f, err := os.Open(l.path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var got []Event
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(got), err)
		}
		got = append(got, e)
	}

	if len(got) != len(kinds) {
		t.Fatalf("expected %d lines, got %d", len(kinds), len(got))
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("line %d: expected kind %s, got %s", i, k, got[i].Kind)
		}
		if got[i].Timestamp.IsZero() {
			t.Errorf("line %d: timestamp not filled", i)
		}
	}
}

func TestAppendPreservesExplicitTimestamp(t *testing.T) {
	l := openTestLog(t, "none")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := l.Append(context.Background(), Event{Kind: KindApproved, Timestamp: ts}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	events, err := l.Tail(1, "asc")
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if !events[0].Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, events[0].Timestamp)
	}
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	l := openTestLog(t, "none")
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = l.Append(ctx, Event{
					Kind:  KindRequestCreated,
					RunID: fmt.Sprintf("g%d-%d", g, i),
				})
			}
		}(g)
	}
	wg.Wait()

	events, err := l.Tail(goroutines*perGoroutine+10, "asc")
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if len(events) != goroutines*perGoroutine {
		t.Fatalf("expected %d events, got %d", goroutines*perGoroutine, len(events))
	}
}

func TestTailOrderAndLimit(t *testing.T) {
	l := openTestLog(t, "full")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.Append(ctx, Event{Kind: KindApproved, RunID: fmt.Sprintf("run-%d", i)}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	asc, err := l.Tail(3, "asc")
	if err != nil {
		t.Fatalf("Tail asc error: %v", err)
	}
	if len(asc) != 3 {
		t.Fatalf("expected 3 events, got %d", len(asc))
	}
	if asc[0].RunID != "run-7" || asc[2].RunID != "run-9" {
		t.Fatalf("unexpected asc window: %s .. %s", asc[0].RunID, asc[2].RunID)
	}

	desc, err := l.Tail(3, "desc")
	if err != nil {
		t.Fatalf("Tail desc error: %v", err)
	}
	if desc[0].RunID != "run-9" || desc[2].RunID != "run-7" {
		t.Fatalf("unexpected desc window: %s .. %s", desc[0].RunID, desc[2].RunID)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	l := openTestLog(t, "batch")
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := l.Append(context.Background(), Event{Kind: KindApproved}); err == nil {
		t.Fatal("expected error appending to closed log")
	}
	// Close is idempotent.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestRecorderPreservesOrder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = r.Append(ctx, Event{Kind: KindApproved, RunID: fmt.Sprintf("run-%d", i)})
	}
	events := r.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, e := range events {
		if e.RunID != fmt.Sprintf("run-%d", i) {
			t.Fatalf("event %d out of order: %s", i, e.RunID)
		}
	}
}
