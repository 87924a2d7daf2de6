package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records and the attrs bound through WithAttrs.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	bound   []slog.Attr
	delay   time.Duration
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}, delay: delay}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	rec = rec.Clone()
	rec.AddAttrs(h.bound...)
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.bound = append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &c
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) snapshot() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), *h.records...)
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_ConcurrentWritesFlushOnClose(t *testing.T) {
	const goroutines, perGoroutine = 50, 100
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, goroutines*perGoroutine, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), record(slog.LevelInfo, "phase attempt"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.snapshot()); got != goroutines*perGoroutine {
		t.Fatalf("expected %d records, got %d", goroutines*perGoroutine, got)
	}
}

func TestAsyncHandler_DropsInfoKeepsWarn(t *testing.T) {
	inner := newRecordingHandler(5 * time.Millisecond)
	ah := NewAsyncHandler(inner, 1, 1)

	for range 30 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "flood"))
	}
	for range 5 {
		_ = ah.Handle(context.Background(), record(slog.LevelError, "phase failed"))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped on a full queue")
	}
	var errorsSeen int
	var summary bool
	for _, rec := range inner.snapshot() {
		switch rec.Message {
		case "phase failed":
			errorsSeen++
		case "async logger dropped records":
			summary = true
		}
	}
	if errorsSeen != 5 {
		t.Errorf("error records = %d, want all 5", errorsSeen)
	}
	if !summary {
		t.Error("expected a dropped-records summary on close")
	}
}

func TestAsyncHandler_WithAttrsKeepsBoundAttrs(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)

	child := ah.WithAttrs([]slog.Attr{slog.String("component", "driver")})
	_ = child.Handle(context.Background(), record(slog.LevelInfo, "bound"))
	ah.Close()

	recs := inner.snapshot()
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	var found bool
	recs[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && a.Value.String() == "driver" {
			found = true
		}
		return true
	})
	if !found {
		t.Error("attrs bound with WithAttrs must survive the queue")
	}
}

func TestAsyncHandler_ContextIDsAndLateWrites(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)

	ctx := WithRunID(WithRequestID(context.Background(), "req-7"), "run-7")
	_ = ah.Handle(ctx, record(slog.LevelInfo, "queued"))
	ah.Close()
	ah.Close()
	_ = ah.Handle(ctx, record(slog.LevelInfo, "after close"))

	recs := inner.snapshot()
	if len(recs) != 2 || recs[1].Message != "after close" {
		t.Fatalf("records = %+v", recs)
	}
	keys := map[string]string{}
	recs[0].Attrs(func(a slog.Attr) bool {
		keys[a.Key] = a.Value.String()
		return true
	})
	if keys["request_id"] != "req-7" || keys["run_id"] != "run-7" {
		t.Errorf("context attrs = %v", keys)
	}
}
