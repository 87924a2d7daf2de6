package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/port/executor"
)

// mockRunStore keeps encoded checkpoints in memory so every read goes
// through the codec like the real stores.
type mockRunStore struct {
	mu      sync.Mutex
	rows    map[string][]byte
	saves   int
	saveErr error
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{rows: make(map[string][]byte)}
}

func (m *mockRunStore) SaveRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := run.Encode(r)
	if err != nil {
		return err
	}
	m.rows[r.ID] = data
	m.saves++
	return nil
}

func (m *mockRunStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	data, ok := m.rows[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run.Decode(data)
}

func (m *mockRunStore) FindRunByIdempotencyKey(ctx context.Context, key string) (*run.Run, error) {
	for _, r := range m.all() {
		if r.IdempotencyKey == key {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("idempotency key %s: %w", key, domain.ErrNotFound)
}

func (m *mockRunStore) ListRuns(_ context.Context, f database.RunFilter) ([]run.Run, error) {
	var out []run.Run
	for _, r := range m.all() {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockRunStore) ListRunIDs(_ context.Context, statuses ...run.Status) ([]string, error) {
	list := m.all()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	var ids []string
	for _, r := range list {
		if hasStatus(statuses, r.Status) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (m *mockRunStore) DeleteTerminalRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, data := range m.rows {
		r, err := run.Decode(data)
		if err != nil {
			continue
		}
		if r.Status.IsTerminal() && r.UpdatedAt.Before(cutoff) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRunStore) Ping(context.Context) error { return nil }

func (m *mockRunStore) all() []run.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]run.Run, 0, len(m.rows))
	for _, data := range m.rows {
		if r, err := run.Decode(data); err == nil {
			out = append(out, *r)
		}
	}
	return out
}

func (m *mockRunStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func hasStatus(list []run.Status, s run.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mockEventStore records appended events.
type mockEventStore struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *mockEventStore) Append(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockEventStore) LoadByRun(_ context.Context, runID string, limit int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockEventStore) types(runID string) []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Type
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// mockBroadcaster records broadcast event types.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastedEvent
}

type broadcastedEvent struct {
	EventType string
	Data      any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastedEvent{EventType: eventType, Data: data})
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// recordingExecutor completes every phase with a payload echoing the input
// and records the inputs it received.
type recordingExecutor struct {
	mu     sync.Mutex
	inputs []run.PhaseInput
	cost   float64
	// fail makes the first fail[phase] attempts of a phase fail.
	fail map[string]int
}

func (e *recordingExecutor) Execute(_ context.Context, _ *run.Run, in run.PhaseInput) (*run.PhaseOutput, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	failing := e.fail[in.Phase] > 0
	if failing {
		e.fail[in.Phase]--
	}
	e.mu.Unlock()

	if failing {
		return nil, errors.New("collaborator unavailable")
	}
	payload, _ := json.Marshal(map[string]any{
		"phase":    in.Phase,
		"attempt":  in.Attempt,
		"feedback": in.Feedback,
	})
	return &run.PhaseOutput{Payload: payload, CostUSD: e.cost}, nil
}

func (e *recordingExecutor) calls(phase string) []run.PhaseInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []run.PhaseInput
	for _, in := range e.inputs {
		if in.Phase == phase {
			out = append(out, in)
		}
	}
	return out
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDriverConfig() DriverConfig {
	return DriverConfig{
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		ReviewTimeout:        time.Minute,
	}
}

// reviewPhases mirrors the head of the production pipeline.
func reviewPhases() []run.PhaseSpec {
	return []run.PhaseSpec{
		{Name: "research", Review: true},
		{Name: "planning", Review: true},
		{Name: "script_writing", Review: true},
		{Name: "assembly"},
	}
}

func newTestRun(t *testing.T, phases []run.PhaseSpec, maxCost float64) *run.Run {
	t.Helper()
	r, err := run.New(&run.StartRequest{
		InputKind:    "prompt",
		InputPayload: json.RawMessage(`{"prompt":"X"}`),
	}, "test", phases, maxCost, testStart)
	if err != nil {
		t.Fatalf("run.New: %v", err)
	}
	return r
}

type driverFixture struct {
	driver *Driver
	store  *mockRunStore
	events *mockEventStore
	hub    *mockBroadcaster
	gate   *ReviewGate
	exec   *recordingExecutor
}

func newDriverFixture(t *testing.T, fallback run.TimeoutFallback) *driverFixture {
	t.Helper()
	f := &driverFixture{
		store:  newMockRunStore(),
		events: &mockEventStore{},
		hub:    &mockBroadcaster{},
		exec:   &recordingExecutor{fail: map[string]int{}},
	}
	f.gate = NewReviewGate(fallback, f.hub)
	f.driver = NewDriver(testDriverConfig(), f.store, executor.NewRegistry(f.exec), f.gate, NewEventEmitter(f.events, f.hub))
	return f
}

// advanceUntil calls Advance until the directive is not Continue.
func advanceUntil(t *testing.T, d *Driver, r *run.Run) Directive {
	t.Helper()
	for range 50 {
		dir, err := d.Advance(context.Background(), r)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if dir != Continue {
			return dir
		}
	}
	t.Fatal("run did not settle")
	return Terminal
}
