package natsexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/messagequeue"
)

// replyQueue answers every request with reply or err and records it.
type replyQueue struct {
	reply   []byte
	err     error
	subject string
	request messagequeue.PhaseExecuteRequest
	timeout time.Duration
}

func (q *replyQueue) Publish(context.Context, string, []byte) error { return nil }
func (q *replyQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *replyQueue) Request(_ context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	q.subject = subject
	q.timeout = timeout
	if err := json.Unmarshal(data, &q.request); err != nil {
		return nil, err
	}
	return q.reply, q.err
}
func (q *replyQueue) Drain() error      { return nil }
func (q *replyQueue) Close() error      { return nil }
func (q *replyQueue) IsConnected() bool { return true }

func input() run.PhaseInput {
	return run.PhaseInput{
		RunID:         "run-1",
		Phase:         "script_writing",
		Attempt:       2,
		InputKind:     "prompt",
		InputPayload:  json.RawMessage(`{"prompt":"x"}`),
		Feedback:      "punchier",
		Modifications: json.RawMessage(`{"tone":"bold"}`),
		Revision:      1,
		Prior:         map[string]json.RawMessage{"research": json.RawMessage(`{"facts":1}`)},
	}
}

func TestExecute_Completed(t *testing.T) {
	t.Parallel()
	q := &replyQueue{reply: []byte(`{"payload":{"script":"..."},"cost_usd":0.25}`)}
	e := New(q, 30*time.Second)

	out, err := e.Execute(context.Background(), nil, input())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != run.PhaseCompleted || out.CostUSD != 0.25 || out.PhaseName != "script_writing" {
		t.Fatalf("out = %+v", out)
	}
	if q.subject != "phases.execute.script_writing" || q.timeout != 30*time.Second {
		t.Errorf("subject=%s timeout=%v", q.subject, q.timeout)
	}
	if q.request.Feedback != "punchier" || q.request.Revision != 1 || string(q.request.Prior["research"]) != `{"facts":1}` {
		t.Errorf("request = %+v", q.request)
	}
}

func TestExecute_WorkerError(t *testing.T) {
	t.Parallel()
	e := New(&replyQueue{reply: []byte(`{"error":"model overloaded","cost_usd":0.01}`)}, time.Second)

	out, err := e.Execute(context.Background(), nil, input())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != run.PhaseFailed || out.Error != "model overloaded" {
		t.Fatalf("out = %+v", out)
	}
}

func TestExecute_TransportAndReplyErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		q    *replyQueue
	}{
		{"no responders", &replyQueue{err: errors.New("no workers")}},
		{"garbage reply", &replyQueue{reply: []byte(`nope`)}},
		{"negative cost", &replyQueue{reply: []byte(`{"cost_usd":-1}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.q, time.Second).Execute(context.Background(), nil, input()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
