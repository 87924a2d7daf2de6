// Package natsexec implements the phase executor port by sending each phase
// attempt to remote workers over NATS request/reply.
package natsexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/executor"
	"github.com/Strob0t/ReelForge/internal/port/messagequeue"
)

// Executor dispatches phases to workers subscribed on phases.execute.<phase>.
type Executor struct {
	queue   messagequeue.Queue
	timeout time.Duration
	now     func() time.Time
}

var _ executor.Executor = (*Executor)(nil)

// New creates an executor on queue. Each request waits at most timeout for
// a reply; zero leaves the bound to the caller's context.
func New(queue messagequeue.Queue, timeout time.Duration) *Executor {
	return &Executor{queue: queue, timeout: timeout, now: time.Now}
}

// Execute sends in to the phase's workers and converts the reply. A reply
// carrying an error becomes a FAILED output so the driver retries it.
func (e *Executor) Execute(ctx context.Context, _ *run.Run, in run.PhaseInput) (*run.PhaseOutput, error) {
	data, err := json.Marshal(messagequeue.PhaseExecuteRequest{
		RunID:         in.RunID,
		Phase:         in.Phase,
		Attempt:       in.Attempt,
		InputKind:     in.InputKind,
		InputPayload:  in.InputPayload,
		Feedback:      in.Feedback,
		Modifications: in.Modifications,
		Revision:      in.Revision,
		Prior:         in.Prior,
	})
	if err != nil {
		return nil, fmt.Errorf("natsexec: marshal request: %w", err)
	}

	raw, err := e.queue.Request(ctx, messagequeue.ExecuteSubject(in.Phase), data, e.timeout)
	if err != nil {
		return nil, fmt.Errorf("natsexec: %w", err)
	}
	reply, err := messagequeue.ValidateReply(raw)
	if err != nil {
		return nil, fmt.Errorf("natsexec: %w", err)
	}

	status := run.PhaseCompleted
	if reply.Error != "" {
		status = run.PhaseFailed
	}
	out, err := run.NewPhaseOutput(in.Phase, reply.Payload, status, reply.CostUSD, reply.Error, e.now())
	if err != nil {
		return nil, fmt.Errorf("natsexec: %w", err)
	}
	return &out, nil
}
