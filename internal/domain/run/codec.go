package run

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// CheckpointFormat identifies checkpoint envelopes.
	CheckpointFormat = "reelforge.run"
	// CheckpointVersion is the current envelope version.
	CheckpointVersion = 1
)

type envelope struct {
	Format  string          `json:"format"`
	Version int             `json:"version"`
	Run     json.RawMessage `json:"run"`
}

// CheckpointDecodeError reports a checkpoint that cannot be turned back into
// a valid run.
type CheckpointDecodeError struct {
	Reason string
	Err    error
}

func (e *CheckpointDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode checkpoint: %s: %v", e.Reason, e.Err)
	}
	return "decode checkpoint: " + e.Reason
}

func (e *CheckpointDecodeError) Unwrap() error { return e.Err }

// Encode serializes a run into a versioned checkpoint.
func Encode(r *Run) ([]byte, error) {
	if r == nil {
		return nil, errors.New("encode checkpoint: nil run")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %s: %w", r.ID, err)
	}
	data, err := json.Marshal(envelope{Format: CheckpointFormat, Version: CheckpointVersion, Run: body})
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %s: %w", r.ID, err)
	}
	return data, nil
}

// Decode restores a run from a checkpoint produced by Encode. Malformed input
// yields a *CheckpointDecodeError and never a partial run.
func Decode(data []byte) (*Run, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &CheckpointDecodeError{Reason: "invalid envelope", Err: err}
	}
	if env.Format != CheckpointFormat {
		return nil, &CheckpointDecodeError{Reason: fmt.Sprintf("unknown format %q", env.Format)}
	}
	if env.Version != CheckpointVersion {
		return nil, &CheckpointDecodeError{Reason: fmt.Sprintf("unsupported version %d", env.Version)}
	}
	if len(env.Run) == 0 || string(env.Run) == "null" {
		return nil, &CheckpointDecodeError{Reason: "missing run"}
	}

	var r Run
	if err := json.Unmarshal(env.Run, &r); err != nil {
		return nil, &CheckpointDecodeError{Reason: "invalid run", Err: err}
	}
	if err := r.Validate(); err != nil {
		return nil, &CheckpointDecodeError{Reason: "invalid run", Err: err}
	}
	if r.PhaseOutputs == nil {
		r.PhaseOutputs = make(map[string]PhaseOutput)
	}
	return &r, nil
}
