package run_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
)

func populatedRun(t *testing.T) *run.Run {
	t.Helper()
	r := newRun(t)
	r.MaxCostUSD = 5
	r.IdempotencyKey = "idem-1"
	r.SetOutput(completed(t, "research", 0.125), t0.Add(time.Second))

	rev := completed(t, "planning", 0.3)
	rev.Attempt = 2
	rev.DurationMS = 1500
	rev.Status = run.PhasePendingReview
	r.SetOutput(rev, t0.Add(2*time.Second))
	r.CurrentPhase = "planning"
	r.Status = run.StatusAwaitingReview
	r.AppendError("research", "transient", t0.Add(500*time.Millisecond))
	r.RequestRevision("planning", run.ReviewDecision{
		Status:        run.ReviewRevisionRequested,
		Feedback:      "shorter hook",
		Modifications: json.RawMessage(`{"max_words":40}`),
		ReviewerID:    "bob",
	}, t0.Add(3*time.Second))
	return r
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		run  func(t *testing.T) *run.Run
	}{
		{"fresh", newRun},
		{"populated", populatedRun},
		{"local timestamps", func(t *testing.T) *run.Run {
			loc := time.FixedZone("UTC+5", 5*3600)
			r, err := run.New(&run.StartRequest{InputKind: "article"}, "p", testPhases(), 0, time.Now().In(loc))
			if err != nil {
				t.Fatal(err)
			}
			return r
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			want := tt.run(t)
			data, err := run.Encode(want)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := run.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
			}
			if got.TotalCost() != want.TotalCost() {
				t.Fatalf("total cost %v != %v", got.TotalCost(), want.TotalCost())
			}
		})
	}
}

func TestCodec_Envelope(t *testing.T) {
	t.Parallel()
	data, err := run.Encode(newRun(t))
	if err != nil {
		t.Fatal(err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if string(env["format"]) != `"reelforge.run"` || string(env["version"]) != "1" {
		t.Fatalf("unexpected envelope header: %s", data)
	}
	if strings.Contains(string(env["run"]), "total_cost") {
		t.Fatal("total cost must be derived, not stored")
	}
}

func TestCodec_DecodeRejects(t *testing.T) {
	t.Parallel()
	good, err := run.Encode(newRun(t))
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(from, to string) []byte {
		return []byte(strings.Replace(string(good), from, to, 1))
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{nope")},
		{"empty", nil},
		{"wrong format", mutate(`"reelforge.run"`, `"other.run"`)},
		{"wrong version", mutate(`"version":1`, `"version":7`)},
		{"missing run", []byte(`{"format":"reelforge.run","version":1}`)},
		{"null run", []byte(`{"format":"reelforge.run","version":1,"run":null}`)},
		{"empty id", mutate(`"id":"`, `"id":"","x":"`)},
		{"unknown status", mutate(`"status":"RUNNING"`, `"status":"PAUSED"`)},
		{"foreign phase", mutate(`"current_phase":"research"`, `"current_phase":"export"`)},
		{"run not object", []byte(`{"format":"reelforge.run","version":1,"run":[1,2]}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := run.Decode(tt.data)
			if got != nil {
				t.Fatal("decode must never return a partial run")
			}
			var de *run.CheckpointDecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *CheckpointDecodeError, got %T %v", err, err)
			}
		})
	}
}

func TestCodec_DecodeRejectsBadPhaseStatus(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 0), t0)
	data, err := run.Encode(r)
	if err != nil {
		t.Fatal(err)
	}
	bad := strings.Replace(string(data), `"status":"COMPLETED"`, `"status":"DONE"`, 1)
	if _, err := run.Decode([]byte(bad)); err == nil {
		t.Fatal("expected unknown phase status to be rejected")
	}
}

func TestEncode_Nil(t *testing.T) {
	t.Parallel()
	if _, err := run.Encode(nil); err == nil {
		t.Fatal("expected error for nil run")
	}
}
