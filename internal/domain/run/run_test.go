package run_test

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

func testPhases() []run.PhaseSpec {
	return []run.PhaseSpec{
		{Name: "research"},
		{Name: "planning", Review: true},
		{Name: "script_writing", Review: true, MaxRetries: intPtr(1)},
	}
}

func newRun(t *testing.T) *run.Run {
	t.Helper()
	r, err := run.New(&run.StartRequest{
		InputKind:    "topic",
		InputPayload: json.RawMessage(`{"topic":"tide pools"}`),
	}, "content_production", testPhases(), 0, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func completed(t *testing.T, phase string, cost float64) run.PhaseOutput {
	t.Helper()
	out, err := run.NewPhaseOutput(phase, json.RawMessage(`{"ok":true}`), run.PhaseCompleted, cost, "", t0)
	if err != nil {
		t.Fatalf("NewPhaseOutput: %v", err)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Parallel()
	r := newRun(t)

	if r.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if r.Status != run.StatusRunning {
		t.Errorf("status = %s, want RUNNING", r.Status)
	}
	if r.CurrentPhase != "research" {
		t.Errorf("current_phase = %q, want research", r.CurrentPhase)
	}
	if !r.CreatedAt.Equal(t0) || !r.UpdatedAt.Equal(t0) {
		t.Errorf("timestamps not set: %v %v", r.CreatedAt, r.UpdatedAt)
	}
	if r.TotalCost() != 0 {
		t.Errorf("total cost = %v, want 0", r.TotalCost())
	}
}

func TestNew_CopiesPhases(t *testing.T) {
	t.Parallel()
	phases := testPhases()
	r, err := run.New(&run.StartRequest{InputKind: "topic"}, "p", phases, 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	phases[0].Name = "mutated"
	if r.Phases[0].Name != "research" {
		t.Fatal("run must not share the caller's phase slice")
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()
	neg := -1.0
	nan := math.NaN()
	tests := []struct {
		name   string
		req    run.StartRequest
		phases []run.PhaseSpec
	}{
		{"missing input kind", run.StartRequest{}, testPhases()},
		{"negative budget", run.StartRequest{InputKind: "topic", MaxCostUSD: &neg}, testPhases()},
		{"NaN budget", run.StartRequest{InputKind: "topic", MaxCostUSD: &nan}, testPhases()},
		{"invalid payload", run.StartRequest{InputKind: "topic", InputPayload: json.RawMessage(`{"topic"`)}, testPhases()},
		{"no phases", run.StartRequest{InputKind: "topic"}, nil},
		{"duplicate phase", run.StartRequest{InputKind: "topic"}, []run.PhaseSpec{{Name: "a"}, {Name: "a"}}},
		{"unnamed phase", run.StartRequest{InputKind: "topic"}, []run.PhaseSpec{{Name: ""}}},
		{"negative retries", run.StartRequest{InputKind: "topic"}, []run.PhaseSpec{{Name: "a", MaxRetries: intPtr(-2)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := run.New(&tt.req, "p", tt.phases, 0, t0)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestTotalCost_SumOfOutputs(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 0.25), t0)
	r.SetOutput(completed(t, "planning", 1.5), t0)
	r.SetOutput(run.FailedOutput("script_writing", "boom", t0), t0)

	if got := r.TotalCost(); math.Abs(got-1.75) > 1e-9 {
		t.Fatalf("total cost = %v, want 1.75", got)
	}
	bd := r.CostBreakdown()
	if len(bd) != 3 || bd["planning"] != 1.5 || bd["script_writing"] != 0 {
		t.Fatalf("unexpected breakdown: %v", bd)
	}
}

func TestTotalCost_ReplaceOnRerun(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 0.10), t0)
	r.SetOutput(completed(t, "planning", 0.20), t0)
	r.SetOutput(completed(t, "planning", 0.30), t0)

	if got := r.TotalCost(); math.Abs(got-0.40) > 1e-9 {
		t.Fatalf("total cost = %v, want 0.40", got)
	}
	out, _ := r.Output("planning")
	if out.CostUSD != 0.30 {
		t.Fatalf("planning cost = %v, want 0.30", out.CostUSD)
	}
}

func TestBudgetExceeded(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 2), t0)
	if r.BudgetExceeded() {
		t.Fatal("unlimited budget must never be exceeded")
	}
	r.MaxCostUSD = 1
	if !r.BudgetExceeded() {
		t.Fatal("expected budget to be exceeded")
	}
}

func TestNextPhaseAndCompletedPhases(t *testing.T) {
	t.Parallel()
	r := newRun(t)

	next, ok := r.NextPhase()
	if !ok || next != "planning" {
		t.Fatalf("NextPhase = %q %v, want planning", next, ok)
	}

	r.SetOutput(completed(t, "research", 0), t0)
	rev := completed(t, "planning", 0)
	rev.Status = run.PhasePendingReview
	r.SetOutput(rev, t0)
	r.SetOutput(run.FailedOutput("script_writing", "x", t0), t0)

	got := r.CompletedPhases()
	if len(got) != 2 || got[0] != "research" || got[1] != "planning" {
		t.Fatalf("CompletedPhases = %v", got)
	}

	r.CurrentPhase = "script_writing"
	if _, ok := r.NextPhase(); ok {
		t.Fatal("last phase must have no successor")
	}
}

func TestAdvancePhase(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	later := t0.Add(time.Minute)

	if !r.AdvancePhase(later) || r.CurrentPhase != "planning" {
		t.Fatalf("AdvancePhase moved to %q", r.CurrentPhase)
	}
	if !r.UpdatedAt.Equal(later) {
		t.Errorf("updated_at = %v, want %v", r.UpdatedAt, later)
	}
	r.AdvancePhase(later)
	if r.AdvancePhase(later.Add(time.Minute)) {
		t.Fatal("AdvancePhase past the last phase must report false")
	}
	if r.CurrentPhase != "script_writing" || !r.UpdatedAt.Equal(later) {
		t.Errorf("run changed after final AdvancePhase: %q %v", r.CurrentPhase, r.UpdatedAt)
	}
}

func TestPriorPayloads(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 0), t0)
	r.SetOutput(run.FailedOutput("planning", "x", t0), t0)

	prior := r.PriorPayloads("script_writing")
	if len(prior) != 1 {
		t.Fatalf("expected only completed predecessors, got %v", prior)
	}
	if string(prior["research"]) != `{"ok":true}` {
		t.Fatalf("research payload = %s", prior["research"])
	}
}

func TestRequestRevision_CountsAndInput(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.CurrentPhase = "planning"
	d := run.ReviewDecision{
		Status:        run.ReviewRevisionRequested,
		Feedback:      "more detail",
		Modifications: json.RawMessage(`{"tone":"calm"}`),
		ReviewerID:    "alice",
	}
	r.RequestRevision("planning", d, t0)
	r.RequestRevision("planning", d, t0)

	in := run.NewPhaseInput(r, 1)
	if in.Feedback != "more detail" || in.Revision != 2 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if string(in.Modifications) != `{"tone":"calm"}` {
		t.Fatalf("modifications = %s", in.Modifications)
	}

	r.ClearRevision("planning")
	if r.Revisions != nil {
		t.Fatalf("expected revisions to be cleared, got %v", r.Revisions)
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	r.SetOutput(completed(t, "research", 1), t0)
	r.AppendError("research", "first", t0)

	c := r.Clone()
	c.Phases[0].Name = "changed"
	c.PhaseOutputs["research"] = run.FailedOutput("research", "x", t0)
	c.Errors[0].Message = "changed"
	c.InputPayload[0] = '['

	if r.Phases[0].Name != "research" {
		t.Error("phases shared")
	}
	if r.PhaseOutputs["research"].Status != run.PhaseCompleted {
		t.Error("outputs shared")
	}
	if r.Errors[0].Message != "first" {
		t.Error("errors shared")
	}
	if r.InputPayload[0] != '{' {
		t.Error("payload shared")
	}
}

func TestRunValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(r *run.Run)
	}{
		{"empty id", func(r *run.Run) { r.ID = "" }},
		{"bad status", func(r *run.Run) { r.Status = "PAUSED" }},
		{"foreign current phase", func(r *run.Run) { r.CurrentPhase = "export" }},
		{"negative budget", func(r *run.Run) { r.MaxCostUSD = -1 }},
		{"output for unknown phase", func(r *run.Run) {
			r.PhaseOutputs["export"] = run.PhaseOutput{PhaseName: "export", Status: run.PhaseCompleted}
		}},
		{"mismatched output key", func(r *run.Run) {
			r.PhaseOutputs["research"] = run.PhaseOutput{PhaseName: "planning", Status: run.PhaseCompleted}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRun(t)
			tt.mutate(r)
			if err := r.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSetOutput_MatchesDecodedCheckpoint(t *testing.T) {
	t.Parallel()
	r := newRun(t)
	at := time.Now().In(time.FixedZone("CET", 3600))
	r.SetOutput(run.PhaseOutput{
		PhaseName: "research",
		Payload:   json.RawMessage("{ \"topic\" : \"sleep\" }"),
		Status:    run.PhaseCompleted,
		CreatedAt: at,
	}, t0)

	out, _ := r.Output("research")
	if string(out.Payload) != `{"topic":"sleep"}` {
		t.Errorf("payload = %s, want compacted", out.Payload)
	}
	if out.CreatedAt.Location() != time.UTC || !out.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v in UTC", out.CreatedAt, at.UTC())
	}

	data, err := run.Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := run.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(back, r) {
		t.Errorf("decoded run differs\nlive:    %+v\ndecoded: %+v", r, back)
	}
}
