// Package storetest provides a compliance suite shared by checkpoint store
// adapters.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewRun builds a RUNNING run over research and assembly created at at.
func NewRun(t *testing.T, at time.Time, idempotencyKey string) *run.Run {
	t.Helper()
	r, err := run.New(&run.StartRequest{
		InputKind:      "prompt",
		InputPayload:   json.RawMessage(`{"prompt":"storetest"}`),
		IdempotencyKey: idempotencyKey,
	}, "storetest", []run.PhaseSpec{{Name: "research", Review: true}, {Name: "assembly"}}, 2.5, at)
	if err != nil {
		t.Fatalf("run.New: %v", err)
	}
	return r
}

// Run runs the standard compliance suite against any database.Store. The
// store may be shared with other tests; assertions only consider runs the
// suite created itself.
func Run(t *testing.T, s database.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("SaveAndGetRoundTrip", func(t *testing.T) {
		r := NewRun(t, base, "")
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}

		out, err := run.NewPhaseOutput("research", json.RawMessage(`{"facts":3}`), run.PhaseCompleted, 0.42, "", base.Add(time.Minute))
		if err != nil {
			t.Fatalf("NewPhaseOutput: %v", err)
		}
		r.SetOutput(out, base.Add(time.Minute))
		r.Status = run.StatusAwaitingReview
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun update: %v", err)
		}

		got, err := s.GetRun(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != run.StatusAwaitingReview || got.CurrentPhase != "research" {
			t.Fatalf("got status=%s phase=%s", got.Status, got.CurrentPhase)
		}
		if got.TotalCost() != 0.42 {
			t.Errorf("total cost = %v, want 0.42", got.TotalCost())
		}
		if string(got.PhaseOutputs["research"].Payload) != `{"facts":3}` {
			t.Errorf("payload = %s", got.PhaseOutputs["research"].Payload)
		}
		if !got.UpdatedAt.Equal(r.UpdatedAt) {
			t.Errorf("updated_at = %v, want %v", got.UpdatedAt, r.UpdatedAt)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.GetRun(ctx, uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("FindByIdempotencyKey", func(t *testing.T) {
		key := "storetest-" + uuid.NewString()
		r := NewRun(t, base, key)
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
		got, err := s.FindRunByIdempotencyKey(ctx, key)
		if err != nil {
			t.Fatalf("FindRunByIdempotencyKey: %v", err)
		}
		if got.ID != r.ID {
			t.Fatalf("id = %s, want %s", got.ID, r.ID)
		}
		if _, err := s.FindRunByIdempotencyKey(ctx, "storetest-"+uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("unknown key: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListRunIDsByStatus", func(t *testing.T) {
		running := NewRun(t, base.Add(time.Second), "")
		failed := NewRun(t, base.Add(2*time.Second), "")
		if err := failed.Fail("research", "boom", base.Add(3*time.Second)); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		for _, r := range []*run.Run{running, failed} {
			if err := s.SaveRun(ctx, r); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
		}

		ids, err := s.ListRunIDs(ctx, run.StatusRunning, run.StatusAwaitingReview)
		if err != nil {
			t.Fatalf("ListRunIDs: %v", err)
		}
		if !slices.Contains(ids, running.ID) {
			t.Error("running run missing from resumable ids")
		}
		if slices.Contains(ids, failed.ID) {
			t.Error("failed run must not be resumable")
		}
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		older := NewRun(t, base.Add(10*time.Hour), "")
		newer := NewRun(t, base.Add(11*time.Hour), "")
		for _, r := range []*run.Run{older, newer} {
			if err := s.SaveRun(ctx, r); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
		}

		runs, err := s.ListRuns(ctx, database.RunFilter{Statuses: []run.Status{run.StatusRunning}})
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		posOlder, posNewer := -1, -1
		for i := range runs {
			if runs[i].Status != run.StatusRunning {
				t.Fatalf("filter leaked status %s", runs[i].Status)
			}
			switch runs[i].ID {
			case older.ID:
				posOlder = i
			case newer.ID:
				posNewer = i
			}
		}
		if posOlder < 0 || posNewer < 0 || posNewer > posOlder {
			t.Fatalf("positions newer=%d older=%d; want newer first", posNewer, posOlder)
		}

		limited, err := s.ListRuns(ctx, database.RunFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListRuns limit: %v", err)
		}
		if len(limited) != 1 {
			t.Fatalf("limit 1 returned %d runs", len(limited))
		}
	})

	t.Run("DeleteTerminalRunsBefore", func(t *testing.T) {
		old := base.AddDate(-20, 0, 0)
		done := NewRun(t, old, "")
		done.Status = run.StatusCompleted
		active := NewRun(t, old, "")
		for _, r := range []*run.Run{done, active} {
			if err := s.SaveRun(ctx, r); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
		}

		n, err := s.DeleteTerminalRunsBefore(ctx, old.Add(time.Hour))
		if err != nil {
			t.Fatalf("DeleteTerminalRunsBefore: %v", err)
		}
		if n < 1 {
			t.Fatalf("deleted = %d, want >= 1", n)
		}
		if _, err := s.GetRun(ctx, done.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("completed run should be purged, err = %v", err)
		}
		if _, err := s.GetRun(ctx, active.ID); err != nil {
			t.Errorf("running run must survive the purge: %v", err)
		}
	})
}
