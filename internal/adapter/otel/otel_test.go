package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/ReelForge/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.RunsStarted == nil || m.PhaseDuration == nil || m.RunCost == nil {
		t.Fatal("expected all instruments to be created")
	}
	m.RunsStarted.Add(context.Background(), 1)
}

func TestSpansWithNoopProvider(t *testing.T) {
	ctx, span := StartRunSpan(context.Background(), "run-1", "quick_generate")
	_, phaseSpan := StartPhaseSpan(ctx, "run-1", "search", 1)
	phaseSpan.End()
	span.End()
}

func TestHTTPMiddleware(t *testing.T) {
	h := HTTPMiddleware("reelforge")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestTraceable(t *testing.T) {
	for path, want := range map[string]bool{
		"/health":                        false,
		"/ws":                            false,
		"/ws/workflows/run-1/review":     false,
		"/api/v1/workflows":              true,
		"/api/v1/workflows/run-1/review": true,
	} {
		if got := traceable(httptest.NewRequest(http.MethodGet, path, http.NoBody)); got != want {
			t.Errorf("traceable(%s) = %v, want %v", path, got, want)
		}
	}
}
