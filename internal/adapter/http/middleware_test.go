package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	t.Parallel()
	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	var rw http.ResponseWriter = &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	hj, ok := rw.(http.Hijacker)
	if !ok {
		t.Fatal("responseWriter must implement http.Hijacker for the review channel")
	}
	if _, _, err := hj.Hijack(); err != nil || !inner.hijacked {
		t.Fatalf("Hijack: err=%v delegated=%v", err, inner.hijacked)
	}

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := plain.Hijack(); err == nil {
		t.Fatal("expected error when upstream does not implement Hijacker")
	}
}

func TestResponseWriter_FlushAndStatus(t *testing.T) {
	t.Parallel()
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.Flush()

	if rw.status != http.StatusAccepted || inner.Code != http.StatusAccepted {
		t.Errorf("status = %d / %d", rw.status, inner.Code)
	}
	if !inner.Flushed {
		t.Error("expected inner recorder to be flushed")
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	var reached bool
	h := CORS("http://review.local")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/workflows", http.NoBody))
	if rec.Code != http.StatusNoContent || reached {
		t.Fatalf("preflight: code=%d reached=%v", rec.Code, reached)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://review.local" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Idempotency-Key") {
		t.Errorf("allow headers = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", http.NoBody))
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("GET: code=%d reached=%v", rec.Code, reached)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "wss:") {
		t.Errorf("CSP must allow websocket connections: %q", csp)
	}
}
