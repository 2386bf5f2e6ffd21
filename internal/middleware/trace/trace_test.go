package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"duescheck/internal/log"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, nil)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if l := log.FromContext(r.Context(), nil); l == nil || l.Component() != log.ComponentTrace {
			t.Errorf("request logger not installed")
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req_") || rr.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("request id %q, header %q", seen, rr.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "from-proxy")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "from-proxy" {
		t.Fatalf("expected proxy request id, got %q", seen)
	}

	got := m.GetMetrics()
	if got.TotalRequests != 2 || got.ServerErrors != 2 {
		t.Fatalf("metrics = %+v", got)
	}
}

func TestResponseWriterFlushes(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer must implement http.Flusher")
		}
		_, _ = w.Write([]byte("data: x\n\n"))
		f.Flush()
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))
	if !rr.Flushed {
		t.Fatal("expected recorder to be flushed")
	}
}
