package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a request id in the context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Errorf("expected caller's id, got %q", seen)
	}
}

func TestLoggingRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/x", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["path"] != "/api/x" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestLoggingServerErrorsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if logs.FilterLevelExact(zap.ErrorLevel).Len() != 1 {
		t.Error("expected an error level entry")
	}
}
