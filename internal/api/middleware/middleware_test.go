package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantLevel string
	}{
		{"ok", http.StatusOK, "hello", "info"},
		{"client error", http.StatusNotFound, "", "warn"},
		{"server error", http.StatusBadGateway, "boom", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

			var entry struct {
				Level  string `json:"level"`
				Path   string `json:"path"`
				Status int    `json:"status"`
				Bytes  int    `json:"bytes"`
			}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
			}
			if entry.Level != tt.wantLevel || entry.Status != tt.status {
				t.Errorf("level = %s status = %d, want %s %d", entry.Level, entry.Status, tt.wantLevel, tt.status)
			}
			if entry.Bytes != len(tt.body) || entry.Path != "/api/v1/providers" {
				t.Errorf("bytes = %d path = %s", entry.Bytes, entry.Path)
			}
		})
	}
}

func TestLogger_RoutePatternAndQuietPaths(t *testing.T) {
	buf := captureLog(t)
	r := chi.NewRouter()
	r.Use(Logger)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/api/v1/records/{recordId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/records/abc", nil))

	dec := json.NewDecoder(buf)
	var entries []map[string]any
	for dec.More() {
		var e map[string]any
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("decode log: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d log lines, want 2", len(entries))
	}
	if entries[0]["level"] != "debug" {
		t.Errorf("health level = %v, want debug", entries[0]["level"])
	}
	if entries[1]["route"] != "/api/v1/records/{recordId}" || entries[1]["path"] != "/api/v1/records/abc" {
		t.Errorf("route = %v path = %v", entries[1]["route"], entries[1]["path"])
	}
	if entries[1]["status"] != float64(http.StatusNotFound) || entries[1]["level"] != "warn" {
		t.Errorf("status = %v level = %v, want first written status 404/warn", entries[1]["status"], entries[1]["level"])
	}
}

func TestTelemetry_SetsTraceHeader(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	h := Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Trace-Id"); len(got) != 32 {
		t.Errorf("X-Trace-Id = %q, want 32 hex chars", got)
	}
}
