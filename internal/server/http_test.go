package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/pipeline"
	"github.com/bburnak/BirdListener/internal/store"
)

type fakePipeline struct {
	state  pipeline.State
	status pipeline.Status
}

func (f *fakePipeline) RunID() string           { return "run-42" }
func (f *fakePipeline) State() pipeline.State   { return f.state }
func (f *fakePipeline) Status() pipeline.Status { return f.status }

type fakeReader struct {
	dets      []store.Detection
	err       error
	lastLimit int
}

func (f *fakeReader) Recent(ctx context.Context, limit int) ([]store.Detection, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.dets) {
		return f.dets[:limit], nil
	}
	return f.dets, nil
}

func newTestServer(t *testing.T, p Pipeline, reader store.Reader) *HTTPServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.Model.APIKey = "super-secret"
	cfg.Storage.DSN = "postgres://user:password@db/birds"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg.HTTP, logger, cfg, p, reader, metrics.NewMetrics(reg), reg)
}

func get(t *testing.T, h *HTTPServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		state pipeline.State
		code  int
	}{
		{pipeline.StateInitializing, http.StatusOK},
		{pipeline.StateRunning, http.StatusOK},
		{pipeline.StateDraining, http.StatusServiceUnavailable},
		{pipeline.StateStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := newTestServer(t, &fakePipeline{state: tt.state}, nil)
			rec := get(t, h, "/health")

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Invalid JSON: %v", err)
			}
			if body["state"] != tt.state.String() || body["run_id"] != "run-42" {
				t.Errorf("Unexpected body %v", body)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	p := &fakePipeline{
		state: pipeline.StateRunning,
		status: pipeline.Status{
			RunID:          "run-42",
			State:          "running",
			QueueDepth:     1,
			QueueCapacity:  2,
			BlocksDropped:  7,
			ChunksEvicted:  3,
			WriterBuffered: 5,
		},
	}
	h := newTestServer(t, p, nil)

	rec := get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var st pipeline.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if st.QueueDepth != 1 || st.BlocksDropped != 7 || st.ChunksEvicted != 3 || st.WriterBuffered != 5 {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, nil)

	rec := get(t, h, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "super-secret") || strings.Contains(body, "password") {
		t.Errorf("Config response leaks credentials: %s", body)
	}
	if !strings.Contains(body, `"detection_threshold":0.7`) {
		t.Errorf("Expected pipeline settings in response: %s", body)
	}
}

func TestDetectionsEndpoint(t *testing.T) {
	reader := &fakeReader{dets: []store.Detection{
		{TimestampUTC: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), Species: "Turdus merula", Confidence: 0.9},
		{TimestampUTC: time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC), Species: "Parus major", Confidence: 0.8},
	}}
	h := newTestServer(t, &fakePipeline{}, reader)

	rec := get(t, h, "/detections?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Count      int               `json:"count"`
		Detections []store.Detection `json:"detections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Count != 1 || body.Detections[0].Species != "Turdus merula" {
		t.Errorf("Unexpected body %+v", body)
	}

	get(t, h, "/detections")
	if reader.lastLimit != defaultDetectionLimit {
		t.Errorf("Expected default limit %d, got %d", defaultDetectionLimit, reader.lastLimit)
	}
}

func TestDetectionsEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		reader store.Reader
		path   string
		code   int
	}{
		{"no reader", nil, "/detections", http.StatusNotImplemented},
		{"bad limit", &fakeReader{}, "/detections?limit=abc", http.StatusBadRequest},
		{"zero limit", &fakeReader{}, "/detections?limit=0", http.StatusBadRequest},
		{"huge limit", &fakeReader{}, "/detections?limit=5000", http.StatusBadRequest},
		{"read failure", &fakeReader{err: errors.New("locked")}, "/detections", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakePipeline{}, tt.reader)
			if rec := get(t, h, tt.path); rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, nil)

	for _, path := range []string{"/health", "/status", "/config", "/detections", "/"} {
		rec := httptest.NewRecorder()
		h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestRootAndNotFound(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, nil)

	if rec := get(t, h, "/"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/detections") {
		t.Errorf("Unexpected root response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	h := newTestServer(t, &fakePipeline{state: pipeline.StateRunning}, nil)

	get(t, h, "/health")

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "birdlistener_http_requests_total") {
		t.Errorf("Expected HTTP request metric in output")
	}
}
