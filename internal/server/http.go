package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/pipeline"
	"github.com/bburnak/BirdListener/internal/store"
)

const (
	defaultDetectionLimit = 50
	maxDetectionLimit     = 1000
)

// Pipeline is the view of the supervisor the server reports on
type Pipeline interface {
	RunID() string
	State() pipeline.State
	Status() pipeline.Status
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	pipeline Pipeline
	reader   store.Reader
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. reader may be nil when the
// sink cannot list detections; gatherer defaults to the global registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	p Pipeline, reader store.Reader, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger.With("component", "http"),
		config:    appConfig,
		pipeline:  p,
		reader:    reader,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/detections", h.withMetrics("/detections", h.handleDetections))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. It answers 503 once the
// pipeline has started draining.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.pipeline.State()
	status, code := "healthy", http.StatusOK
	if state == pipeline.StateDraining || state == pipeline.StateStopped {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"state":     state.String(),
		"run_id":    h.pipeline.RunID(),
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"service": map[string]interface{}{
			"name":    "birdlistener",
			"version": Version,
		},
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

// handleDetections implements the /detections?limit=N endpoint
func (h *HTTPServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.reader == nil {
		http.Error(w, "Storage backend does not support listing", http.StatusNotImplemented)
		return
	}

	limit := defaultDetectionLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxDetectionLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxDetectionLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	dets, err := h.reader.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read detections", "error", err)
		http.Error(w, "Failed to read detections", http.StatusInternalServerError)
		return
	}
	if dets == nil {
		dets = []store.Detection{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(dets),
		"detections": dets,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config

	// Return sanitized configuration (credentials are omitted)
	sanitizedConfig := map[string]interface{}{
		"pipeline": map[string]interface{}{
			"sample_rate":         c.Pipeline.SampleRate,
			"channels":            c.Pipeline.Channels,
			"block_size":          c.Pipeline.BlockSize,
			"chunk_seconds":       c.Pipeline.ChunkSeconds,
			"detection_threshold": c.Pipeline.DetectionThreshold,
			"model_backend":       c.Pipeline.ModelBackend,
		},
		"capture": map[string]interface{}{
			"device":          c.Capture.Device,
			"path":            c.Capture.Path,
			"realtime":        c.Capture.Realtime,
			"loop":            c.Capture.Loop,
			"udp_address":     c.Capture.UDPAddress,
			"intake_capacity": c.Capture.IntakeCapacity,
		},
		"queue": map[string]interface{}{
			"capacity":           c.Queue.Capacity,
			"detection_capacity": c.Queue.DetectionCapacity,
		},
		"model": map[string]interface{}{
			"sample_rate": c.Model.SampleRate,
			"endpoint":    c.Model.Endpoint,
			"timeout":     c.Model.Timeout,
			"max_retries": c.Model.MaxRetries,
		},
		"writer": map[string]interface{}{
			"batch_size":       c.Writer.BatchSize,
			"flush_interval":   c.Writer.FlushInterval,
			"max_retries":      c.Writer.MaxRetries,
			"retry_backoff_ms": c.Writer.RetryBackoffMS,
		},
		"storage": map[string]interface{}{
			"backend": c.Storage.Backend,
			"path":    c.Storage.Path,
		},
		"supervisor": map[string]interface{}{
			"status_interval": c.Supervisor.StatusInterval,
			"drain_timeout":   c.Supervisor.DrainTimeout,
			"stall_timeout":   c.Supervisor.StallTimeout,
		},
		"notify": map[string]interface{}{
			"enabled": c.Notify.Enabled,
			"broker":  c.Notify.Broker,
			"topic":   c.Notify.Topic,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "BirdListener",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Pipeline health check",
			"GET /status":             "Queue depths and loss counters",
			"GET /config":             "Service configuration",
			"GET /detections?limit=N": "Most recent stored detections",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
