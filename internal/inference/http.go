package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/audio"
	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
)

// HTTPModel submits chunks to a remote classifier as multipart WAV uploads.
//
// The request carries the audio as form file "audio" plus sample_rate,
// channels and duration fields. The response is
// {"detections":[{"species":..,"confidence":..,"start":..,"end":..}]}.
type HTTPModel struct {
	endpoint    string
	apiKey      string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics

	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalRetries    atomic.Uint64
}

// analyzeResponse is the classifier response body
type analyzeResponse struct {
	Detections []RawDetection `json:"detections"`
}

// statusError is a non-2xx classifier response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// ClientStats represents remote model request counters
type ClientStats struct {
	TotalRequests   uint64 `json:"total_requests"`
	SuccessRequests uint64 `json:"success_requests"`
	FailedRequests  uint64 `json:"failed_requests"`
	TotalRetries    uint64 `json:"total_retries"`
}

// NewHTTPModel creates a remote model client. A zero cfg.Timeout leaves
// requests without a deadline: a stuck call is caught by the supervisor's
// stall watchdog instead.
func NewHTTPModel(cfg config.ModelConfig, logger *slog.Logger, m *metrics.Metrics) (*HTTPModel, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	httpClient := &http.Client{
		Timeout: cfg.GetTimeoutDuration(),
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPModel{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		maxRetries:  maxRetries,
		backoffBase: time.Second,
		httpClient:  httpClient,
		logger:      logger.With("component", "http_model"),
		metrics:     m,
	}, nil
}

// Name implements Model
func (c *HTTPModel) Name() string {
	return "http"
}

// Analyze implements Model
func (c *HTTPModel) Analyze(ctx context.Context, samples []float32, sampleRate, channels int) ([]RawDetection, error) {
	wav, err := audio.EncodeChunkWAV(samples, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}

	c.totalRequests.Add(1)
	duration := float64(len(samples)/channels) / float64(sampleRate)

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.totalRetries.Add(1)
			c.metrics.RecordInferenceRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffBase
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Debug("Retrying classifier request",
				"attempt", attempt,
				"backoff", backoffTime,
				"error", lastErr)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		detections, err := c.doRequest(ctx, wav, sampleRate, channels, duration)
		if err == nil {
			c.successRequests.Add(1)
			return detections, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.failedRequests.Add(1)
	return nil, fmt.Errorf("classifier request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the classifier
func (c *HTTPModel) doRequest(ctx context.Context, wav []byte, sampleRate, channels int, duration float64) ([]RawDetection, error) {
	body, contentType, err := createMultipartRequest(wav, sampleRate, channels, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "BirdListener/1.0")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return parsed.Detections, nil
}

// createMultipartRequest creates a multipart/form-data request body
func createMultipartRequest(wav []byte, sampleRate, channels int, duration float64) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", "chunk.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"sample_rate", strconv.Itoa(sampleRate)},
		{"channels", strconv.Itoa(channels)},
		{"duration", strconv.FormatFloat(duration, 'f', 3, 64)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a request error may succeed on retry:
// 5xx and 429 responses, and transport-level network errors.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// GetStats returns current client statistics
func (c *HTTPModel) GetStats() ClientStats {
	return ClientStats{
		TotalRequests:   c.totalRequests.Load(),
		SuccessRequests: c.successRequests.Load(),
		FailedRequests:  c.failedRequests.Load(),
		TotalRetries:    c.totalRetries.Load(),
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
