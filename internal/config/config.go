package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Model backend identifiers accepted by pipeline.model_backend
const (
	BackendStub = "stub"
	BackendHTTP = "http"
)

// Capture device identifiers accepted by capture.device
const (
	DeviceWAV = "wav"
	DeviceUDP = "udp"
)

// MaxChunkFrames bounds chunk_seconds*sample_rate so one chunk buffer stays
// within the memory of a small board.
const MaxChunkFrames = 1 << 27

// Storage backend identifiers accepted by storage.backend
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

// Config represents the complete listener configuration
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Capture    CaptureConfig    `yaml:"capture"`
	Queue      QueueConfig      `yaml:"queue"`
	Model      ModelConfig      `yaml:"model"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Notify     NotifyConfig     `yaml:"notify"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PipelineConfig holds the parameters every stage shares read-only
type PipelineConfig struct {
	SampleRate         int     `yaml:"sample_rate"`         // Hz
	Channels           int     `yaml:"channels"`            // interleaved channel count
	BlockSize          int     `yaml:"block_size"`          // frames per capture callback
	ChunkSeconds       float64 `yaml:"chunk_seconds"`       // seconds of audio per inference call
	DetectionThreshold float64 `yaml:"detection_threshold"` // minimum confidence kept
	ModelBackend       string  `yaml:"model_backend"`       // "stub" or "http"
}

// CaptureConfig selects and configures the audio device
type CaptureConfig struct {
	Device         string `yaml:"device"`          // "wav" or "udp"
	Path           string `yaml:"path"`            // WAV file for the wav device
	Realtime       bool   `yaml:"realtime"`        // pace WAV replay at the sample rate
	Loop           bool   `yaml:"loop"`            // restart WAV replay at end of file
	UDPAddress     string `yaml:"udp_address"`     // listen address for the udp device
	ReadBuffer     int    `yaml:"read_buffer"`     // socket read buffer in bytes
	IntakeCapacity int    `yaml:"intake_capacity"` // blocks buffered between capture and assembly
}

// QueueConfig sizes the hand-off channels between stages
type QueueConfig struct {
	Capacity          int `yaml:"capacity"`           // chunks awaiting inference
	DetectionCapacity int `yaml:"detection_capacity"` // detections awaiting the writer
}

// ModelConfig contains inference backend parameters
type ModelConfig struct {
	SampleRate     int            `yaml:"sample_rate"` // rate the model expects, 0 keeps the pipeline rate
	Endpoint       string         `yaml:"endpoint"`
	APIKey         string         `yaml:"api_key"`
	Timeout        int            `yaml:"timeout"` // seconds, 0 disables the HTTP deadline
	MaxRetries     int            `yaml:"max_retries"`
	StubSpecies    string         `yaml:"stub_species"`
	StubConfidence float64        `yaml:"stub_confidence"`
	StubDelayMS    int            `yaml:"stub_delay_ms"`
	StubLabels     map[int]string `yaml:"stub_labels"` // chunk index -> species override
}

// WriterConfig contains detection batching parameters
type WriterConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	FlushInterval  float64 `yaml:"flush_interval"` // seconds
	MaxRetries     int     `yaml:"max_retries"`
	RetryBackoffMS int     `yaml:"retry_backoff_ms"` // pause between final-flush retries
}

// StorageConfig selects the durable sink
type StorageConfig struct {
	Backend string `yaml:"backend"` // "sqlite", "postgres" or "badger"
	Path    string `yaml:"path"`    // database file or badger directory
	DSN     string `yaml:"dsn"`     // postgres connection string
}

// SupervisorConfig contains lifecycle timing parameters
type SupervisorConfig struct {
	StatusInterval float64 `yaml:"status_interval"` // seconds, 0 disables periodic status logs
	DrainTimeout   float64 `yaml:"drain_timeout"`   // seconds
	StallTimeout   float64 `yaml:"stall_timeout"`   // seconds, 0 disables the inference watchdog
}

// NotifyConfig contains MQTT notification parameters
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Buffer   int    `yaml:"buffer"`
}

// HTTPConfig contains status API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with the stock values
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SampleRate:         44100,
			Channels:           1,
			BlockSize:          1024,
			ChunkSeconds:       180,
			DetectionThreshold: 0.7,
			ModelBackend:       BackendStub,
		},
		Capture: CaptureConfig{
			Device:         DeviceWAV,
			Realtime:       true,
			UDPAddress:     "0.0.0.0:5004",
			ReadBuffer:     1 << 20,
			IntakeCapacity: 64,
		},
		Queue: QueueConfig{
			Capacity:          2,
			DetectionCapacity: 256,
		},
		Model: ModelConfig{
			MaxRetries:     2,
			StubSpecies:    "Turdus merula_Eurasian Blackbird",
			StubConfidence: 0.9,
		},
		Writer: WriterConfig{
			BatchSize:      100,
			FlushInterval:  30,
			MaxRetries:     3,
			RetryBackoffMS: 500,
		},
		Storage: StorageConfig{
			Backend: StorageSQLite,
			Path:    "detections.db",
		},
		Supervisor: SupervisorConfig{
			StatusInterval: 60,
			DrainTimeout:   60,
		},
		Notify: NotifyConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "birdlistener/detections",
			ClientID: "birdlistener",
			Buffer:   64,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Model.Validate(c.Pipeline.ModelBackend); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Writer.Validate(); err != nil {
		return fmt.Errorf("writer config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Supervisor.Validate(); err != nil {
		return fmt.Errorf("supervisor config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the shared pipeline parameters
func (p *PipelineConfig) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", p.SampleRate)
	}

	if p.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", p.Channels)
	}

	if p.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", p.BlockSize)
	}

	if !finite(p.ChunkSeconds) || p.ChunkSeconds <= 0 {
		return fmt.Errorf("chunk_seconds must be positive, got %f", p.ChunkSeconds)
	}

	if p.ChunkSeconds*float64(p.SampleRate) > MaxChunkFrames {
		return fmt.Errorf("chunk_seconds %g at %d Hz exceeds %d frames per chunk", p.ChunkSeconds, p.SampleRate, MaxChunkFrames)
	}

	if !finite(p.DetectionThreshold) || p.DetectionThreshold < 0 || p.DetectionThreshold > 1 {
		return fmt.Errorf("detection_threshold must be between 0 and 1, got %f", p.DetectionThreshold)
	}

	validBackends := map[string]bool{BackendStub: true, BackendHTTP: true}
	if !validBackends[p.ModelBackend] {
		return fmt.Errorf("model_backend must be one of [stub, http], got '%s'", p.ModelBackend)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Device {
	case DeviceWAV:
		if c.Path == "" {
			return fmt.Errorf("path cannot be empty for the wav device")
		}
	case DeviceUDP:
		if c.UDPAddress == "" {
			return fmt.Errorf("udp_address cannot be empty for the udp device")
		}
		if c.ReadBuffer < 1024 {
			return fmt.Errorf("read_buffer must be at least 1024 bytes, got %d", c.ReadBuffer)
		}
	default:
		return fmt.Errorf("device must be one of [wav, udp], got '%s'", c.Device)
	}

	if c.IntakeCapacity < 1 {
		return fmt.Errorf("intake_capacity must be at least 1, got %d", c.IntakeCapacity)
	}

	return nil
}

// Validate validates queue sizing
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	if q.DetectionCapacity < 1 {
		return fmt.Errorf("detection_capacity must be at least 1, got %d", q.DetectionCapacity)
	}

	return nil
}

// Validate validates model configuration for the selected backend
func (m *ModelConfig) Validate(backend string) error {
	if m.SampleRate < 0 {
		return fmt.Errorf("sample_rate cannot be negative, got %d", m.SampleRate)
	}

	if m.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", m.MaxRetries)
	}

	if m.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", m.Timeout)
	}

	switch backend {
	case BackendHTTP:
		if m.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case BackendStub:
		if !finite(m.StubConfidence) || m.StubConfidence < 0 || m.StubConfidence > 1 {
			return fmt.Errorf("stub_confidence must be between 0 and 1, got %f", m.StubConfidence)
		}
		if m.StubDelayMS < 0 {
			return fmt.Errorf("stub_delay_ms cannot be negative, got %d", m.StubDelayMS)
		}
	}

	return nil
}

// Validate validates writer configuration
func (w *WriterConfig) Validate() error {
	if w.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", w.BatchSize)
	}

	if !finite(w.FlushInterval) || w.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %f", w.FlushInterval)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	if w.RetryBackoffMS < 0 {
		return fmt.Errorf("retry_backoff_ms cannot be negative, got %d", w.RetryBackoffMS)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case StorageSQLite, StorageBadger:
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the %s backend", s.Backend)
		}
	case StoragePostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for the postgres backend")
		}
	default:
		return fmt.Errorf("backend must be one of [sqlite, postgres, badger], got '%s'", s.Backend)
	}

	return nil
}

// Validate validates supervisor timing
func (s *SupervisorConfig) Validate() error {
	if !finite(s.StatusInterval) || s.StatusInterval < 0 {
		return fmt.Errorf("status_interval cannot be negative, got %f", s.StatusInterval)
	}

	if !finite(s.DrainTimeout) || s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", s.DrainTimeout)
	}

	if !finite(s.StallTimeout) || s.StallTimeout < 0 {
		return fmt.Errorf("stall_timeout cannot be negative, got %f", s.StallTimeout)
	}

	return nil
}

// Validate validates notification configuration
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}

	if n.Broker == "" {
		return fmt.Errorf("broker cannot be empty when notify is enabled")
	}

	if n.Topic == "" {
		return fmt.Errorf("topic cannot be empty when notify is enabled")
	}

	if n.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", n.QoS)
	}

	if n.Buffer < 1 {
		return fmt.Errorf("buffer must be at least 1, got %d", n.Buffer)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ChunkFrames returns the number of frames a sealed chunk must reach,
// clamped to [1, MaxChunkFrames]
func (p *PipelineConfig) ChunkFrames() int {
	want := p.ChunkSeconds * float64(p.SampleRate)
	if math.IsNaN(want) || want < 1 {
		return 1
	}
	if want > MaxChunkFrames {
		return MaxChunkFrames
	}
	return int(math.Ceil(want))
}

// finite reports whether x is neither NaN nor an infinity
func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// GetBlockDuration returns the duration of one capture block
func (p *PipelineConfig) GetBlockDuration() time.Duration {
	return time.Duration(float64(p.BlockSize) / float64(p.SampleRate) * float64(time.Second))
}

// GetTimeoutDuration returns the HTTP model timeout as a time.Duration
func (m *ModelConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// GetFlushInterval returns the flush interval as a time.Duration
func (w *WriterConfig) GetFlushInterval() time.Duration {
	return time.Duration(w.FlushInterval * float64(time.Second))
}

// GetRetryBackoff returns the final-flush retry pause as a time.Duration
func (w *WriterConfig) GetRetryBackoff() time.Duration {
	return time.Duration(w.RetryBackoffMS) * time.Millisecond
}

// GetStatusInterval returns the status log interval as a time.Duration
func (s *SupervisorConfig) GetStatusInterval() time.Duration {
	return time.Duration(s.StatusInterval * float64(time.Second))
}

// GetDrainTimeout returns the drain timeout as a time.Duration
func (s *SupervisorConfig) GetDrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeout * float64(time.Second))
}

// GetStallTimeout returns the inference stall timeout as a time.Duration
func (s *SupervisorConfig) GetStallTimeout() time.Duration {
	return time.Duration(s.StallTimeout * float64(time.Second))
}
