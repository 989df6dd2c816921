package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Capture.Path = "soundscape.wav"
	return cfg
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if cfg.Pipeline.SampleRate != 44100 {
		t.Errorf("Expected default sample rate 44100, got %d", cfg.Pipeline.SampleRate)
	}
	if cfg.Pipeline.ChunkSeconds != 180 {
		t.Errorf("Expected default chunk_seconds 180, got %f", cfg.Pipeline.ChunkSeconds)
	}
	if cfg.Writer.BatchSize != 100 {
		t.Errorf("Expected default batch size 100, got %d", cfg.Writer.BatchSize)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "zero sample rate",
			mutate:   func(c *Config) { c.Pipeline.SampleRate = 0 },
			errorMsg: "sample_rate must be positive",
		},
		{
			name:     "no channels",
			mutate:   func(c *Config) { c.Pipeline.Channels = 0 },
			errorMsg: "channels must be at least 1",
		},
		{
			name:     "negative block size",
			mutate:   func(c *Config) { c.Pipeline.BlockSize = -1 },
			errorMsg: "block_size must be positive",
		},
		{
			name:     "zero chunk seconds",
			mutate:   func(c *Config) { c.Pipeline.ChunkSeconds = 0 },
			errorMsg: "chunk_seconds must be positive",
		},
		{
			name:     "threshold above one",
			mutate:   func(c *Config) { c.Pipeline.DetectionThreshold = 1.5 },
			errorMsg: "detection_threshold must be between 0 and 1",
		},
		{
			name:     "NaN threshold",
			mutate:   func(c *Config) { c.Pipeline.DetectionThreshold = math.NaN() },
			errorMsg: "detection_threshold must be between 0 and 1",
		},
		{
			name:     "infinite threshold",
			mutate:   func(c *Config) { c.Pipeline.DetectionThreshold = math.Inf(-1) },
			errorMsg: "detection_threshold must be between 0 and 1",
		},
		{
			name:     "NaN chunk seconds",
			mutate:   func(c *Config) { c.Pipeline.ChunkSeconds = math.NaN() },
			errorMsg: "chunk_seconds must be positive",
		},
		{
			name:     "infinite chunk seconds",
			mutate:   func(c *Config) { c.Pipeline.ChunkSeconds = math.Inf(1) },
			errorMsg: "chunk_seconds must be positive",
		},
		{
			name:     "chunk too large",
			mutate:   func(c *Config) { c.Pipeline.ChunkSeconds = 1e6 },
			errorMsg: "frames per chunk",
		},
		{
			name:     "NaN stub confidence",
			mutate:   func(c *Config) { c.Model.StubConfidence = math.NaN() },
			errorMsg: "stub_confidence must be between 0 and 1",
		},
		{
			name:     "unknown backend",
			mutate:   func(c *Config) { c.Pipeline.ModelBackend = "tflite" },
			errorMsg: "model_backend must be one of",
		},
		{
			name: "http backend without endpoint",
			mutate: func(c *Config) {
				c.Pipeline.ModelBackend = BackendHTTP
				c.Model.Endpoint = ""
			},
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "wav device without path",
			mutate:   func(c *Config) { c.Capture.Path = "" },
			errorMsg: "path cannot be empty for the wav device",
		},
		{
			name:     "zero queue capacity",
			mutate:   func(c *Config) { c.Queue.Capacity = 0 },
			errorMsg: "capacity must be at least 1",
		},
		{
			name:     "zero batch size",
			mutate:   func(c *Config) { c.Writer.BatchSize = 0 },
			errorMsg: "batch_size must be at least 1",
		},
		{
			name:     "NaN flush interval",
			mutate:   func(c *Config) { c.Writer.FlushInterval = math.NaN() },
			errorMsg: "flush_interval must be positive",
		},
		{
			name:     "infinite flush interval",
			mutate:   func(c *Config) { c.Writer.FlushInterval = math.Inf(1) },
			errorMsg: "flush_interval must be positive",
		},
		{
			name:     "infinite drain timeout",
			mutate:   func(c *Config) { c.Supervisor.DrainTimeout = math.Inf(1) },
			errorMsg: "drain_timeout must be positive",
		},
		{
			name:     "NaN status interval",
			mutate:   func(c *Config) { c.Supervisor.StatusInterval = math.NaN() },
			errorMsg: "status_interval cannot be negative",
		},
		{
			name:     "NaN stall timeout",
			mutate:   func(c *Config) { c.Supervisor.StallTimeout = math.NaN() },
			errorMsg: "stall_timeout cannot be negative",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = StoragePostgres
			},
			errorMsg: "dsn cannot be empty",
		},
		{
			name:     "unknown storage backend",
			mutate:   func(c *Config) { c.Storage.Backend = "csv" },
			errorMsg: "backend must be one of",
		},
		{
			name: "notify without topic",
			mutate: func(c *Config) {
				c.Notify.Enabled = true
				c.Notify.Topic = ""
			},
			errorMsg: "topic cannot be empty",
		},
		{
			name: "http enabled with invalid port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 70000
			},
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
pipeline:
  sample_rate: 16000
  channels: 1
  block_size: 512
  chunk_seconds: 3
  detection_threshold: 0.6
  model_backend: stub
capture:
  device: wav
  path: "./soundscape.wav"
storage:
  backend: sqlite
  path: "./detections.db"
model:
  stub_labels:
    0: "Erithacus rubecula_European Robin"
logging:
  level: "debug"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
pipeline:
  sample_rate: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing capture path",
			configYAML: `
capture:
  device: wav
`,
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Pipeline.SampleRate != 16000 {
				t.Errorf("Expected sample rate 16000, got %d", config.Pipeline.SampleRate)
			}
			// Unset sections keep their defaults
			if config.Writer.BatchSize != 100 {
				t.Errorf("Expected default batch size to survive, got %d", config.Writer.BatchSize)
			}
			if config.Model.StubLabels[0] != "Erithacus rubecula_European Robin" {
				t.Errorf("Expected stub label for chunk 0, got %q", config.Model.StubLabels[0])
			}
		})
	}
}

func TestConfigLoadRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name     string
		pipeline string
		errorMsg string
	}{
		{"NaN threshold", "detection_threshold: .nan", "detection_threshold"},
		{"NaN chunk seconds", "chunk_seconds: .nan", "chunk_seconds"},
		{"infinite chunk seconds", "chunk_seconds: .inf", "chunk_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			content := "capture:\n  path: in.wav\npipeline:\n  " + tt.pipeline + "\n"
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Expected non-finite value to be rejected")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to mention %s, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestChunkFrames(t *testing.T) {
	tests := []struct {
		rate    int
		seconds float64
		want    int
	}{
		{16000, 2, 32000},
		{44100, 180, 7938000},
		{8000, 0.5, 4000},
		{48000, 1.00001, 48001},
		{16000, math.NaN(), 1},
		{16000, math.Inf(1), MaxChunkFrames},
		{16000, -3, 1},
	}

	for _, tt := range tests {
		p := PipelineConfig{SampleRate: tt.rate, ChunkSeconds: tt.seconds}
		if got := p.ChunkFrames(); got != tt.want {
			t.Errorf("ChunkFrames(%d Hz, %fs) = %d, want %d", tt.rate, tt.seconds, got, tt.want)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	writer := WriterConfig{FlushInterval: 1.5, RetryBackoffMS: 250}
	if got := writer.GetFlushInterval(); got != 1500*time.Millisecond {
		t.Errorf("Expected flush interval 1.5s, got %v", got)
	}
	if got := writer.GetRetryBackoff(); got != 250*time.Millisecond {
		t.Errorf("Expected retry backoff 250ms, got %v", got)
	}

	sup := SupervisorConfig{StatusInterval: 10, DrainTimeout: 30, StallTimeout: 0}
	if got := sup.GetDrainTimeout(); got != 30*time.Second {
		t.Errorf("Expected drain timeout 30s, got %v", got)
	}
	if got := sup.GetStallTimeout(); got != 0 {
		t.Errorf("Expected disabled stall timeout, got %v", got)
	}

	p := PipelineConfig{SampleRate: 16000, BlockSize: 1600}
	if got := p.GetBlockDuration(); got != 100*time.Millisecond {
		t.Errorf("Expected block duration 100ms, got %v", got)
	}
}
