package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bburnak/BirdListener/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		configPath, inputPath, outputPath, audioDev, logLevel = "", "", "", "", ""
	}
	reset()
	t.Cleanup(reset)
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		output     string
		audio      string
		level      string
		wantDevice string
		wantPath   string
		wantStore  string
		wantLevel  string
	}{
		{"no flags", "", "", "", "", config.DeviceWAV, "", "detections.db", "info"},
		{"input implies wav", "dawn.wav", "", "", "", config.DeviceWAV, "dawn.wav", "detections.db", "info"},
		{"audio selects udp", "", "", "udp", "", config.DeviceUDP, "", "detections.db", "info"},
		{"output and level", "", "/tmp/birds.db", "", "debug", config.DeviceWAV, "", "/tmp/birds.db", "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			inputPath, outputPath, audioDev, logLevel = tt.input, tt.output, tt.audio, tt.level

			cfg := config.Default()
			applyOverrides(cfg)

			if cfg.Capture.Device != tt.wantDevice {
				t.Errorf("device = %q, want %q", cfg.Capture.Device, tt.wantDevice)
			}
			if cfg.Capture.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", cfg.Capture.Path, tt.wantPath)
			}
			if cfg.Storage.Path != tt.wantStore {
				t.Errorf("storage path = %q, want %q", cfg.Storage.Path, tt.wantStore)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("log level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	resetFlags(t)

	dir := t.TempDir()
	wav := filepath.Join(dir, "in.wav")
	path := filepath.Join(dir, "config.yaml")
	content := `
pipeline:
  sample_rate: 16000
  chunk_seconds: 3
capture:
  device: wav
  path: ` + wav + `
storage:
  backend: sqlite
  path: ` + filepath.Join(dir, "out.db") + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	configPath = path
	outputPath = filepath.Join(dir, "override.db")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Pipeline.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", cfg.Pipeline.SampleRate)
	}
	if cfg.Pipeline.ChunkSeconds != 3 {
		t.Errorf("chunk seconds = %g, want 3", cfg.Pipeline.ChunkSeconds)
	}
	if cfg.Storage.Path != outputPath {
		t.Errorf("storage path = %q, want override %q", cfg.Storage.Path, outputPath)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	resetFlags(t)

	inputPath = "in.wav"
	audioDev = "microphone"

	_, err := loadConfig()
	if err == nil {
		t.Fatal("loadConfig() expected error for unknown device")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("error = %v, want invalid configuration", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	resetFlags(t)

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadConfig(); err == nil {
		t.Fatal("loadConfig() expected error for missing file")
	}
}

func TestVersionCommand(t *testing.T) {
	resetFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), serviceName+" ") {
		t.Errorf("output = %q, want %q prefix", out.String(), serviceName)
	}
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "birdlistener.log")

	logger, closeLog := initLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	logger.Info("hidden")
	logger.Warn("visible", "chunk_seq", 3)
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"visible"`) || !strings.Contains(out, `"chunk_seq":3`) {
		t.Errorf("warn record missing: %s", out)
	}
	if !strings.Contains(out, `"service":"birdlistener"`) {
		t.Errorf("service attribute missing: %s", out)
	}
}
