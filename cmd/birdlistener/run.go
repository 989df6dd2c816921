package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/pipeline"
	"github.com/bburnak/BirdListener/internal/server"
	"github.com/bburnak/BirdListener/internal/store"
)

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("version", server.Version),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("device", cfg.Capture.Device),
		slog.String("input", cfg.Capture.Path),
		slog.Int("sample_rate", cfg.Pipeline.SampleRate),
		slog.Int("channels", cfg.Pipeline.Channels),
		slog.Float64("chunk_seconds", cfg.Pipeline.ChunkSeconds),
		slog.Float64("detection_threshold", cfg.Pipeline.DetectionThreshold),
		slog.String("model_backend", cfg.Pipeline.ModelBackend),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	// SIGINT/SIGTERM start a graceful drain
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	comps, err := pipeline.Build(ctx, cfg, logger, appMetrics)
	if err != nil {
		comps.Close()
		return err
	}

	supervisor, err := pipeline.New(cfg, comps, logger, appMetrics)
	if err != nil {
		comps.Close()
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		reader, _ := comps.Sink.(store.Reader)
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, supervisor, reader, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			comps.Close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	runErr := supervisor.Run(ctx)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	st := supervisor.Status()
	logger.Info("Final pipeline statistics",
		slog.Uint64("blocks_captured", st.BlocksCaptured),
		slog.Uint64("blocks_dropped", st.BlocksDropped),
		slog.Uint64("chunks_sealed", st.ChunksSealed),
		slog.Uint64("chunks_evicted", st.ChunksEvicted),
		slog.Uint64("detections_written", st.DetectionsWritten),
		slog.Uint64("detections_discarded", st.DetectionsDiscarded),
	)

	if runErr != nil {
		return runErr
	}
	logger.Info("Service stopped")
	return nil
}
