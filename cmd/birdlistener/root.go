package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/server"
)

const serviceName = "birdlistener"

var (
	// Global flags
	configPath string
	inputPath  string
	outputPath string
	audioDev   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Listens to the birds and records which species it hears",
	Long: `birdlistener captures audio, cuts it into fixed-length chunks, runs a
species classifier on each chunk and stores detections above the
confidence threshold.

Without a subcommand it behaves like 'birdlistener run'.

Examples:
  # Replay a recording through the stub model into SQLite
  birdlistener -i dawn_chorus.wav -o detections.db

  # Run from a configuration file
  birdlistener run --config configs/config.yaml

  # Check a configuration file without starting anything
  birdlistener validate --config configs/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPipeline,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: device=%s model=%s storage=%s chunk=%gs threshold=%g\n",
			cfg.Capture.Device, cfg.Pipeline.ModelBackend, cfg.Storage.Backend,
			cfg.Pipeline.ChunkSeconds, cfg.Pipeline.DetectionThreshold)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, server.Version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listening pipeline until interrupted or the input ends",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (defaults are used when empty)")
	flags.StringVarP(&inputPath, "input", "i", "", "WAV file to replay (implies --audio wav)")
	flags.StringVarP(&outputPath, "output", "o", "", "detection database path (sqlite file or badger directory)")
	flags.StringVarP(&audioDev, "audio", "a", "", "capture device: wav or udp")
	flags.StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}

// loadConfig loads the configuration file, applies flag overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if inputPath != "" {
		cfg.Capture.Device = config.DeviceWAV
		cfg.Capture.Path = inputPath
	}
	if audioDev != "" {
		cfg.Capture.Device = audioDev
	}
	if outputPath != "" {
		cfg.Storage.Path = outputPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
