package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/DeRuina/timberjack"
	"github.com/spf13/cobra"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/config"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

const (
	serviceName = "voicequiz"
)

var (
	configPath string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Voice-driven quiz client",
	Long: `voicequiz plays a spoken quiz against a quiz server. Each instruction
must be spoken back; the server judges the transcript and recording, and a
summary with merged recordings is shown once every instruction is passed.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults are used when empty)")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(instructionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes unrecoverable recognition and microphone failures
// from other errors.
func exitCode(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrFatal):
		return 3
	case errors.Is(err, recorder.ErrMicrophoneUnavailable):
		return 4
	default:
		return 1
	}
}

// loadConfig reads --config, or returns the defaults when it is not set
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("default configuration is invalid: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// The display owns stdout, so logs default to stderr.
	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		output = &timberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
