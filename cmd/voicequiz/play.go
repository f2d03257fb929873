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
	"golang.org/x/term"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/config"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/display"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/engine"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/game"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/report"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/server"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

// textSilenceTimeout is how long the text engine waits for a line before
// reporting no-speech.
const textSilenceTimeout = 8 * time.Second

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a game against the quiz server",
	Long: `Fetch the instructions from the quiz server and listen for each one to
be spoken. With the text engine, each line typed on stdin is one utterance.`,
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("base_url", cfg.Server.BaseURL),
		slog.String("engine", cfg.Recognition.Engine),
		slog.String("language", cfg.Recognition.Language),
		slog.Int("soft_reset_threshold", cfg.Recognition.SoftResetThreshold),
		slog.Int("fatal_threshold", cfg.Recognition.FatalThreshold),
		slog.String("recorder_source", cfg.Recorder.Source),
		slog.String("report_format", cfg.Report.Format),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	client, err := quizapi.NewClient(quizapi.Config{
		BaseURL:    cfg.Server.BaseURL,
		Timeout:    cfg.Server.GetTimeoutDuration(),
		MaxRetries: cfg.Server.MaxRetries,
		UserAgent:  fmt.Sprintf("%s/%s", serviceName, version),
		SampleRate: cfg.Recorder.SampleRate,
	}, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create quiz API client: %w", err)
	}

	factory, closeEngine := newEngineFactory(cfg.Recognition, logger)
	defer closeEngine()

	rec := recorder.New(newAudioSource(cfg.Recorder), recorder.Config{
		SampleRate:      cfg.Recorder.SampleRate,
		FramesPerBuffer: cfg.Recorder.FramesPerBuffer,
	}, logger)

	stdout := cmd.OutOrStdout()
	terminal := display.New(stdout, display.Options{
		Interactive: term.IsTerminal(int(os.Stdout.Fd())),
	})

	renderer, err := report.New(cfg.Report.Format, stdout)
	if err != nil {
		return err
	}

	controller := game.NewController(game.Config{
		MergeConcurrency: cfg.Report.MergeConcurrency,
	}, client, terminal, renderer, logger, appMetrics)

	sup, err := supervisor.New(supervisor.Config{
		Engine: engine.Config{
			Language:       cfg.Recognition.Language,
			Continuous:     cfg.Recognition.Continuous,
			InterimResults: cfg.Recognition.InterimResults,
		},
		SoftResetThreshold:  cfg.Recognition.SoftResetThreshold,
		FatalThreshold:      cfg.Recognition.FatalThreshold,
		HealthCheckInterval: cfg.Recognition.GetHealthCheckInterval(),
		WatchdogTimeout:     cfg.Recognition.GetWatchdogTimeout(),
	}, supervisor.Deps{
		Factory:  factory,
		Recorder: rec,
		Delegate: controller,
		Observer: terminal,
		Logger:   logger,
		Metrics:  appMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}
	rec.OnFailure = sup.ReportCaptureFailure

	var statusServer *server.StatusServer
	if cfg.Status.Enabled {
		statusServer = server.NewStatusServer(cfg, logger, sup, client, appMetrics, registry, version)
		if err := statusServer.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := statusServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping status server", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := controller.Play(ctx, sup)
	if err != nil {
		logger.Error("Game failed", slog.String("error", err.Error()))
		return err
	}

	stats := client.GetStats()
	logger.Info("Game finished",
		slog.String("session_id", result.SessionID),
		slog.Bool("all_passed", result.AllPassed),
		slog.Uint64("api_requests", stats.TotalRequests),
		slog.Uint64("api_failures", stats.FailedRequests),
	)

	return nil
}

// newEngineFactory builds the configured recognition engine factory. The
// returned func releases resources shared across engines.
func newEngineFactory(cfg config.RecognitionConfig, logger *slog.Logger) (engine.Factory, func()) {
	if cfg.Engine == "azure" {
		return engine.NewAzureFactory(engine.AzureCredentials{
			SubscriptionKey: cfg.Azure.SubscriptionKey,
			Region:          cfg.Azure.Region,
		}, logger), func() {}
	}

	lines := engine.NewLineSource(os.Stdin)
	return engine.NewTextFactory(lines, textSilenceTimeout), lines.Close
}

func newAudioSource(cfg config.RecorderConfig) recorder.Source {
	if cfg.Source == "microphone" {
		return recorder.NewPortAudioSource()
	}
	return recorder.NewSilenceSource()
}
