package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/config"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

// SessionSource exposes the supervisor snapshot
type SessionSource interface {
	Status() supervisor.Snapshot
}

// StatsSource exposes quiz API client statistics
type StatsSource interface {
	GetStats() quizapi.ClientStats
}

// StatusServer serves local monitoring endpoints while a game is running
type StatusServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sessions SessionSource
	stats    StatsSource
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	version  string

	startTime time.Time
}

// NewStatusServer creates the status server. gatherer backs /metrics.
func NewStatusServer(appConfig *config.Config, logger *slog.Logger, sessions SessionSource,
	stats StatsSource, m *metrics.Metrics, gatherer prometheus.Gatherer, version string) *StatusServer {

	h := &StatusServer{
		logger:    logger.With(slog.String("component", "status")),
		config:    appConfig,
		sessions:  sessions,
		stats:     stats,
		metrics:   m,
		gatherer:  gatherer,
		version:   version,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         appConfig.Status.ListenAddress(),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

func (h *StatusServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Not instrumented; scrapes would dominate the request counters.
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *StatusServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
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

// Start starts the status server in the background
func (h *StatusServer) Start() error {
	h.logger.Info("Starting status server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Status server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the status server
func (h *StatusServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping status server...")

	return h.server.Shutdown(ctx)
}

func (h *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.sessions.Status()

	status := "healthy"
	if snapshot.State == supervisor.StateFatal.String() {
		status = "failed"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voicequiz",
			"version": h.version,
		},
		"components": map[string]interface{}{
			"supervisor": map[string]interface{}{
				"state":              snapshot.State,
				"active":             snapshot.Active,
				"engine_active":      snapshot.EngineActive,
				"consecutive_errors": snapshot.ConsecutiveErrors,
			},
			"recorder": map[string]interface{}{
				"recording": snapshot.Recording,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *StatusServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.sessions.Status()
	if snapshot.SessionID == "" {
		http.Error(w, "No session", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *StatusServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.sessions.Status()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"quiz_api":  h.stats.GetStats(),
		"supervisor": map[string]interface{}{
			"soft_resets":       snapshot.SoftResets,
			"engine_generation": snapshot.EngineGeneration,
			"passed":            snapshot.Passed,
			"instructions":      snapshot.Instructions,
		},
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *StatusServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The Azure subscription key is never exposed.
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"base_url":    h.config.Server.BaseURL,
			"timeout":     h.config.Server.Timeout,
			"max_retries": h.config.Server.MaxRetries,
		},
		"recognition": map[string]interface{}{
			"engine":                   h.config.Recognition.Engine,
			"language":                 h.config.Recognition.Language,
			"continuous":               h.config.Recognition.Continuous,
			"interim_results":          h.config.Recognition.InterimResults,
			"soft_reset_threshold":     h.config.Recognition.SoftResetThreshold,
			"fatal_threshold":          h.config.Recognition.FatalThreshold,
			"health_check_interval_ms": h.config.Recognition.HealthCheckMs,
			"watchdog_timeout_ms":      h.config.Recognition.WatchdogTimeoutMs,
			"azure_region":             h.config.Recognition.Azure.Region,
		},
		"recorder": map[string]interface{}{
			"source":            h.config.Recorder.Source,
			"sample_rate":       h.config.Recorder.SampleRate,
			"channels":          h.config.Recorder.Channels,
			"frames_per_buffer": h.config.Recorder.FramesPerBuffer,
		},
		"report": map[string]interface{}{
			"format":            h.config.Report.Format,
			"merge_concurrency": h.config.Report.MergeConcurrency,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

func (h *StatusServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "voicequiz",
		"version": h.version,
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Client health check",
			"GET /session": "Current session snapshot",
			"GET /stats":   "Quiz API and supervisor statistics",
			"GET /config":  "Client configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
