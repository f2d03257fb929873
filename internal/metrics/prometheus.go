package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice quiz client
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Supervisor metrics
	Transitions    *prometheus.CounterVec
	EngineErrors   *prometheus.CounterVec
	SoftResets     *prometheus.CounterVec
	FastRestarts   prometheus.Counter
	WatchdogTrips  prometheus.Counter
	StaleEvents    prometheus.Counter
	DroppedResults prometheus.Counter

	// Recording metrics
	ClipDuration prometheus.Histogram
	ClipSize     prometheus.Histogram

	// Quiz API metrics
	JudgeRequests           *prometheus.CounterVec
	JudgeDuration           prometheus.Histogram
	Attempts                prometheus.Counter
	MergeRequests           *prometheus.CounterVec
	InstructionFetchRetries prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. A nil registerer
// leaves the metrics unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_sessions_started_total",
			Help: "Total number of game sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_sessions_ended_total",
			Help: "Total number of game sessions ended, by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicequiz_session_duration_seconds",
			Help:    "Duration of game sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Supervisor metrics
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_supervisor_transitions_total",
			Help: "Total number of supervisor state transitions, by target state",
		}, []string{"state"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_engine_errors_total",
			Help: "Total number of recognition engine errors, by kind",
		}, []string{"kind"}),
		SoftResets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_soft_resets_total",
			Help: "Total number of engine soft resets, by trigger",
		}, []string{"reason"}),
		FastRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_engine_fast_restarts_total",
			Help: "Total number of successful engine restarts after an end event",
		}),
		WatchdogTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_watchdog_trips_total",
			Help: "Total number of health checks that found the engine idle past the watchdog timeout",
		}),
		StaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_stale_engine_events_total",
			Help: "Total number of events dropped because they came from a replaced engine",
		}),
		DroppedResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_dropped_final_results_total",
			Help: "Total number of final results ignored while a check was in flight or the session was inactive",
		}),

		// Recording metrics
		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicequiz_clip_duration_seconds",
			Help:    "Duration of recorded attempt clips",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~30s
		}),
		ClipSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicequiz_clip_size_bytes",
			Help:    "Size of recorded attempt clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Quiz API metrics
		JudgeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_judge_requests_total",
			Help: "Total number of judge requests, by outcome",
		}, []string{"outcome"}),
		JudgeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicequiz_judge_duration_seconds",
			Help:    "Duration of judge requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_attempts_total",
			Help: "Total number of attempts recorded in the history",
		}),
		MergeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_merge_requests_total",
			Help: "Total number of merge requests, by outcome",
		}, []string{"outcome"}),
		InstructionFetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicequiz_instruction_fetch_retries_total",
			Help: "Total number of instruction fetch retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequiz_http_requests_total",
			Help: "Total number of status server HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicequiz_http_request_duration_seconds",
			Help:    "Duration of status server HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a session outcome and its duration
func (m *Metrics) RecordSessionEnded(outcome string, durationSeconds float64) {
	m.SessionsEnded.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordTransition counts a transition into state
func (m *Metrics) RecordTransition(state string) {
	m.Transitions.WithLabelValues(state).Inc()
}

// RecordEngineError counts an engine error by kind
func (m *Metrics) RecordEngineError(kind string) {
	m.EngineErrors.WithLabelValues(kind).Inc()
}

// RecordSoftReset counts a soft reset by trigger
func (m *Metrics) RecordSoftReset(reason string) {
	m.SoftResets.WithLabelValues(reason).Inc()
}

// RecordFastRestart increments the fast restart counter
func (m *Metrics) RecordFastRestart() {
	m.FastRestarts.Inc()
}

// RecordWatchdogTrip increments the watchdog counter
func (m *Metrics) RecordWatchdogTrip() {
	m.WatchdogTrips.Inc()
}

// RecordStaleEvent increments the stale event counter
func (m *Metrics) RecordStaleEvent() {
	m.StaleEvents.Inc()
}

// RecordDroppedResult increments the dropped final result counter
func (m *Metrics) RecordDroppedResult() {
	m.DroppedResults.Inc()
}

// RecordClip records a finished clip
func (m *Metrics) RecordClip(durationSeconds float64, sizeBytes int) {
	m.ClipDuration.Observe(durationSeconds)
	m.ClipSize.Observe(float64(sizeBytes))
}

// RecordJudge records a judge request outcome and its duration
func (m *Metrics) RecordJudge(outcome string, durationSeconds float64) {
	m.JudgeRequests.WithLabelValues(outcome).Inc()
	m.JudgeDuration.Observe(durationSeconds)
}

// RecordAttempt increments the attempts counter
func (m *Metrics) RecordAttempt() {
	m.Attempts.Inc()
}

// RecordMerge counts a merge request by outcome
func (m *Metrics) RecordMerge(outcome string) {
	m.MergeRequests.WithLabelValues(outcome).Inc()
}

// RecordInstructionFetchRetry increments the instruction fetch retry counter
func (m *Metrics) RecordInstructionFetchRetry() {
	m.InstructionFetchRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
