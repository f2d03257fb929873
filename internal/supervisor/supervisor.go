package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/engine"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
)

var (
	// ErrFatal ends a session that cannot recover; the player must start a new one.
	ErrFatal = errors.New("voice recognition failed, restart required")
	// ErrRunning is returned by Run while another session is being supervised.
	ErrRunning = errors.New("supervisor already running")
	// ErrInputEnded ends a session whose recognition input is exhausted.
	ErrInputEnded = errors.New("recognition input ended")
)

const eventBuffer = 64

// Recorder is the audio capture the supervisor keeps in step with the engine
type Recorder interface {
	Acquire() error
	Start() error
	Stop() (*recorder.Clip, error)
	Recording() bool
	Release() error
}

// Delegate judges finalized utterances and applies the outcome
type Delegate interface {
	// Judge runs off the supervisor loop and must not touch the session.
	Judge(ctx context.Context, sub *Submission) (*quizapi.Verdict, error)
	// Judged runs on the supervisor loop once Judge settles. The session
	// ends normally when it leaves the session finished.
	Judged(sess *Session, sub *Submission, j Judgement)
}

// Observer is notified on the supervisor loop of user-visible changes
type Observer interface {
	StateChanged(state State, sess *Session)
	TranscriptChanged(text string)
}

type noopObserver struct{}

func (noopObserver) StateChanged(State, *Session) {}
func (noopObserver) TranscriptChanged(string)     {}

// Config contains supervisor thresholds and the engine configuration
type Config struct {
	Engine engine.Config

	// SoftResetThreshold consecutive transient errors trigger a soft reset; 0 disables.
	SoftResetThreshold int
	// FatalThreshold consecutive transient errors end the session.
	FatalThreshold int

	HealthCheckInterval time.Duration
	WatchdogTimeout     time.Duration
}

// Validate checks the supervisor configuration
func (c Config) Validate() error {
	if c.SoftResetThreshold < 0 {
		return fmt.Errorf("soft reset threshold cannot be negative")
	}
	if c.FatalThreshold < 1 {
		return fmt.Errorf("fatal threshold must be at least 1")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}
	if c.WatchdogTimeout <= 0 {
		return fmt.Errorf("watchdog timeout must be positive")
	}
	return nil
}

// Deps are the collaborators of a Supervisor. Observer, Metrics and Clock are optional.
type Deps struct {
	Factory  engine.Factory
	Recorder Recorder
	Delegate Delegate
	Observer Observer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

type messageKind int

const (
	msgEngine messageKind = iota
	msgJudged
	msgHealth
	msgCaptureFailed
	msgSync
)

type message struct {
	kind       messageKind
	generation uint64
	event      Event
	submission *Submission
	judgement  Judgement
	err        error
	done       chan struct{}
}

// mailbox is the event queue of one Run
type mailbox struct {
	events  chan message
	stopped chan struct{}
}

func (mb *mailbox) post(m message) bool {
	select {
	case mb.events <- m:
		return true
	case <-mb.stopped:
		return false
	}
}

// Supervisor keeps a speech recognition engine alive for the duration of a
// session and in step with the recorder. All state changes happen on the
// goroutine executing Run; engines, the health ticker and judge completions
// reach it as messages.
type Supervisor struct {
	config   Config
	factory  engine.Factory
	recorder Recorder
	delegate Delegate
	observer Observer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	mbox     *mailbox
	snapshot Snapshot

	// Owned by the Run goroutine
	session      *Session
	state        State
	eng          engine.Engine
	engineActive bool
	generation   uint64
	softResets   int
	fatalReason  string
	ticker       *time.Ticker
	pool         *workerpool.WorkerPool
	judgeCtx     context.Context
	inputEnded   bool
	ended        bool
	endErr       error
}

// New creates a supervisor
func New(config Config, deps Deps) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("engine factory cannot be nil")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}
	if deps.Delegate == nil {
		return nil, fmt.Errorf("delegate cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Supervisor{
		config:   config,
		factory:  deps.Factory,
		recorder: deps.Recorder,
		delegate: deps.Delegate,
		observer: deps.Observer,
		logger:   deps.Logger.With(slog.String("component", "supervisor")),
		metrics:  deps.Metrics,
		now:      deps.Clock,
	}, nil
}

// Run supervises sess until it ends. It returns nil when every instruction
// has been passed, an error wrapping ErrFatal when recognition could not be
// recovered, ErrInputEnded when the engine ran out of input, an error
// wrapping recorder.ErrMicrophoneUnavailable when the microphone could not
// be acquired, or the context error on cancellation.
func (s *Supervisor) Run(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	if s.mbox != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	mb := &mailbox{
		events:  make(chan message, eventBuffer),
		stopped: make(chan struct{}),
	}
	s.mbox = mb
	s.mu.Unlock()

	judgeCtx, cancelJudge := context.WithCancel(ctx)
	s.session = sess
	s.state = StateIdle
	s.eng = nil
	s.engineActive = false
	s.softResets = 0
	s.fatalReason = ""
	s.ticker = nil
	s.inputEnded = false
	s.ended = false
	s.endErr = nil
	s.judgeCtx = judgeCtx
	s.pool = workerpool.New(1)

	defer func() {
		close(mb.stopped)
		cancelJudge()
		s.pool.Stop()
		s.publish()

		s.mu.Lock()
		s.mbox = nil
		s.mu.Unlock()
	}()

	if err := s.start(); err != nil {
		return err
	}

	for !s.ended {
		select {
		case <-ctx.Done():
			s.cancel()
			return ctx.Err()
		case <-s.ticker.C:
			s.checkHealth()
		case m := <-mb.events:
			s.handle(m)
		}
		s.publish()
	}

	return s.endErr
}

// CheckHealth runs a health check on the supervisor loop, outside the ticker
func (s *Supervisor) CheckHealth() {
	if mb := s.currentMailbox(); mb != nil {
		mb.post(message{kind: msgHealth})
	}
}

// ReportCaptureFailure ends the session when the recorder loses its source
func (s *Supervisor) ReportCaptureFailure(err error) {
	if mb := s.currentMailbox(); mb != nil {
		mb.post(message{kind: msgCaptureFailed, err: err})
	}
}

// Status returns the latest published snapshot
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// flush waits until every message posted before it has been handled
func (s *Supervisor) flush() {
	mb := s.currentMailbox()
	if mb == nil {
		return
	}
	done := make(chan struct{})
	if !mb.post(message{kind: msgSync, done: done}) {
		return
	}
	select {
	case <-done:
	case <-mb.stopped:
	}
}

func (s *Supervisor) currentMailbox() *mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mbox
}

// start acquires the microphone, builds and starts the engine, starts
// recording and arms the health check
func (s *Supervisor) start() error {
	sess := s.session

	if err := s.recorder.Acquire(); err != nil {
		s.logger.Error("Failed to acquire microphone",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}

	if err := s.newEngine(); err != nil {
		if relErr := s.recorder.Release(); relErr != nil {
			s.logger.Warn("Failed to release microphone", slog.String("error", relErr.Error()))
		}
		return err
	}

	now := s.now()
	sess.Active = true
	sess.Checking = false
	sess.ConsecutiveErrors = 0
	sess.StartedAt = now
	s.metrics.RecordSessionStarted()

	s.setState(StateListening)

	if err := s.eng.Start(); err != nil {
		s.startFailed("failed to start recognition", err)
		return s.endErr
	}
	s.engineActive = true

	if err := s.recorder.Start(); err != nil {
		s.fatal(fmt.Sprintf("failed to start recording: %v", err))
		return s.endErr
	}

	s.ticker = time.NewTicker(s.config.HealthCheckInterval)
	sess.Touch(now)

	s.logger.Info("Session started",
		slog.String("session_id", sess.ID),
		slog.Int("instructions", len(sess.Instructions)),
		slog.String("engine", s.config.Engine.String()),
		slog.Duration("health_check_interval", s.config.HealthCheckInterval),
		slog.Duration("watchdog_timeout", s.config.WatchdogTimeout),
	)

	s.publish()
	return nil
}

func (s *Supervisor) handle(m message) {
	switch m.kind {
	case msgEngine:
		if m.generation != s.generation {
			s.metrics.RecordStaleEvent()
			s.logger.Debug("Dropping event from replaced engine",
				slog.String("event", m.event.Kind.String()),
				slog.Uint64("event_generation", m.generation),
				slog.Uint64("generation", s.generation),
			)
			return
		}
		s.dispatch(m.event)
	case msgJudged:
		s.handleJudged(m.submission, m.judgement)
	case msgHealth:
		s.checkHealth()
	case msgCaptureFailed:
		s.fatal(fmt.Sprintf("audio capture failed: %v", m.err))
	case msgSync:
		close(m.done)
	}
}

// dispatch is the transition function for engine events
func (s *Supervisor) dispatch(ev Event) {
	switch ev.Kind {
	case EventResult:
		s.handleResult(ev.Result)
	case EventError:
		s.handleError(ev.ErrorKind, ev.Detail)
	case EventEnd:
		s.handleEnd()
	}
}

func (s *Supervisor) handleResult(r engine.Result) {
	sess := s.session

	// Any result, partial or final, counts as liveness.
	sess.Touch(s.now())
	sess.ConsecutiveErrors = 0

	if !sess.Active || sess.Checking {
		if r.Final {
			s.metrics.RecordDroppedResult()
		}
		return
	}

	s.observer.TranscriptChanged(r.Transcript)

	transcript := strings.TrimSpace(r.Transcript)
	if !r.Final || transcript == "" {
		return
	}

	s.beginCheck(transcript)
}

// beginCheck stops recording and hands the finished clip to the judge
func (s *Supervisor) beginCheck(transcript string) {
	sess := s.session
	sess.Checking = true
	s.setState(StateChecking)

	clip, err := s.recorder.Stop()
	if err != nil {
		s.logger.Warn("Failed to capture clip, judging transcript without audio",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		clip = nil
	} else {
		s.metrics.RecordClip(clip.Duration.Seconds(), len(clip.Data))
	}

	sub := &Submission{
		ID:          uuid.NewString(),
		Index:       sess.CurrentIndex,
		Transcript:  transcript,
		Clip:        clip,
		SubmittedAt: s.now(),
	}

	s.logger.Info("Submitting utterance",
		slog.String("session_id", sess.ID),
		slog.String("submission_id", sub.ID),
		slog.Int("index", sub.Index),
		slog.String("transcript", transcript),
		slog.Int("audio_bytes", len(sub.Audio())),
	)

	mb, ctx, delegate := s.mbox, s.judgeCtx, s.delegate
	s.pool.Submit(func() {
		started := time.Now()
		verdict, err := delegate.Judge(ctx, sub)
		mb.post(message{
			kind:       msgJudged,
			submission: sub,
			judgement:  Judgement{Verdict: verdict, Err: err, Duration: time.Since(started)},
		})
	})
}

func (s *Supervisor) handleJudged(sub *Submission, j Judgement) {
	sess := s.session

	s.delegate.Judged(sess, sub, j)

	if !sess.Active {
		return
	}

	if sess.Finished() {
		s.finish()
		return
	}

	if s.inputEnded {
		s.endOfInput()
		return
	}

	if err := s.recorder.Start(); err != nil {
		s.fatal(fmt.Sprintf("failed to restart recording: %v", err))
		return
	}

	sess.Checking = false
	s.setState(StateListening)
}

func (s *Supervisor) handleError(kind engine.ErrorKind, detail string) {
	sess := s.session
	sess.Touch(s.now())
	s.metrics.RecordEngineError(string(kind))

	if !sess.Active {
		return
	}

	if !kind.Transient() {
		s.fatal(fmt.Sprintf("critical recognition error: %s", kind))
		return
	}

	sess.ConsecutiveErrors++
	s.logger.Warn("Transient recognition error",
		slog.String("session_id", sess.ID),
		slog.String("kind", string(kind)),
		slog.String("detail", detail),
		slog.Int("consecutive_errors", sess.ConsecutiveErrors),
	)

	// The soft reset check runs first; with the default thresholds the
	// counter is zeroed long before it reaches the fatal threshold.
	if s.config.SoftResetThreshold > 0 && sess.ConsecutiveErrors >= s.config.SoftResetThreshold {
		sess.ConsecutiveErrors = 0
		if err := s.resetAndStart("errors"); err != nil {
			s.startFailed("soft reset failed to start recognition", err)
		}
		return
	}

	if sess.ConsecutiveErrors >= s.config.FatalThreshold {
		s.fatal("too many consecutive errors even after resets")
	}
}

// handleEnd escalates fast restart, then soft reset and restart, then fatal
func (s *Supervisor) handleEnd() {
	sess := s.session
	sess.Touch(s.now())
	s.engineActive = false

	if !sess.Active {
		return
	}

	err := s.eng.Start()
	if errors.Is(err, engine.ErrInputEnded) {
		s.inputEnded = true
		if !sess.Checking {
			s.endOfInput()
		}
		return
	}
	if err == nil {
		s.engineActive = true
		s.metrics.RecordFastRestart()
		s.logger.Info("Recognition ended, restarted in place",
			slog.String("session_id", sess.ID),
			slog.Uint64("generation", s.generation),
		)
		return
	}

	s.logger.Warn("Fast restart failed, escalating to soft reset",
		slog.String("session_id", sess.ID),
		slog.String("error", err.Error()),
	)

	if err := s.resetAndStart("end"); err != nil {
		s.startFailed("soft reset failed to start recognition", err)
	}
}

// checkHealth is the failsafe for an engine that stops producing any events
func (s *Supervisor) checkHealth() {
	sess := s.session
	now := s.now()

	if !sess.Active || sess.Checking {
		sess.Touch(now)
		return
	}

	idle := now.Sub(sess.LastActivity)
	if idle <= s.config.WatchdogTimeout {
		return
	}

	s.metrics.RecordWatchdogTrip()
	s.logger.Warn("Watchdog triggered, forcing soft reset",
		slog.String("session_id", sess.ID),
		slog.Duration("idle", idle),
		slog.Duration("timeout", s.config.WatchdogTimeout),
	)

	sess.Touch(now)
	sess.ConsecutiveErrors = 0

	if err := s.resetAndStart("watchdog"); err != nil {
		s.startFailed("watchdog reset failed to start recognition", err)
	}
}

// resetAndStart performs a soft reset and starts the replacement engine
func (s *Supervisor) resetAndStart(reason string) error {
	s.setState(StateResetting)

	if err := s.softReset(reason); err != nil {
		return err
	}

	if err := s.eng.Start(); err != nil {
		return fmt.Errorf("failed to start recognition: %w", err)
	}
	s.engineActive = true

	if s.session.Checking {
		s.setState(StateChecking)
	} else {
		s.setState(StateListening)
	}
	return nil
}

// softReset discards the engine and builds a replacement from the same
// configuration, bound to the same handlers under a new generation
func (s *Supervisor) softReset(reason string) error {
	s.discardEngine()

	if err := s.newEngine(); err != nil {
		return err
	}

	s.session.ConsecutiveErrors = 0
	s.softResets++
	s.metrics.RecordSoftReset(reason)

	s.logger.Info("Soft reset",
		slog.String("session_id", s.session.ID),
		slog.String("reason", reason),
		slog.Uint64("generation", s.generation),
		slog.String("engine", s.eng.Config().String()),
	)
	return nil
}

func (s *Supervisor) newEngine() error {
	s.generation++
	eng, err := s.factory(s.config.Engine, s.bind(s.generation))
	if err != nil {
		return fmt.Errorf("failed to create recognition engine: %w", err)
	}
	s.eng = eng
	return nil
}

func (s *Supervisor) discardEngine() {
	if s.eng == nil {
		return
	}
	s.eng.Stop()
	if err := s.eng.Close(); err != nil {
		s.logger.Warn("Failed to close recognition engine", slog.String("error", err.Error()))
	}
	s.eng = nil
	s.engineActive = false
}

// bind returns handlers posting events tagged with generation
func (s *Supervisor) bind(generation uint64) engine.Handlers {
	mb := s.mbox
	post := func(ev Event) {
		mb.post(message{kind: msgEngine, generation: generation, event: ev})
	}

	return engine.Handlers{
		OnResult: func(r engine.Result) {
			post(Event{Kind: EventResult, Result: r})
		},
		OnError: func(kind engine.ErrorKind, detail string) {
			post(Event{Kind: EventError, ErrorKind: kind, Detail: detail})
		},
		OnEnd: func() {
			post(Event{Kind: EventEnd})
		},
	}
}

func (s *Supervisor) fatal(reason string) {
	if s.ended {
		return
	}

	s.fatalReason = reason
	s.logger.Error("Recognition failed, restart required",
		slog.String("session_id", s.session.ID),
		slog.String("reason", reason),
	)

	s.setState(StateFatal)
	s.teardown()

	s.ended = true
	s.endErr = fmt.Errorf("%w: %s", ErrFatal, reason)
	s.metrics.RecordSessionEnded("fatal", s.sessionSeconds())
}

// startFailed ends the session after recognition could not be started
func (s *Supervisor) startFailed(what string, err error) {
	if errors.Is(err, engine.ErrInputEnded) {
		s.endOfInput()
		return
	}
	s.fatal(fmt.Sprintf("%s: %v", what, err))
}

// endOfInput ends the session normally once the engine has no more input
func (s *Supervisor) endOfInput() {
	if s.ended {
		return
	}

	s.teardown()
	s.setState(StateIdle)

	s.ended = true
	s.endErr = ErrInputEnded
	s.metrics.RecordSessionEnded("input_ended", s.sessionSeconds())

	s.logger.Info("Recognition input ended",
		slog.String("session_id", s.session.ID),
		slog.Int("passed", s.session.PassedCount()),
	)
}

func (s *Supervisor) finish() {
	s.teardown()
	s.setState(StateIdle)

	s.ended = true
	s.endErr = nil
	s.metrics.RecordSessionEnded("completed", s.sessionSeconds())

	s.logger.Info("Session completed",
		slog.String("session_id", s.session.ID),
		slog.Int("passed", s.session.PassedCount()),
		slog.Int("soft_resets", s.softResets),
	)
}

func (s *Supervisor) cancel() {
	s.teardown()
	s.setState(StateIdle)

	s.ended = true
	s.metrics.RecordSessionEnded("cancelled", s.sessionSeconds())

	s.logger.Info("Session cancelled", slog.String("session_id", s.session.ID))
}

// teardown stops the ticker, engine and recorder and releases the
// microphone whatever the reason for ending
func (s *Supervisor) teardown() {
	s.session.Active = false

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.discardEngine()
	// Late events from the discarded engine are stale from here on.
	s.generation++

	if s.recorder.Recording() {
		if _, err := s.recorder.Stop(); err != nil {
			s.logger.Warn("Failed to stop recording", slog.String("error", err.Error()))
		}
	}

	if err := s.recorder.Release(); err != nil {
		s.logger.Warn("Failed to release microphone", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) setState(state State) {
	if s.state != state {
		s.logger.Debug("State transition",
			slog.String("from", s.state.String()),
			slog.String("to", state.String()),
		)
	}
	s.state = state
	s.metrics.RecordTransition(state.String())
	s.observer.StateChanged(state, s.session)
}

func (s *Supervisor) sessionSeconds() float64 {
	if s.session.StartedAt.IsZero() {
		return 0
	}
	return s.now().Sub(s.session.StartedAt).Seconds()
}

// publish copies loop state into the snapshot read by Status
func (s *Supervisor) publish() {
	sess := s.session
	if sess == nil {
		return
	}

	snap := Snapshot{
		SessionID:         sess.ID,
		State:             s.state.String(),
		Active:            sess.Active,
		Checking:          sess.Checking,
		CurrentIndex:      sess.CurrentIndex,
		Instructions:      len(sess.Instructions),
		Passed:            sess.PassedCount(),
		ConsecutiveErrors: sess.ConsecutiveErrors,
		LastActivity:      sess.LastActivity,
		EngineGeneration:  s.generation,
		EngineConfig:      s.config.Engine,
		EngineActive:      s.engineActive,
		Recording:         s.recorder.Recording(),
		SoftResets:        s.softResets,
		FatalReason:       s.fatalReason,
	}
	if s.eng != nil {
		snap.EngineConfig = s.eng.Config()
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}
