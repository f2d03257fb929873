package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
)

// AzureCredentials identifies the Azure Speech resource
type AzureCredentials struct {
	SubscriptionKey string
	Region          string
}

// AzureEngine runs Azure continuous recognition on the default microphone.
// The recognizer always produces interim hypotheses; they are forwarded only
// when InterimResults is set.
type AzureEngine struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	recognizer continuousRecognizer
	release    func()

	mu       sync.Mutex
	running  bool
	closed   bool
	stopping chan struct{}
}

// continuousRecognizer is the part of speech.SpeechRecognizer the engine drives
type continuousRecognizer interface {
	StartContinuousRecognitionAsync() chan error
	StopContinuousRecognitionAsync() chan error
	Close()
}

// NewAzureFactory returns a Factory producing Azure-backed engines
func NewAzureFactory(creds AzureCredentials, logger *slog.Logger) Factory {
	return func(cfg Config, h Handlers) (Engine, error) {
		return newAzureEngine(creds, cfg, h, logger)
	}
}

func newAzureEngine(creds AzureCredentials, cfg Config, h Handlers, logger *slog.Logger) (*AzureEngine, error) {
	if creds.SubscriptionKey == "" || creds.Region == "" {
		return nil, fmt.Errorf("azure engine requires subscription key and region")
	}

	speechConfig, err := speech.NewSpeechConfigFromSubscription(creds.SubscriptionKey, creds.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech config: %w", err)
	}

	if err := speechConfig.SetSpeechRecognitionLanguage(cfg.Language); err != nil {
		speechConfig.Close()
		return nil, fmt.Errorf("failed to set recognition language %s: %w", cfg.Language, err)
	}

	audioConfig, err := audio.NewAudioConfigFromDefaultMicrophoneInput()
	if err != nil {
		speechConfig.Close()
		return nil, fmt.Errorf("failed to open default microphone input: %w", err)
	}

	recognizer, err := speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	if err != nil {
		audioConfig.Close()
		speechConfig.Close()
		return nil, fmt.Errorf("failed to create speech recognizer: %w", err)
	}

	e := &AzureEngine{
		cfg:        cfg,
		handlers:   h,
		logger:     logger.With(slog.String("engine", "azure")),
		recognizer: recognizer,
		release: func() {
			audioConfig.Close()
			speechConfig.Close()
		},
	}
	e.bind(recognizer)

	return e, nil
}

func (e *AzureEngine) bind(recognizer *speech.SpeechRecognizer) {
	recognizer.SessionStarted(func(ev speech.SessionEventArgs) {
		defer ev.Close()
		e.logger.Debug("Azure recognition session started", slog.String("session_id", ev.SessionID))
	})

	recognizer.SessionStopped(func(ev speech.SessionEventArgs) {
		defer ev.Close()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.logger.Debug("Azure recognition session stopped", slog.String("session_id", ev.SessionID))
		e.handlers.end()
	})

	recognizer.Recognizing(func(ev speech.SpeechRecognitionEventArgs) {
		defer ev.Close()
		if e.cfg.InterimResults && ev.Result.Text != "" {
			e.handlers.result(Result{Transcript: ev.Result.Text})
		}
	})

	recognizer.Recognized(func(ev speech.SpeechRecognitionEventArgs) {
		defer ev.Close()
		switch ev.Result.Reason {
		case common.RecognizedSpeech:
			if ev.Result.Text == "" {
				e.handlers.error(ErrorNoSpeech, "empty recognition result")
				return
			}
			e.handlers.result(Result{Transcript: ev.Result.Text, Final: true})
		case common.NoMatch:
			e.handlers.error(ErrorNoSpeech, "speech could not be recognized")
		}
	})

	recognizer.Canceled(func(ev speech.SpeechRecognitionCanceledEventArgs) {
		defer ev.Close()
		if ev.Reason != common.Error {
			// End of stream is reported through SessionStopped.
			return
		}
		e.handlers.error(classifyCancellation(ev.ErrorCode), ev.ErrorDetails)
	})
}

// classifyCancellation maps Azure cancellation codes onto engine error kinds
func classifyCancellation(code common.CancellationErrorCode) ErrorKind {
	switch code {
	case common.ServiceTimeout, common.TooManyRequests:
		return ErrorAborted
	case common.AuthenticationFailure, common.Forbidden:
		return ErrorServiceNotAllowed
	case common.ConnectionFailure, common.ServiceUnavailable, common.ServiceError:
		return ErrorNetwork
	case common.BadRequest:
		return ErrorLanguageNotSupported
	default:
		return ErrorKind(fmt.Sprintf("azure-error-%d", int(code)))
	}
}

// Start begins continuous recognition. A stop still in progress is waited
// for first.
func (e *AzureEngine) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	pending := e.stopping
	e.stopping = nil
	e.running = true
	e.mu.Unlock()

	if pending != nil {
		<-pending
	}

	if err := <-e.recognizer.StartContinuousRecognitionAsync(); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("failed to start continuous recognition: %w", err)
	}

	return nil
}

// Stop requests the end of continuous recognition without waiting for it
func (e *AzureEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// stopLocked issues at most one stop per run. e.mu must be held.
func (e *AzureEngine) stopLocked() {
	if !e.running {
		return
	}
	e.running = false

	done := make(chan struct{})
	e.stopping = done
	go func() {
		defer close(done)
		if err := <-e.recognizer.StopContinuousRecognitionAsync(); err != nil {
			e.logger.Warn("Failed to stop continuous recognition", slog.String("error", err.Error()))
		}
	}()
}

// Close stops recognition if needed, waits for the stop to complete and
// releases the recognizer and its native resources
func (e *AzureEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopLocked()
	pending := e.stopping
	e.stopping = nil
	e.mu.Unlock()

	if pending != nil {
		<-pending
	}

	e.recognizer.Close()
	if e.release != nil {
		e.release()
	}

	return nil
}

// Config returns the configuration the engine was built with
func (e *AzureEngine) Config() Config {
	return e.cfg
}
