package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on an engine that is already running.
	ErrAlreadyStarted = errors.New("recognition already started")
	// ErrInputEnded is returned by Start once the engine's input is exhausted
	// for good. Restarting or replacing the engine cannot help.
	ErrInputEnded = errors.New("recognition input ended")
	// ErrClosed is returned by Start on a closed engine.
	ErrClosed = errors.New("engine closed")
)

// ErrorKind classifies an engine error event
type ErrorKind string

const (
	ErrorNoSpeech             ErrorKind = "no-speech"
	ErrorAborted              ErrorKind = "aborted"
	ErrorAudioCapture         ErrorKind = "audio-capture"
	ErrorNetwork              ErrorKind = "network"
	ErrorNotAllowed           ErrorKind = "not-allowed"
	ErrorServiceNotAllowed    ErrorKind = "service-not-allowed"
	ErrorLanguageNotSupported ErrorKind = "language-not-supported"
)

// Transient reports whether the supervisor may recover from the error by counting and resetting
func (k ErrorKind) Transient() bool {
	return k == ErrorNoSpeech || k == ErrorAborted
}

// Config is the engine configuration. A soft reset constructs the replacement
// engine from the same value.
type Config struct {
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

func (c Config) String() string {
	return fmt.Sprintf("lang=%s continuous=%t interim=%t", c.Language, c.Continuous, c.InterimResults)
}

// Result is a recognized transcript segment
type Result struct {
	Transcript string
	Final      bool
}

// Handlers receive engine events. They may be invoked from any goroutine.
type Handlers struct {
	OnResult func(Result)
	OnError  func(kind ErrorKind, detail string)
	OnEnd    func()
}

func (h Handlers) result(r Result) {
	if h.OnResult != nil {
		h.OnResult(r)
	}
}

func (h Handlers) error(kind ErrorKind, detail string) {
	if h.OnError != nil {
		h.OnError(kind, detail)
	}
}

func (h Handlers) end() {
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

// Engine is a continuous speech-to-text session
type Engine interface {
	// Start begins recognition. It returns ErrAlreadyStarted when running.
	Start() error
	// Stop ends recognition; OnEnd fires once the engine has stopped.
	Stop()
	// Close releases the engine. A closed engine cannot be restarted.
	Close() error
	Config() Config
}

// Factory constructs a new engine bound to the given handlers
type Factory func(cfg Config, h Handlers) (Engine, error)
