package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrSourceClosed is returned when starting a text engine whose line source is exhausted.
var ErrSourceClosed = fmt.Errorf("line source closed: %w", ErrInputEnded)

// LineSource fans lines read from an io.Reader out to whichever text engine is
// currently running. It outlives individual engines so that soft resets keep
// reading the same input.
type LineSource struct {
	lines chan string
	done  chan struct{}
	once  sync.Once
}

// NewLineSource starts reading r line by line
func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{
		lines: make(chan string),
		done:  make(chan struct{}),
	}

	go func() {
		defer s.once.Do(func() { close(s.done) })
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case s.lines <- scanner.Text():
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Close stops delivering lines
func (s *LineSource) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *LineSource) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// TextEngine treats each input line as one spoken utterance. With interim
// results enabled it emits the line word by word before the final result.
// An empty line, or no line within the silence timeout, raises no-speech.
// Exhausting the source ends the engine.
type TextEngine struct {
	cfg            Config
	handlers       Handlers
	source         *LineSource
	silenceTimeout time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
}

// NewTextFactory returns a Factory producing text engines reading from source
func NewTextFactory(source *LineSource, silenceTimeout time.Duration) Factory {
	return func(cfg Config, h Handlers) (Engine, error) {
		return &TextEngine{
			cfg:            cfg,
			handlers:       h,
			source:         source,
			silenceTimeout: silenceTimeout,
		}, nil
	}
}

// Start begins consuming lines
func (e *TextEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.running {
		return ErrAlreadyStarted
	}
	if e.source.closed() {
		return ErrSourceClosed
	}

	e.running = true
	e.stop = make(chan struct{})
	go e.loop(e.stop)

	return nil
}

// Stop ends the current run
func (e *TextEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.stop == nil {
		return
	}
	close(e.stop)
	e.stop = nil
}

// Close stops the engine and prevents restarts
func (e *TextEngine) Close() error {
	e.Stop()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	return nil
}

// Config returns the configuration the engine was built with
func (e *TextEngine) Config() Config {
	return e.cfg
}

func (e *TextEngine) loop(stop chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.handlers.end()
	}()

	var silence <-chan time.Time
	var timer *time.Timer
	if e.silenceTimeout > 0 {
		timer = time.NewTimer(e.silenceTimeout)
		defer timer.Stop()
		silence = timer.C
	}

	for {
		select {
		case <-stop:
			return
		case <-e.source.done:
			return
		case <-silence:
			e.handlers.error(ErrorNoSpeech, "no input within silence timeout")
			timer.Reset(e.silenceTimeout)
		case line := <-e.source.lines:
			e.utter(strings.TrimSpace(line))
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(e.silenceTimeout)
			}
			if !e.cfg.Continuous {
				return
			}
		}
	}
}

func (e *TextEngine) utter(line string) {
	if line == "" {
		e.handlers.error(ErrorNoSpeech, "empty utterance")
		return
	}

	if e.cfg.InterimResults {
		words := strings.Fields(line)
		for i := 1; i < len(words); i++ {
			e.handlers.result(Result{Transcript: strings.Join(words[:i], " ")})
		}
	}
	e.handlers.result(Result{Transcript: line, Final: true})
}
