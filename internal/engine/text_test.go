package engine

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedEvents struct {
	mu      sync.Mutex
	results []Result
	errors  []ErrorKind
	ends    int
}

func (r *recordedEvents) handlers() Handlers {
	return Handlers{
		OnResult: func(res Result) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, res)
		},
		OnError: func(kind ErrorKind, detail string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, kind)
		},
		OnEnd: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ends++
		},
	}
}

func (r *recordedEvents) snapshot() ([]Result, []ErrorKind, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...), append([]ErrorKind(nil), r.errors...), r.ends
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestErrorKindTransient(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		transient bool
	}{
		{ErrorNoSpeech, true},
		{ErrorAborted, true},
		{ErrorNetwork, false},
		{ErrorNotAllowed, false},
		{ErrorAudioCapture, false},
		{ErrorKind("azure-error-9"), false},
	}

	for _, tt := range tests {
		if got := tt.kind.Transient(); got != tt.transient {
			t.Errorf("%s: expected transient=%t, got %t", tt.kind, tt.transient, got)
		}
	}
}

func TestTextEngineEmitsInterimAndFinal(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewLineSource(pr)
	defer source.Close()

	events := &recordedEvents{}
	factory := NewTextFactory(source, 0)
	eng, err := factory(Config{Language: "en-US", Continuous: true, InterimResults: true}, events.handlers())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()

	if err := eng.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	go pw.Write([]byte("say hello there\n"))

	waitFor(t, func() bool {
		results, _, _ := events.snapshot()
		return len(results) == 3
	})

	results, _, _ := events.snapshot()
	expected := []Result{
		{Transcript: "say"},
		{Transcript: "say hello"},
		{Transcript: "say hello there", Final: true},
	}
	for i, want := range expected {
		if results[i] != want {
			t.Errorf("Result %d: expected %+v, got %+v", i, want, results[i])
		}
	}
}

func TestTextEngineEmptyLineIsNoSpeech(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewLineSource(pr)
	defer source.Close()

	events := &recordedEvents{}
	eng, _ := NewTextFactory(source, 0)(Config{Continuous: true}, events.handlers())
	defer eng.Close()

	if err := eng.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	go pw.Write([]byte("\n"))

	waitFor(t, func() bool {
		_, errs, _ := events.snapshot()
		return len(errs) == 1
	})

	_, errs, _ := events.snapshot()
	if errs[0] != ErrorNoSpeech {
		t.Errorf("Expected no-speech, got %s", errs[0])
	}
}

func TestTextEngineSilenceTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewLineSource(pr)
	defer source.Close()

	events := &recordedEvents{}
	eng, _ := NewTextFactory(source, 20*time.Millisecond)(Config{Continuous: true}, events.handlers())
	defer eng.Close()

	if err := eng.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	waitFor(t, func() bool {
		_, errs, _ := events.snapshot()
		return len(errs) >= 2
	})
}

func TestTextEngineRedundantStart(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewLineSource(pr)
	defer source.Close()

	eng, _ := NewTextFactory(source, 0)(Config{Continuous: true}, Handlers{})
	defer eng.Close()

	if err := eng.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	if err := eng.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestTextEngineEndsOnStopAndEOF(t *testing.T) {
	source := NewLineSource(strings.NewReader(""))

	events := &recordedEvents{}
	eng, _ := NewTextFactory(source, 0)(Config{Continuous: true}, events.handlers())

	// The reader is already at EOF; wait until the source notices.
	waitFor(t, func() bool { return source.closed() })

	if err := eng.Start(); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Expected ErrSourceClosed, got %v", err)
	}
	if err := eng.Start(); !errors.Is(err, ErrInputEnded) {
		t.Errorf("Expected exhausted source to report ErrInputEnded, got %v", err)
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	live := NewLineSource(pr)
	defer live.Close()

	eng2, _ := NewTextFactory(live, 0)(Config{Continuous: true}, events.handlers())
	if err := eng2.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	eng2.Stop()

	waitFor(t, func() bool {
		_, _, ends := events.snapshot()
		return ends == 1
	})

	// A stopped engine may be started again once it has ended.
	if err := eng2.Start(); err != nil {
		t.Errorf("Expected restart after end to succeed, got %v", err)
	}
	eng2.Close()
}

func TestConfigString(t *testing.T) {
	cfg := Config{Language: "en-US", Continuous: true, InterimResults: true}
	if got := cfg.String(); got != "lang=en-US continuous=true interim=true" {
		t.Errorf("Unexpected config string: %s", got)
	}
}
