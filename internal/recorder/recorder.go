package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotAcquired is returned when recording is requested before the source is acquired.
	ErrNotAcquired = errors.New("recorder source not acquired")
	// ErrAlreadyRecording is returned by Start while a clip is being captured.
	ErrAlreadyRecording = errors.New("recorder already recording")
	// ErrNotRecording is returned by Stop when no clip is being captured.
	ErrNotRecording = errors.New("recorder not recording")
)

// ClipFilename is the file name the clip is uploaded under
const ClipFilename = "user-audio.wav"

// Clip is one recorded attempt
type Clip struct {
	ID         string        `json:"id"`
	Filename   string        `json:"filename"`
	Data       []byte        `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}

// Config contains recorder parameters
type Config struct {
	SampleRate      int
	FramesPerBuffer int
}

// Recorder captures frames from a Source into clips. The source is acquired
// once per session and read continuously; frames are kept only between
// Start and Stop, one chunk per frame.
type Recorder struct {
	source Source
	config Config
	logger *slog.Logger

	// OnFailure is called from the capture goroutine when the source fails.
	OnFailure func(error)

	mu        sync.Mutex
	acquired  bool
	recording bool
	chunks    [][]int16
	startedAt time.Time

	quit     chan struct{}
	captured chan struct{}
}

// New creates a recorder over source
func New(source Source, config Config, logger *slog.Logger) *Recorder {
	return &Recorder{
		source: source,
		config: config,
		logger: logger.With(slog.String("component", "recorder")),
	}
}

// Acquire opens the source and starts the capture goroutine
func (r *Recorder) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.acquired {
		return nil
	}

	if err := r.source.Open(r.config.SampleRate, r.config.FramesPerBuffer); err != nil {
		if errors.Is(err, ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	r.acquired = true
	r.quit = make(chan struct{})
	r.captured = make(chan struct{})
	go r.captureLoop(r.quit, r.captured)

	r.logger.Info("Audio source acquired",
		slog.Int("sample_rate", r.config.SampleRate),
		slog.Int("frames_per_buffer", r.config.FramesPerBuffer),
	)

	return nil
}

// Start begins a new clip
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acquired {
		return ErrNotAcquired
	}
	if r.recording {
		return ErrAlreadyRecording
	}

	r.recording = true
	r.chunks = nil
	r.startedAt = time.Now()

	return nil
}

// Stop ends the current clip and returns it encoded as WAV
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	chunks := r.chunks
	r.chunks = nil
	startedAt := r.startedAt
	r.mu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	samples := make([]int16, 0, total)
	for _, c := range chunks {
		samples = append(samples, c...)
	}

	data, err := EncodeWAV(samples, r.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip: %w", err)
	}

	info, err := InspectClip(data)
	if err != nil {
		return nil, fmt.Errorf("encoded clip is invalid: %w", err)
	}

	return &Clip{
		ID:         uuid.NewString(),
		Filename:   ClipFilename,
		Data:       data,
		SampleRate: r.config.SampleRate,
		Samples:    len(samples),
		Duration:   info.Duration,
		StartedAt:  startedAt,
	}, nil
}

// Recording reports whether a clip is being captured
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Release discards any clip in progress, stops capture and closes the source.
// It is safe to call more than once.
func (r *Recorder) Release() error {
	r.mu.Lock()
	if !r.acquired {
		r.mu.Unlock()
		return nil
	}
	r.acquired = false
	r.recording = false
	r.chunks = nil
	quit, captured := r.quit, r.captured
	r.mu.Unlock()

	close(quit)
	<-captured

	if err := r.source.Close(); err != nil {
		return fmt.Errorf("failed to release audio source: %w", err)
	}

	r.logger.Info("Audio source released")
	return nil
}

func (r *Recorder) captureLoop(quit <-chan struct{}, captured chan<- struct{}) {
	defer close(captured)

	for {
		select {
		case <-quit:
			return
		default:
		}

		frame := make([]int16, r.config.FramesPerBuffer)
		n, err := r.source.Read(frame)
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}
			r.logger.Error("Audio capture failed", slog.String("error", err.Error()))
			if r.OnFailure != nil {
				r.OnFailure(err)
			}
			return
		}

		r.mu.Lock()
		if r.recording {
			r.chunks = append(r.chunks, frame[:n])
		}
		r.mu.Unlock()
	}
}
