package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrMicrophoneUnavailable is returned when the capture device cannot be acquired.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Source produces mono PCM-16 frames
type Source interface {
	// Open acquires the device. Failures wrap ErrMicrophoneUnavailable.
	Open(sampleRate, framesPerBuffer int) error
	// Read blocks until frame is filled and returns the number of samples written.
	Read(frame []int16) (int, error)
	Close() error
}

// PortAudioSource captures from the default input device
type PortAudioSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

// NewPortAudioSource creates an unopened microphone source
func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// Open initializes PortAudio and starts the default input stream
func (p *PortAudioSource) Open(sampleRate, framesPerBuffer int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: failed to initialize portaudio: %v", ErrMicrophoneUnavailable, err)
	}

	p.buf = make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, p.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: failed to open input stream: %v", ErrMicrophoneUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: failed to start input stream: %v", ErrMicrophoneUnavailable, err)
	}

	p.stream = stream
	return nil
}

// Read fills frame with the next buffer from the device
func (p *PortAudioSource) Read(frame []int16) (int, error) {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream == nil {
		return 0, errors.New("input stream not open")
	}

	if err := stream.Read(); err != nil {
		return 0, fmt.Errorf("failed to read input stream: %w", err)
	}

	return copy(frame, p.buf), nil
}

// Close stops the stream and releases the device
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}

	var errs []error
	if err := p.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop input stream: %w", err))
	}
	if err := p.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close input stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("failed to terminate portaudio: %w", err))
	}
	p.stream = nil

	return errors.Join(errs...)
}

// SilenceSource paces zero-filled frames in real time. It stands in for a
// microphone when recognition runs on text input.
type SilenceSource struct {
	mu         sync.Mutex
	open       bool
	frameDelay time.Duration
}

// NewSilenceSource creates an unopened silence source
func NewSilenceSource() *SilenceSource {
	return &SilenceSource{}
}

// Open computes the frame pacing
func (s *SilenceSource) Open(sampleRate, framesPerBuffer int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrMicrophoneUnavailable, sampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = true
	s.frameDelay = time.Duration(framesPerBuffer) * time.Second / time.Duration(sampleRate)
	return nil
}

// Read waits one frame duration and zero-fills frame
func (s *SilenceSource) Read(frame []int16) (int, error) {
	s.mu.Lock()
	open, delay := s.open, s.frameDelay
	s.mu.Unlock()

	if !open {
		return 0, errors.New("silence source closed")
	}

	time.Sleep(delay)
	clear(frame)
	return len(frame), nil
}

// Close marks the source closed
func (s *SilenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	return nil
}
