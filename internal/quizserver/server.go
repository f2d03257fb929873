package quizserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
)

const audioPrefix = "/audio/"

// Config contains stand-in server parameters
type Config struct {
	Instructions []string
	// Latency delays every judgement, simulating model processing time.
	Latency        time.Duration
	MaxUploadBytes int64
}

type storedClip struct {
	data        []byte
	contentType string
}

// Server is a local quiz server for development and tests. It judges a
// guess by normalized text comparison and keeps clips in memory.
type Server struct {
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	clips map[string]storedClip
}

// New creates a stand-in quiz server
func New(config Config, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	return &Server{
		config: config,
		logger: logger.With(slog.String("component", "quizserver")),
		clips:  make(map[string]storedClip),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get-instructions", s.handleInstructions)
	mux.HandleFunc("POST /check-text-guess", s.handleCheck)
	mux.HandleFunc("POST /merge-audio", s.handleMerge)
	mux.HandleFunc("GET "+audioPrefix+"{id}", s.handleAudio)
	return mux
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instructions": s.config.Instructions,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	guess := r.FormValue("userGuess")
	index, err := strconv.Atoi(r.FormValue("currentIndex"))
	if err != nil || index < 0 || index >= len(s.config.Instructions) {
		http.Error(w, "Invalid currentIndex", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		http.Error(w, "audio file is required", http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}
	audioURL := s.store(data)
	s.logger.Debug("Clip received",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.String("audio_url", audioURL),
	)

	if s.config.Latency > 0 {
		select {
		case <-time.After(s.config.Latency):
		case <-r.Context().Done():
			return
		}
	}

	match := Matches(guess, s.config.Instructions[index])

	s.logger.Info("Guess checked",
		slog.Int("index", index),
		slog.String("guess", guess),
		slog.Bool("match", match),
		slog.String("request_id", r.Header.Get("X-Request-ID")),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_match":  match,
		"audio_url": audioURL,
	})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioURLs []string `json:"audio_urls"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.AudioURLs) == 0 {
		http.Error(w, "audio_urls cannot be empty", http.StatusBadRequest)
		return
	}

	var samples []int16
	sampleRate := 0
	mergedClips := 0
	for _, ref := range req.AudioURLs {
		clip, ok := s.lookup(ref)
		if !ok {
			s.logger.Warn("Clip not found, skipping", slog.String("audio_url", ref))
			continue
		}

		pcm, rate, err := decodeMono16(clip.data)
		if err != nil {
			s.logger.Warn("Cannot decode clip, skipping",
				slog.String("audio_url", ref),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sampleRate != 0 && rate != sampleRate {
			s.logger.Warn("Clip sample rate differs, skipping",
				slog.String("audio_url", ref),
				slog.Int("sample_rate", rate),
				slog.Int("expected_sample_rate", sampleRate),
			)
			continue
		}
		sampleRate = rate
		samples = append(samples, pcm...)
		mergedClips++
	}

	if len(samples) == 0 {
		http.Error(w, "Could not process any of the provided audio files", http.StatusInternalServerError)
		return
	}

	merged, err := recorder.EncodeWAV(samples, sampleRate)
	if err != nil {
		http.Error(w, "Error encoding merged audio", http.StatusInternalServerError)
		return
	}
	mergedURL := s.store(merged)

	s.logger.Info("Audio merged",
		slog.Int("clips", mergedClips),
		slog.Int("skipped", len(req.AudioURLs)-mergedClips),
		slog.Int("samples", len(samples)),
		slog.String("merged_audio_url", mergedURL),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merged_audio_url": mergedURL,
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	clip, ok := s.clips[r.PathValue("id")]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", clip.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.data)))
	w.Write(clip.data)
}

// store keeps data and returns its server-relative URL
func (s *Server) store(data []byte) string {
	mtype := mimetype.Detect(data)
	id := uuid.NewString() + mtype.Extension()

	s.mu.Lock()
	s.clips[id] = storedClip{data: data, contentType: mtype.String()}
	s.mu.Unlock()

	return audioPrefix + id
}

func (s *Server) lookup(ref string) (storedClip, bool) {
	u, err := url.Parse(ref)
	if err != nil || !strings.HasPrefix(u.Path, audioPrefix) {
		return storedClip{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	clip, ok := s.clips[path.Base(u.Path)]
	return clip, ok
}

// decodeMono16 returns the samples of a mono 16-bit PCM WAV clip
func decodeMono16(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("invalid WAV clip: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 || buf.SourceBitDepth != 16 {
		return nil, 0, fmt.Errorf("only mono 16-bit PCM is supported")
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, buf.Format.SampleRate, nil
}

// Matches reports whether guess says instruction, ignoring case,
// punctuation and surrounding words.
func Matches(guess, instruction string) bool {
	want := normalize(instruction)
	if want == "" {
		return false
	}
	got := " " + normalize(guess) + " "
	return strings.Contains(got, " "+want+" ")
}

func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(fields, " ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
