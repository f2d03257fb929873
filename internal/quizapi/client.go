package quizapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
)

const (
	instructionsPath = "/get-instructions"
	judgePath        = "/check-text-guess"
	mergePath        = "/merge-audio"

	clipBaseName = "user-audio"
)

// ErrNoMergedAudio is returned when the merge endpoint succeeds without a URL.
var ErrNoMergedAudio = errors.New("server returned no merged audio URL")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP error %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config contains quiz API client configuration
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // first backoff; doubles per retry
	UserAgent    string
	SampleRate   int // of the silent clip sent for an attempt without audio
}

// JudgeRequest is one attempt submitted for judgement
type JudgeRequest struct {
	Transcript   string
	CurrentIndex int
	Audio        []byte
}

// Verdict is the judge's answer
type Verdict struct {
	IsMatch  bool   `json:"is_match"`
	AudioURL string `json:"audio_url"`
}

type instructionsResponse struct {
	Instructions []string `json:"instructions"`
}

type mergeRequest struct {
	AudioURLs []string `json:"audio_urls"`
}

type mergeResponse struct {
	MergedAudioURL string `json:"merged_audio_url"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client talks to the quiz server
type Client struct {
	config     Config
	baseURL    *url.URL
	silentClip []byte
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a quiz API client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", base.Scheme)
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	silentClip, err := recorder.EncodeWAV(nil, config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode silent clip: %w", err)
	}

	if config.UserAgent == "" {
		config.UserAgent = "voicequiz/dev"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		baseURL:    base,
		silentClip: silentClip,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "quizapi")),
		metrics:    m,
	}, nil
}

// Instructions fetches the instruction list. The request is retried with
// exponential backoff on network errors, 5xx and 429 responses.
func (c *Client) Instructions(ctx context.Context) ([]string, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordInstructionFetchRetry()
			}

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Warn("Retrying instruction fetch",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return nil, ctx.Err()
			}
		}

		var resp instructionsResponse
		err := c.do(ctx, http.MethodGet, instructionsPath, nil, "", &resp)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return resp.Instructions, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return nil, fmt.Errorf("instruction fetch failed: %w", lastErr)
}

// Judge submits an attempt for judgement. It is not retried: a failed call
// is reported to the player, who simply speaks again. An attempt without
// audio is sent with a header-only WAV, as the server requires the part.
func (c *Client) Judge(ctx context.Context, request *JudgeRequest) (*Verdict, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	if len(request.Audio) == 0 {
		withSilence := *request
		withSilence.Audio = c.silentClip
		request = &withSilence
	}

	body, contentType, err := createMultipartRequest(request)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	var verdict Verdict
	if err := c.do(ctx, http.MethodPost, judgePath, body, contentType, &verdict); err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("judge request failed: %w", err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return &verdict, nil
}

// Merge asks the server to concatenate the given clips and returns the URL
// of the merged recording.
func (c *Client) Merge(ctx context.Context, audioURLs []string) (string, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	payload, err := json.Marshal(mergeRequest{AudioURLs: audioURLs})
	if err != nil {
		c.incrementFailedRequests()
		return "", fmt.Errorf("failed to marshal merge request: %w", err)
	}

	var resp mergeResponse
	if err := c.do(ctx, http.MethodPost, mergePath, bytes.NewReader(payload), "application/json", &resp); err != nil {
		c.incrementFailedRequests()
		return "", fmt.Errorf("merge request failed: %w", err)
	}

	if resp.MergedAudioURL == "" {
		c.incrementFailedRequests()
		return "", ErrNoMergedAudio
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return resp.MergedAudioURL, nil
}

// ResolveURL turns a server-relative media path into an absolute URL
func (c *Client) ResolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

// do performs a single HTTP request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	requestID := uuid.NewString()

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("Sending request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", requestID),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return nil
}

// createMultipartRequest builds the judge form: the clip under "audio",
// the transcript under "userGuess" and the instruction index under
// "currentIndex".
func createMultipartRequest(request *JudgeRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mtype := mimetype.Detect(request.Audio)
	ext := mtype.Extension()
	if ext == "" {
		ext = ".wav"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="%s%s"`, clipBaseName, ext))
	header.Set("Content-Type", mtype.String())

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(request.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := []struct{ key, value string }{
		{"userGuess", request.Transcript},
		{"currentIndex", strconv.Itoa(request.CurrentIndex)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}
