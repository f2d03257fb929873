package quizserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
)

func newTestServer(t *testing.T) (*httptest.Server, *quizapi.Client) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Instructions: []string{"Say hello", "Turn left"}}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := quizapi.NewClient(quizapi.Config{
		BaseURL:      ts.URL,
		Timeout:      5 * time.Second,
		RetryBackoff: time.Millisecond,
	}, logger, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return ts, client
}

func encode(t *testing.T, samples []int16) []byte {
	t.Helper()
	data, err := recorder.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return data
}

func TestMatches(t *testing.T) {
	tests := []struct {
		guess, instruction string
		want               bool
	}{
		{"say hello", "Say hello", true},
		{"Okay, say hello!", "Say hello", true},
		{"say hello there", "Say hello.", true},
		{"say hell", "Say hello", false},
		{"hello", "Say hello", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.guess, tt.instruction); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.guess, tt.instruction, got, tt.want)
		}
	}
}

func TestGameRoundTrip(t *testing.T) {
	ts, client := newTestServer(t)
	ctx := context.Background()

	instructions, err := client.Instructions(ctx)
	if err != nil {
		t.Fatalf("Instructions failed: %v", err)
	}
	if len(instructions) != 2 || instructions[1] != "Turn left" {
		t.Fatalf("Unexpected instructions %v", instructions)
	}

	miss, err := client.Judge(ctx, &quizapi.JudgeRequest{
		Transcript: "say yellow", CurrentIndex: 0, Audio: encode(t, []int16{1, 2, 3}),
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if miss.IsMatch {
		t.Error("Expected no match")
	}

	hit, err := client.Judge(ctx, &quizapi.JudgeRequest{
		Transcript: "say hello", CurrentIndex: 0, Audio: encode(t, []int16{4, 5}),
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if !hit.IsMatch || !strings.HasPrefix(hit.AudioURL, "/audio/") || !strings.HasSuffix(hit.AudioURL, ".wav") {
		t.Fatalf("Unexpected verdict %+v", hit)
	}

	merged, err := client.Merge(ctx, []string{miss.AudioURL, hit.AudioURL})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	resp, err := http.Get(client.ResolveURL(merged))
	if err != nil {
		t.Fatalf("Failed to fetch merged audio: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !bytes.Equal(data, encode(t, []int16{1, 2, 3, 4, 5})) {
		t.Error("Merged clip is not the concatenation of its parts")
	}
	if !strings.HasPrefix(client.ResolveURL(merged), ts.URL) {
		t.Errorf("Expected merged URL under %s, got %s", ts.URL, client.ResolveURL(merged))
	}
}

func TestJudgeWithoutAudio(t *testing.T) {
	ts, client := newTestServer(t)

	verdict, err := client.Judge(context.Background(), &quizapi.JudgeRequest{
		Transcript: "turn left", CurrentIndex: 1,
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if !verdict.IsMatch || verdict.AudioURL == "" {
		t.Errorf("Unexpected verdict %+v", verdict)
	}

	// A silent clip has nothing to merge.
	_, err = client.Merge(context.Background(), []string{verdict.AudioURL})
	var statusErr *quizapi.StatusError
	if err == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %v", err)
	}

	form := "--b\r\nContent-Disposition: form-data; name=\"userGuess\"\r\n\r\nturn left\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"currentIndex\"\r\n\r\n1\r\n--b--\r\n"
	resp, err := http.Post(ts.URL+"/check-text-guess", "multipart/form-data; boundary=b", strings.NewReader(form))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for a form without audio, got %d", resp.StatusCode)
	}
}

func TestJudgeRejectsBadIndex(t *testing.T) {
	_, client := newTestServer(t)

	_, err := client.Judge(context.Background(), &quizapi.JudgeRequest{
		Transcript: "turn left", CurrentIndex: 7,
	})
	var statusErr *quizapi.StatusError
	if err == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %v", err)
	}
}

func TestMergeSkipsUnknownClips(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	verdict, err := client.Judge(ctx, &quizapi.JudgeRequest{
		Transcript: "say hello", CurrentIndex: 0, Audio: encode(t, []int16{7, 8, 9}),
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}

	merged, err := client.Merge(ctx, []string{"/audio/missing.wav", verdict.AudioURL, "/audio/gone.wav"})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	resp, err := http.Get(client.ResolveURL(merged))
	if err != nil {
		t.Fatalf("Failed to fetch merged audio: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if !bytes.Equal(data, encode(t, []int16{7, 8, 9})) {
		t.Error("Expected the merged clip to hold only the known clip")
	}
}

func TestMergeUnknownClip(t *testing.T) {
	_, client := newTestServer(t)

	_, err := client.Merge(context.Background(), []string{"/audio/missing.wav"})
	var statusErr *quizapi.StatusError
	if err == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 when nothing could be merged, got %v", err)
	}
}
