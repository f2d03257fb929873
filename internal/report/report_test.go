package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/game"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

func sampleReport() *game.Report {
	return &game.Report{
		SessionID:    "abc",
		Instructions: []string{"say hello", "say goodbye"},
		Statuses:     []supervisor.InstructionStatus{supervisor.StatusPassed, supervisor.StatusPending},
		Services: []*game.ServiceHistory{
			{
				Index:       0,
				Instruction: "say hello",
				Attempts: []game.Attempt{
					{Index: 0, Transcript: "hello there", AudioURL: "/a/1.wav"},
					{Index: 0, Transcript: "say hello", Passed: true, AudioURL: "/a/2.wav"},
				},
				MergedAudioURL: "http://quiz.test/merged/1.wav",
			},
			{
				Index:       1,
				Instruction: "say goodbye",
				Attempts: []game.Attempt{
					{Index: 1, Transcript: "bye"},
				},
			},
		},
		FinalMessage: game.MessageGameOver,
	}
}

func TestTextRenderer(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTextRenderer(&buf).Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Summary",
		`Service 1: "say hello"`,
		"(2 attempts)",
		`Service 2: "say goodbye"`,
		"(1 attempt)",
		`"hello there"`,
		"http://quiz.test/merged/1.wav",
		"No audio was recorded for this service.",
		game.MessageGameOver,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestTextRendererNoActivity(t *testing.T) {
	var buf bytes.Buffer
	r := &game.Report{FinalMessage: game.MessageGameOver}
	if err := NewTextRenderer(&buf).Render(r); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No activity was recorded.") {
		t.Errorf("Expected empty summary, got:\n%s", buf.String())
	}
}

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONRenderer(&buf).Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var decoded game.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(decoded.Services) != 2 || len(decoded.Services[0].Attempts) != 2 {
		t.Fatalf("Unexpected services %+v", decoded.Services)
	}
	if decoded.Services[1].MergedAudioURL != "" {
		t.Errorf("Expected no merged audio, got %q", decoded.Services[1].MergedAudioURL)
	}
	if !strings.Contains(buf.String(), `"merged_audio_url": "http://quiz.test/merged/1.wav"`) {
		t.Errorf("Expected snake_case keys, got %s", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New("yaml", &bytes.Buffer{}); err == nil {
		t.Error("Expected error for unknown format")
	}
	for _, format := range []string{"text", "json"} {
		if _, err := New(format, &bytes.Buffer{}); err != nil {
			t.Errorf("Format %s: %v", format, err)
		}
	}
}
