package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

type fakeAPI struct {
	mu           sync.Mutex
	instructions []string
	instrErr     error
	verdicts     map[string]*quizapi.Verdict
	judgeErr     error
	judged       []*quizapi.JudgeRequest
	merges       [][]string
	mergeErr     map[string]error
	mergeCtxErr  []error
}

func (f *fakeAPI) Instructions(ctx context.Context) ([]string, error) {
	return f.instructions, f.instrErr
}

func (f *fakeAPI) Judge(ctx context.Context, req *quizapi.JudgeRequest) (*quizapi.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.judged = append(f.judged, req)
	if f.judgeErr != nil {
		return nil, f.judgeErr
	}
	v, ok := f.verdicts[req.Transcript]
	if !ok {
		return &quizapi.Verdict{}, nil
	}
	return v, nil
}

func (f *fakeAPI) Merge(ctx context.Context, urls []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, urls)
	f.mergeCtxErr = append(f.mergeCtxErr, ctx.Err())
	if err := f.mergeErr[urls[0]]; err != nil {
		return "", err
	}
	return "/merged/" + strings.Join(urls, "+"), nil
}

func (f *fakeAPI) ResolveURL(ref string) string {
	return "http://quiz.test" + ref
}

type fakeDisplay struct {
	statuses   []string
	messages   []string
	prompts    []string
	checklists int
}

func (d *fakeDisplay) Status(text string)  { d.statuses = append(d.statuses, text) }
func (d *fakeDisplay) Message(text string) { d.messages = append(d.messages, text) }
func (d *fakeDisplay) Prompt(index, total int, instruction string) {
	d.prompts = append(d.prompts, fmt.Sprintf("%d/%d %s", index+1, total, instruction))
}
func (d *fakeDisplay) Checklist(statuses []supervisor.InstructionStatus) { d.checklists++ }

func (d *fakeDisplay) hasMessage(text string) bool {
	for _, m := range d.messages {
		if m == text {
			return true
		}
	}
	return false
}

type fakeRenderer struct {
	reports []*Report
	err     error
}

func (r *fakeRenderer) Render(report *Report) error {
	r.reports = append(r.reports, report)
	return r.err
}

// scriptedRunner plays transcripts through the controller the way the
// supervisor loop does, then returns err.
type scriptedRunner struct {
	c           *Controller
	transcripts []string
	err         error
}

func (r *scriptedRunner) Run(ctx context.Context, sess *supervisor.Session) error {
	for i, transcript := range r.transcripts {
		if sess.Finished() {
			break
		}
		sub := &supervisor.Submission{
			ID:         fmt.Sprintf("sub-%d", i),
			Index:      sess.CurrentIndex,
			Transcript: transcript,
		}
		verdict, err := r.c.Judge(ctx, sub)
		r.c.Judged(sess, sub, supervisor.Judgement{Verdict: verdict, Err: err})
	}
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(api *fakeAPI) (*Controller, *fakeDisplay, *fakeRenderer, *metrics.Metrics) {
	display := &fakeDisplay{}
	renderer := &fakeRenderer{}
	m := metrics.New(prometheus.NewRegistry())
	c := NewController(Config{MergeConcurrency: 2}, api, display, renderer, testLogger(), m)
	return c, display, renderer, m
}

func twoInstructionAPI() *fakeAPI {
	return &fakeAPI{
		instructions: []string{"say hello", "say goodbye"},
		verdicts: map[string]*quizapi.Verdict{
			"hello there": {IsMatch: false, AudioURL: "/audio/1.wav"},
			"say hello":   {IsMatch: true, AudioURL: "/audio/2.wav"},
			"say goodbye": {IsMatch: true, AudioURL: "/audio/3.wav"},
		},
	}
}

func TestPlayTwoInstructions(t *testing.T) {
	api := twoInstructionAPI()
	c, display, renderer, m := newTestController(api)

	report, err := c.Play(context.Background(), &scriptedRunner{
		c:           c,
		transcripts: []string{"hello there", "say hello", "say goodbye"},
	})
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if !report.AllPassed || report.FinalMessage != MessageAllPassed {
		t.Errorf("Expected all passed, got %v %q", report.AllPassed, report.FinalMessage)
	}
	if len(report.Services) != 2 {
		t.Fatalf("Expected 2 services, got %d", len(report.Services))
	}

	first := report.Services[0]
	if len(first.Attempts) != 2 || first.Attempts[0].Passed || !first.Attempts[1].Passed {
		t.Errorf("Unexpected attempts for first service: %+v", first.Attempts)
	}
	if first.MergedAudioURL != "http://quiz.test/merged//audio/1.wav+/audio/2.wav" {
		t.Errorf("Unexpected merged URL %q", first.MergedAudioURL)
	}
	if report.Services[1].MergedAudioURL != "http://quiz.test/merged//audio/3.wav" {
		t.Errorf("Unexpected merged URL %q", report.Services[1].MergedAudioURL)
	}

	if len(api.merges) != 2 {
		t.Errorf("Expected 2 merge requests, got %d", len(api.merges))
	}
	if len(renderer.reports) != 1 || renderer.reports[0] != report {
		t.Error("Expected the report to be rendered once")
	}

	wantPrompts := []string{"1/2 say hello", "2/2 say goodbye"}
	if strings.Join(display.prompts, ",") != strings.Join(wantPrompts, ",") {
		t.Errorf("Expected prompts %v, got %v", wantPrompts, display.prompts)
	}
	if !display.hasMessage(msgRecognized) || !display.hasMessage(msgWaiting) {
		t.Errorf("Expected recognition and waiting messages, got %v", display.messages)
	}
	if display.statuses[len(display.statuses)-1] != "Game Ended." {
		t.Errorf("Expected final status Game Ended., got %v", display.statuses)
	}

	if got := testutil.ToFloat64(m.Attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.MergeRequests.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful merges, got %v", got)
	}
}

func TestJudgeForwardsSubmission(t *testing.T) {
	api := twoInstructionAPI()
	c, _, _, _ := newTestController(api)

	clip := &recorder.Clip{Data: []byte("RIFF")}
	_, err := c.Judge(context.Background(), &supervisor.Submission{
		Index:      1,
		Transcript: "say goodbye",
		Clip:       clip,
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}

	req := api.judged[0]
	if req.CurrentIndex != 1 || req.Transcript != "say goodbye" || string(req.Audio) != "RIFF" {
		t.Errorf("Unexpected judge request: %+v", req)
	}
}

func TestJudgeErrorIsNotAnAttempt(t *testing.T) {
	api := twoInstructionAPI()
	c, display, _, m := newTestController(api)

	sess := supervisor.NewSession(api.instructions)
	sub := &supervisor.Submission{ID: "sub", Index: 0, Transcript: "say hello"}
	c.Judged(sess, sub, supervisor.Judgement{Err: errors.New("connection refused")})

	if c.History().Len() != 0 {
		t.Errorf("Expected no attempts, got %d", c.History().Len())
	}
	if sess.CurrentIndex != 0 {
		t.Errorf("Expected index to stay 0, got %d", sess.CurrentIndex)
	}
	if !display.hasMessage(msgJudgeFailed) {
		t.Errorf("Expected judge failure message, got %v", display.messages)
	}
	if got := testutil.ToFloat64(m.JudgeRequests.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 judge error, got %v", got)
	}
}

func TestMergeFailureDegradesEntry(t *testing.T) {
	api := twoInstructionAPI()
	api.mergeErr = map[string]error{"/audio/3.wav": errors.New("merge failed")}
	c, _, renderer, m := newTestController(api)

	report, err := c.Play(context.Background(), &scriptedRunner{
		c:           c,
		transcripts: []string{"say hello", "say goodbye"},
	})
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if report.Services[0].MergedAudioURL == "" {
		t.Error("Expected first service to keep its merged audio")
	}
	if report.Services[1].MergedAudioURL != "" {
		t.Errorf("Expected no merged audio for failed merge, got %q", report.Services[1].MergedAudioURL)
	}
	if len(renderer.reports) != 1 {
		t.Error("Expected report rendered despite merge failure")
	}
	if got := testutil.ToFloat64(m.MergeRequests.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed merge, got %v", got)
	}
}

func TestServiceWithoutAudioIsNotMerged(t *testing.T) {
	api := &fakeAPI{
		instructions: []string{"say hello"},
		verdicts: map[string]*quizapi.Verdict{
			"say hello": {IsMatch: true},
		},
	}
	c, _, _, _ := newTestController(api)

	report, err := c.Play(context.Background(), &scriptedRunner{c: c, transcripts: []string{"say hello"}})
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if len(api.merges) != 0 {
		t.Errorf("Expected no merge requests, got %d", len(api.merges))
	}
	if len(report.Services) != 1 || report.Services[0].MergedAudioURL != "" {
		t.Errorf("Unexpected services: %+v", report.Services)
	}
}

func TestPlayFatalSkipsReport(t *testing.T) {
	api := twoInstructionAPI()
	c, display, renderer, _ := newTestController(api)

	_, err := c.Play(context.Background(), &scriptedRunner{
		c:           c,
		transcripts: []string{"say hello"},
		err:         fmt.Errorf("%w: too many errors", supervisor.ErrFatal),
	})
	if !errors.Is(err, supervisor.ErrFatal) {
		t.Fatalf("Expected ErrFatal, got %v", err)
	}
	if len(renderer.reports) != 0 || len(api.merges) != 0 {
		t.Error("Expected no report after fatal failure")
	}
	if !display.hasMessage(msgFatal) {
		t.Errorf("Expected restart message, got %v", display.messages)
	}
}

func TestPlayMicrophoneUnavailable(t *testing.T) {
	api := twoInstructionAPI()
	c, display, renderer, _ := newTestController(api)

	_, err := c.Play(context.Background(), &scriptedRunner{
		c:   c,
		err: fmt.Errorf("%w: no device", recorder.ErrMicrophoneUnavailable),
	})
	if !errors.Is(err, recorder.ErrMicrophoneUnavailable) {
		t.Fatalf("Expected ErrMicrophoneUnavailable, got %v", err)
	}
	if len(renderer.reports) != 0 {
		t.Error("Expected no report")
	}
	if !display.hasMessage(msgNoMicrophone) {
		t.Errorf("Expected microphone message, got %v", display.messages)
	}
}

func TestPlayCancelledStillReports(t *testing.T) {
	api := twoInstructionAPI()
	c, _, renderer, _ := newTestController(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &scriptedRunner{c: c, transcripts: []string{"hello there"}, err: context.Canceled}
	report, err := c.Play(ctx, runnerFunc(func(ctx context.Context, sess *supervisor.Session) error {
		runErr := runner.Run(ctx, sess)
		cancel()
		return runErr
	}))
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if report.AllPassed || report.FinalMessage != MessageGameOver {
		t.Errorf("Expected game over, got %v %q", report.AllPassed, report.FinalMessage)
	}
	if len(api.merges) != 1 || api.mergeCtxErr[0] != nil {
		t.Errorf("Expected one merge on a live context, got %d %v", len(api.merges), api.mergeCtxErr)
	}
	if len(renderer.reports) != 1 {
		t.Error("Expected report rendered")
	}
}

func TestPlayInputEndedStillReports(t *testing.T) {
	api := twoInstructionAPI()
	c, display, renderer, _ := newTestController(api)

	runner := &scriptedRunner{c: c, transcripts: []string{"say hello"}, err: supervisor.ErrInputEnded}
	report, err := c.Play(context.Background(), runner)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if report.AllPassed || report.FinalMessage != MessageGameOver {
		t.Errorf("Expected game over, got %v %q", report.AllPassed, report.FinalMessage)
	}
	if len(report.Services) != 1 || !report.Services[0].Passed() {
		t.Errorf("Expected the passed first service in the report, got %+v", report.Services)
	}
	if len(renderer.reports) != 1 {
		t.Error("Expected report rendered")
	}
	if display.hasMessage(msgFatal) {
		t.Error("Running out of input must not be reported as a recognition failure")
	}
}

func TestPlayInstructionsFailure(t *testing.T) {
	api := &fakeAPI{instrErr: errors.New("connection refused")}
	c, display, _, _ := newTestController(api)

	if _, err := c.Play(context.Background(), &scriptedRunner{c: c}); err == nil {
		t.Fatal("Expected error")
	}
	if len(display.statuses) == 0 || display.statuses[0] != "Error: Could not load game data." {
		t.Errorf("Unexpected statuses %v", display.statuses)
	}

	api.instrErr = nil
	if _, err := c.Play(context.Background(), &scriptedRunner{c: c}); !errors.Is(err, ErrNoInstructions) {
		t.Errorf("Expected ErrNoInstructions, got %v", err)
	}
}

func TestHistoryOrdersServices(t *testing.T) {
	h := NewHistory()
	h.Record("b", Attempt{Index: 1, Transcript: "x", AudioURL: "/2"})
	h.Record("a", Attempt{Index: 0, Transcript: "y"})
	h.Record("b", Attempt{Index: 1, Transcript: "z", Passed: true, AudioURL: "/3"})

	services := h.Services()
	if len(services) != 2 || services[0].Index != 0 || services[1].Index != 1 {
		t.Fatalf("Unexpected order: %+v", services)
	}
	if services[0].Passed() || !services[1].Passed() {
		t.Error("Unexpected pass flags")
	}
	if urls := services[1].AudioURLs(); len(urls) != 2 || urls[0] != "/2" {
		t.Errorf("Unexpected audio URLs %v", urls)
	}
	if services[0].AudioURLs() == nil || len(services[0].AudioURLs()) != 0 {
		t.Error("Expected empty audio URL list")
	}
	if h.Len() != 3 {
		t.Errorf("Expected 3 attempts, got %d", h.Len())
	}
}

type runnerFunc func(ctx context.Context, sess *supervisor.Session) error

func (f runnerFunc) Run(ctx context.Context, sess *supervisor.Session) error {
	return f(ctx, sess)
}
