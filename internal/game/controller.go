package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/metrics"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

const (
	MessageAllPassed = "Congratulations! All services passed."
	MessageGameOver  = "Game Over. See summary below."

	msgRecognized   = "Command recognized!"
	msgWaiting      = "Waiting for the next command..."
	msgJudgeFailed  = "Error contacting AI. Please try speaking again."
	msgFatal        = "The voice recognition service has stopped working. Please restart to continue."
	msgNoMicrophone = "Please allow microphone access and restart."
	msgGenerating   = "Generating audio reports, please wait..."

	// reportTimeout bounds merge requests issued after the game context was cancelled.
	reportTimeout = 30 * time.Second
)

// ErrNoInstructions is returned when the server has nothing to play.
var ErrNoInstructions = errors.New("server returned no instructions")

// QuizAPI is the server the controller plays against
type QuizAPI interface {
	Instructions(ctx context.Context) ([]string, error)
	Judge(ctx context.Context, request *quizapi.JudgeRequest) (*quizapi.Verdict, error)
	Merge(ctx context.Context, audioURLs []string) (string, error)
	ResolveURL(ref string) string
}

// Runner supervises a session until it ends
type Runner interface {
	Run(ctx context.Context, sess *supervisor.Session) error
}

// Display is the player-facing surface
type Display interface {
	Status(text string)
	Message(text string)
	Prompt(index, total int, instruction string)
	Checklist(statuses []supervisor.InstructionStatus)
}

// Renderer presents the final report
type Renderer interface {
	Render(r *Report) error
}

// Report is the end-of-game summary
type Report struct {
	SessionID    string                         `json:"session_id"`
	Instructions []string                       `json:"instructions"`
	Statuses     []supervisor.InstructionStatus `json:"statuses"`
	Services     []*ServiceHistory              `json:"services"`
	AllPassed    bool                           `json:"all_passed"`
	FinalMessage string                         `json:"final_message"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// Config contains controller parameters
type Config struct {
	// MergeConcurrency caps concurrent merge requests; 0 means unlimited.
	MergeConcurrency int
}

// Controller sequences instructions, applies judgements and builds the
// final report. It is the supervisor's Delegate.
type Controller struct {
	config   Config
	api      QuizAPI
	display  Display
	renderer Renderer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// Touched on the supervisor loop while Run executes, then by Play.
	history *History
}

// NewController creates a controller. m may be nil.
func NewController(config Config, api QuizAPI, display Display, renderer Renderer, logger *slog.Logger, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Controller{
		config:   config,
		api:      api,
		display:  display,
		renderer: renderer,
		logger:   logger.With(slog.String("component", "game")),
		metrics:  m,
		history:  NewHistory(),
	}
}

// Play runs one game: it loads the instructions, supervises the session and,
// unless recognition failed fatally, renders the report.
func (c *Controller) Play(ctx context.Context, runner Runner) (*Report, error) {
	instructions, err := c.api.Instructions(ctx)
	if err != nil {
		c.display.Status("Error: Could not load game data.")
		c.display.Message("A connection to the server could not be established.")
		return nil, fmt.Errorf("failed to load instructions: %w", err)
	}
	if len(instructions) == 0 {
		c.display.Status("Error: Could not load game data.")
		return nil, ErrNoInstructions
	}

	sess := supervisor.NewSession(instructions)
	c.history = NewHistory()

	c.logger.Info("Game starting",
		slog.String("session_id", sess.ID),
		slog.Int("instructions", len(instructions)),
	)

	c.display.Checklist(sess.Statuses)
	c.prompt(sess)

	reportCtx := ctx
	err = runner.Run(ctx, sess)
	switch {
	case err == nil, errors.Is(err, supervisor.ErrInputEnded):
	case errors.Is(err, context.Canceled):
		// A player who quits still gets a summary of what was recorded.
		var cancel context.CancelFunc
		reportCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
	case errors.Is(err, recorder.ErrMicrophoneUnavailable):
		c.display.Status("Error: Microphone access denied.")
		c.display.Message(msgNoMicrophone)
		return nil, err
	case errors.Is(err, supervisor.ErrFatal):
		c.display.Status("Error: Voice recognition failed")
		c.display.Message(msgFatal)
		return nil, err
	default:
		return nil, err
	}

	c.display.Status("Game Ended.")
	c.display.Message(msgGenerating)

	report := c.BuildReport(reportCtx, sess)
	c.display.Message(report.FinalMessage)

	if c.renderer != nil {
		if err := c.renderer.Render(report); err != nil {
			return report, fmt.Errorf("failed to render report: %w", err)
		}
	}

	return report, nil
}

// Judge submits an utterance to the server
func (c *Controller) Judge(ctx context.Context, sub *supervisor.Submission) (*quizapi.Verdict, error) {
	return c.api.Judge(ctx, &quizapi.JudgeRequest{
		Transcript:   sub.Transcript,
		CurrentIndex: sub.Index,
		Audio:        sub.Audio(),
	})
}

// Judged applies a judgement to the session. A failed call is not an
// attempt; the player is asked to speak again.
func (c *Controller) Judged(sess *supervisor.Session, sub *supervisor.Submission, j supervisor.Judgement) {
	if j.Err != nil || j.Verdict == nil {
		c.metrics.RecordJudge("error", j.Duration.Seconds())
		errMsg := "empty verdict"
		if j.Err != nil {
			errMsg = j.Err.Error()
		}
		c.logger.Error("Failed to check guess",
			slog.String("session_id", sess.ID),
			slog.String("submission_id", sub.ID),
			slog.String("error", errMsg),
		)
		c.display.Message(msgJudgeFailed)
		return
	}

	verdict := j.Verdict
	c.history.Record(sess.Instructions[sub.Index], Attempt{
		SubmissionID: sub.ID,
		Index:        sub.Index,
		Transcript:   sub.Transcript,
		Passed:       verdict.IsMatch,
		AudioURL:     verdict.AudioURL,
		JudgedAt:     time.Now(),
	})
	c.metrics.RecordAttempt()

	c.logger.Info("Guess judged",
		slog.String("session_id", sess.ID),
		slog.Int("index", sub.Index),
		slog.String("transcript", sub.Transcript),
		slog.Bool("match", verdict.IsMatch),
		slog.Duration("duration", j.Duration),
	)

	if !verdict.IsMatch {
		c.metrics.RecordJudge("no_match", j.Duration.Seconds())
		c.display.Message(msgWaiting)
		return
	}

	c.metrics.RecordJudge("match", j.Duration.Seconds())
	sess.Pass(sub.Index)
	c.display.Message(msgRecognized)
	c.display.Checklist(sess.Statuses)
	c.prompt(sess)
}

// BuildReport requests one merged recording per instruction with attempts,
// concurrently. A failed merge leaves that entry without audio.
func (c *Controller) BuildReport(ctx context.Context, sess *supervisor.Session) *Report {
	services := c.history.Services()

	var g errgroup.Group
	if c.config.MergeConcurrency > 0 {
		g.SetLimit(c.config.MergeConcurrency)
	}

	for _, svc := range services {
		urls := svc.AudioURLs()
		if len(urls) == 0 {
			continue
		}

		g.Go(func() error {
			merged, err := c.api.Merge(ctx, urls)
			if err != nil {
				c.metrics.RecordMerge("failure")
				c.logger.Warn("Failed to merge audio",
					slog.Int("index", svc.Index),
					slog.Int("clips", len(urls)),
					slog.String("error", err.Error()),
				)
				return nil
			}

			c.metrics.RecordMerge("success")
			svc.MergedAudioURL = c.api.ResolveURL(merged)
			return nil
		})
	}

	// Merge failures are absorbed per entry, so Wait has nothing to report.
	_ = g.Wait()

	allPassed := sess.AllPassed()
	finalMessage := MessageGameOver
	if allPassed {
		finalMessage = MessageAllPassed
	}

	return &Report{
		SessionID:    sess.ID,
		Instructions: append([]string(nil), sess.Instructions...),
		Statuses:     append([]supervisor.InstructionStatus(nil), sess.Statuses...),
		Services:     services,
		AllPassed:    allPassed,
		FinalMessage: finalMessage,
		GeneratedAt:  time.Now(),
	}
}

// History returns the attempts recorded in the current or last game
func (c *Controller) History() *History {
	return c.history
}

func (c *Controller) prompt(sess *supervisor.Session) {
	instruction, ok := sess.Current()
	if !ok {
		return
	}
	c.display.Prompt(sess.CurrentIndex, len(sess.Instructions), instruction)
}
