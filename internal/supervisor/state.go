package supervisor

import (
	"fmt"
	"time"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/engine"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
	"github.com/Mou-Islam/walkie-talkie-tts/internal/recorder"
)

// State is the supervisor state
type State int

const (
	StateIdle State = iota
	StateListening
	StateChecking
	StateResetting
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateChecking:
		return "checking"
	case StateResetting:
		return "resetting"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventKind enumerates engine events
type EventKind int

const (
	EventResult EventKind = iota
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one engine event. Result is set for EventResult, ErrorKind and
// Detail for EventError.
type Event struct {
	Kind      EventKind
	Result    engine.Result
	ErrorKind engine.ErrorKind
	Detail    string
}

// Submission is a finalized utterance handed to the judge
type Submission struct {
	ID          string
	Index       int
	Transcript  string
	Clip        *recorder.Clip
	SubmittedAt time.Time
}

// Audio returns the clip bytes, or nil when recording produced no clip
func (s *Submission) Audio() []byte {
	if s.Clip == nil {
		return nil
	}
	return s.Clip.Data
}

// Judgement is the outcome of a judge call
type Judgement struct {
	Verdict  *quizapi.Verdict
	Err      error
	Duration time.Duration
}

// Snapshot is a read-only copy of supervisor and session state
type Snapshot struct {
	SessionID         string        `json:"session_id"`
	State             string        `json:"state"`
	Active            bool          `json:"active"`
	Checking          bool          `json:"checking"`
	CurrentIndex      int           `json:"current_index"`
	Instructions      int           `json:"instructions"`
	Passed            int           `json:"passed"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastActivity      time.Time     `json:"last_activity"`
	EngineGeneration  uint64        `json:"engine_generation"`
	EngineConfig      engine.Config `json:"engine_config"`
	EngineActive      bool          `json:"engine_active"`
	Recording         bool          `json:"recording"`
	SoftResets        int           `json:"soft_resets"`
	FatalReason       string        `json:"fatal_reason,omitempty"`
}
