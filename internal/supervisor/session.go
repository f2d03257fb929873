package supervisor

import (
	"time"

	"github.com/google/uuid"
)

// InstructionStatus is the progress of one instruction
type InstructionStatus string

const (
	StatusPending InstructionStatus = "pending"
	StatusPassed  InstructionStatus = "passed"
)

// Session is the state of one game. It is created by the game controller and
// mutated only on the supervisor loop while Run is executing.
type Session struct {
	ID                string
	Instructions      []string
	CurrentIndex      int
	Statuses          []InstructionStatus
	ConsecutiveErrors int
	LastActivity      time.Time
	Active            bool
	Checking          bool
	StartedAt         time.Time
}

// NewSession creates a session with every instruction pending
func NewSession(instructions []string) *Session {
	statuses := make([]InstructionStatus, len(instructions))
	for i := range statuses {
		statuses[i] = StatusPending
	}

	return &Session{
		ID:           uuid.NewString(),
		Instructions: append([]string(nil), instructions...),
		Statuses:     statuses,
	}
}

// Current returns the instruction awaiting a match
func (s *Session) Current() (string, bool) {
	if s.Finished() {
		return "", false
	}
	return s.Instructions[s.CurrentIndex], true
}

// Finished reports whether every instruction has been passed in turn
func (s *Session) Finished() bool {
	return s.CurrentIndex >= len(s.Instructions)
}

// Pass marks instruction index passed and advances past it
func (s *Session) Pass(index int) {
	if index < 0 || index >= len(s.Statuses) {
		return
	}
	s.Statuses[index] = StatusPassed
	if index == s.CurrentIndex {
		s.CurrentIndex++
	}
}

// PassedCount returns the number of passed instructions
func (s *Session) PassedCount() int {
	n := 0
	for _, st := range s.Statuses {
		if st == StatusPassed {
			n++
		}
	}
	return n
}

// AllPassed reports whether every instruction is passed
func (s *Session) AllPassed() bool {
	return s.PassedCount() == len(s.Statuses)
}

// Touch records activity
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}
