package game

import (
	"sort"
	"time"
)

// Attempt is one judged utterance. It is never modified once recorded.
type Attempt struct {
	SubmissionID string    `json:"submission_id"`
	Index        int       `json:"index"`
	Transcript   string    `json:"transcript"`
	Passed       bool      `json:"passed"`
	AudioURL     string    `json:"audio_url,omitempty"`
	JudgedAt     time.Time `json:"judged_at"`
}

// ServiceHistory groups the attempts at one instruction
type ServiceHistory struct {
	Index          int       `json:"index"`
	Instruction    string    `json:"instruction"`
	Attempts       []Attempt `json:"attempts"`
	MergedAudioURL string    `json:"merged_audio_url,omitempty"`
}

// AudioURLs returns the clip references of every attempt, in order
func (s *ServiceHistory) AudioURLs() []string {
	urls := make([]string, 0, len(s.Attempts))
	for _, a := range s.Attempts {
		if a.AudioURL != "" {
			urls = append(urls, a.AudioURL)
		}
	}
	return urls
}

// Passed reports whether any attempt passed
func (s *ServiceHistory) Passed() bool {
	for _, a := range s.Attempts {
		if a.Passed {
			return true
		}
	}
	return false
}

// History is the attempt log of one game
type History struct {
	services map[int]*ServiceHistory
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{services: make(map[int]*ServiceHistory)}
}

// Record appends an attempt, creating the service entry on first use
func (h *History) Record(instruction string, a Attempt) {
	svc, ok := h.services[a.Index]
	if !ok {
		svc = &ServiceHistory{Index: a.Index, Instruction: instruction}
		h.services[a.Index] = svc
	}
	svc.Attempts = append(svc.Attempts, a)
}

// Services returns the service entries ordered by instruction index
func (h *History) Services() []*ServiceHistory {
	services := make([]*ServiceHistory, 0, len(h.services))
	for _, svc := range h.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Index < services[j].Index
	})
	return services
}

// Len returns the number of attempts recorded
func (h *History) Len() int {
	n := 0
	for _, svc := range h.services {
		n += len(svc.Attempts)
	}
	return n
}
