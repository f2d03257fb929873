package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/supervisor"
)

const (
	StatusListening = "Listening..."
	StatusChecking  = "AI is checking..."
	StatusFatal     = "Error: Voice recognition failed"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[K"

// Options controls terminal output
type Options struct {
	// Interactive rewrites the live transcript in place instead of
	// printing one line per update. Only meaningful on a TTY.
	Interactive bool
}

// Terminal renders game progress as terminal lines. It is safe for use
// from the supervisor loop and the game controller at once.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	opts     Options
	styles   styles
	status   string
	heard    string
	lineOpen bool
}

type styles struct {
	status  lipgloss.Style
	fatal   lipgloss.Style
	message lipgloss.Style
	prompt  lipgloss.Style
	heard   lipgloss.Style
	passed  lipgloss.Style
	pending lipgloss.Style
}

// New creates a terminal display writing to out
func New(out io.Writer, opts Options) *Terminal {
	r := lipgloss.NewRenderer(out)

	return &Terminal{
		out:  out,
		opts: opts,
		styles: styles{
			status:  r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
			fatal:   r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
			message: r.NewStyle().Foreground(lipgloss.Color("#E5E7EB")),
			prompt:  r.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
			heard:   r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Italic(true),
			passed:  r.NewStyle().Foreground(lipgloss.Color("#10B981")),
			pending: r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		},
	}
}

// StateChanged shows the status line for a supervisor state. Recovery
// states are not surfaced.
func (t *Terminal) StateChanged(state supervisor.State, _ *supervisor.Session) {
	switch state {
	case supervisor.StateListening:
		t.Status(StatusListening)
	case supervisor.StateChecking:
		t.Status(StatusChecking)
	case supervisor.StateFatal:
		t.Status(StatusFatal)
	}
}

// TranscriptChanged shows what the recognizer currently hears
func (t *Terminal) TranscriptChanged(text string) {
	text = strings.TrimSpace(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	if text == "" || text == t.heard {
		return
	}
	t.heard = text

	line := t.styles.heard.Render("> " + text)
	if t.opts.Interactive {
		fmt.Fprint(t.out, clearLine+line)
		t.lineOpen = true
		return
	}
	fmt.Fprintln(t.out, line)
}

// Status shows a status line when it differs from the current one
func (t *Terminal) Status(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if text == t.status {
		return
	}
	t.status = text

	style := t.styles.status
	if strings.HasPrefix(text, "Error:") {
		style = t.styles.fatal
	}
	t.println(style.Render(text))
}

// Message shows an informational line
func (t *Terminal) Message(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.println(t.styles.message.Render(text))
}

// Prompt shows the instruction the player should speak
func (t *Terminal) Prompt(index, total int, instruction string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.heard = ""
	t.println(t.styles.prompt.Render(fmt.Sprintf("Service %d/%d: %q", index+1, total, instruction)))
}

// Checklist shows one mark per instruction
func (t *Terminal) Checklist(statuses []supervisor.InstructionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marks := make([]string, len(statuses))
	for i, st := range statuses {
		if st == supervisor.StatusPassed {
			marks[i] = t.styles.passed.Render(fmt.Sprintf("[x] %d", i+1))
		} else {
			marks[i] = t.styles.pending.Render(fmt.Sprintf("[ ] %d", i+1))
		}
	}
	t.println(strings.Join(marks, "  "))
}

// println terminates an in-place transcript line before writing
func (t *Terminal) println(line string) {
	if t.lineOpen {
		fmt.Fprintln(t.out)
		t.lineOpen = false
	}
	fmt.Fprintln(t.out, line)
}
