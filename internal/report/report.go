package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/game"
)

const (
	title         = "Summary"
	noActivity    = "No activity was recorded."
	noAudio       = "No audio was recorded for this service."
	attemptsLabel = "attempt"
)

// New returns the renderer for format, "text" or "json"
func New(format string, out io.Writer) (game.Renderer, error) {
	switch format {
	case "text":
		return NewTextRenderer(out), nil
	case "json":
		return NewJSONRenderer(out), nil
	default:
		return nil, fmt.Errorf("unsupported report format '%s'", format)
	}
}

// TextRenderer writes a styled summary for a terminal
type TextRenderer struct {
	out     io.Writer
	box     lipgloss.Style
	heading lipgloss.Style
	passed  lipgloss.Style
	failed  lipgloss.Style
	dim     lipgloss.Style
	link    lipgloss.Style
}

// NewTextRenderer creates a text renderer writing to out
func NewTextRenderer(out io.Writer) *TextRenderer {
	r := lipgloss.NewRenderer(out)

	return &TextRenderer{
		out: out,
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1),
		heading: r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		passed:  r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		link:    r.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Underline(true),
	}
}

// Render writes the report
func (t *TextRenderer) Render(r *game.Report) error {
	var b strings.Builder

	b.WriteString(t.heading.Render(title))
	b.WriteString("\n")

	if len(r.Services) == 0 {
		b.WriteString(t.dim.Render(noActivity))
		b.WriteString("\n")
	}

	for _, svc := range r.Services {
		b.WriteString("\n")
		b.WriteString(t.service(svc))
	}

	b.WriteString("\n")
	if r.AllPassed {
		b.WriteString(t.passed.Render(r.FinalMessage))
	} else {
		b.WriteString(t.failed.Render(r.FinalMessage))
	}

	_, err := fmt.Fprintln(t.out, t.box.Render(b.String()))
	return err
}

func (t *TextRenderer) service(svc *game.ServiceHistory) string {
	var b strings.Builder

	mark := t.failed.Render("[ ]")
	if svc.Passed() {
		mark = t.passed.Render("[x]")
	}

	noun := attemptsLabel
	if len(svc.Attempts) != 1 {
		noun += "s"
	}

	fmt.Fprintf(&b, "%s Service %d: %q %s\n", mark, svc.Index+1, svc.Instruction,
		t.dim.Render(fmt.Sprintf("(%d %s)", len(svc.Attempts), noun)))

	for _, a := range svc.Attempts {
		style := t.failed
		if a.Passed {
			style = t.passed
		}
		fmt.Fprintf(&b, "    %s\n", style.Render(fmt.Sprintf("%q", a.Transcript)))
	}

	if svc.MergedAudioURL == "" {
		fmt.Fprintf(&b, "    %s\n", t.dim.Render(noAudio))
	} else {
		fmt.Fprintf(&b, "    Audio: %s\n", t.link.Render(svc.MergedAudioURL))
	}

	return b.String()
}

// JSONRenderer writes the report as indented JSON
type JSONRenderer struct {
	out io.Writer
}

// NewJSONRenderer creates a JSON renderer writing to out
func NewJSONRenderer(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Render writes the report
func (j *JSONRenderer) Render(r *game.Report) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
