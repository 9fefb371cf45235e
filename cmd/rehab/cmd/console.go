package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
)

type consoleStyles struct {
	stage   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	dim     lipgloss.Style
	heading lipgloss.Style
}

func newConsoleStyles(out io.Writer, color bool) consoleStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return consoleStyles{plain, plain, plain, plain, plain, plain}
	}
	r := lipgloss.NewRenderer(out)
	return consoleStyles{
		stage:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		fail:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("8")),
		heading: r.NewStyle().Bold(true).Underline(true),
	}
}

// Console renders workflow events as progress lines. In compact mode only
// run-level events are shown, each prefixed with its run.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	styles  consoleStyles
	compact bool
	labels  map[string]string
}

// NewConsole creates a console renderer.
func NewConsole(out io.Writer, color, compact bool) *Console {
	return &Console{
		out:     out,
		styles:  newConsoleStyles(out, color),
		compact: compact,
		labels:  map[string]string{},
	}
}

// Label names a run in compact output.
func (c *Console) Label(runID, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels[runID] = label
}

// Publish implements workflow.Notifier.
func (c *Console) Publish(event events.Event) {
	line := c.render(event)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *Console) render(event events.Event) string {
	s := c.styles
	if c.compact {
		c.mu.Lock()
		label := c.labels[event.RunID()]
		c.mu.Unlock()
		if label == "" {
			label = event.RunID()
		}
		switch e := event.(type) {
		case events.RunCompletedEvent:
			return fmt.Sprintf("%s %s  %s", s.ok.Render("done"), label, strings.Join(e.Diagnosis, "; "))
		case events.RunFailedEvent:
			return fmt.Sprintf("%s %s  %s: %s", s.fail.Render("fail"), label, e.Stage, e.Error)
		default:
			return ""
		}
	}

	switch e := event.(type) {
	case events.RunStartedEvent:
		return s.heading.Render("Run "+e.RunID()) + s.dim.Render("  "+strings.Join(e.Stages, " > "))
	case events.StageEnteredEvent:
		detail := "single pass"
		if e.Looped {
			detail = fmt.Sprintf("loop, max %d", e.MaxIterations)
		}
		if e.Manual {
			detail = "manual result"
		}
		return fmt.Sprintf("%s %s", s.stage.Render("> "+e.Stage), s.dim.Render("("+detail+")"))
	case events.LoopIterationEvent:
		verdict := s.warn.Render("not yet")
		if e.Satisfied {
			verdict = s.ok.Render("satisfied")
		}
		return fmt.Sprintf("    iteration %d/%d  %s", e.Iteration, e.MaxIterations, verdict)
	case events.StageCompletedEvent:
		mark := s.ok.Render("  ok")
		if e.Reason == "exhausted" {
			mark = s.warn.Render("  ok (exhausted)")
		}
		took := (time.Duration(e.DurationMS) * time.Millisecond).Round(10 * time.Millisecond)
		return fmt.Sprintf("%s %s %s", mark, e.Stage, s.dim.Render(fmt.Sprintf("%s, %d iteration(s), %s", e.Reason, e.Iterations, took)))
	case events.RunCompletedEvent:
		line := s.ok.Render("Completed") + "  " + strings.Join(e.Diagnosis, "; ")
		for _, w := range e.Warnings {
			line += "\n" + s.warn.Render("  warning: "+w)
		}
		return line
	case events.RunFailedEvent:
		line := s.fail.Render("Failed")
		if e.Stage != "" {
			line += " at " + e.Stage
		}
		return line + ": " + e.Error
	default:
		return ""
	}
}

// renderMarkdown renders markdown for a terminal, falling back to the raw
// text when out is not one.
func renderMarkdown(out io.Writer, text string, color bool) string {
	if !color || !logging.IsTerminal(out) {
		return text
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}
