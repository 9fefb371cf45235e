// Package interview provides the human side of the inquiry and elimination
// loops: a terminal prompt, a scripted answer table and a silent stand-in.
package interview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/fsutil"
)

var kindLabels = map[core.QuestionKind]string{
	core.QuestionInquiry:     "Question",
	core.QuestionDialectic:   "Differential",
	core.QuestionExamination: "Examination result",
}

// Terminal asks questions on a line-oriented terminal. Once input reaches EOF
// every further question gets a blank answer.
type Terminal struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	closed bool
}

// NewTerminal creates a terminal interviewer.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Ask implements core.Interviewer.
func (t *Terminal) Ask(ctx context.Context, q core.Question) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.closed {
		return "", nil
	}

	label := kindLabels[q.Kind]
	if label == "" {
		label = "Question"
	}
	if _, err := fmt.Fprintf(t.out, "\n[%s] %s: %s\n> ", q.Stage, label, q.Text); err != nil {
		return "", fmt.Errorf("writing question: %w", err)
	}

	line, err := t.in.ReadString('\n')
	if errors.Is(err, io.EOF) {
		t.closed = true
		return strings.TrimSpace(line), nil
	}
	if err != nil {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Scripted answers from a fixed table keyed by question text. Examination
// questions also match on the examination name before any parenthesised
// reason. Unknown questions get a blank answer.
type Scripted struct {
	answers map[string]string
}

// NewScripted creates a scripted interviewer.
func NewScripted(answers map[string]string) *Scripted {
	return &Scripted{answers: answers}
}

// LoadScripted reads a YAML mapping of question to answer.
func LoadScripted(path string) (*Scripted, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}
	answers := map[string]string{}
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parsing answers %s: %w", path, err)
	}
	return NewScripted(answers), nil
}

// Ask implements core.Interviewer.
func (s *Scripted) Ask(_ context.Context, q core.Question) (string, error) {
	if answer, ok := s.answers[q.Text]; ok {
		return answer, nil
	}
	if q.Kind == core.QuestionExamination {
		if name, _, found := strings.Cut(q.Text, " ("); found {
			return s.answers[name], nil
		}
	}
	return "", nil
}

// Silent never answers.
type Silent struct{}

// Ask implements core.Interviewer.
func (Silent) Ask(context.Context, core.Question) (string, error) { return "", nil }
