package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

type mockReply struct {
	text string
	err  error
}

// MockGateway implements core.Gateway with replies queued per task (the
// prompt template name, or "judge"). The last reply queued for a task is
// repeated once the queue is drained.
type MockGateway struct {
	name    string
	mu      sync.Mutex
	replies map[string][]mockReply
	calls   []core.GatewayRequest
}

// NewMockGateway creates a mock gateway with no replies.
func NewMockGateway() *MockGateway {
	return &MockGateway{name: "mock", replies: make(map[string][]mockReply)}
}

// Name returns the adapter name.
func (m *MockGateway) Name() string { return m.name }

// OnTask queues text replies for a task.
func (m *MockGateway) OnTask(task string, texts ...string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range texts {
		m.replies[task] = append(m.replies[task], mockReply{text: text})
	}
	return m
}

// FailTask queues an error for a task.
func (m *MockGateway) FailTask(task string, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[task] = append(m.replies[task], mockReply{err: err})
	return m
}

// Invoke returns the next reply queued for req.Task.
func (m *MockGateway) Invoke(_ context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	queue := m.replies[req.Task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("mock gateway: no reply for task %q", req.Task)
	}
	reply := queue[0]
	if len(queue) > 1 {
		m.replies[req.Task] = queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &core.GatewayResponse{
		Text:      reply.text,
		Model:     "mock-model",
		TokensIn:  len(req.Prompt) / 4,
		TokensOut: len(reply.text) / 4,
		Duration:  time.Millisecond,
	}, nil
}

// Calls returns the recorded requests in order.
func (m *MockGateway) Calls() []core.GatewayRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.GatewayRequest{}, m.calls...)
}

// CallCount returns how many calls were made for a task, or in total when
// task is empty.
func (m *MockGateway) CallCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == "" {
		return len(m.calls)
	}
	count := 0
	for _, c := range m.calls {
		if c.Task == task {
			count++
		}
	}
	return count
}

// Tasks returns the task of every recorded call, in order.
func (m *MockGateway) Tasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]string, len(m.calls))
	for i, c := range m.calls {
		tasks[i] = c.Task
	}
	return tasks
}

// RecordingInterviewer answers questions from a fixed table and records
// every question it was asked. Unknown questions get a blank answer.
type RecordingInterviewer struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	asked   []core.Question
}

// NewRecordingInterviewer creates an interviewer answering from answers.
func NewRecordingInterviewer(answers map[string]string) *RecordingInterviewer {
	if answers == nil {
		answers = map[string]string{}
	}
	return &RecordingInterviewer{answers: answers}
}

// WithError makes every Ask fail with err.
func (r *RecordingInterviewer) WithError(err error) *RecordingInterviewer {
	r.err = err
	return r
}

// Ask returns the table answer for q.Text. Examination questions also match
// on the examination name before any parenthesised reason.
func (r *RecordingInterviewer) Ask(_ context.Context, q core.Question) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, q)
	if r.err != nil {
		return "", r.err
	}
	if answer, ok := r.answers[q.Text]; ok {
		return answer, nil
	}
	if name, _, found := strings.Cut(q.Text, " ("); found {
		return r.answers[name], nil
	}
	return "", nil
}

// Asked returns the questions asked so far.
func (r *RecordingInterviewer) Asked() []core.Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Question{}, r.asked...)
}
