package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

// fakeRunner completes every run and delivers it to the store.
type fakeRunner struct {
	store   core.RunStore
	bus     *events.Bus
	release chan struct{}

	mu       sync.Mutex
	requests []workflow.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req workflow.RunRequest) (*core.RunResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.bus != nil {
		f.bus.Publish(events.NewRunStartedEvent(string(req.RunID), []string{"inquiry"}))
	}
	result := &core.RunResult{
		RunID:      req.RunID,
		Status:     core.RunStatusCompleted,
		Record:     core.NewPatientRecord(req.Intake, core.AudienceProfessional),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	if f.store != nil {
		if err := f.store.Deliver(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (f *fakeRunner) lastRequest() workflow.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *fakeRunner) {
	t.Helper()
	store, err := state.New(config.StateConfig{Backend: "json", Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := &fakeRunner{store: store}
	srv := NewServer(runner, store, events.NewBus(16), opts...)
	ids := 0
	srv.newRunID = func() core.RunID {
		ids++
		return core.RunID("run-" + string(rune('0'+ids)))
	}
	return srv, runner
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestCreateRun_Wait(t *testing.T) {
	srv, runner := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{
		Intake:   testutil.NewTestIntake(),
		Audience: "professional",
		Manual:   map[string]map[string]string{"diagnosis": {"Lumbar strain": "manual"}},
		Answers:  map[string]string{"Night pain?": "no"},
		Wait:     true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.RunID("run-1"), result.RunID)
	assert.Equal(t, core.RunStatusCompleted, result.Status)

	req := runner.lastRequest()
	assert.Equal(t, core.AudienceProfessional, req.Audience)
	assert.Equal(t, map[string]string{"Lumbar strain": "manual"}, req.Manual[core.StageDiagnosis])
	answer, err := req.Interviewer.Ask(context.Background(), core.Question{Text: "Night pain?"})
	require.NoError(t, err)
	assert.Equal(t, "no", answer)
}

func TestCreateRun_Background(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: testutil.NewTestIntake()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted CreateRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, core.RunStatusRunning, accepted.Status)

	srv.Close()

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs/"+string(accepted.RunID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestCreateRun_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"initial_inquiry":`, http.StatusBadRequest},
		{"unknown field", `{"intake":{}}`, http.StatusBadRequest},
		{"empty intake", `{"initial_inquiry":{}}`, http.StatusUnprocessableEntity},
		{"bad audience", `{"initial_inquiry":{"main_complain":"pain"},"audience_level":"child"}`, http.StatusUnprocessableEntity},
		{"bad manual stage", `{"initial_inquiry":{"main_complain":"pain"},"manual":{"discharge":{"a":"b"}}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateRun_AdmissionLimit(t *testing.T) {
	srv, runner := newTestServer(t, WithMaxConcurrentRuns(1))
	runner.release = make(chan struct{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: testutil.NewTestIntake()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: testutil.NewTestIntake()})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	close(runner.release)
	srv.Close()

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: testutil.NewTestIntake(), Wait: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndGetRuns(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/runs", CreateRunRequest{Intake: testutil.NewTestIntake(), Wait: true})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []core.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category":"state"`)
}

func TestNoStore(t *testing.T) {
	srv := NewServer(&fakeRunner{}, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/runs/x", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/events", nil).Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrValidation(core.CodeInvalidIntake, "x"), http.StatusUnprocessableEntity},
		{core.ErrGatewayTransient(core.CodeGatewayTimeout, "x"), http.StatusBadGateway},
		{core.ErrState(core.CodeRunNotFound, "x"), http.StatusNotFound},
		{core.ErrState(core.CodeChecksumMismatch, "x"), http.StatusInternalServerError},
		{core.ErrCancelled("x"), http.StatusServiceUnavailable},
		{testutil.ErrTest, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.err), tt.err.Error())
	}
}

func TestSSE_StreamsRunEvents(t *testing.T) {
	bus := events.NewBus(16)
	srv := NewServer(&fakeRunner{}, nil, bus)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?run_id=run-7", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "connected", name)

	bus.Publish(events.NewStageEnteredEvent("run-other", "inquiry", 3, true, false))
	bus.Publish(events.NewStageEnteredEvent("run-7", "diagnosis", 1, false, true))

	name, data := readEvent()
	assert.Equal(t, events.TypeStageEntered, name)
	assert.Contains(t, data, `"run_id":"run-7"`)
	assert.Contains(t, data, `"stage":"diagnosis"`)
}
