package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	Intake   core.InitialInquiry `json:"initial_inquiry"`
	Audience string              `json:"audience_level,omitempty"`
	// Manual holds operator results keyed by stage (diagnosis, treatment).
	Manual map[string]map[string]string `json:"manual,omitempty"`
	// Answers are replayed to mid-stage questions. Unanswered questions
	// are skipped, since an HTTP client cannot be prompted.
	Answers map[string]string `json:"answers,omitempty"`
	// Wait makes the request block until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// CreateRunResponse is returned for runs accepted in the background.
type CreateRunResponse struct {
	RunID  core.RunID     `json:"run_id"`
	Status core.RunStatus `json:"status"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body CreateRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if body.Intake.IsEmpty() {
		respondError(w, http.StatusUnprocessableEntity, "initial_inquiry must carry at least one field")
		return
	}
	req, err := s.runRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	if !s.slots.TryAcquire(1) {
		respondError(w, http.StatusTooManyRequests, "too many runs in progress")
		return
	}
	s.track(req.RunID, true)

	if body.Wait {
		result, runErr := s.execute(r.Context(), req)
		if result == nil {
			writeError(w, runErr)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.baseCtx, req)
	}()
	respondJSON(w, http.StatusAccepted, CreateRunResponse{RunID: req.RunID, Status: core.RunStatusRunning})
}

// execute runs req and releases its admission slot.
func (s *Server) execute(ctx context.Context, req workflow.RunRequest) (*core.RunResult, error) {
	defer func() {
		s.track(req.RunID, false)
		s.slots.Release(1)
	}()
	logger := s.logger.WithRun(string(req.RunID))
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		logger.Warn("run ended with error", "error", err)
	}
	return result, err
}

func (s *Server) runRequest(body CreateRunRequest) (workflow.RunRequest, error) {
	req := workflow.RunRequest{
		RunID:       s.newRunID(),
		Intake:      body.Intake,
		Interviewer: interview.NewScripted(body.Answers),
	}
	if body.Audience != "" {
		level, err := core.ParseAudienceLevel(body.Audience)
		if err != nil {
			return req, err
		}
		req.Audience = level
	}
	if len(body.Manual) > 0 {
		req.Manual = make(map[core.Stage]map[string]string, len(body.Manual))
		for name, result := range body.Manual {
			stage, err := core.ParseStage(strings.TrimSpace(name))
			if err != nil {
				return req, core.ErrValidation(core.CodeUnknownStage, err.Error())
			}
			req.Manual[stage] = result
		}
	}
	return req, nil
}

func (s *Server) track(id core.RunID, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running {
		s.active[id] = time.Now()
		return
	}
	delete(s.active, id)
}

func (s *Server) isActive(id core.RunID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runs, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if string(run.Status) == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))
	if s.isActive(id) {
		respondJSON(w, http.StatusAccepted, CreateRunResponse{RunID: id, Status: core.RunStatusRunning})
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	result, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// httpStatus maps a domain error to a response status.
func httpStatus(err error) int {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return http.StatusInternalServerError
	}
	switch domErr.Category {
	case core.ErrCatValidation, core.ErrCatConfiguration:
		return http.StatusUnprocessableEntity
	case core.ErrCatGateway, core.ErrCatSchema:
		return http.StatusBadGateway
	case core.ErrCatCancelled:
		return http.StatusServiceUnavailable
	case core.ErrCatState:
		if domErr.Code == core.CodeRunNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	respondJSON(w, httpStatus(err), map[string]string{
		"error":    err.Error(),
		"category": string(core.GetCategory(err)),
	})
}
