package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/offside-zero/internal/analysis"
	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

const outputPrefix = "/output/"

// TaskQueue is the asynchronous path. *queue.Queue implements it.
type TaskQueue interface {
	Submit(ctx context.Context, clip string) (*domain.Task, error)
	Status(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, opts ports.TaskListOptions) ([]*domain.Task, error)
	Len() int
}

// ClipAnalyzer is the synchronous path. *analysis.Service implements it.
type ClipAnalyzer interface {
	AnalyzeClip(ctx context.Context, clip string, opts analysis.Options) (*domain.ClipVerdict, error)
}

// FollowUp answers questions about a finished analysis. *analysis.Service implements it.
type FollowUp interface {
	Ask(ctx context.Context, message string, verdict *domain.ClipVerdict) (string, error)
}

type submitRequest struct {
	Clip string `json:"clip"`
}

type submitResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

type analyzeRequest struct {
	Clip      string   `json:"clip"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// chatRequest names the analysis either by task or inline.
type chatRequest struct {
	Message string              `json:"message"`
	TaskID  string              `json:"task_id,omitempty"`
	Context *domain.ClipVerdict `json:"context,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type listResponse struct {
	Tasks []*domain.Task `json:"tasks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.tasks.Len(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Clip) == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("clip is required"))
		return
	}

	task, err := s.tasks.Submit(r.Context(), req.Clip)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	AddLogField(r.Context(), "task_id", task.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: task.ID, Status: task.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "task_id", id)
	task, err := s.tasks.Status(r.Context(), id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, present(task))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var opts ports.TaskListOptions
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.TaskStatus(strings.ToUpper(v))
		if !status.Valid() {
			s.writeError(w, r, http.StatusBadRequest, errors.New("unknown status "+v))
			return
		}
		opts.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		opts.Limit = limit
	}

	tasks, err := s.tasks.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]*domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = present(t)
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: out})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Clip) == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("clip is required"))
		return
	}

	verdict, err := s.analyzer.AnalyzeClip(r.Context(), req.Clip, analysis.Options{
		Timestamp: req.Timestamp,
		RequestID: GetRequestID(r.Context()),
	})
	if verdict != nil {
		AddLogField(r.Context(), "decision", string(verdict.Decision))
	}
	switch {
	case err == nil, errors.Is(err, domain.ErrNoFramesAnalyzed) && verdict != nil:
		// an UNCLEAR verdict carrying its error is still a verdict
		AddError(r.Context(), err)
		writeJSON(w, http.StatusOK, presentVerdict(verdict))
	case errors.Is(err, domain.ErrClipNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNoFrames):
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
	default:
		s.writeError(w, r, inferenceStatus(err), err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	verdict := req.Context
	if req.TaskID != "" {
		AddLogField(r.Context(), "task_id", req.TaskID)
		task, err := s.tasks.Status(r.Context(), req.TaskID)
		if errors.Is(err, domain.ErrTaskNotFound) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if task.Result == nil {
			s.writeError(w, r, http.StatusConflict, fmt.Errorf("task %s has no verdict yet (%s)", task.ID, task.Status))
			return
		}
		verdict = task.Result
	}
	if verdict == nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("task_id or context is required"))
		return
	}

	answer, err := s.followUp.Ask(r.Context(), req.Message, verdict)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Response: answer})
	case errors.Is(err, analysis.ErrNoAdvisor):
		s.writeError(w, r, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, r, inferenceStatus(err), err)
	}
}

// inferenceStatus maps a failed model call to a response status.
func inferenceStatus(err error) int {
	var ie *domain.InferenceError
	if errors.As(err, &ie) {
		return ie.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// present returns a copy of task with artifact names turned into /output/ paths.
func present(task *domain.Task) *domain.Task {
	c := task.Clone()
	c.Result = presentVerdict(c.Result)
	return c
}

func presentVerdict(v *domain.ClipVerdict) *domain.ClipVerdict {
	if v == nil || len(v.AnnotatedFrames) == 0 {
		return v
	}
	out := *v
	out.AnnotatedFrames = make([]string, len(v.AnnotatedFrames))
	for i, name := range v.AnnotatedFrames {
		if strings.HasPrefix(name, outputPrefix) {
			out.AnnotatedFrames[i] = name
			continue
		}
		out.AnnotatedFrames[i] = outputPrefix + name
	}
	return &out
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	AddError(r.Context(), err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
