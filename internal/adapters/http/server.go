package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const apiVersion = "1.0.0"

// Chat is the dialogue side of the application.
type Chat interface {
	Submit(ctx context.Context, turn dialogue.Turn) (*dialogue.Reply, error)
	Inspect(ctx context.Context, sessionID string) (*graph.Snapshot[domain.ConversationState], error)
}

// Pipelines runs and unblocks pipeline tasks.
type Pipelines interface {
	Start(ctx context.Context, runID string, task domain.PipelineTaskState) (*pipeline.Run, error)
	Unblock(ctx context.Context, runID, note string) (*pipeline.Run, error)
	Status(ctx context.Context, runID string) (*graph.Snapshot[domain.PipelineTaskState], error)
}

// Tasks gives access to the task collected in a chat session.
type Tasks interface {
	// Ready returns the task once every required argument is known.
	Ready(ctx context.Context, sessionID string) (domain.PipelineTaskState, error)
	Task(ctx context.Context, sessionID string) (domain.PipelineTaskState, error)
	DeleteTask(ctx context.Context, sessionID string) error
}

// Options wires the handler to the application.
type Options struct {
	Chat      Chat
	Pipelines Pipelines
	Tasks     Tasks
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// ModelName is reported by /v1/models and echoed in completions.
	ModelName string
	// Version is reported by /info.
	Version string
	Logger  *slog.Logger
}

// Server holds the handlers of the HTTP API.
type Server struct {
	opts Options
	now  func() time.Time
}

// NewHandler creates the HTTP handler of the API.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.ModelName == "" {
		opts.ModelName = "tether"
	}
	s := &Server{opts: opts, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleCompletions)
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Get("/task", s.handleTask)
		r.Delete("/task", s.handleDeleteTask)
	})
	r.Route("/v1/pipelines", func(r chi.Router) {
		r.Post("/", s.handleStartPipeline)
		r.Get("/{runID}", s.handlePipelineStatus)
		r.Post("/{runID}/unblock", s.handleUnblock)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	version := s.opts.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "tether-http",
		"version":     version,
		"api_version": apiVersion,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       s.opts.ModelName,
			"object":   "model",
			"owned_by": "tether",
		}},
	})
}

// -- Sessions --

type messageJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sessionJSON struct {
	SessionID string        `json:"session_id"`
	Action    domain.Action `json:"action"`
	Suspended bool          `json:"suspended"`
	Question  any           `json:"question,omitempty"`
	Node      string        `json:"node"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []messageJSON `json:"messages"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.opts.Chat.Inspect(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := sessionJSON{
		SessionID: id,
		Action:    snap.State.CurrentAction(),
		Suspended: snap.Pending != nil,
		Node:      snap.Checkpoint.NodeID,
		UpdatedAt: snap.Checkpoint.UpdatedAt,
		Messages:  toMessages(snap.State.Messages),
	}
	if snap.Pending != nil {
		resp.Question = snap.Pending.Value
	}
	writeJSON(w, http.StatusOK, resp)
}

type taskJSON struct {
	SessionID string        `json:"session_id"`
	Action    domain.Action `json:"action,omitempty"`
	Args      domain.Args   `json:"args"`
	Missing   []string      `json:"missing"`
	Ready     bool          `json:"ready"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.opts.Tasks.Task(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	missing := task.Args.Missing()
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, taskJSON{
		SessionID: id,
		Action:    task.Action,
		Args:      task.Args,
		Missing:   missing,
		Ready:     len(missing) == 0,
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Tasks.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Pipelines --

type startRequest struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
}

type unblockRequest struct {
	Note string `json:"note"`
}

type runJSON struct {
	RunID        string               `json:"run_id"`
	Completed    bool                 `json:"completed"`
	Stage        domain.Stage         `json:"stage"`
	Intervention *domain.Intervention `json:"intervention,omitempty"`
	Args         domain.Args          `json:"args"`
	Messages     []messageJSON        `json:"messages"`
}

func newRunJSON(run *pipeline.Run) runJSON {
	return runJSON{
		RunID:        run.RunID,
		Completed:    run.Completed,
		Stage:        run.Stage,
		Intervention: run.Intervention,
		Args:         run.State.Args,
		Messages:     toMessages(run.State.Messages),
	}
}

func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
		return
	}
	task, err := s.opts.Tasks.Ready(r.Context(), body.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	run, err := s.opts.Pipelines.Start(r.Context(), body.RunID, task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRunJSON(run))
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var body unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	run, err := s.opts.Pipelines.Unblock(r.Context(), chi.URLParam(r, "runID"), body.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunJSON(run))
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	snap, err := s.opts.Pipelines.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := runJSON{
		RunID:     runID,
		Completed: snap.Checkpoint.Status == domain.CheckpointCompleted,
		Stage:     snap.State.Current,
		Args:      snap.State.Args,
		Messages:  toMessages(snap.State.Messages),
	}
	if snap.Pending != nil {
		if iv, ok := decodeIntervention(snap.Pending.Value); ok {
			resp.Intervention = &iv
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeIntervention recovers the typed value of a token that went through a JSON store.
func decodeIntervention(v any) (domain.Intervention, bool) {
	if iv, ok := v.(domain.Intervention); ok {
		return iv, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.Intervention{}, false
	}
	var iv domain.Intervention
	if err := json.Unmarshal(raw, &iv); err != nil || iv.Stage == "" {
		return domain.Intervention{}, false
	}
	return iv, true
}

// -- Helpers --

func toMessages(msgs []*domain.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, messageJSON{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorJSON struct {
	Error struct {
		Message string   `json:"message"`
		Type    string   `json:"type"`
		Missing []string `json:"missing,omitempty"`
	} `json:"error"`
}

func writeErrorMessage(w http.ResponseWriter, status int, typ, msg string) {
	var body errorJSON
	body.Error.Message = msg
	body.Error.Type = typ
	writeJSON(w, status, body)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		invocation *domain.ModelInvocationError
		incomplete *pipeline.IncompleteTaskError
		capErr     *pipeline.RetryCapError
	)
	switch {
	case errors.Is(err, domain.ErrCheckpointNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not_found_error", err.Error())
	case errors.Is(err, domain.ErrResumeMismatch),
		errors.Is(err, domain.ErrStaleResume),
		errors.Is(err, domain.ErrPendingInterrupt),
		errors.Is(err, pipeline.ErrRunInProgress):
		writeErrorMessage(w, http.StatusConflict, "conflict_error", err.Error())
	case errors.As(err, &incomplete):
		var body errorJSON
		body.Error.Message = err.Error()
		body.Error.Type = "incomplete_task_error"
		body.Error.Missing = incomplete.Missing
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &invocation):
		writeErrorMessage(w, http.StatusBadGateway, "model_error", err.Error())
	case errors.As(err, &capErr):
		writeErrorMessage(w, http.StatusUnprocessableEntity, "retry_cap_error", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErrorMessage(w, http.StatusServiceUnavailable, "timeout_error", err.Error())
	default:
		s.opts.Logger.Error("request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "server_error", fmt.Sprintf("internal error: %v", err))
	}
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
