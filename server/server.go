// Package server binds the claim engine to HTTP under /api/workflow.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/log"
	"github.com/songzhibin97/claimflow/types"
	"github.com/songzhibin97/claimflow/workflow"
)

// Engine is the part of the claim engine the HTTP API drives
type Engine interface {
	Start(ctx context.Context, sub types.Submission) (types.ProcessInstance, error)
	Advance(ctx context.Context, id string) error
	CompleteTask(ctx context.Context, taskID string, variables map[string]interface{}) error
	Cancel(ctx context.Context, id, reason string) error
	GetState(ctx context.Context, businessKey string) types.StateView
	GetInstance(ctx context.Context, id string) (types.ProcessInstance, error)
	ListActiveTasks() []types.ManualTask
	TasksForClaim(businessKey string) []types.ManualTask
	TasksForInstance(id string) []types.ManualTask
}

// Server serves the workflow API
type Server struct {
	engine Engine
	claims clients.ClaimStore
	logger *slog.Logger
	router chi.Router
}

type (
	startResponse struct {
		ProcessInstanceID string          `json:"process_instance_id"`
		ClaimID           string          `json:"claim_id,omitempty"`
		Status            types.Status    `json:"status"`
		Decision          *types.Decision `json:"decision,omitempty"`
		FailureReason     string          `json:"failure_reason,omitempty"`
	}

	cancelRequest struct {
		Reason string `json:"reason"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// New creates a Server over engine and the claim store it writes to
func New(engine Engine, claims clients.ClaimStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		claims: claims,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/workflow", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Post("/start", s.handleStart)

		r.Route("/claims/{claimID}", func(r chi.Router) {
			r.Get("/", s.handleGetClaim)
			r.Get("/state", s.handleClaimState)
			r.Get("/tasks", s.handleClaimTasks)
			r.Get("/history", s.handleClaimHistory)
		})

		r.Route("/instances/{instanceID}", func(r chi.Router) {
			r.Get("/", s.handleGetInstance)
			r.Get("/tasks", s.handleInstanceTasks)
			r.Post("/advance", s.handleAdvance)
			r.Post("/cancel", s.handleCancel)
		})

		r.Get("/tasks/active", s.handleActiveTasks)
		r.Post("/tasks/{taskID}/complete", s.handleCompleteTask)
	})
	return r
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var sub types.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	inst, err := s.engine.Start(r.Context(), sub)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		ProcessInstanceID: inst.ID,
		ClaimID:           inst.BusinessKey,
		Status:            inst.Status,
		Decision:          inst.Decision,
		FailureReason:     inst.FailureReason,
	})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	rec, err := s.claims.GetClaim(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.claims.GetHistory(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if hist == nil {
		hist = []types.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleClaimState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetState(r.Context(), chi.URLParam(r, "claimID")))
}

func (s *Server) handleClaimTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.TasksForClaim(chi.URLParam(r, "claimID")))
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.GetInstance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleInstanceTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.TasksForInstance(chi.URLParam(r, "instanceID")))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	if err := s.engine.Advance(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeInstance(w, r, id)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id := chi.URLParam(r, "instanceID")
	if err := s.engine.Cancel(r.Context(), id, req.Reason); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeInstance(w, r, id)
}

func (s *Server) handleActiveTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListActiveTasks())
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var vars map[string]interface{}
	if err := decodeOptional(r, &vars); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.engine.CompleteTask(r.Context(), chi.URLParam(r, "taskID"), vars); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeInstance(w http.ResponseWriter, r *http.Request, id string) {
	inst, err := s.engine.GetInstance(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			log.Error(err))
	}
	s.writeError(w, r, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidSubmission):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrInstanceNotFound),
		errors.Is(err, workflow.ErrTaskNotFound),
		errors.Is(err, clients.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrClaimActive),
		errors.Is(err, workflow.ErrInstanceTerminal),
		errors.Is(err, types.ErrFieldAlreadySet):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrEngineStopped),
		errors.Is(err, clients.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body, accepting an empty one
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
