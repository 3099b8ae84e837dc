// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/phase"
	"github.com/nchandrav/phasegate/internal/workflow"
)

// Server exposes the phased generation workflow over HTTP.
type Server struct {
	router   chi.Router
	workflow *workflow.Manager
}

func NewServer(manager *workflow.Manager) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("workflow manager required")
	}
	s := &Server{router: chi.NewRouter(), workflow: manager}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/sessions", s.handleCreateSession)
	s.router.Get("/v1/sessions", s.handleListSessions)
	s.router.Get("/v1/sessions/{session}", s.handleSessionDetail)
	s.router.Get("/v1/sessions/{session}/questionnaire", s.handleGetQuestionnaire)
	s.router.Post("/v1/sessions/{session}/questionnaire", s.handleSubmitQuestionnaire)
	s.router.Post("/v1/sessions/{session}/documents", s.handleUploadDocuments)
	s.router.Post("/v1/sessions/{session}/phases/{phase}/generate", s.handleStartPhase)
	s.router.Get("/v1/sessions/{session}/phases/{phase}/status", s.handlePhaseStatus)
	s.router.Get("/v1/sessions/{session}/phases/{phase}/review", s.handlePhaseReview)
	s.router.Post("/v1/sessions/{session}/phases/{phase}/approve", s.handleApprovePhase)
	s.router.Post("/v1/sessions/{session}/phases/{phase}/reject", s.handleRejectPhase)
	s.router.Post("/v1/sessions/{session}/phases/{phase}/cancel", s.handleCancelPhase)
	s.router.Get("/v1/sessions/{session}/snapshots/{phase}/download", s.handleSnapshotDownload)
	s.router.Get("/v1/sessions/{session}/export", s.handleExportPack)
	s.router.Get("/v1/sessions/{session}/summary", s.handleSessionSummary)
	s.router.Get("/v1/logs", s.handleLogs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps workflow errors onto HTTP status codes.
func statusForError(err error) int {
	var verrs workflow.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrInvalidFlow), errors.Is(err, workflow.ErrInvalidPhase):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrSessionNotFound), errors.Is(err, workflow.ErrPhaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrGenerationActive), errors.Is(err, workflow.ErrPhaseNotRunning):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrPhaseNotApproved),
		errors.Is(err, workflow.ErrPhaseNotInReview),
		errors.Is(err, workflow.ErrExportNotReady):
		return http.StatusPreconditionFailed
	case errors.Is(err, phase.ErrSnapshotMissing), errors.Is(err, phase.ErrSnapshotIntegrity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
