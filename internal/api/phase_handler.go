// File path: internal/api/phase_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/nchandrav/phasegate/internal/workflow"
)

func phaseParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "phase")
	number, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", workflow.ErrInvalidPhase, raw)
	}
	return number, nil
}

func (s *Server) handleStartPhase(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	result, err := s.workflow.StartPhase(r.Context(), chi.URLParam(r, "session"), number)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handlePhaseStatus(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	progress, err := s.workflow.PhaseProgress(r.Context(), chi.URLParam(r, "session"), number)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handlePhaseReview(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	review, err := s.workflow.PhaseReview(r.Context(), chi.URLParam(r, "session"), number)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

type approvePhaseRequest struct {
	ApprovedBy      string            `json:"approved_by"`
	Notes           string            `json:"notes"`
	EditedArtifacts map[string]string `json:"edited_artifacts"`
}

func (s *Server) handleApprovePhase(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	var req approvePhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.ApprovedBy) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("approved_by required"))
		return
	}
	result, err := s.workflow.ApprovePhase(r.Context(), chi.URLParam(r, "session"), number,
		strings.TrimSpace(req.ApprovedBy), req.Notes, req.EditedArtifacts)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rejectPhaseRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleRejectPhase(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	var req rejectPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("feedback required"))
		return
	}
	result, err := s.workflow.RejectPhase(r.Context(), chi.URLParam(r, "session"), number, req.Feedback)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelPhase(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if err := s.workflow.CancelPhase(r.Context(), chi.URLParam(r, "session"), number); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "cancelled",
		"phase_number": number,
	})
}

func (s *Server) handleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	number, err := phaseParam(r)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	sessionID := chi.URLParam(r, "session")
	zipPath, err := s.workflow.SnapshotArchive(r.Context(), sessionID, number)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("snapshot_phase_%d.zip", number)))
	http.ServeFile(w, r, zipPath)
}
