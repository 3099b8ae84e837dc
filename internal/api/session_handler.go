// File path: internal/api/session_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/nchandrav/phasegate/internal/workflow"
)

type createSessionRequest struct {
	FlowType string `json:"flow_type"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	sess, err := s.workflow.CreateSession(r.Context(), strings.TrimSpace(req.FlowType))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = value
	}
	sessions, err := s.workflow.ListSessions(r.Context(), status, limit)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.workflow.SessionDetail(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	status, err := s.workflow.QuestionnaireStatus(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type submitQuestionnaireRequest struct {
	Answers map[string]string `json:"answers"`
}

func (s *Server) handleSubmitQuestionnaire(w http.ResponseWriter, r *http.Request) {
	var req submitQuestionnaireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	sessionID := chi.URLParam(r, "session")
	if err := s.workflow.SubmitQuestionnaire(r.Context(), sessionID, req.Answers); err != nil {
		var verrs workflow.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":             "questionnaire validation failed",
				"validation_errors": []string(verrs),
			})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

const maxUploadBytes = 32 << 20

func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	docs := make([]workflow.UploadedDocument, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("open upload %s: %w", header.Filename, err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read upload %s: %w", header.Filename, err))
			return
		}
		docs = append(docs, workflow.UploadedDocument{Filename: header.Filename, Content: content})
	}
	saved, err := s.workflow.UploadDocuments(r.Context(), chi.URLParam(r, "session"), docs)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": saved,
		"count":     len(saved),
	})
}

func (s *Server) handleExportPack(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	zipPath, err := s.workflow.ExportPack(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	short := sessionID
	if len(short) > 12 {
		short = short[:12]
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "assessment_pack_"+short+".zip"))
	http.ServeFile(w, r, zipPath)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	export, err := s.workflow.ExportSession(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
