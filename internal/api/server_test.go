// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nchandrav/phasegate/internal/llm"
	"github.com/nchandrav/phasegate/internal/store"
	"github.com/nchandrav/phasegate/internal/workflow"
)

type fakeProvider struct{ calls int }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	f.calls++
	return fmt.Sprintf("# Document %d\n\nGenerated body.\n", f.calls), nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.OpenWithConfig(store.Config{Path: filepath.Join(t.TempDir(), "api_test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	manager := workflow.NewManager(st, &fakeProvider{}, workflow.Config{
		DataRoot:          t.TempDir(),
		GenerationTimeout: 5 * time.Second,
	})
	srv, err := NewServer(manager)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createSession(t *testing.T, srv *Server, flow string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/sessions", map[string]string{"flow_type": flow})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var sess store.SessionRecord
	decodeJSON(t, rec, &sess)
	if sess.ID == "" {
		t.Fatalf("missing session id in %s", rec.Body.String())
	}
	return sess.ID
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/sessions", map[string]string{"flow_type": "nonsense"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid flow should 400, got %d", rec.Code)
	}
	id := createSession(t, srv, "greenfield")

	list := doJSON(t, srv, http.MethodGet, "/v1/sessions", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list sessions: %d", list.Code)
	}
	var listing struct {
		Total int `json:"total"`
	}
	decodeJSON(t, list, &listing)
	if listing.Total != 1 {
		t.Fatalf("expected 1 session, got %d", listing.Total)
	}

	detail := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("session detail: %d", detail.Code)
	}
	missing := doJSON(t, srv, http.MethodGet, "/v1/sessions/does-not-exist", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing session should 404, got %d", missing.Code)
	}
}

func TestQuestionnaireEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "greenfield")

	get := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/questionnaire", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get questionnaire: %d", get.Code)
	}
	var status struct {
		Total         int `json:"total"`
		CompletionPct int `json:"completion_pct"`
	}
	decodeJSON(t, get, &status)
	if status.Total == 0 || status.CompletionPct != 0 {
		t.Fatalf("unexpected questionnaire status: %+v", status)
	}

	bad := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/questionnaire", map[string]interface{}{
		"answers": map[string]string{"problem_statement": "only one answer"},
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("incomplete answers should 400, got %d", bad.Code)
	}
	var validation struct {
		ValidationErrors []string `json:"validation_errors"`
	}
	decodeJSON(t, bad, &validation)
	if len(validation.ValidationErrors) < 3 {
		t.Fatalf("expected every validation problem reported, got %v", validation.ValidationErrors)
	}

	good := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/questionnaire", map[string]interface{}{
		"answers": map[string]string{
			"problem_statement": "Planning is slow.",
			"target_personas":   "Product managers.",
			"success_metrics":   "Days not weeks.",
			"in_scope":          "Intake and generation.",
			"delivery_model":    "saas",
		},
	})
	if good.Code != http.StatusOK {
		t.Fatalf("valid answers should 200, got %d body %s", good.Code, good.Body.String())
	}
	var submitted struct {
		Status string `json:"status"`
	}
	decodeJSON(t, good, &submitted)
	if submitted.Status != "ready" {
		t.Fatalf("expected ready status after submit, got %q", submitted.Status)
	}
}

func TestDocumentUpload(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "greenfield")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "notes.md")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("# Notes\n\nReference material.\n")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Count != 1 {
		t.Fatalf("expected 1 uploaded document, got %d", resp.Count)
	}
}

func TestPhaseEndpointsThroughApproval(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "greenfield")
	good := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/questionnaire", map[string]interface{}{
		"answers": map[string]string{
			"problem_statement": "Planning is slow.",
			"target_personas":   "Product managers.",
			"success_metrics":   "Days not weeks.",
			"in_scope":          "Intake and generation.",
			"delivery_model":    "saas",
		},
	})
	if good.Code != http.StatusOK {
		t.Fatalf("submit questionnaire: %d", good.Code)
	}

	if rec := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/9/generate", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid phase should 400, got %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/2/generate", nil); rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("phase 2 before approval should 412, got %d", rec.Code)
	}

	start := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/1/generate", nil)
	if start.Code != http.StatusAccepted {
		t.Fatalf("start phase: %d body %s", start.Code, start.Body.String())
	}
	var started struct {
		Status        string   `json:"status"`
		PhaseNumber   int      `json:"phase_number"`
		PhaseName     string   `json:"phase_name"`
		ArtifactTypes []string `json:"artifact_types"`
	}
	decodeJSON(t, start, &started)
	if started.Status != "generating" || started.PhaseNumber != 1 || started.PhaseName == "" {
		t.Fatalf("unexpected start response: %+v", started)
	}
	if len(started.ArtifactTypes) != 4 {
		t.Fatalf("start response should list the 4 phase 1 artifacts, got %v", started.ArtifactTypes)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		statusRec := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/phases/1/status", nil)
		if statusRec.Code != http.StatusOK {
			t.Fatalf("phase status: %d", statusRec.Code)
		}
		var progress struct {
			OverallStatus string `json:"overall_status"`
		}
		decodeJSON(t, statusRec, &progress)
		if progress.OverallStatus == "review" {
			break
		}
		if progress.OverallStatus == "failed" {
			t.Fatalf("phase failed while waiting for review")
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase never reached review, last status %q", progress.OverallStatus)
		}
		time.Sleep(10 * time.Millisecond)
	}

	review := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/phases/1/review", nil)
	if review.Code != http.StatusOK {
		t.Fatalf("phase review: %d", review.Code)
	}
	var reviewBody struct {
		Artifacts map[string]string `json:"artifacts"`
		Editable  []string          `json:"editable"`
	}
	decodeJSON(t, review, &reviewBody)
	if len(reviewBody.Artifacts) != 4 {
		t.Fatalf("expected 4 artifacts in review, got %d", len(reviewBody.Artifacts))
	}

	noActor := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/1/approve", map[string]interface{}{})
	if noActor.Code != http.StatusBadRequest {
		t.Fatalf("approve without approved_by should 400, got %d", noActor.Code)
	}

	approve := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/1/approve", map[string]interface{}{
		"approved_by": "alice",
		"notes":       "fine",
	})
	if approve.Code != http.StatusOK {
		t.Fatalf("approve: %d body %s", approve.Code, approve.Body.String())
	}

	// Approving again is a precondition failure.
	again := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/1/approve", map[string]interface{}{
		"approved_by": "alice",
	})
	if again.Code != http.StatusPreconditionFailed {
		t.Fatalf("double approve should 412, got %d", again.Code)
	}

	download := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/snapshots/1/download", nil)
	if download.Code != http.StatusOK {
		t.Fatalf("snapshot download: %d", download.Code)
	}
	if ct := download.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// Export needs all three phases.
	export := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/export", nil)
	if export.Code != http.StatusPreconditionFailed {
		t.Fatalf("partial export should 412, got %d", export.Code)
	}

	cancelIdle := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phases/1/cancel", nil)
	if cancelIdle.Code != http.StatusConflict {
		t.Fatalf("cancel with nothing running should 409, got %d", cancelIdle.Code)
	}
}
