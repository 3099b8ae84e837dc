// File path: internal/workflow/manager_test.go
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/llm"
	"github.com/nchandrav/phasegate/internal/phase"
	"github.com/nchandrav/phasegate/internal/store"
)

type stubProvider struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	block  bool
	failAt int
}

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	s.calls++
	n := s.calls
	failAt := s.failAt
	s.mu.Unlock()
	if failAt > 0 && n == failAt {
		return "", fmt.Errorf("backend unavailable")
	}
	return fmt.Sprintf("# Generated Document %d\n\nBody.\n", n), nil
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestManager(t *testing.T, provider llm.Provider) *Manager {
	t.Helper()
	cfg := store.Config{Path: filepath.Join(t.TempDir(), "workflow_test.db")}
	st, err := store.OpenWithConfig(cfg.Merge(store.Config{}))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, provider, Config{
		DataRoot:          t.TempDir(),
		GenerationTimeout: 5 * time.Second,
	})
}

func greenfieldAnswers() map[string]string {
	return map[string]string{
		"problem_statement": "Release planning is manual and slow.",
		"target_personas":   "Product managers and delivery leads.",
		"success_metrics":   "Cut planning time from weeks to days.",
		"in_scope":          "Guided intake, phased generation, approvals.",
		"delivery_model":    "saas",
	}
}

func waitGateStatus(t *testing.T, m *Manager, sessionID string, phaseNumber int, want phase.Status) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		gate, err := m.Store().PhaseGate(ctx, sessionID, phaseNumber)
		if err == nil {
			switch phase.Status(gate.Status) {
			case want:
				return
			case phase.StatusFailed:
				if want != phase.StatusFailed {
					t.Fatalf("phase %d failed while waiting for %s", phaseNumber, want)
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("phase %d never reached %s", phaseNumber, want)
}

func TestCreateSessionRejectsUnknownFlow(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	if _, err := m.CreateSession(context.Background(), "brownfield"); !errors.Is(err, ErrInvalidFlow) {
		t.Fatalf("expected ErrInvalidFlow, got %v", err)
	}
}

func TestSubmitQuestionnaireCollectsErrors(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	err = m.SubmitQuestionnaire(ctx, sess.ID, map[string]string{"problem_statement": "x"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) < 3 {
		t.Fatalf("expected all missing required answers reported, got %v", verrs)
	}
}

func TestFullPhaseLifecycle(t *testing.T) {
	provider := &stubProvider{}
	m := newTestManager(t, provider)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.UploadDocuments(ctx, sess.ID, []UploadedDocument{
		{Filename: "notes.md", Content: []byte("# Background notes\n")},
	}); err != nil {
		t.Fatalf("upload documents: %v", err)
	}

	// Phase 2 cannot start before phase 1 is approved.
	if _, err := m.StartPhase(ctx, sess.ID, 2); !errors.Is(err, ErrPhaseNotApproved) {
		t.Fatalf("expected ErrPhaseNotApproved, got %v", err)
	}

	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusReview)

	progress, err := m.PhaseProgress(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("phase progress: %v", err)
	}
	if progress.OverallProgress != 100 {
		t.Fatalf("expected 100%% progress, got %d", progress.OverallProgress)
	}
	for _, row := range progress.Artifacts {
		if row.Status != "completed" {
			t.Fatalf("artifact %s not completed: %s", row.ArtifactType, row.Status)
		}
	}

	review, err := m.PhaseReview(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("phase review: %v", err)
	}
	if len(review.Artifacts) != 4 {
		t.Fatalf("expected 4 phase 1 artifacts, got %d", len(review.Artifacts))
	}
	if len(review.Editable) != 1 || review.Editable[0] != "prd" {
		t.Fatalf("greenfield phase 1 should only allow prd edits, got %v", review.Editable)
	}

	edited := "# PRD (reviewed)\n\nTightened by hand.\n"
	result, err := m.ApprovePhase(ctx, sess.ID, 1, "alice", "looks good", map[string]string{
		"prd": edited,
	})
	if err != nil {
		t.Fatalf("approve phase 1: %v", err)
	}
	if result.NextPhase != 2 {
		t.Fatalf("expected next phase 2, got %d", result.NextPhase)
	}

	snap, err := phase.Load(result.SnapshotDir)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !snap.Verify() {
		t.Fatalf("approved snapshot must verify")
	}
	if snap.Artifacts["prd"] != edited {
		t.Fatalf("snapshot should carry the edited prd")
	}
	if snap.ApprovedBy != "alice" {
		t.Fatalf("snapshot approved_by lost: %q", snap.ApprovedBy)
	}
	if _, err := os.Stat(filepath.Join(result.SnapshotDir, "originals", "prd_original.md")); err != nil {
		t.Fatalf("original prd backup missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.SnapshotDir, "questionnaire_transcript.md")); err != nil {
		t.Fatalf("questionnaire transcript missing: %v", err)
	}

	gate1, err := m.Store().PhaseGate(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("load gate 1: %v", err)
	}
	rec, err := m.Store().PhaseArtifact(ctx, gate1.ID, "prd")
	if err != nil {
		t.Fatalf("load prd record: %v", err)
	}
	if !rec.WasEdited || rec.ContentHash != phase.ContentHash(edited) {
		t.Fatalf("prd record not updated for edit: %+v", rec)
	}
	edits, err := m.Store().ArtifactEdits(ctx, rec.ID)
	if err != nil || len(edits) != 1 || edits[0].EditedBy != "alice" {
		t.Fatalf("edit record wrong: %v %+v", err, edits)
	}

	// Phase 2: prior artifacts come from the snapshot, only new ones are
	// generated.
	callsBefore := provider.callCount()
	if _, err := m.StartPhase(ctx, sess.ID, 2); err != nil {
		t.Fatalf("start phase 2: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 2, phase.StatusReview)
	if got := provider.callCount() - callsBefore; got != 4 {
		t.Fatalf("phase 2 should generate exactly its 4 artifacts, made %d calls", got)
	}
	progress2, err := m.PhaseProgress(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("phase 2 progress: %v", err)
	}
	cached := 0
	for _, row := range progress2.Artifacts {
		if row.Status == "cached" {
			cached++
		}
	}
	if cached == 0 {
		t.Fatalf("phase 2 should reuse phase 1 artifacts as cached")
	}

	// Reject and regenerate phase 2.
	rejection, err := m.RejectPhase(ctx, sess.ID, 2, "epics too broad")
	if err != nil {
		t.Fatalf("reject phase 2: %v", err)
	}
	if rejection.RejectionCount != 1 || !rejection.CanRegenerate {
		t.Fatalf("unexpected rejection result: %+v", rejection)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 2); err != nil {
		t.Fatalf("restart phase 2: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 2, phase.StatusReview)
	if _, err := m.ApprovePhase(ctx, sess.ID, 2, "alice", "", nil); err != nil {
		t.Fatalf("approve phase 2: %v", err)
	}

	if _, err := m.StartPhase(ctx, sess.ID, 3); err != nil {
		t.Fatalf("start phase 3: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 3, phase.StatusReview)
	final, err := m.ApprovePhase(ctx, sess.ID, 3, "alice", "ship it", nil)
	if err != nil {
		t.Fatalf("approve phase 3: %v", err)
	}
	if final.NextPhase != 0 {
		t.Fatalf("phase 3 approval should have no next phase, got %d", final.NextPhase)
	}
	done, err := m.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("session should be completed, got %q", done.Status)
	}

	zipPath, err := m.ExportPack(ctx, sess.ID)
	if err != nil {
		t.Fatalf("export pack: %v", err)
	}
	if info, err := os.Stat(zipPath); err != nil || info.Size() == 0 {
		t.Fatalf("export archive missing or empty: %v", err)
	}
	if !strings.HasSuffix(zipPath, ".zip") {
		t.Fatalf("unexpected export path %q", zipPath)
	}

	audit, err := m.Store().AuditLog(ctx, sess.ID, "", 0)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	seen := make(map[string]bool)
	for _, e := range audit {
		seen[e.EventType] = true
	}
	for _, want := range []string{
		"session_created", "questionnaire_submitted", "docs_uploaded",
		"phase_generation_started", "phase_review_ready", "artifact_generated",
		"artifact_edited", "phase_approved", "phase_rejected", "session_completed",
	} {
		if !seen[want] {
			t.Fatalf("audit log missing %s event", want)
		}
	}
}

func TestApproveRequiresReviewState(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ApprovePhase(ctx, sess.ID, 1, "alice", "", nil); !errors.Is(err, ErrPhaseNotFound) {
		t.Fatalf("expected ErrPhaseNotFound before any run, got %v", err)
	}
	if _, err := m.ApprovePhase(ctx, sess.ID, 9, "alice", "", nil); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestEditRejectedForNonEditableArtifact(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusReview)
	if _, err := m.ApprovePhase(ctx, sess.ID, 1, "alice", "", map[string]string{
		string(artifact.Epics): "sneaky",
	}); err == nil {
		t.Fatalf("editing a non-editable artifact must fail")
	}
}

func TestCancelPhase(t *testing.T) {
	provider := &stubProvider{block: true}
	m := newTestManager(t, provider)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	// Second start while generating is refused.
	if _, err := m.StartPhase(ctx, sess.ID, 1); !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("expected ErrGenerationActive, got %v", err)
	}

	if err := m.CancelPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("cancel phase: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusCancelled)

	// Cancelling again reports nothing running.
	if err := m.CancelPhase(ctx, sess.ID, 1); !errors.Is(err, ErrPhaseNotRunning) {
		t.Fatalf("expected ErrPhaseNotRunning, got %v", err)
	}
}

func TestOrphanedGeneratingGateRestarts(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}

	// A gate stuck in generating with no live runner, as left behind by a
	// process that died mid-run.
	if _, err := m.Store().CreatePhaseGate(ctx, sess.ID, 1, "Foundation"); err != nil {
		t.Fatalf("create orphaned gate: %v", err)
	}

	// Nothing is running, so there is nothing to cancel.
	if err := m.CancelPhase(ctx, sess.ID, 1); !errors.Is(err, ErrPhaseNotRunning) {
		t.Fatalf("expected ErrPhaseNotRunning for orphaned gate, got %v", err)
	}

	// The stale status must not block a restart.
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("restart orphaned gate: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusReview)
}

func TestResumeReusesCompletedArtifacts(t *testing.T) {
	// Phase 1 generates context_summary, corpus_summary, prd, capabilities in
	// order; failing the third call leaves two artifacts finished on disk.
	provider := &stubProvider{failAt: 3}
	m := newTestManager(t, provider)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusFailed)

	// A fresh process has an empty cache; resume must rebuild it from the
	// progress rows and the output directory rather than regenerating.
	resumed := &stubProvider{}
	m2 := NewManager(m.Store(), resumed, m.cfg)
	if _, err := m2.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	waitGateStatus(t, m2, sess.ID, 1, phase.StatusReview)
	if got := resumed.callCount(); got != 2 {
		t.Fatalf("resume should only generate the 2 unfinished artifacts, made %d calls", got)
	}

	gate, err := m2.Store().PhaseGate(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("load gate: %v", err)
	}
	rows, err := m2.Store().GenerationProgress(ctx, gate.ID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	byStatus := make(map[string]int)
	for _, row := range rows {
		byStatus[row.Status]++
	}
	if byStatus["cached"] != 2 || byStatus["completed"] != 2 {
		t.Fatalf("expected 2 cached and 2 completed artifacts, got %v", byStatus)
	}
}

func TestAuditDetailIsValidJSON(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusReview)

	feedback := "too vague: \"epics\"\nand drop the \x01 marker"
	if _, err := m.RejectPhase(ctx, sess.ID, 1, feedback); err != nil {
		t.Fatalf("reject phase: %v", err)
	}

	audit, err := m.Store().AuditLog(ctx, sess.ID, "", 0)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	for _, e := range audit {
		if e.Detail == nil {
			continue
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(*e.Detail), &decoded); err != nil {
			t.Fatalf("audit detail for %s is not valid JSON: %v (%q)", e.EventType, err, *e.Detail)
		}
		if e.EventType == "phase_rejected" && decoded["feedback"] != feedback {
			t.Fatalf("rejection feedback did not round-trip: %q", decoded["feedback"])
		}
	}
}

func TestGenerationTimeoutFailsPhase(t *testing.T) {
	provider := &stubProvider{delay: time.Second}
	m := newTestManager(t, provider)
	m.cfg.GenerationTimeout = 50 * time.Millisecond
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "greenfield")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := m.SubmitQuestionnaire(ctx, sess.ID, greenfieldAnswers()); err != nil {
		t.Fatalf("submit questionnaire: %v", err)
	}
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("start phase 1: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusFailed)

	gate, err := m.Store().PhaseGate(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("load gate: %v", err)
	}
	rows, err := m.Store().GenerationProgress(ctx, gate.ID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	failed := false
	for _, row := range rows {
		if row.Status == "failed" && row.ErrorMessage != nil {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected a failed progress row with an error message: %+v", rows)
	}

	// A failed phase can be restarted.
	m.cfg.GenerationTimeout = 5 * time.Second
	if _, err := m.StartPhase(ctx, sess.ID, 1); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	waitGateStatus(t, m, sess.ID, 1, phase.StatusReview)
}
