// File path: internal/workflow/phases.go
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/intake"
	"github.com/nchandrav/phasegate/internal/phase"
	"github.com/nchandrav/phasegate/internal/store"
)

// StartResult describes a launched phase generation, including the full
// artifact list the run will produce or reuse.
type StartResult struct {
	Status        string            `json:"status"`
	PhaseNumber   int               `json:"phase_number"`
	PhaseName     string            `json:"phase_name"`
	ArtifactTypes []string          `json:"artifact_types"`
	Gate          *store.GateRecord `json:"gate"`
}

// StartPhase launches background generation for one phase. The prior phase
// must be approved, and only one generation may run per session at a time.
// Restarting a rejected, failed, or cancelled phase resets its gate and
// progress rows.
func (m *Manager) StartPhase(ctx context.Context, sessionID string, phaseNumber int) (*StartResult, error) {
	logger := common.Logger()
	def, err := phase.Lookup(phaseNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if def.RequiresPhase > 0 {
		prior, err := m.store.PhaseGate(ctx, sessionID, def.RequiresPhase)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: phase %d has not run", ErrPhaseNotApproved, def.RequiresPhase)
			}
			return nil, err
		}
		if prior.Status != string(phase.StatusApproved) {
			return nil, fmt.Errorf("%w: phase %d is %s", ErrPhaseNotApproved, def.RequiresPhase, prior.Status)
		}
	}

	m.runnerMu.Lock()
	if run, ok := m.runners[sessionID]; ok {
		m.runnerMu.Unlock()
		return nil, fmt.Errorf("%w: phase %d", ErrGenerationActive, run.phaseNumber)
	}
	// Reserve the slot before the store work so a concurrent start fails fast.
	run := &phaseRun{phaseNumber: phaseNumber, done: make(chan struct{})}
	m.runners[sessionID] = run
	m.runnerMu.Unlock()

	gate, err := m.prepareGate(ctx, sessionID, def)
	if err != nil {
		m.clearRunner(sessionID, run)
		return nil, err
	}

	artifactNames := make([]string, 0, len(def.Artifacts))
	for _, t := range artifact.Resolve(def.Artifacts) {
		artifactNames = append(artifactNames, string(t))
	}
	if err := m.store.InitGenerationProgress(ctx, gate.ID, artifactNames); err != nil {
		m.clearRunner(sessionID, run)
		return nil, err
	}

	if err := m.store.UpdateSession(ctx, sessionID, store.SessionPatch{
		Status: store.StringPtr(fmt.Sprintf("phase_%d", phaseNumber)),
	}); err != nil {
		m.clearRunner(sessionID, run)
		return nil, err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID:   sessionID,
		EventType:   "phase_generation_started",
		PhaseNumber: store.IntPtr(phaseNumber),
		Actor:       store.StringPtr("user"),
		Detail:      auditDetail(map[string]interface{}{"phase_name": def.Name, "flow_type": sess.FlowType}),
	}); err != nil {
		m.clearRunner(sessionID, run)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	go m.runPhase(runCtx, sessionID, def, gate.ID, run)
	logger.Info("workflow: phase generation started", "session", sessionID, "phase", phaseNumber)
	return &StartResult{
		Status:        gate.Status,
		PhaseNumber:   phaseNumber,
		PhaseName:     def.Name,
		ArtifactTypes: artifactNames,
		Gate:          gate,
	}, nil
}

// prepareGate creates the gate on first start or resets it when a previous
// attempt ended in rejected, failed, or cancelled. The runner registry, not
// the status column, decides liveness: StartPhase reserves the session's
// runner slot before calling here, so a gate still marked generating was
// orphaned by a dead process and is restarted like a failed one. Restarting
// a gate in review or approved is refused.
func (m *Manager) prepareGate(ctx context.Context, sessionID string, def phase.Definition) (*store.GateRecord, error) {
	gate, err := m.store.PhaseGate(ctx, sessionID, def.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return m.store.CreatePhaseGate(ctx, sessionID, def.Number, def.Name)
	}
	if err != nil {
		return nil, err
	}
	switch phase.Status(gate.Status) {
	case phase.StatusFailed, phase.StatusCancelled, phase.StatusGenerating:
		// The interrupted attempt may have finished some artifacts; reuse
		// them instead of regenerating. Rejected gates skip this so the
		// rejected content is rebuilt from scratch.
		if err := m.reseedCompleted(ctx, sessionID, gate.ID); err != nil {
			return nil, err
		}
		return m.resetGate(ctx, sessionID, def, gate.ID)
	case phase.StatusRejected, phase.StatusPending:
		return m.resetGate(ctx, sessionID, def, gate.ID)
	default:
		return nil, fmt.Errorf("%w: phase %d is %s", ErrPhaseNotInReview, def.Number, gate.Status)
	}
}

func (m *Manager) resetGate(ctx context.Context, sessionID string, def phase.Definition, gateID int64) (*store.GateRecord, error) {
	if err := m.store.UpdatePhaseGate(ctx, gateID, store.GatePatch{
		Status:          store.StringPtr(string(phase.StatusGenerating)),
		OverallProgress: store.IntPtr(0),
		StartedAt:       store.TimePtr(time.Now().UTC()),
	}); err != nil {
		return nil, err
	}
	if err := m.store.ResetGenerationProgress(ctx, gateID); err != nil {
		return nil, err
	}
	return m.store.PhaseGate(ctx, sessionID, def.Number)
}

// reseedCompleted reloads the session cache from the output directory and
// then evicts every artifact the gate's progress rows do not mark finished.
// Must run before the progress rows are reset.
func (m *Manager) reseedCompleted(ctx context.Context, sessionID string, gateID int64) error {
	sess, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	_, outputDir, _ := m.sessionDirs(sessionID)
	if sess.OutputDir != nil && *sess.OutputDir != "" {
		outputDir = *sess.OutputDir
	}
	cache := m.sessionCache(sessionID)
	if cache.LoadFromDir(outputDir) == 0 {
		return nil
	}
	incomplete, err := m.store.IncompleteArtifacts(ctx, gateID)
	if err != nil {
		return err
	}
	for _, name := range incomplete {
		cache.Remove(artifact.Type(name))
	}
	return nil
}

func (m *Manager) clearRunner(sessionID string, run *phaseRun) {
	m.runnerMu.Lock()
	if m.runners[sessionID] == run {
		delete(m.runners, sessionID)
	}
	m.runnerMu.Unlock()
}

// CancelPhase stops the session's running generation. The runner marks the
// gate cancelled once it unwinds.
func (m *Manager) CancelPhase(ctx context.Context, sessionID string, phaseNumber int) error {
	if _, err := m.Session(ctx, sessionID); err != nil {
		return err
	}
	m.runnerMu.Lock()
	run, ok := m.runners[sessionID]
	if !ok || run.phaseNumber != phaseNumber || run.cancel == nil {
		m.runnerMu.Unlock()
		return fmt.Errorf("%w: phase %d", ErrPhaseNotRunning, phaseNumber)
	}
	cancel := run.cancel
	done := run.done
	m.runnerMu.Unlock()

	cancel()
	<-done
	common.Logger().Info("workflow: phase generation cancelled", "session", sessionID, "phase", phaseNumber)
	return nil
}

// PhaseProgress reports the gate status plus per-artifact progress.
type PhaseProgress struct {
	PhaseNumber     int                    `json:"phase_number"`
	OverallStatus   string                 `json:"overall_status"`
	OverallProgress int                    `json:"overall_progress"`
	Artifacts       []store.ProgressRecord `json:"artifacts"`
}

func (m *Manager) PhaseProgress(ctx context.Context, sessionID string, phaseNumber int) (*PhaseProgress, error) {
	if _, err := phase.Lookup(phaseNumber); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	if _, err := m.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, phaseNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhaseNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := m.store.GenerationProgress(ctx, gate.ID)
	if err != nil {
		return nil, err
	}
	return &PhaseProgress{
		PhaseNumber:     phaseNumber,
		OverallStatus:   gate.Status,
		OverallProgress: gate.OverallProgress,
		Artifacts:       rows,
	}, nil
}

// PhaseReview returns the generated artifact content with edit permissions.
// Only phases in review or already approved can be inspected.
type PhaseReview struct {
	PhaseNumber int               `json:"phase_number"`
	PhaseStatus string            `json:"phase_status"`
	FlowType    string            `json:"flow_type"`
	Artifacts   map[string]string `json:"artifacts"`
	Editable    []string          `json:"editable"`
}

func (m *Manager) PhaseReview(ctx context.Context, sessionID string, phaseNumber int) (*PhaseReview, error) {
	if _, err := phase.Lookup(phaseNumber); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, phaseNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhaseNotFound
	}
	if err != nil {
		return nil, err
	}
	status := phase.Status(gate.Status)
	if status != phase.StatusReview && status != phase.StatusApproved {
		return nil, fmt.Errorf("%w: phase %d is %s", ErrPhaseNotInReview, phaseNumber, gate.Status)
	}
	records, err := m.store.PhaseArtifacts(ctx, gate.ID)
	if err != nil {
		return nil, err
	}
	artifacts := make(map[string]string, len(records))
	for _, rec := range records {
		content, err := os.ReadFile(rec.FilePath)
		if err != nil {
			common.Logger().Warn("workflow: artifact file unreadable", "path", rec.FilePath, "error", err)
			continue
		}
		artifacts[rec.ArtifactType] = string(content)
	}
	return &PhaseReview{
		PhaseNumber: phaseNumber,
		PhaseStatus: gate.Status,
		FlowType:    sess.FlowType,
		Artifacts:   artifacts,
		Editable:    EditableArtifacts(phaseNumber, sess.FlowType),
	}, nil
}

// ApprovalResult is returned by ApprovePhase.
type ApprovalResult struct {
	Status      string `json:"status"`
	PhaseNumber int    `json:"phase_number"`
	SnapshotDir string `json:"snapshot_dir"`
	NextPhase   int    `json:"next_phase,omitempty"`
}

// ApprovePhase freezes the phase's artifacts into a content-hashed
// snapshot. Edits to editable artifacts are applied first: the original is
// backed up, the working file overwritten, and the edit recorded.
func (m *Manager) ApprovePhase(ctx context.Context, sessionID string, phaseNumber int, approvedBy, notes string, edits map[string]string) (*ApprovalResult, error) {
	logger := common.Logger()
	if _, err := phase.Lookup(phaseNumber); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, phaseNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if phase.Status(gate.Status) != phase.StatusReview {
		return nil, fmt.Errorf("%w: phase %d is %s", ErrPhaseNotInReview, phaseNumber, gate.Status)
	}

	_, _, snapshotBase := m.sessionDirs(sessionID)
	if sess.SnapshotBaseDir != nil && *sess.SnapshotBaseDir != "" {
		snapshotBase = *sess.SnapshotBaseDir
	}
	snapshotDir := filepath.Join(snapshotBase, fmt.Sprintf("phase_%d", phaseNumber))

	if len(edits) > 0 {
		if err := m.applyEdits(ctx, sessionID, phaseNumber, gate.ID, snapshotDir, approvedBy, edits); err != nil {
			return nil, err
		}
	}

	records, err := m.store.PhaseArtifacts(ctx, gate.ID)
	if err != nil {
		return nil, err
	}
	contents := make(map[string]string, len(records))
	for _, rec := range records {
		data, err := os.ReadFile(rec.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", rec.ArtifactType, err)
		}
		contents[rec.ArtifactType] = string(data)
	}

	now := time.Now().UTC()
	snap := phase.NewSnapshot(phaseNumber, contents)
	snap.ApprovedAt = &now
	snap.ApprovedBy = approvedBy
	snap.Notes = notes
	if err := snap.Save(snapshotDir); err != nil {
		return nil, err
	}
	if phaseNumber == 1 {
		if err := m.writeTranscript(ctx, sessionID, sess.FlowType, snapshotDir); err != nil {
			logger.Warn("workflow: transcript write failed", "session", sessionID, "error", err)
		}
	}

	if err := m.store.UpdatePhaseGate(ctx, gate.ID, store.GatePatch{
		Status:        store.StringPtr(string(phase.StatusApproved)),
		ApprovedBy:    store.StringPtr(approvedBy),
		ApprovalNotes: store.StringPtr(notes),
		CompletedAt:   store.TimePtr(now),
		SnapshotDir:   store.StringPtr(snapshotDir),
	}); err != nil {
		return nil, err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID:   sessionID,
		EventType:   "phase_approved",
		PhaseNumber: store.IntPtr(phaseNumber),
		Actor:       store.StringPtr(approvedBy),
		Detail:      auditDetail(map[string]interface{}{"notes": notes, "has_edits": len(edits) > 0}),
	}); err != nil {
		return nil, err
	}

	result := &ApprovalResult{
		Status:      string(phase.StatusApproved),
		PhaseNumber: phaseNumber,
		SnapshotDir: snapshotDir,
	}
	if phaseNumber < phase.Count {
		result.NextPhase = phaseNumber + 1
	} else {
		if err := m.store.UpdateSession(ctx, sessionID, store.SessionPatch{
			Status: store.StringPtr("completed"),
		}); err != nil {
			return nil, err
		}
		if err := m.store.LogEvent(ctx, store.AuditRecord{
			SessionID: sessionID,
			EventType: "session_completed",
			Actor:     store.StringPtr("system"),
		}); err != nil {
			return nil, err
		}
	}
	logger.Info("workflow: phase approved", "session", sessionID, "phase", phaseNumber, "by", approvedBy, "edits", len(edits))
	return result, nil
}

func (m *Manager) applyEdits(ctx context.Context, sessionID string, phaseNumber int, gateID int64, snapshotDir, editedBy string, edits map[string]string) error {
	editable := make(map[string]bool)
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, name := range EditableArtifacts(phaseNumber, sess.FlowType) {
		editable[name] = true
	}
	originalsDir := filepath.Join(snapshotDir, "originals")
	if err := os.MkdirAll(originalsDir, 0o755); err != nil {
		return fmt.Errorf("create originals dir: %w", err)
	}
	cache := m.sessionCache(sessionID)

	for name, editedContent := range edits {
		if !editable[name] {
			return fmt.Errorf("%w: artifact %q is not editable in phase %d", ErrPhaseNotInReview, name, phaseNumber)
		}
		rec, err := m.store.PhaseArtifact(ctx, gateID, name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("artifact %q not found in phase %d", name, phaseNumber)
		}
		if err != nil {
			return err
		}
		originalContent, err := os.ReadFile(rec.FilePath)
		if err != nil {
			return fmt.Errorf("read artifact %s: %w", name, err)
		}
		originalHash := phase.ContentHash(string(originalContent))
		editedHash := phase.ContentHash(editedContent)

		backupPath := filepath.Join(originalsDir, name+"_original.md")
		if err := os.WriteFile(backupPath, originalContent, 0o644); err != nil {
			return fmt.Errorf("back up artifact %s: %w", name, err)
		}
		if err := os.WriteFile(rec.FilePath, []byte(editedContent), 0o644); err != nil {
			return fmt.Errorf("write edited artifact %s: %w", name, err)
		}

		if err := m.store.UpdatePhaseArtifact(ctx, rec.ID, store.ArtifactPatch{
			ContentHash: store.StringPtr(editedHash),
			CharCount:   store.IntPtr(len(editedContent)),
			WasEdited:   store.BoolPtr(true),
		}); err != nil {
			return err
		}
		if err := m.store.SaveArtifactEdit(ctx, store.EditRecord{
			PhaseArtifactID:  rec.ID,
			OriginalHash:     originalHash,
			EditedHash:       editedHash,
			OriginalFilePath: backupPath,
			EditedBy:         editedBy,
		}); err != nil {
			return err
		}
		if err := m.store.LogEvent(ctx, store.AuditRecord{
			SessionID:    sessionID,
			EventType:    "artifact_edited",
			PhaseNumber:  store.IntPtr(phaseNumber),
			ArtifactType: store.StringPtr(name),
			Actor:        store.StringPtr(editedBy),
			Detail:       auditDetail(map[string]interface{}{"original_hash": originalHash[:16], "edited_hash": editedHash[:16]}),
		}); err != nil {
			return err
		}
		// Downstream phases must build on the edited content.
		cache.Set(artifact.Type(name), editedContent)
	}
	return nil
}

func (m *Manager) writeTranscript(ctx context.Context, sessionID, flowType, snapshotDir string) error {
	questionnaire, err := intake.Load(flowType)
	if err != nil {
		return err
	}
	responses, err := m.store.QuestionnaireResponses(ctx, sessionID)
	if err != nil {
		return err
	}
	answers := make(map[string]string, len(responses))
	for _, r := range responses {
		answers[r.QuestionID] = r.Answer
	}
	transcript := questionnaire.FormatTranscript(answers)
	return os.WriteFile(filepath.Join(snapshotDir, "questionnaire_transcript.md"), []byte(transcript), 0o644)
}

// RejectionResult is returned by RejectPhase.
type RejectionResult struct {
	Status         string `json:"status"`
	PhaseNumber    int    `json:"phase_number"`
	RejectionCount int    `json:"rejection_count"`
	CanRegenerate  bool   `json:"can_regenerate"`
}

// RejectPhase sends a phase back with feedback and evicts its artifacts
// from the cache so a restart regenerates them.
func (m *Manager) RejectPhase(ctx context.Context, sessionID string, phaseNumber int, feedback string) (*RejectionResult, error) {
	def, err := phase.Lookup(phaseNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	if _, err := m.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, phaseNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if phase.Status(gate.Status) != phase.StatusReview {
		return nil, fmt.Errorf("%w: phase %d is %s", ErrPhaseNotInReview, phaseNumber, gate.Status)
	}

	count := gate.RejectionCount + 1
	if err := m.store.UpdatePhaseGate(ctx, gate.ID, store.GatePatch{
		Status:            store.StringPtr(string(phase.StatusRejected)),
		RejectionFeedback: store.StringPtr(feedback),
		RejectionCount:    store.IntPtr(count),
	}); err != nil {
		return nil, err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID:   sessionID,
		EventType:   "phase_rejected",
		PhaseNumber: store.IntPtr(phaseNumber),
		Actor:       store.StringPtr("user"),
		Detail:      auditDetail(map[string]interface{}{"feedback": feedback, "rejection_count": count}),
	}); err != nil {
		return nil, err
	}

	cache := m.sessionCache(sessionID)
	for _, t := range def.Artifacts {
		cache.Remove(t)
	}
	common.Logger().Info("workflow: phase rejected", "session", sessionID, "phase", phaseNumber, "count", count)
	return &RejectionResult{
		Status:         string(phase.StatusRejected),
		PhaseNumber:    phaseNumber,
		RejectionCount: count,
		CanRegenerate:  true,
	}, nil
}
