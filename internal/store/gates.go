// File path: internal/store/gates.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreatePhaseGate inserts a gate in the generating state with started_at set
// to now.
func (s *Store) CreatePhaseGate(ctx context.Context, sessionID string, phaseNumber int, phaseName string) (*GateRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_gates (session_id, phase_number, phase_name, status, started_at)
                 VALUES (?, ?, ?, 'generating', ?)`,
		sessionID, phaseNumber, phaseName, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create phase gate: %w", err)
	}
	return s.PhaseGate(ctx, sessionID, phaseNumber)
}

// PhaseGate loads one gate row. sql.ErrNoRows propagates.
func (s *Store) PhaseGate(ctx context.Context, sessionID string, phaseNumber int) (*GateRecord, error) {
	var rec GateRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM phase_gates WHERE session_id = ? AND phase_number = ?`, sessionID, phaseNumber)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AllPhaseGates returns every gate for the session ordered by phase number.
func (s *Store) AllPhaseGates(ctx context.Context, sessionID string) ([]GateRecord, error) {
	var out []GateRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM phase_gates WHERE session_id = ? ORDER BY phase_number`, sessionID); err != nil {
		return nil, fmt.Errorf("load phase gates: %w", err)
	}
	return out, nil
}

// UpdatePhaseGate applies the non-nil patch fields to one gate.
func (s *Store) UpdatePhaseGate(ctx context.Context, gateID int64, patch GatePatch) error {
	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.OverallProgress != nil {
		sets = append(sets, "overall_progress = ?")
		args = append(args, *patch.OverallProgress)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *patch.StartedAt)
	}
	if patch.GeneratedAt != nil {
		sets = append(sets, "generated_at = ?")
		args = append(args, *patch.GeneratedAt)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.ApprovedBy != nil {
		sets = append(sets, "approved_by = ?")
		args = append(args, *patch.ApprovedBy)
	}
	if patch.ApprovalNotes != nil {
		sets = append(sets, "approval_notes = ?")
		args = append(args, *patch.ApprovalNotes)
	}
	if patch.RejectionFeedback != nil {
		sets = append(sets, "rejection_feedback = ?")
		args = append(args, *patch.RejectionFeedback)
	}
	if patch.RejectionCount != nil {
		sets = append(sets, "rejection_count = ?")
		args = append(args, *patch.RejectionCount)
	}
	if patch.SnapshotDir != nil {
		sets = append(sets, "snapshot_dir = ?")
		args = append(args, *patch.SnapshotDir)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, gateID)
	query := fmt.Sprintf(`UPDATE phase_gates SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update phase gate: %w", err)
	}
	return nil
}

// InitGenerationProgress seeds one pending progress row per artifact.
// Existing rows are left alone so a resumed run keeps its history.
func (s *Store) InitGenerationProgress(ctx context.Context, gateID int64, artifactTypes []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress init: %w", err)
	}
	for _, at := range artifactTypes {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO generation_progress (phase_gate_id, artifact_type, status, progress_pct)
                         VALUES (?, ?, 'pending', 0)`,
			gateID, at); err != nil {
			tx.Rollback()
			return fmt.Errorf("init progress for %s: %w", at, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress init: %w", err)
	}
	return nil
}

// ResetGenerationProgress returns every progress row of a gate to the
// pending state. Used when a rejected or failed phase is regenerated.
func (s *Store) ResetGenerationProgress(ctx context.Context, gateID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE generation_progress
                 SET status = 'pending', progress_pct = 0, message = NULL, started_at = NULL,
                     completed_at = NULL, char_count = NULL, generation_ms = NULL, error_message = NULL
                 WHERE phase_gate_id = ?`, gateID)
	if err != nil {
		return fmt.Errorf("reset generation progress: %w", err)
	}
	return nil
}

// UpdateArtifactProgress applies the non-nil patch fields to one artifact's
// progress row.
func (s *Store) UpdateArtifactProgress(ctx context.Context, gateID int64, artifactType string, patch ProgressPatch) error {
	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.ProgressPct != nil {
		sets = append(sets, "progress_pct = ?")
		args = append(args, *patch.ProgressPct)
	}
	if patch.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *patch.Message)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.CharCount != nil {
		sets = append(sets, "char_count = ?")
		args = append(args, *patch.CharCount)
	}
	if patch.GenerationMS != nil {
		sets = append(sets, "generation_ms = ?")
		args = append(args, *patch.GenerationMS)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, gateID, artifactType)
	query := fmt.Sprintf(`UPDATE generation_progress SET %s WHERE phase_gate_id = ? AND artifact_type = ?`,
		strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update artifact progress: %w", err)
	}
	return nil
}

// GenerationProgress returns the per-artifact progress rows for a gate in
// insertion order.
func (s *Store) GenerationProgress(ctx context.Context, gateID int64) ([]ProgressRecord, error) {
	var out []ProgressRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM generation_progress WHERE phase_gate_id = ? ORDER BY id`, gateID); err != nil {
		return nil, fmt.Errorf("load generation progress: %w", err)
	}
	return out, nil
}

// IncompleteArtifacts returns the artifact types of a gate that have not
// reached a terminal success state. Used to resume interrupted runs.
func (s *Store) IncompleteArtifacts(ctx context.Context, gateID int64) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out,
		`SELECT artifact_type FROM generation_progress
                 WHERE phase_gate_id = ? AND status NOT IN ('completed', 'cached')
                 ORDER BY id`, gateID); err != nil {
		return nil, fmt.Errorf("load incomplete artifacts: %w", err)
	}
	return out, nil
}

// SavePhaseArtifact upserts one artifact record and returns its row id.
func (s *Store) SavePhaseArtifact(ctx context.Context, rec ArtifactRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO phase_artifacts
                 (phase_gate_id, artifact_type, content_hash, file_path, char_count, was_edited, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.PhaseGateID, rec.ArtifactType, rec.ContentHash, rec.FilePath, rec.CharCount, rec.WasEdited, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save phase artifact: %w", err)
	}
	return res.LastInsertId()
}

// PhaseArtifact loads one artifact row. sql.ErrNoRows propagates.
func (s *Store) PhaseArtifact(ctx context.Context, gateID int64, artifactType string) (*ArtifactRecord, error) {
	var rec ArtifactRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM phase_artifacts WHERE phase_gate_id = ? AND artifact_type = ?`, gateID, artifactType)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PhaseArtifacts returns every artifact recorded for a gate.
func (s *Store) PhaseArtifacts(ctx context.Context, gateID int64) ([]ArtifactRecord, error) {
	var out []ArtifactRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM phase_artifacts WHERE phase_gate_id = ? ORDER BY id`, gateID); err != nil {
		return nil, fmt.Errorf("load phase artifacts: %w", err)
	}
	return out, nil
}

// UpdatePhaseArtifact applies the non-nil patch fields to one artifact row.
func (s *Store) UpdatePhaseArtifact(ctx context.Context, artifactID int64, patch ArtifactPatch) error {
	var sets []string
	var args []any
	if patch.ContentHash != nil {
		sets = append(sets, "content_hash = ?")
		args = append(args, *patch.ContentHash)
	}
	if patch.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *patch.FilePath)
	}
	if patch.CharCount != nil {
		sets = append(sets, "char_count = ?")
		args = append(args, *patch.CharCount)
	}
	if patch.WasEdited != nil {
		sets = append(sets, "was_edited = ?")
		args = append(args, *patch.WasEdited)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, artifactID)
	query := fmt.Sprintf(`UPDATE phase_artifacts SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update phase artifact: %w", err)
	}
	return nil
}

// SaveArtifactEdit records a human edit against an artifact.
func (s *Store) SaveArtifactEdit(ctx context.Context, rec EditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifact_edits
                 (phase_artifact_id, original_hash, edited_hash, original_file_path, edited_by, edit_summary, edited_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.PhaseArtifactID, rec.OriginalHash, rec.EditedHash, rec.OriginalFilePath, rec.EditedBy, rec.EditSummary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save artifact edit: %w", err)
	}
	return nil
}

// ArtifactEdits returns the edits recorded against one artifact in order.
func (s *Store) ArtifactEdits(ctx context.Context, artifactID int64) ([]EditRecord, error) {
	var out []EditRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM artifact_edits WHERE phase_artifact_id = ? ORDER BY id`, artifactID); err != nil {
		return nil, fmt.Errorf("load artifact edits: %w", err)
	}
	return out, nil
}
