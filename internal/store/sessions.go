// File path: internal/store/sessions.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreateSession inserts a new session in the intake state and returns the
// stored record.
func (s *Store) CreateSession(ctx context.Context, id, flowType, questionnaireVer string) (*SessionRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, flow_type, status, questionnaire_ver, created_at, updated_at)
                 VALUES (?, ?, 'intake', ?, ?, ?)`,
		id, flowType, questionnaireVer, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.Session(ctx, id)
}

// Session loads one session row. sql.ErrNoRows propagates so callers can
// map it to their own not-found error.
func (s *Store) Session(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := s.db.GetContext(ctx, &rec, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateSession applies the non-nil patch fields and bumps updated_at.
func (s *Store) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.QuestionnaireVer != nil {
		sets = append(sets, "questionnaire_ver = ?")
		args = append(args, *patch.QuestionnaireVer)
	}
	if patch.InputDir != nil {
		sets = append(sets, "input_dir = ?")
		args = append(args, *patch.InputDir)
	}
	if patch.OutputDir != nil {
		sets = append(sets, "output_dir = ?")
		args = append(args, *patch.OutputDir)
	}
	if patch.SnapshotBaseDir != nil {
		sets = append(sets, "snapshot_base_dir = ?")
		args = append(args, *patch.SnapshotBaseDir)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// ListSessions returns sessions ordered by most recent activity. An empty
// status matches everything.
func (s *Store) ListSessions(ctx context.Context, status string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []SessionRecord
	var err error
	if strings.TrimSpace(status) != "" {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM sessions WHERE status = ? ORDER BY updated_at DESC LIMIT ?`, status, limit)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// SaveQuestionnaireResponses upserts the answer set. Question text and
// mapping are stored with each answer so the trail stays meaningful across
// questionnaire revisions.
func (s *Store) SaveQuestionnaireResponses(ctx context.Context, sessionID string, responses []QuestionnaireResponseRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin questionnaire save: %w", err)
	}
	now := time.Now().UTC()
	for _, r := range responses {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO questionnaire_responses
                         (session_id, question_id, question_text, answer, mapping, created_at)
                         VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, r.QuestionID, r.QuestionText, r.Answer, r.Mapping, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("save questionnaire response %s: %w", r.QuestionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit questionnaire save: %w", err)
	}
	return nil
}

// QuestionnaireResponses returns the stored answers in insertion order.
func (s *Store) QuestionnaireResponses(ctx context.Context, sessionID string) ([]QuestionnaireResponseRecord, error) {
	var out []QuestionnaireResponseRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM questionnaire_responses WHERE session_id = ? ORDER BY id`, sessionID); err != nil {
		return nil, fmt.Errorf("load questionnaire responses: %w", err)
	}
	return out, nil
}

// SaveDocument records an uploaded reference document.
func (s *Store) SaveDocument(ctx context.Context, doc DocumentRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_documents
                 (session_id, filename, file_path, file_size, file_type, content_hash, uploaded_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.SessionID, doc.Filename, doc.FilePath, doc.FileSize, doc.FileType, doc.ContentHash, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	return res.LastInsertId()
}

// Documents returns the uploaded documents for a session in upload order.
func (s *Store) Documents(ctx context.Context, sessionID string) ([]DocumentRecord, error) {
	var out []DocumentRecord
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM session_documents WHERE session_id = ? ORDER BY id`, sessionID); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return out, nil
}
