// File path: internal/store/audit.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogEvent appends one immutable audit row. CreatedAt is stamped here.
func (s *Store) LogEvent(ctx context.Context, rec AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (session_id, event_type, phase_number, artifact_type, actor, detail, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.EventType, rec.PhaseNumber, rec.ArtifactType, rec.Actor, rec.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

// AuditLog returns audit rows for a session, newest first. An empty
// eventType matches everything; limit <= 0 means no limit.
func (s *Store) AuditLog(ctx context.Context, sessionID, eventType string, limit int) ([]AuditRecord, error) {
	query := `SELECT * FROM audit_log WHERE session_id = ?`
	args := []any{sessionID}
	if strings.TrimSpace(eventType) != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []AuditRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	return out, nil
}
