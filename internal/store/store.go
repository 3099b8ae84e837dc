// File path: internal/store/store.go

// Package store is the SQLite persistence layer for the phased generation
// workflow: sessions, questionnaire responses, uploaded documents, phase
// gates, per-artifact generation progress, artifact records, human edits,
// and an append-only audit log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a pooled sqlx.DB connection to the SQLite workflow database.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided path.
// The schema is migrated on first use.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	// journal_mode cannot be changed inside a transaction, so it is set per
	// connection here rather than in the schema migration.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingTimeout := cfg.BusyTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sqlx.DB for advanced callers.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
                id                TEXT PRIMARY KEY,
                flow_type         TEXT NOT NULL,
                status            TEXT NOT NULL DEFAULT 'intake',
                questionnaire_ver TEXT,
                input_dir         TEXT,
                output_dir        TEXT,
                snapshot_base_dir TEXT,
                created_at        DATETIME NOT NULL,
                updated_at        DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS questionnaire_responses (
                id            INTEGER PRIMARY KEY AUTOINCREMENT,
                session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
                question_id   TEXT NOT NULL,
                question_text TEXT NOT NULL,
                answer        TEXT NOT NULL,
                mapping       TEXT,
                created_at    DATETIME NOT NULL,
                UNIQUE(session_id, question_id)
        );`,
	`CREATE TABLE IF NOT EXISTS session_documents (
                id           INTEGER PRIMARY KEY AUTOINCREMENT,
                session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
                filename     TEXT NOT NULL,
                file_path    TEXT NOT NULL,
                file_size    INTEGER,
                file_type    TEXT,
                content_hash TEXT,
                uploaded_at  DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS phase_gates (
                id                 INTEGER PRIMARY KEY AUTOINCREMENT,
                session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
                phase_number       INTEGER NOT NULL CHECK (phase_number IN (1, 2, 3)),
                phase_name         TEXT NOT NULL,
                status             TEXT NOT NULL DEFAULT 'pending',
                overall_progress   INTEGER DEFAULT 0,
                started_at         DATETIME,
                generated_at       DATETIME,
                completed_at       DATETIME,
                approved_by        TEXT,
                approval_notes     TEXT,
                rejection_feedback TEXT,
                rejection_count    INTEGER DEFAULT 0,
                snapshot_dir       TEXT,
                UNIQUE(session_id, phase_number)
        );`,
	`CREATE TABLE IF NOT EXISTS generation_progress (
                id            INTEGER PRIMARY KEY AUTOINCREMENT,
                phase_gate_id INTEGER NOT NULL REFERENCES phase_gates(id) ON DELETE CASCADE,
                artifact_type TEXT NOT NULL,
                status        TEXT NOT NULL DEFAULT 'pending',
                progress_pct  INTEGER DEFAULT 0,
                message       TEXT,
                started_at    DATETIME,
                completed_at  DATETIME,
                char_count    INTEGER,
                generation_ms INTEGER,
                error_message TEXT,
                UNIQUE(phase_gate_id, artifact_type)
        );`,
	`CREATE TABLE IF NOT EXISTS phase_artifacts (
                id            INTEGER PRIMARY KEY AUTOINCREMENT,
                phase_gate_id INTEGER NOT NULL REFERENCES phase_gates(id) ON DELETE CASCADE,
                artifact_type TEXT NOT NULL,
                content_hash  TEXT NOT NULL,
                file_path     TEXT NOT NULL,
                char_count    INTEGER,
                was_edited    BOOLEAN DEFAULT FALSE,
                created_at    DATETIME NOT NULL,
                UNIQUE(phase_gate_id, artifact_type)
        );`,
	`CREATE TABLE IF NOT EXISTS artifact_edits (
                id                 INTEGER PRIMARY KEY AUTOINCREMENT,
                phase_artifact_id  INTEGER NOT NULL REFERENCES phase_artifacts(id) ON DELETE CASCADE,
                original_hash      TEXT NOT NULL,
                edited_hash        TEXT NOT NULL,
                original_file_path TEXT NOT NULL,
                edited_by          TEXT NOT NULL,
                edit_summary       TEXT,
                edited_at          DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS audit_log (
                id            INTEGER PRIMARY KEY AUTOINCREMENT,
                session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
                event_type    TEXT NOT NULL,
                phase_number  INTEGER,
                artifact_type TEXT,
                actor         TEXT,
                detail        TEXT,
                created_at    DATETIME NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event_type, created_at);`,
}
