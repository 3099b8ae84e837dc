// File path: internal/workflow/manager.go

// Package workflow drives the phased generation engine: guided intake,
// background artifact generation per phase, human approval gates, immutable
// snapshots, and the final export pack.
package workflow

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/intake"
	"github.com/nchandrav/phasegate/internal/llm"
	"github.com/nchandrav/phasegate/internal/store"
)

// phaseRun tracks one in-flight background generation.
type phaseRun struct {
	phaseNumber int
	cancel      context.CancelFunc
	done        chan struct{}
}

// Manager owns the workflow state for every session: the persistence layer,
// the chat provider, the registry of running generations, and the
// per-session artifact caches.
type Manager struct {
	store    *store.Store
	provider llm.Provider
	cfg      Config

	runnerMu sync.Mutex
	runners  map[string]*phaseRun

	cacheMu sync.Mutex
	caches  map[string]*artifact.Cache
}

func NewManager(st *store.Store, provider llm.Provider, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		store:    st,
		provider: provider,
		cfg:      cfg,
		runners:  make(map[string]*phaseRun),
		caches:   make(map[string]*artifact.Cache),
	}
}

// Store exposes the persistence layer for read-only surfaces like the audit
// endpoint.
func (m *Manager) Store() *store.Store {
	return m.store
}

func (m *Manager) sessionCache(sessionID string) *artifact.Cache {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	cache, ok := m.caches[sessionID]
	if !ok {
		cache = artifact.NewCache()
		m.caches[sessionID] = cache
	}
	return cache
}

func (m *Manager) sessionDirs(sessionID string) (inputDir, outputDir, snapshotBase string) {
	base := filepath.Join(m.cfg.DataRoot, "sessions", sessionID)
	return filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "snapshots")
}

func mapSessionErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	return err
}

// auditDetail encodes an audit detail payload. Marshalling a flat map of
// strings and numbers cannot fail, so a nil return only ever drops the
// detail, never the event.
func auditDetail(fields map[string]interface{}) *string {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return store.StringPtr(string(data))
}

// CreateSession starts a new workflow session for the given flow type and
// prepares its on-disk layout.
func (m *Manager) CreateSession(ctx context.Context, flowType string) (*store.SessionRecord, error) {
	logger := common.Logger()
	if !intake.ValidFlow(flowType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFlow, flowType)
	}
	questionnaire, err := intake.Load(flowType)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	inputDir, outputDir, snapshotBase := m.sessionDirs(id)
	for _, dir := range []string{inputDir, outputDir, snapshotBase} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dirs: %w", err)
		}
	}
	if _, err := m.store.CreateSession(ctx, id, flowType, questionnaire.Version); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, id, store.SessionPatch{
		InputDir:        store.StringPtr(inputDir),
		OutputDir:       store.StringPtr(outputDir),
		SnapshotBaseDir: store.StringPtr(snapshotBase),
	}); err != nil {
		return nil, err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID: id,
		EventType: "session_created",
		Actor:     store.StringPtr("system"),
		Detail:    auditDetail(map[string]interface{}{"flow_type": flowType}),
	}); err != nil {
		return nil, err
	}
	logger.Info("workflow: session created", "session", id, "flow", flowType)
	return m.store.Session(ctx, id)
}

// Session loads one session record.
func (m *Manager) Session(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	rec, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	return rec, nil
}

// ListSessions lists sessions, optionally filtered by status.
func (m *Manager) ListSessions(ctx context.Context, status string, limit int) ([]store.SessionRecord, error) {
	return m.store.ListSessions(ctx, status, limit)
}

// SessionDetail bundles the session with its gates for the detail endpoint.
type SessionDetail struct {
	Session   *store.SessionRecord   `json:"session"`
	Gates     []store.GateRecord     `json:"phase_gates"`
	Documents []store.DocumentRecord `json:"documents"`
}

func (m *Manager) SessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	gates, err := m.store.AllPhaseGates(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.Documents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Session: sess, Gates: gates, Documents: docs}, nil
}

// QuestionnaireStatus pairs the questionnaire schema with any stored
// answers and a completion percentage.
type QuestionnaireStatus struct {
	Questionnaire *intake.Questionnaire `json:"questionnaire"`
	Answers       map[string]string     `json:"answers"`
	Answered      int                   `json:"answered"`
	Total         int                   `json:"total"`
	CompletionPct int                   `json:"completion_pct"`
}

func (m *Manager) QuestionnaireStatus(ctx context.Context, sessionID string) (*QuestionnaireStatus, error) {
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questionnaire, err := intake.Load(sess.FlowType)
	if err != nil {
		return nil, err
	}
	responses, err := m.store.QuestionnaireResponses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers := make(map[string]string, len(responses))
	for _, r := range responses {
		answers[r.QuestionID] = r.Answer
	}
	answered, total := questionnaire.Progress(answers)
	pct := 0
	if total > 0 {
		pct = answered * 100 / total
	}
	return &QuestionnaireStatus{
		Questionnaire: questionnaire,
		Answers:       answers,
		Answered:      answered,
		Total:         total,
		CompletionPct: pct,
	}, nil
}

// SubmitQuestionnaire validates and stores a full answer set. Every
// validation problem is returned at once.
func (m *Manager) SubmitQuestionnaire(ctx context.Context, sessionID string, answers map[string]string) error {
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	questionnaire, err := intake.Load(sess.FlowType)
	if err != nil {
		return err
	}
	if errs := questionnaire.Validate(answers); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	responses := make([]store.QuestionnaireResponseRecord, 0, len(questionnaire.Questions()))
	for _, q := range questionnaire.Questions() {
		mapping, err := json.Marshal(q.Mapping)
		if err != nil {
			return fmt.Errorf("encode mapping for %s: %w", q.ID, err)
		}
		responses = append(responses, store.QuestionnaireResponseRecord{
			QuestionID:   q.ID,
			QuestionText: q.QuestionText,
			Answer:       answers[q.ID],
			Mapping:      store.StringPtr(string(mapping)),
		})
	}
	if err := m.store.SaveQuestionnaireResponses(ctx, sessionID, responses); err != nil {
		return err
	}
	if err := m.store.UpdateSession(ctx, sessionID, store.SessionPatch{
		Status: store.StringPtr("questionnaire_done"),
	}); err != nil {
		return err
	}
	answered, total := questionnaire.Progress(answers)
	return m.store.LogEvent(ctx, store.AuditRecord{
		SessionID: sessionID,
		EventType: "questionnaire_submitted",
		Actor:     store.StringPtr("user"),
		Detail:    auditDetail(map[string]interface{}{"answered": answered, "total": total}),
	})
}

// UploadedDocument describes one reference document received for ingestion.
type UploadedDocument struct {
	Filename string
	Content  []byte
}

// UploadDocuments writes reference documents into the session's input
// directory and records them with content hashes.
func (m *Manager) UploadDocuments(ctx context.Context, sessionID string, docs []UploadedDocument) ([]store.DocumentRecord, error) {
	logger := common.Logger()
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	inputDir, _, _ := m.sessionDirs(sessionID)
	if sess.InputDir != nil && *sess.InputDir != "" {
		inputDir = *sess.InputDir
	}
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	saved := make([]store.DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		name := filepath.Base(doc.Filename)
		if name == "" || name == "." {
			continue
		}
		path := filepath.Join(inputDir, name)
		if err := os.WriteFile(path, doc.Content, 0o644); err != nil {
			return nil, fmt.Errorf("write document %s: %w", name, err)
		}
		sum := sha256.Sum256(doc.Content)
		size := int64(len(doc.Content))
		rec := store.DocumentRecord{
			SessionID:   sessionID,
			Filename:    name,
			FilePath:    path,
			FileSize:    &size,
			FileType:    store.StringPtr(filepath.Ext(name)),
			ContentHash: store.StringPtr(hex.EncodeToString(sum[:])),
		}
		id, err := m.store.SaveDocument(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.ID = id
		saved = append(saved, rec)
	}
	if err := m.store.UpdateSession(ctx, sessionID, store.SessionPatch{
		Status:   store.StringPtr("docs_uploaded"),
		InputDir: store.StringPtr(inputDir),
	}); err != nil {
		return nil, err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID: sessionID,
		EventType: "docs_uploaded",
		Actor:     store.StringPtr("user"),
		Detail:    auditDetail(map[string]interface{}{"count": len(saved)}),
	}); err != nil {
		return nil, err
	}
	logger.Info("workflow: documents uploaded", "session", sessionID, "count", len(saved))
	return saved, nil
}
