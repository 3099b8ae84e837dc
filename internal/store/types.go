// File path: internal/store/types.go
package store

import "time"

// SessionRecord mirrors a row in the sessions table.
type SessionRecord struct {
	ID               string    `db:"id" json:"id"`
	FlowType         string    `db:"flow_type" json:"flow_type"`
	Status           string    `db:"status" json:"status"`
	QuestionnaireVer *string   `db:"questionnaire_ver" json:"questionnaire_ver,omitempty"`
	InputDir         *string   `db:"input_dir" json:"input_dir,omitempty"`
	OutputDir        *string   `db:"output_dir" json:"output_dir,omitempty"`
	SnapshotBaseDir  *string   `db:"snapshot_base_dir" json:"snapshot_base_dir,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// SessionPatch carries the updatable session columns. Nil fields are left
// untouched.
type SessionPatch struct {
	Status           *string
	QuestionnaireVer *string
	InputDir         *string
	OutputDir        *string
	SnapshotBaseDir  *string
}

// QuestionnaireResponseRecord mirrors a row in questionnaire_responses. The
// question text and mapping are stored alongside the answer so the audit
// trail survives questionnaire revisions.
type QuestionnaireResponseRecord struct {
	ID           int64     `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	QuestionID   string    `db:"question_id" json:"question_id"`
	QuestionText string    `db:"question_text" json:"question_text"`
	Answer       string    `db:"answer" json:"answer"`
	Mapping      *string   `db:"mapping" json:"mapping,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DocumentRecord mirrors a row in session_documents.
type DocumentRecord struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	Filename    string    `db:"filename" json:"filename"`
	FilePath    string    `db:"file_path" json:"file_path"`
	FileSize    *int64    `db:"file_size" json:"file_size,omitempty"`
	FileType    *string   `db:"file_type" json:"file_type,omitempty"`
	ContentHash *string   `db:"content_hash" json:"content_hash,omitempty"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// GateRecord mirrors a row in phase_gates.
type GateRecord struct {
	ID                int64      `db:"id" json:"id"`
	SessionID         string     `db:"session_id" json:"session_id"`
	PhaseNumber       int        `db:"phase_number" json:"phase_number"`
	PhaseName         string     `db:"phase_name" json:"phase_name"`
	Status            string     `db:"status" json:"status"`
	OverallProgress   int        `db:"overall_progress" json:"overall_progress"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	GeneratedAt       *time.Time `db:"generated_at" json:"generated_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ApprovedBy        *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovalNotes     *string    `db:"approval_notes" json:"approval_notes,omitempty"`
	RejectionFeedback *string    `db:"rejection_feedback" json:"rejection_feedback,omitempty"`
	RejectionCount    int        `db:"rejection_count" json:"rejection_count"`
	SnapshotDir       *string    `db:"snapshot_dir" json:"snapshot_dir,omitempty"`
}

// GatePatch carries the updatable phase gate columns.
type GatePatch struct {
	Status            *string
	OverallProgress   *int
	StartedAt         *time.Time
	GeneratedAt       *time.Time
	CompletedAt       *time.Time
	ApprovedBy        *string
	ApprovalNotes     *string
	RejectionFeedback *string
	RejectionCount    *int
	SnapshotDir       *string
}

// ProgressRecord mirrors a row in generation_progress.
type ProgressRecord struct {
	ID           int64      `db:"id" json:"id"`
	PhaseGateID  int64      `db:"phase_gate_id" json:"-"`
	ArtifactType string     `db:"artifact_type" json:"artifact_type"`
	Status       string     `db:"status" json:"status"`
	ProgressPct  int        `db:"progress_pct" json:"progress_pct"`
	Message      *string    `db:"message" json:"message,omitempty"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CharCount    *int       `db:"char_count" json:"char_count,omitempty"`
	GenerationMS *int64     `db:"generation_ms" json:"generation_ms,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// ProgressPatch carries the updatable generation_progress columns.
type ProgressPatch struct {
	Status       *string
	ProgressPct  *int
	Message      *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CharCount    *int
	GenerationMS *int64
	ErrorMessage *string
}

// ArtifactRecord mirrors a row in phase_artifacts.
type ArtifactRecord struct {
	ID           int64     `db:"id" json:"id"`
	PhaseGateID  int64     `db:"phase_gate_id" json:"-"`
	ArtifactType string    `db:"artifact_type" json:"artifact_type"`
	ContentHash  string    `db:"content_hash" json:"content_hash"`
	FilePath     string    `db:"file_path" json:"file_path"`
	CharCount    *int      `db:"char_count" json:"char_count,omitempty"`
	WasEdited    bool      `db:"was_edited" json:"was_edited"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ArtifactPatch carries the updatable phase_artifacts columns.
type ArtifactPatch struct {
	ContentHash *string
	FilePath    *string
	CharCount   *int
	WasEdited   *bool
}

// EditRecord mirrors a row in artifact_edits.
type EditRecord struct {
	ID               int64     `db:"id" json:"id"`
	PhaseArtifactID  int64     `db:"phase_artifact_id" json:"phase_artifact_id"`
	OriginalHash     string    `db:"original_hash" json:"original_hash"`
	EditedHash       string    `db:"edited_hash" json:"edited_hash"`
	OriginalFilePath string    `db:"original_file_path" json:"original_file_path"`
	EditedBy         string    `db:"edited_by" json:"edited_by"`
	EditSummary      *string   `db:"edit_summary" json:"edit_summary,omitempty"`
	EditedAt         time.Time `db:"edited_at" json:"edited_at"`
}

// AuditRecord mirrors a row in audit_log.
type AuditRecord struct {
	ID           int64     `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	EventType    string    `db:"event_type" json:"event_type"`
	PhaseNumber  *int      `db:"phase_number" json:"phase_number,omitempty"`
	ArtifactType *string   `db:"artifact_type" json:"artifact_type,omitempty"`
	Actor        *string   `db:"actor" json:"actor,omitempty"`
	Detail       *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// StringPtr, IntPtr, Int64Ptr, BoolPtr and TimePtr are small helpers for
// building patches.
func StringPtr(s string) *string { return &s }
func IntPtr(i int) *int { return &i }
func Int64Ptr(i int64) *int64 { return &i }
func BoolPtr(b bool) *bool { return &b }
func TimePtr(t time.Time) *time.Time { return &t }
