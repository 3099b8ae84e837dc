// File path: internal/workflow/export.go
package workflow

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/phase"
	"github.com/nchandrav/phasegate/internal/store"
)

var exportPhaseDirs = map[int]string{
	1: "Phase1_Foundation",
	2: "Phase2_Planning",
	3: "Phase3_Detail",
}

// ExportPack builds the consolidated assessment pack ZIP from the approved
// snapshots of all three phases plus a change log derived from the audit
// trail. Returns the path of the finished archive.
func (m *Manager) ExportPack(ctx context.Context, sessionID string) (string, error) {
	logger := common.Logger()
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	gates, err := m.store.AllPhaseGates(ctx, sessionID)
	if err != nil {
		return "", err
	}
	gateByPhase := make(map[int]store.GateRecord, len(gates))
	for _, g := range gates {
		gateByPhase[g.PhaseNumber] = g
	}
	for n := 1; n <= phase.Count; n++ {
		gate, ok := gateByPhase[n]
		if !ok || phase.Status(gate.Status) != phase.StatusApproved {
			return "", fmt.Errorf("%w: phase %d", ErrExportNotReady, n)
		}
	}

	stageDir, err := os.MkdirTemp("", "phasegate_export_")
	if err != nil {
		return "", fmt.Errorf("create export staging dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	for n := 1; n <= phase.Count; n++ {
		gate := gateByPhase[n]
		if gate.SnapshotDir == nil || *gate.SnapshotDir == "" {
			return "", fmt.Errorf("%w: phase %d has no snapshot", ErrExportNotReady, n)
		}
		snap, err := phase.Load(*gate.SnapshotDir)
		if err != nil {
			return "", err
		}
		if !snap.Verify() {
			return "", fmt.Errorf("%w: phase %d", phase.ErrSnapshotIntegrity, n)
		}
		phaseDir := filepath.Join(stageDir, exportPhaseDirs[n])
		if err := os.MkdirAll(phaseDir, 0o755); err != nil {
			return "", fmt.Errorf("create export phase dir: %w", err)
		}
		if err := snap.Save(phaseDir); err != nil {
			return "", err
		}
		// The phase 1 snapshot carries the questionnaire transcript.
		transcript := filepath.Join(*gate.SnapshotDir, "questionnaire_transcript.md")
		if data, err := os.ReadFile(transcript); err == nil {
			if err := os.WriteFile(filepath.Join(phaseDir, "questionnaire_transcript.md"), data, 0o644); err != nil {
				return "", fmt.Errorf("copy transcript: %w", err)
			}
		}
	}

	if err := m.writeChangelog(ctx, sess, filepath.Join(stageDir, "CHANGELOG.md")); err != nil {
		return "", err
	}

	exportRoot := filepath.Join(m.cfg.DataRoot, "exports")
	if err := os.MkdirAll(exportRoot, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	short := sessionID
	if len(short) > 12 {
		short = short[:12]
	}
	zipPath := filepath.Join(exportRoot, fmt.Sprintf("assessment_pack_%s.zip", short))
	if err := zipDir(stageDir, zipPath); err != nil {
		return "", err
	}
	logger.Info("workflow: export pack built", "session", sessionID, "path", zipPath)
	return zipPath, nil
}

func (m *Manager) writeChangelog(ctx context.Context, sess *store.SessionRecord, path string) error {
	entries, err := m.store.AuditLog(ctx, sess.ID, "", 500)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Assessment Change Log\n\n")
	fmt.Fprintf(&b, "Session: %s\n", sess.ID)
	fmt.Fprintf(&b, "Flow Type: %s\n", sess.FlowType)
	fmt.Fprintf(&b, "Exported: %s\n\n---\n\n", time.Now().UTC().Format(time.RFC3339))
	// AuditLog is newest-first; the change log reads chronologically.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		actor := "system"
		if e.Actor != nil && *e.Actor != "" {
			actor = *e.Actor
		}
		phaseStr := ""
		if e.PhaseNumber != nil {
			phaseStr = fmt.Sprintf(" [Phase %d]", *e.PhaseNumber)
		}
		detailStr := ""
		if e.Detail != nil && *e.Detail != "" {
			detailStr = " — " + *e.Detail
		}
		fmt.Fprintf(&b, "- **%s** | %s%s | %s%s\n",
			e.CreatedAt.Format(time.RFC3339), e.EventType, phaseStr, actor, detailStr)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// SnapshotArchive zips one approved phase snapshot for download and returns
// the archive path.
func (m *Manager) SnapshotArchive(ctx context.Context, sessionID string, phaseNumber int) (string, error) {
	if _, err := phase.Lookup(phaseNumber); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhase, err)
	}
	if _, err := m.Session(ctx, sessionID); err != nil {
		return "", err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, phaseNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPhaseNotFound
	}
	if err != nil {
		return "", err
	}
	if phase.Status(gate.Status) != phase.StatusApproved || gate.SnapshotDir == nil {
		return "", fmt.Errorf("%w: phase %d is %s", ErrPhaseNotApproved, phaseNumber, gate.Status)
	}
	snap, err := phase.Load(*gate.SnapshotDir)
	if err != nil {
		return "", err
	}
	if !snap.Verify() {
		return "", fmt.Errorf("%w: phase %d", phase.ErrSnapshotIntegrity, phaseNumber)
	}

	exportRoot := filepath.Join(m.cfg.DataRoot, "exports")
	if err := os.MkdirAll(exportRoot, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	short := sessionID
	if len(short) > 12 {
		short = short[:12]
	}
	zipPath := filepath.Join(exportRoot, fmt.Sprintf("snapshot_%s_phase_%d.zip", short, phaseNumber))
	if err := zipDir(*gate.SnapshotDir, zipPath); err != nil {
		return "", err
	}
	return zipPath, nil
}

// SessionExport bundles everything the store knows about a session.
type SessionExport struct {
	Session       *store.SessionRecord                `json:"session"`
	Questionnaire []store.QuestionnaireResponseRecord `json:"questionnaire"`
	Documents     []store.DocumentRecord              `json:"documents"`
	Gates         []store.GateRecord                  `json:"phase_gates"`
	AuditLog      []store.AuditRecord                 `json:"audit_log"`
}

// ExportSession returns the full session record set for support and
// debugging.
func (m *Manager) ExportSession(ctx context.Context, sessionID string) (*SessionExport, error) {
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questionnaire, err := m.store.QuestionnaireResponses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.Documents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	gates, err := m.store.AllPhaseGates(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	audit, err := m.store.AuditLog(ctx, sessionID, "", 500)
	if err != nil {
		return nil, err
	}
	return &SessionExport{
		Session:       sess,
		Questionnaire: questionnaire,
		Documents:     docs,
		Gates:         gates,
		AuditLog:      audit,
	}, nil
}

// zipDir writes the directory tree rooted at srcDir into a ZIP archive.
func zipDir(srcDir, destZip string) error {
	out, err := os.Create(destZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()
	zw := zip.NewWriter(out)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", srcDir, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
