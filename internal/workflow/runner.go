// File path: internal/workflow/runner.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/ingest"
	"github.com/nchandrav/phasegate/internal/intake"
	"github.com/nchandrav/phasegate/internal/llm"
	"github.com/nchandrav/phasegate/internal/phase"
	"github.com/nchandrav/phasegate/internal/store"
)

// runPhase is the background body of one phase generation. It owns the
// terminal gate transition: review on success, cancelled when the run
// context was cancelled, failed otherwise.
func (m *Manager) runPhase(ctx context.Context, sessionID string, def phase.Definition, gateID int64, run *phaseRun) {
	logger := common.Logger()
	defer close(run.done)
	defer m.clearRunner(sessionID, run)

	err := m.generatePhase(ctx, sessionID, def, gateID)
	if err == nil {
		return
	}
	// The run context is dead by now; terminal bookkeeping gets its own.
	bg := context.Background()
	if errors.Is(err, context.Canceled) {
		if uerr := m.store.UpdatePhaseGate(bg, gateID, store.GatePatch{
			Status: store.StringPtr(string(phase.StatusCancelled)),
		}); uerr != nil {
			logger.Error("workflow: cancel bookkeeping failed", "session", sessionID, "error", uerr)
		}
		if lerr := m.store.LogEvent(bg, store.AuditRecord{
			SessionID:   sessionID,
			EventType:   "phase_generation_cancelled",
			PhaseNumber: store.IntPtr(def.Number),
			Actor:       store.StringPtr("user"),
		}); lerr != nil {
			logger.Error("workflow: cancel audit failed", "session", sessionID, "error", lerr)
		}
		logger.Info("workflow: phase run cancelled", "session", sessionID, "phase", def.Number)
		return
	}
	if uerr := m.store.UpdatePhaseGate(bg, gateID, store.GatePatch{
		Status: store.StringPtr(string(phase.StatusFailed)),
	}); uerr != nil {
		logger.Error("workflow: failure bookkeeping failed", "session", sessionID, "error", uerr)
	}
	if lerr := m.store.LogEvent(bg, store.AuditRecord{
		SessionID:   sessionID,
		EventType:   "phase_generation_failed",
		PhaseNumber: store.IntPtr(def.Number),
		Actor:       store.StringPtr("system"),
		Detail:      auditDetail(map[string]interface{}{"error": err.Error()}),
	}); lerr != nil {
		logger.Error("workflow: failure audit failed", "session", sessionID, "error", lerr)
	}
	logger.Error("workflow: phase run failed", "session", sessionID, "phase", def.Number, "error", err)
}

func (m *Manager) generatePhase(ctx context.Context, sessionID string, def phase.Definition, gateID int64) error {
	logger := common.Logger()
	sess, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	gate, err := m.store.PhaseGate(ctx, sessionID, def.Number)
	if err != nil {
		return err
	}
	feedback := ""
	if gate.RejectionFeedback != nil {
		feedback = *gate.RejectionFeedback
	}

	intakeContext, err := m.intakeContext(ctx, sessionID, sess.FlowType)
	if err != nil {
		return err
	}
	corpus, err := m.corpus(sess)
	if err != nil {
		return err
	}

	cache := m.sessionCache(sessionID)
	if err := m.seedCacheFromSnapshots(ctx, sessionID, def.Number, cache); err != nil {
		return err
	}

	outputDir, err := m.ensureOutputDir(sess, sessionID)
	if err != nil {
		return err
	}

	inPhase := make(map[artifact.Type]bool, len(def.Artifacts))
	for _, t := range def.Artifacts {
		inPhase[t] = true
	}
	order := artifact.Resolve(def.Artifacts)
	total := len(order)

	for i, t := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := string(t)
		if cache.Has(t) {
			if err := m.recordCachedArtifact(ctx, gateID, t, cache, outputDir, inPhase[t]); err != nil {
				return err
			}
		} else {
			if err := m.store.UpdateArtifactProgress(ctx, gateID, name, store.ProgressPatch{
				Status:      store.StringPtr("generating"),
				ProgressPct: store.IntPtr(10),
				Message:     store.StringPtr("generating " + t.DisplayName()),
				StartedAt:   store.TimePtr(time.Now().UTC()),
			}); err != nil {
				return err
			}
			content, elapsed, err := m.generateArtifact(ctx, t, promptInputs{
				intakeContext: intakeContext,
				corpus:        corpus,
				feedback:      feedback,
				dependencies:  cache.Entries(),
			})
			if err != nil {
				if perr := m.store.UpdateArtifactProgress(context.Background(), gateID, name, store.ProgressPatch{
					Status:       store.StringPtr("failed"),
					ErrorMessage: store.StringPtr(err.Error()),
				}); perr != nil {
					logger.Error("workflow: progress failure record failed", "artifact", name, "error", perr)
				}
				return fmt.Errorf("generate %s: %w", name, err)
			}
			cache.Set(t, content)

			path := filepath.Join(outputDir, t.Filename())
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("write artifact %s: %w", name, err)
			}
			if inPhase[t] {
				if _, err := m.store.SavePhaseArtifact(ctx, store.ArtifactRecord{
					PhaseGateID:  gateID,
					ArtifactType: name,
					ContentHash:  phase.ContentHash(content),
					FilePath:     path,
					CharCount:    store.IntPtr(len(content)),
				}); err != nil {
					return err
				}
			}
			if err := m.store.UpdateArtifactProgress(ctx, gateID, name, store.ProgressPatch{
				Status:       store.StringPtr("completed"),
				ProgressPct:  store.IntPtr(100),
				Message:      store.StringPtr(t.DisplayName() + " generated"),
				CompletedAt:  store.TimePtr(time.Now().UTC()),
				CharCount:    store.IntPtr(len(content)),
				GenerationMS: store.Int64Ptr(elapsed.Milliseconds()),
			}); err != nil {
				return err
			}
			if err := m.store.LogEvent(ctx, store.AuditRecord{
				SessionID:    sessionID,
				EventType:    "artifact_generated",
				PhaseNumber:  store.IntPtr(def.Number),
				ArtifactType: store.StringPtr(name),
				Actor:        store.StringPtr("system"),
				Detail:       auditDetail(map[string]interface{}{"chars": len(content), "ms": elapsed.Milliseconds()}),
			}); err != nil {
				return err
			}
			logger.Info("workflow: artifact generated", "session", sessionID, "artifact", name, "chars", len(content), "ms", elapsed.Milliseconds())
		}

		overall := (i + 1) * 100 / total
		if err := m.store.UpdatePhaseGate(ctx, gateID, store.GatePatch{
			OverallProgress: store.IntPtr(overall),
		}); err != nil {
			return err
		}
	}

	if err := m.store.UpdatePhaseGate(ctx, gateID, store.GatePatch{
		Status:          store.StringPtr(string(phase.StatusReview)),
		GeneratedAt:     store.TimePtr(time.Now().UTC()),
		OverallProgress: store.IntPtr(100),
	}); err != nil {
		return err
	}
	if err := m.store.LogEvent(ctx, store.AuditRecord{
		SessionID:   sessionID,
		EventType:   "phase_review_ready",
		PhaseNumber: store.IntPtr(def.Number),
		Actor:       store.StringPtr("system"),
		Detail:      auditDetail(map[string]interface{}{"artifact_count": len(def.Artifacts)}),
	}); err != nil {
		return err
	}
	logger.Info("workflow: phase ready for review", "session", sessionID, "phase", def.Number)
	return nil
}

// recordCachedArtifact marks a memoized artifact as reused and, when the
// artifact belongs to the current phase, makes sure its file and record
// exist.
func (m *Manager) recordCachedArtifact(ctx context.Context, gateID int64, t artifact.Type, cache *artifact.Cache, outputDir string, inPhase bool) error {
	name := string(t)
	if inPhase {
		content, _ := cache.Get(t)
		path := filepath.Join(outputDir, t.Filename())
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write cached artifact %s: %w", name, err)
		}
		if _, err := m.store.SavePhaseArtifact(ctx, store.ArtifactRecord{
			PhaseGateID:  gateID,
			ArtifactType: name,
			ContentHash:  phase.ContentHash(content),
			FilePath:     path,
			CharCount:    store.IntPtr(len(content)),
		}); err != nil {
			return err
		}
	}
	return m.store.UpdateArtifactProgress(ctx, gateID, name, store.ProgressPatch{
		Status:      store.StringPtr("cached"),
		ProgressPct: store.IntPtr(100),
		Message:     store.StringPtr(t.DisplayName() + " reused"),
		CompletedAt: store.TimePtr(time.Now().UTC()),
	})
}

// generateArtifact makes one bounded model call.
func (m *Manager) generateArtifact(ctx context.Context, t artifact.Type, in promptInputs) (string, time.Duration, error) {
	system, user := buildPrompt(t, in)
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	content, err := m.provider.Chat(callCtx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	elapsed := time.Since(start)
	if err != nil {
		// Report the parent's cancellation rather than the per-call timeout.
		if ctx.Err() != nil {
			return "", elapsed, ctx.Err()
		}
		return "", elapsed, err
	}
	if strings.TrimSpace(content) == "" {
		return "", elapsed, fmt.Errorf("empty response for %s", t)
	}
	return content, elapsed, nil
}

// seedCacheFromSnapshots loads every approved prior phase's snapshot into
// the cache, verifying integrity first. A missing or tampered prerequisite
// snapshot aborts the run.
func (m *Manager) seedCacheFromSnapshots(ctx context.Context, sessionID string, phaseNumber int, cache *artifact.Cache) error {
	if phaseNumber <= 1 {
		return nil
	}
	gates, err := m.store.AllPhaseGates(ctx, sessionID)
	if err != nil {
		return err
	}
	dirs := make(map[int]string)
	for _, g := range gates {
		if phase.Status(g.Status) == phase.StatusApproved && g.SnapshotDir != nil {
			dirs[g.PhaseNumber] = *g.SnapshotDir
		}
	}
	prior, err := phase.PriorArtifacts(phaseNumber, dirs)
	if err != nil {
		return err
	}
	for name, content := range prior {
		cache.Set(artifact.Type(name), content)
	}
	return nil
}

func (m *Manager) intakeContext(ctx context.Context, sessionID, flowType string) (string, error) {
	questionnaire, err := intake.Load(flowType)
	if err != nil {
		return "", err
	}
	responses, err := m.store.QuestionnaireResponses(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(responses) == 0 {
		return "", nil
	}
	answers := make(map[string]string, len(responses))
	for _, r := range responses {
		answers[r.QuestionID] = r.Answer
	}
	return questionnaire.FormatContext(answers), nil
}

func (m *Manager) corpus(sess *store.SessionRecord) (string, error) {
	inputDir, _, _ := m.sessionDirs(sess.ID)
	if sess.InputDir != nil && *sess.InputDir != "" {
		inputDir = *sess.InputDir
	}
	docs, err := ingest.Folder(inputDir, m.cfg.MaxDocFiles, m.cfg.MaxDocChars)
	if err != nil {
		return "", fmt.Errorf("ingest documents: %w", err)
	}
	return ingest.FormatCorpus(docs), nil
}

func (m *Manager) ensureOutputDir(sess *store.SessionRecord, sessionID string) (string, error) {
	_, outputDir, _ := m.sessionDirs(sessionID)
	if sess.OutputDir != nil && *sess.OutputDir != "" {
		outputDir = *sess.OutputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return outputDir, nil
}
