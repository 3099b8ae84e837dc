// File path: internal/phase/snapshot.go
package phase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/common"
)

var (
	// ErrSnapshotMissing indicates a required approved-phase snapshot could
	// not be found on disk.
	ErrSnapshotMissing = errors.New("phase snapshot missing")
	// ErrSnapshotIntegrity indicates snapshot content no longer matches the
	// hashes recorded at approval time.
	ErrSnapshotIntegrity = errors.New("phase snapshot integrity check failed")
)

const metaFilename = "snapshot_meta.json"

// Snapshot is the immutable record of a phase's approved artifacts. The
// content hashes are computed at creation and verified on every load so
// downstream phases never build on silently modified inputs.
type Snapshot struct {
	PhaseNumber   int               `json:"phase_number"`
	Artifacts     map[string]string `json:"-"`
	ContentHashes map[string]string `json:"content_hashes"`
	CreatedAt     time.Time         `json:"created_at"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy    string            `json:"approved_by,omitempty"`
	Notes         string            `json:"notes,omitempty"`
}

type snapshotMeta struct {
	PhaseNumber   int               `json:"phase_number"`
	ArtifactNames []string          `json:"artifact_names"`
	ContentHashes map[string]string `json:"content_hashes"`
	CreatedAt     time.Time         `json:"created_at"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy    string            `json:"approved_by,omitempty"`
	Notes         string            `json:"notes,omitempty"`
}

// ContentHash returns the hex SHA-256 digest of artifact content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewSnapshot freezes the given artifacts, keyed by artifact name, and
// records a content hash for each.
func NewSnapshot(phaseNumber int, artifacts map[string]string) *Snapshot {
	hashes := make(map[string]string, len(artifacts))
	copied := make(map[string]string, len(artifacts))
	for name, content := range artifacts {
		copied[name] = content
		hashes[name] = ContentHash(content)
	}
	return &Snapshot{
		PhaseNumber:   phaseNumber,
		Artifacts:     copied,
		ContentHashes: hashes,
		CreatedAt:     time.Now().UTC(),
	}
}

// Verify recomputes every artifact hash and reports whether all of them
// still match the recorded values.
func (s *Snapshot) Verify() bool {
	if len(s.Artifacts) != len(s.ContentHashes) {
		return false
	}
	for name, content := range s.Artifacts {
		want, ok := s.ContentHashes[name]
		if !ok || ContentHash(content) != want {
			return false
		}
	}
	return true
}

// ArtifactNames returns the snapshot's artifact names sorted for stable
// output.
func (s *Snapshot) ArtifactNames() []string {
	names := make([]string, 0, len(s.Artifacts))
	for name := range s.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes each artifact to dir using the canonical filename table plus a
// snapshot_meta.json describing the content hashes.
func (s *Snapshot) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	for name, content := range s.Artifacts {
		filename := artifact.Type(name).Filename()
		if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write snapshot artifact %s: %w", name, err)
		}
	}
	meta := snapshotMeta{
		PhaseNumber:   s.PhaseNumber,
		ArtifactNames: s.ArtifactNames(),
		ContentHashes: s.ContentHashes,
		CreatedAt:     s.CreatedAt,
		ApprovedAt:    s.ApprovedAt,
		ApprovedBy:    s.ApprovedBy,
		Notes:         s.Notes,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFilename), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}
	common.Logger().Debug("phase: snapshot saved", "dir", dir, "phase", s.PhaseNumber, "artifacts", len(s.Artifacts))
	return nil
}

// Load reads a snapshot back from dir. Callers decide whether to Verify; the
// workflow treats a failed verification on a prerequisite phase as fatal.
func Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, dir)
		}
		return nil, fmt.Errorf("read snapshot metadata: %w", err)
	}
	var meta snapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode snapshot metadata: %w", err)
	}
	snap := &Snapshot{
		PhaseNumber:   meta.PhaseNumber,
		Artifacts:     make(map[string]string, len(meta.ArtifactNames)),
		ContentHashes: meta.ContentHashes,
		CreatedAt:     meta.CreatedAt,
		ApprovedAt:    meta.ApprovedAt,
		ApprovedBy:    meta.ApprovedBy,
		Notes:         meta.Notes,
	}
	for _, name := range meta.ArtifactNames {
		filename := artifact.Type(name).Filename()
		content, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("%w: artifact %s: %v", ErrSnapshotIntegrity, name, err)
		}
		snap.Artifacts[name] = string(content)
	}
	return snap, nil
}

// PriorArtifacts collects the artifacts of every phase before phaseNumber
// from the given snapshot directories, verifying each snapshot before use.
// A missing or tampered prerequisite fails the whole collection.
func PriorArtifacts(phaseNumber int, snapshotDirs map[int]string) (map[string]string, error) {
	merged := make(map[string]string)
	for n := 1; n < phaseNumber; n++ {
		dir, ok := snapshotDirs[n]
		if !ok || dir == "" {
			return nil, fmt.Errorf("%w: phase %d", ErrSnapshotMissing, n)
		}
		snap, err := Load(dir)
		if err != nil {
			return nil, err
		}
		if !snap.Verify() {
			return nil, fmt.Errorf("%w: phase %d", ErrSnapshotIntegrity, n)
		}
		for name, content := range snap.Artifacts {
			merged[name] = content
		}
	}
	return merged, nil
}
