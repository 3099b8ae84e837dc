// File path: internal/phase/snapshot_test.go
package phase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nchandrav/phasegate/internal/artifact"
)

func TestSnapshotVerifyRoundTrip(t *testing.T) {
	snap := NewSnapshot(1, map[string]string{
		string(artifact.PRD):          "# PRD\n\nSome requirements.",
		string(artifact.Capabilities): "## Capabilities",
	})
	if !snap.Verify() {
		t.Fatalf("fresh snapshot must verify")
	}
	if len(snap.ContentHashes) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(snap.ContentHashes))
	}
}

func TestSnapshotVerifyDetectsTamper(t *testing.T) {
	snap := NewSnapshot(1, map[string]string{
		string(artifact.PRD): "original content",
	})
	snap.Artifacts[string(artifact.PRD)] = "original content!"
	if snap.Verify() {
		t.Fatalf("single byte change must fail verification")
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	dir := t.TempDir()
	approvedAt := time.Now().UTC().Truncate(time.Second)
	snap := NewSnapshot(2, map[string]string{
		string(artifact.Epics):    "## Epics",
		string(artifact.Features): "## Features",
	})
	snap.ApprovedAt = &approvedAt
	snap.ApprovedBy = "alice"
	snap.Notes = "looks good"
	if err := snap.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Verify() {
		t.Fatalf("loaded snapshot must verify")
	}
	if loaded.PhaseNumber != 2 || loaded.ApprovedBy != "alice" || loaded.Notes != "looks good" {
		t.Fatalf("metadata lost on round trip: %+v", loaded)
	}
	if loaded.ApprovedAt == nil || !loaded.ApprovedAt.Equal(approvedAt) {
		t.Fatalf("approved_at lost on round trip: %v", loaded.ApprovedAt)
	}
	if loaded.Artifacts[string(artifact.Epics)] != "## Epics" {
		t.Fatalf("artifact content lost on round trip")
	}
}

func TestSnapshotLoadDetectsDiskTamper(t *testing.T) {
	dir := t.TempDir()
	snap := NewSnapshot(1, map[string]string{
		string(artifact.PRD): "trustworthy content",
	})
	if err := snap.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(dir, artifact.PRD.Filename())
	if err := os.WriteFile(path, []byte("edited behind our back"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Verify() {
		t.Fatalf("on-disk edit must fail verification")
	}
}

func TestPriorArtifactsMergesApprovedPhases(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	if err := NewSnapshot(1, map[string]string{
		string(artifact.CorpusSummary): "summary",
		string(artifact.PRD):           "prd",
	}).Save(dir1); err != nil {
		t.Fatalf("save phase 1: %v", err)
	}
	if err := NewSnapshot(2, map[string]string{
		string(artifact.Epics): "epics",
	}).Save(dir2); err != nil {
		t.Fatalf("save phase 2: %v", err)
	}

	merged, err := PriorArtifacts(3, map[int]string{1: dir1, 2: dir2})
	if err != nil {
		t.Fatalf("prior artifacts: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged artifacts, got %d", len(merged))
	}
	if merged[string(artifact.Epics)] != "epics" {
		t.Fatalf("phase 2 content missing from merge")
	}
}

func TestPriorArtifactsFailsFast(t *testing.T) {
	dir1 := t.TempDir()
	if err := NewSnapshot(1, map[string]string{
		string(artifact.PRD): "prd",
	}).Save(dir1); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := PriorArtifacts(3, map[int]string{1: dir1}); !errors.Is(err, ErrSnapshotMissing) {
		t.Fatalf("expected ErrSnapshotMissing for absent phase 2, got %v", err)
	}

	path := filepath.Join(dir1, artifact.PRD.Filename())
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := PriorArtifacts(2, map[int]string{1: dir1}); !errors.Is(err, ErrSnapshotIntegrity) {
		t.Fatalf("expected ErrSnapshotIntegrity after tamper, got %v", err)
	}
}

func TestLookupAndForArtifact(t *testing.T) {
	def, err := Lookup(2)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if def.Name != "Planning" || def.RequiresPhase != 1 {
		t.Fatalf("unexpected phase 2 definition: %+v", def)
	}
	if _, err := Lookup(4); err == nil {
		t.Fatalf("expected error for phase 4")
	}
	if _, err := Lookup(0); err == nil {
		t.Fatalf("expected error for phase 0")
	}
	if got := ForArtifact(artifact.Roadmap); got != 2 {
		t.Fatalf("roadmap should belong to phase 2, got %d", got)
	}
	if got := ForArtifact(artifact.Type("bogus")); got != 0 {
		t.Fatalf("unknown artifact should map to 0, got %d", got)
	}
}
