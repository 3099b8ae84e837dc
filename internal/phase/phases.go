// File path: internal/phase/phases.go
// Package phase defines the three approval gates of the generation
// workflow and the content-hashed snapshots frozen at approval time.
package phase

import (
	"fmt"

	"github.com/nchandrav/phasegate/internal/artifact"
)

// Status is the lifecycle state of one phase gate.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Definition describes one phase gate: which artifacts it produces and
// which prior phase must be approved before it may start.
type Definition struct {
	Number        int
	Name          string
	Label         string
	Artifacts     []artifact.Type
	RequiresPhase int // 0 means no prerequisite
}

// Count is the number of phase gates in the workflow.
const Count = 3

var definitions = []Definition{
	{
		Number: 1,
		Name:   "Foundation",
		Label:  "Context Summary + PRD + Capabilities",
		Artifacts: []artifact.Type{
			artifact.ContextSummary,
			artifact.CorpusSummary,
			artifact.PRD,
			artifact.Capabilities,
		},
	},
	{
		Number: 2,
		Name:   "Planning",
		Label:  "Epics + Features + Roadmap",
		Artifacts: []artifact.Type{
			artifact.CapabilityCards,
			artifact.Epics,
			artifact.Features,
			artifact.Roadmap,
		},
		RequiresPhase: 1,
	},
	{
		Number: 3,
		Name:   "Detail",
		Label:  "User Stories + Architecture",
		Artifacts: []artifact.Type{
			artifact.UserStories,
			artifact.TechnicalArchitecture,
			artifact.LeanCanvas,
		},
		RequiresPhase: 2,
	},
}

// Lookup returns the definition for a phase number in [1, Count].
func Lookup(number int) (Definition, error) {
	for _, def := range definitions {
		if def.Number == number {
			out := def
			out.Artifacts = append([]artifact.Type(nil), def.Artifacts...)
			return out, nil
		}
	}
	return Definition{}, fmt.Errorf("invalid phase number %d: must be between 1 and %d", number, Count)
}

// Definitions returns every phase definition in order.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		copied := def
		copied.Artifacts = append([]artifact.Type(nil), def.Artifacts...)
		out = append(out, copied)
	}
	return out
}

// ForArtifact returns the phase number that produces the artifact, or 0 if
// the artifact belongs to no phase.
func ForArtifact(t artifact.Type) int {
	for _, def := range definitions {
		for _, a := range def.Artifacts {
			if a == t {
				return def.Number
			}
		}
	}
	return 0
}
