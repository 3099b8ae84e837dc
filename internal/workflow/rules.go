// File path: internal/workflow/rules.go
package workflow

import (
	"github.com/nchandrav/phasegate/internal/artifact"
	"github.com/nchandrav/phasegate/internal/intake"
)

// EditableArtifacts returns the artifact names a reviewer may edit during
// approval. The PRD is always editable at phase 1; modernization flows also
// open the capability map because migration scoping routinely corrects it.
func EditableArtifacts(phaseNumber int, flowType string) []string {
	if phaseNumber != 1 {
		return nil
	}
	editable := []string{string(artifact.PRD)}
	if flowType == intake.FlowModernization {
		editable = append(editable, string(artifact.Capabilities))
	}
	return editable
}
