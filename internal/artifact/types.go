// File path: internal/artifact/types.go
// Package artifact defines the artifact taxonomy, the static dependency
// graph between artifact types, and the per-session generation cache.
package artifact

import (
	"fmt"
	"strings"
)

// Type identifies one named unit of generated content.
type Type string

const (
	ContextSummary        Type = "context_summary"
	CorpusSummary         Type = "corpus_summary"
	PRD                   Type = "prd"
	Capabilities          Type = "capabilities"
	CapabilityCards       Type = "capability_cards"
	Epics                 Type = "epics"
	Features              Type = "features"
	Roadmap               Type = "roadmap"
	UserStories           Type = "user_stories"
	LeanCanvas            Type = "lean_canvas"
	TechnicalArchitecture Type = "technical_architecture"
)

var displayNames = map[Type]string{
	ContextSummary:        "Document Context Assessment",
	CorpusSummary:         "Corpus Summary",
	PRD:                   "Product Requirements Document",
	Capabilities:          "Capability Map",
	CapabilityCards:       "Capability Cards",
	Epics:                 "Epics",
	Features:              "Features",
	Roadmap:               "Delivery Roadmap",
	UserStories:           "User Stories",
	LeanCanvas:            "Lean Canvas",
	TechnicalArchitecture: "Technical Architecture Reference",
}

var fileNames = map[Type]string{
	ContextSummary:        "context_summary.md",
	CorpusSummary:         "corpus_summary.md",
	PRD:                   "prd.md",
	Capabilities:          "capabilities.md",
	CapabilityCards:       "capability_cards.md",
	Epics:                 "epics.md",
	Features:              "features.md",
	Roadmap:               "roadmap.md",
	UserStories:           "user_stories.md",
	LeanCanvas:            "lean_canvas.md",
	TechnicalArchitecture: "architecture_reference.md",
}

func (t Type) String() string {
	return string(t)
}

// DisplayName returns the human-readable label for UI surfaces.
func (t Type) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

// Filename returns the on-disk file name used for the artifact in output
// and snapshot directories. Unmapped types fall back to "{type}.md".
func (t Type) Filename() string {
	if name, ok := fileNames[t]; ok {
		return name
	}
	return string(t) + ".md"
}

// Parse converts a stored artifact name into a Type.
func Parse(name string) (Type, error) {
	candidate := Type(strings.TrimSpace(name))
	if _, ok := dependencies[candidate]; !ok {
		return "", fmt.Errorf("unknown artifact type %q", name)
	}
	return candidate, nil
}

// FromFilename reverses Filename for snapshot reconstruction.
func FromFilename(filename string) (Type, bool) {
	for t, fn := range fileNames {
		if fn == filename {
			return t, true
		}
	}
	return "", false
}

// All returns every artifact type in canonical generation order.
func All() []Type {
	return append([]Type(nil), generationOrder...)
}
