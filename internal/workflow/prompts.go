// File path: internal/workflow/prompts.go
package workflow

import (
	"fmt"
	"strings"

	"github.com/nchandrav/phasegate/internal/artifact"
)

const (
	systemSummary      = "You summarize multiple product documents faithfully. Do not hallucinate missing facts."
	systemContext      = "You distill intake interviews into a concise product context brief. Do not hallucinate missing facts."
	systemPRD          = "You produce high-quality PRDs. Follow the outline and do not hallucinate missing facts."
	systemCaps         = "You produce capability maps derived strictly from the PRD."
	systemCards        = "You produce detailed capability cards derived strictly from the capability map."
	systemEpics        = "You produce epics derived strictly from the PRD and capability map."
	systemFeatures     = "You produce structured feature lists derived strictly from the PRD."
	systemRoadmap      = "You produce phased delivery roadmaps derived strictly from the epics and features."
	systemStories      = "You produce user stories with acceptance criteria derived strictly from the epics and features."
	systemCanvas       = "You produce Lean Canvas derived strictly from the PRD and capability map."
	systemArchitecture = "You produce technical architecture references derived strictly from the PRD, capabilities, and features."
)

var systemPrompts = map[artifact.Type]string{
	artifact.ContextSummary:        systemContext,
	artifact.CorpusSummary:         systemSummary,
	artifact.PRD:                   systemPRD,
	artifact.Capabilities:          systemCaps,
	artifact.CapabilityCards:       systemCards,
	artifact.Epics:                 systemEpics,
	artifact.Features:              systemFeatures,
	artifact.Roadmap:               systemRoadmap,
	artifact.UserStories:           systemStories,
	artifact.LeanCanvas:            systemCanvas,
	artifact.TechnicalArchitecture: systemArchitecture,
}

var taskInstructions = map[artifact.Type]string{
	artifact.ContextSummary: "Write a context summary of the product effort: the problem, the users, " +
		"the current situation, and the target outcome. Use short markdown sections.",
	artifact.CorpusSummary: "Summarize the reference documents and intake context into a single faithful " +
		"corpus summary. Preserve concrete facts, constraints, and terminology. Note gaps explicitly.",
	artifact.PRD: "Write a complete PRD in markdown with these sections: Overview, Problem Statement, " +
		"Goals & Success Metrics, Personas, Scope, Functional Requirements, Non-Functional Requirements, " +
		"Constraints & Assumptions, Risks, Open Questions.",
	artifact.Capabilities: "Derive a hierarchical capability map (L0 domains, L1 capabilities, L2 " +
		"sub-capabilities) from the PRD. Use nested markdown lists with one-line descriptions.",
	artifact.CapabilityCards: "Write one card per L1 capability: purpose, inputs, outputs, dependencies, " +
		"and maturity notes. Use a markdown heading per card.",
	artifact.Epics: "Derive delivery epics from the PRD and capability map. For each epic give a name, " +
		"a goal, the capabilities it covers, and a definition of done.",
	artifact.Features: "Derive a structured feature list from the PRD and epics. Group features by epic " +
		"and give each a short description and priority (P0/P1/P2).",
	artifact.Roadmap: "Lay the epics and features onto a phased delivery roadmap (Now / Next / Later). " +
		"Order by dependency and priority, and state the exit criteria for each horizon.",
	artifact.UserStories: "Write user stories for each feature in the standard As-a/I-want/So-that form " +
		"with acceptance criteria in Given/When/Then form. Group stories by epic.",
	artifact.LeanCanvas: "Fill in a Lean Canvas: Problem, Customer Segments, Unique Value Proposition, " +
		"Solution, Channels, Revenue Streams, Cost Structure, Key Metrics, Unfair Advantage.",
	artifact.TechnicalArchitecture: "Write a technical architecture reference: component overview, data " +
		"flows, integration points, non-functional considerations, and notable build-vs-buy decisions.",
}

// promptInputs carries everything a single artifact prompt can draw on.
type promptInputs struct {
	intakeContext string
	corpus        string
	feedback      string
	dependencies  map[artifact.Type]string
}

// buildPrompt assembles the system and user messages for one artifact. The
// user message layers intake context, the document corpus, previously
// generated prerequisites, any rejection feedback, and the task itself.
func buildPrompt(t artifact.Type, in promptInputs) (system, user string) {
	system, ok := systemPrompts[t]
	if !ok {
		system = systemSummary
	}

	var b strings.Builder
	if in.intakeContext != "" {
		b.WriteString("## Intake Context\n\n")
		b.WriteString(strings.TrimSpace(in.intakeContext))
		b.WriteString("\n\n")
	}
	if in.corpus != "" {
		b.WriteString("## Reference Documents\n\n")
		b.WriteString(strings.TrimSpace(in.corpus))
		b.WriteString("\n\n")
	}
	for _, dep := range artifact.Dependencies(t) {
		content, ok := in.dependencies[dep]
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", dep.DisplayName(), strings.TrimSpace(content))
	}
	if in.feedback != "" {
		b.WriteString("## Reviewer Feedback On The Previous Attempt\n\n")
		b.WriteString(strings.TrimSpace(in.feedback))
		b.WriteString("\n\nAddress this feedback in the new version.\n\n")
	}
	b.WriteString("## Task\n\n")
	b.WriteString(taskInstructions[t])
	b.WriteString("\n\nRespond with the complete markdown document only.")
	return system, b.String()
}
