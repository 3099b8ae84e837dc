// File path: internal/artifact/graph.go
package artifact

import "fmt"

// dependencies maps each artifact type to the artifact types that must be
// generated before it. The table is fixed at compile time; the canonical
// generationOrder below is a topological sort consistent with every edge.
var dependencies = map[Type][]Type{
	ContextSummary:        {},
	CorpusSummary:         {},
	PRD:                   {CorpusSummary},
	Capabilities:          {CorpusSummary, PRD},
	CapabilityCards:       {CorpusSummary, PRD, Capabilities},
	Epics:                 {CorpusSummary, PRD, Capabilities, CapabilityCards},
	Features:              {CorpusSummary, PRD, Epics},
	Roadmap:               {CorpusSummary, PRD, Epics, Features},
	UserStories:           {CorpusSummary, PRD, Epics, Features},
	LeanCanvas:            {CorpusSummary, PRD, Capabilities},
	TechnicalArchitecture: {CorpusSummary, PRD, Capabilities, Features},
}

var generationOrder = []Type{
	ContextSummary,
	CorpusSummary,
	PRD,
	Capabilities,
	CapabilityCards,
	Epics,
	Features,
	Roadmap,
	UserStories,
	LeanCanvas,
	TechnicalArchitecture,
}

func init() {
	// A type present in one table but not the other is a programming error,
	// not a runtime condition.
	if len(dependencies) != len(generationOrder) {
		panic("artifact: dependency table and generation order disagree")
	}
	position := make(map[Type]int, len(generationOrder))
	for i, t := range generationOrder {
		position[t] = i
	}
	for t, deps := range dependencies {
		at, ok := position[t]
		if !ok {
			panic(fmt.Sprintf("artifact: %s missing from generation order", t))
		}
		for _, dep := range deps {
			before, ok := position[dep]
			if !ok {
				panic(fmt.Sprintf("artifact: unknown dependency %s of %s", dep, t))
			}
			if before >= at {
				panic(fmt.Sprintf("artifact: generation order violates %s -> %s", dep, t))
			}
		}
	}
}

// Dependencies returns the direct prerequisites of an artifact type.
func Dependencies(t Type) []Type {
	return append([]Type(nil), dependencies[t]...)
}

// Resolve expands the selected set with every transitive prerequisite and
// returns the union in canonical generation order. The result is
// deterministic and always a superset of the selection. Unknown types are
// ignored; callers validate names before selection.
func Resolve(selected []Type) []Type {
	required := make(map[Type]struct{}, len(selected))
	var add func(t Type)
	add = func(t Type) {
		if _, ok := required[t]; ok {
			return
		}
		deps, ok := dependencies[t]
		if !ok {
			return
		}
		for _, dep := range deps {
			add(dep)
		}
		required[t] = struct{}{}
	}
	for _, t := range selected {
		add(t)
	}
	result := make([]Type, 0, len(required))
	for _, t := range generationOrder {
		if _, ok := required[t]; ok {
			result = append(result, t)
		}
	}
	return result
}

// DependsOn reports whether artifact depends on dependency, directly or
// transitively.
func DependsOn(artifact, dependency Type) bool {
	for _, t := range Resolve([]Type{artifact}) {
		if t == dependency && t != artifact {
			return true
		}
	}
	return false
}
