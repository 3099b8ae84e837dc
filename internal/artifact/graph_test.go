// File path: internal/artifact/graph_test.go
package artifact

import (
	"reflect"
	"testing"
)

func TestResolveIncludesTransitivePrerequisites(t *testing.T) {
	got := Resolve([]Type{Features})
	want := []Type{CorpusSummary, PRD, Capabilities, CapabilityCards, Epics, Features}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolve features: got %v, want %v", got, want)
	}
}

func TestResolveIsSupersetAndClosed(t *testing.T) {
	selections := [][]Type{
		{PRD},
		{LeanCanvas},
		{UserStories, Roadmap},
		{TechnicalArchitecture, ContextSummary},
		All(),
	}
	for _, selected := range selections {
		resolved := Resolve(selected)
		member := make(map[Type]struct{}, len(resolved))
		for _, r := range resolved {
			member[r] = struct{}{}
		}
		for _, s := range selected {
			if _, ok := member[s]; !ok {
				t.Fatalf("resolve(%v) dropped selected artifact %s", selected, s)
			}
		}
		for _, r := range resolved {
			for _, dep := range Dependencies(r) {
				if _, ok := member[dep]; !ok {
					t.Fatalf("resolve(%v) missing prerequisite %s of %s", selected, dep, r)
				}
			}
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	selected := []Type{UserStories, LeanCanvas, ContextSummary}
	first := Resolve(selected)
	for i := 0; i < 10; i++ {
		if again := Resolve(selected); !reflect.DeepEqual(first, again) {
			t.Fatalf("resolve not deterministic: %v vs %v", first, again)
		}
	}
}

func TestResolveFollowsCanonicalOrder(t *testing.T) {
	resolved := Resolve([]Type{TechnicalArchitecture, Epics})
	position := make(map[Type]int, len(generationOrder))
	for i, a := range generationOrder {
		position[a] = i
	}
	for i := 1; i < len(resolved); i++ {
		if position[resolved[i-1]] >= position[resolved[i]] {
			t.Fatalf("resolved order %v violates canonical order at %d", resolved, i)
		}
	}
}

func TestResolveIgnoresUnknownTypes(t *testing.T) {
	if got := Resolve([]Type{Type("bogus")}); len(got) != 0 {
		t.Fatalf("expected empty resolution for unknown type, got %v", got)
	}
}

func TestDependsOn(t *testing.T) {
	if !DependsOn(UserStories, PRD) {
		t.Fatalf("user stories should depend on prd transitively")
	}
	if DependsOn(CorpusSummary, PRD) {
		t.Fatalf("corpus summary must not depend on prd")
	}
	if DependsOn(PRD, PRD) {
		t.Fatalf("an artifact does not depend on itself")
	}
}

func TestParseAndFilenames(t *testing.T) {
	parsed, err := Parse("capability_cards")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != CapabilityCards {
		t.Fatalf("expected capability_cards, got %s", parsed)
	}
	if _, err := Parse("nonsense"); err == nil {
		t.Fatalf("expected error for unknown artifact name")
	}
	if got := TechnicalArchitecture.Filename(); got != "architecture_reference.md" {
		t.Fatalf("unexpected filename %q", got)
	}
	if got := Type("custom").Filename(); got != "custom.md" {
		t.Fatalf("expected fallback filename, got %q", got)
	}
	if back, ok := FromFilename("architecture_reference.md"); !ok || back != TechnicalArchitecture {
		t.Fatalf("FromFilename round trip failed: %v %v", back, ok)
	}
}
