// File path: internal/intake/intake.go
// Package intake loads the guided questionnaires, validates submitted
// answers, and serializes them into the structured context block consumed by
// generation prompts.
package intake

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questionnaires/*.yaml
var questionnaireFS embed.FS

const (
	FlowGreenfield    = "greenfield"
	FlowModernization = "modernization"
)

// ValidFlow reports whether the flow type names a known questionnaire.
func ValidFlow(flow string) bool {
	return flow == FlowGreenfield || flow == FlowModernization
}

// Flows returns the supported flow types.
func Flows() []string {
	return []string{FlowGreenfield, FlowModernization}
}

type Question struct {
	ID           string   `yaml:"id" json:"id"`
	QuestionText string   `yaml:"question_text" json:"question_text"`
	InputType    string   `yaml:"input_type" json:"input_type"`
	Required     bool     `yaml:"required" json:"required"`
	Options      []string `yaml:"options,omitempty" json:"options,omitempty"`
	Mapping      []string `yaml:"mapping,omitempty" json:"-"`
	SectionTitle string   `yaml:"-" json:"section_title"`
}

type Section struct {
	Title     string     `yaml:"title" json:"title"`
	Questions []Question `yaml:"questions" json:"questions"`
}

type Questionnaire struct {
	Version  string    `yaml:"version" json:"version"`
	Title    string    `yaml:"title" json:"title"`
	FlowType string    `yaml:"-" json:"flow_type"`
	Sections []Section `yaml:"sections" json:"sections"`
}

// Load parses the embedded questionnaire for the flow type.
func Load(flow string) (*Questionnaire, error) {
	if !ValidFlow(flow) {
		return nil, fmt.Errorf("unknown flow type %q: valid flow types are %s", flow, strings.Join(Flows(), ", "))
	}
	data, err := questionnaireFS.ReadFile("questionnaires/" + flow + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read questionnaire %s: %w", flow, err)
	}
	var q Questionnaire
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parse questionnaire %s: %w", flow, err)
	}
	q.FlowType = flow
	for si := range q.Sections {
		for qi := range q.Sections[si].Questions {
			q.Sections[si].Questions[qi].SectionTitle = q.Sections[si].Title
		}
	}
	return &q, nil
}

// Questions returns the flat question list in questionnaire order.
func (q *Questionnaire) Questions() []Question {
	var out []Question
	for _, section := range q.Sections {
		out = append(out, section.Questions...)
	}
	return out
}

func (q *Questionnaire) questionByID() map[string]Question {
	m := make(map[string]Question)
	for _, question := range q.Questions() {
		m[question.ID] = question
	}
	return m
}

// Validate checks answers against the questionnaire and returns every
// problem found, not just the first.
func (q *Questionnaire) Validate(answers map[string]string) []string {
	var errs []string
	byID := q.questionByID()
	for _, question := range q.Questions() {
		answer := strings.TrimSpace(answers[question.ID])
		if question.Required && answer == "" {
			errs = append(errs, fmt.Sprintf("required question %q is unanswered", question.ID))
		}
		if answer != "" && question.InputType == "single_select" && len(question.Options) > 0 {
			valid := false
			for _, opt := range question.Options {
				if answer == opt {
					valid = true
					break
				}
			}
			if !valid {
				errs = append(errs, fmt.Sprintf("question %q: answer %q not in valid options %v", question.ID, answer, question.Options))
			}
		}
	}
	unknown := make([]string, 0)
	for id := range answers {
		if _, ok := byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		errs = append(errs, fmt.Sprintf("unknown question ID %q", id))
	}
	return errs
}

// Progress counts answered questions against the questionnaire total. Blank
// answers do not count.
func (q *Questionnaire) Progress(answers map[string]string) (answered, total int) {
	for _, question := range q.Questions() {
		total++
		if strings.TrimSpace(answers[question.ID]) != "" {
			answered++
		}
	}
	return answered, total
}

// mappingSections maps the first segment of a mapping dot-path (or an exact
// full path override) to its markdown section header.
var mappingSections = map[string]string{
	"current_state":            "## Current State",
	"future_state":             "## Future / Target State",
	"target_state":             "## Future / Target State",
	"nfrs":                     "## Non-Functional Requirements",
	"constraints":              "## Constraints",
	"scope":                    "## Scope",
	"migration":                "## Migration Strategy",
	"delta":                    "## Delta Analysis (Current → Target)",
	"integrations":             "## Integrations & Dependencies",
	"dependencies":             "## Integrations & Dependencies",
	"risks":                    "## Risks",
	"open_questions":           "## Open Questions",
	"objectives":               "## Objectives & Success Metrics",
	"success_metrics":          "## Objectives & Success Metrics",
	"personas":                 "## Personas & User Groups",
	"stakeholders":             "## Stakeholders",
	"problem_statement":        "## Problem / Opportunity",
	"non_goals":                "## Non-Goals",
	"delivery_model":           "## Delivery Model",
	"capabilities_current_seed": "## Current State",
	"capabilities_future_seed":  "## Future / Target State",
	"current_state.team":        "## People & Org",
	"assumptions":               "## Assumptions",
}

var sectionOrder = []string{
	"## Problem / Opportunity",
	"## Personas & User Groups",
	"## Current State",
	"## Future / Target State",
	"## Delta Analysis (Current → Target)",
	"## Objectives & Success Metrics",
	"## Scope",
	"## Non-Functional Requirements",
	"## Constraints",
	"## Migration Strategy",
	"## Integrations & Dependencies",
	"## People & Org",
	"## Stakeholders",
	"## Delivery Model",
	"## Non-Goals",
	"## Risks",
	"## Open Questions",
	"## Assumptions",
}

func sectionHeader(mappingPath string) string {
	if header, ok := mappingSections[mappingPath]; ok {
		return header
	}
	first := strings.SplitN(mappingPath, ".", 2)[0]
	if header, ok := mappingSections[first]; ok {
		return header
	}
	return "## " + titleCase(strings.ReplaceAll(first, "_", " "))
}

// subsection derives an optional "### Foo" header from the second dot-path
// segment.
func subsection(mappingPath string) string {
	parts := strings.Split(mappingPath, ".")
	if len(parts) < 2 {
		return ""
	}
	return "### " + titleCase(strings.ReplaceAll(parts[1], "_", " "))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FormatContext renders answers as the structured markdown block injected
// into generation prompts. Answers mapped to multiple paths appear under
// every section they map to; blank answers are dropped.
func (q *Questionnaire) FormatContext(answers map[string]string) string {
	type bucket map[string][]string // subsection header ("" = none) -> answers
	sections := make(map[string]bucket)
	appendAnswer := func(header, sub, answer string) {
		if sections[header] == nil {
			sections[header] = make(bucket)
		}
		sections[header][sub] = append(sections[header][sub], answer)
	}

	for _, question := range q.Questions() {
		answer := strings.TrimSpace(answers[question.ID])
		if answer == "" {
			continue
		}
		if len(question.Mapping) == 0 {
			appendAnswer("## "+titleCase(question.SectionTitle), "", answer)
			continue
		}
		for _, mp := range question.Mapping {
			appendAnswer(sectionHeader(mp), subsection(mp), answer)
		}
	}

	var b strings.Builder
	b.WriteString("# Intake Context\n")
	rendered := make(map[string]bool)
	renderSection := func(header string) {
		rendered[header] = true
		b.WriteString("\n" + header + "\n")
		bkt := sections[header]
		for _, answer := range bkt[""] {
			b.WriteString("\n" + answer + "\n")
		}
		subs := make([]string, 0, len(bkt))
		for sub := range bkt {
			if sub != "" {
				subs = append(subs, sub)
			}
		}
		sort.Strings(subs)
		for _, sub := range subs {
			b.WriteString("\n" + sub + "\n")
			for _, answer := range bkt[sub] {
				b.WriteString("\n" + answer + "\n")
			}
		}
	}
	for _, header := range sectionOrder {
		if _, ok := sections[header]; ok {
			renderSection(header)
		}
	}
	remaining := make([]string, 0)
	for header := range sections {
		if !rendered[header] {
			remaining = append(remaining, header)
		}
	}
	sort.Strings(remaining)
	for _, header := range remaining {
		renderSection(header)
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// FormatTranscript renders the raw Q&A transcript in questionnaire order.
// The transcript goes into the phase snapshot for traceability and is never
// fed to prompts.
func (q *Questionnaire) FormatTranscript(answers map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Questionnaire Transcript: %s\n\n", q.Title)
	fmt.Fprintf(&b, "**Flow Type:** %s\n", q.FlowType)
	fmt.Fprintf(&b, "**Version:** %s\n\n---\n", q.Version)
	for _, section := range q.Sections {
		fmt.Fprintf(&b, "\n## %s\n", section.Title)
		for _, question := range section.Questions {
			requiredTag := ""
			if question.Required {
				requiredTag = " *(required)*"
			}
			fmt.Fprintf(&b, "\n**Q: %s**%s\n", question.QuestionText, requiredTag)
			answer := strings.TrimSpace(answers[question.ID])
			if answer == "" {
				b.WriteString("\n**A:** *(not answered)*\n")
			} else {
				fmt.Fprintf(&b, "\n**A:** %s\n", answer)
			}
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}
