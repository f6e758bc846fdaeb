package llm

import (
	"fmt"
	"sort"
	"strings"

	"cavvy/internal/domain"
)

const defaultSystemPrompt = `You are a strategy assistant that fills structured business canvases.
Every answer must be concise, specific to the context given and free of filler.
Reply only with JSON matching the requested schema.`

const catalogSystemPrompt = `You design structured visual canvases (grid templates such as the Business Model Canvas).
Reply only with JSON matching the requested schema.`

func describeCanvas(b *strings.Builder, c *domain.Canvas) {
	if c == nil {
		return
	}
	fmt.Fprintf(b, "Canvas %q", c.Name)
	if c.Description != "" {
		fmt.Fprintf(b, ": %s", c.Description)
	}
	b.WriteString("\n")

	for _, s := range c.OrderedSections() {
		if len(s.Items) == 0 {
			continue
		}
		fmt.Fprintf(b, "## %s\n", s.Name)
		for _, item := range s.Items {
			fmt.Fprintf(b, "- %s\n", strings.ReplaceAll(item.Content, "\n", " "))
		}
	}
}

func describeType(b *strings.Builder, t *domain.CanvasType) {
	if t == nil {
		return
	}
	fmt.Fprintf(b, "Canvas type %q (id %s)", t.Name, t.ID)
	if t.Description != "" {
		fmt.Fprintf(b, ": %s", t.Description)
	}
	b.WriteString("\nSections:\n")
	for _, s := range t.OrderedSections() {
		fmt.Fprintf(b, "- %s", s.Name)
		if s.Placeholder != "" {
			fmt.Fprintf(b, " (%s)", s.Placeholder)
		}
		b.WriteString("\n")
	}
}

func describeDive(b *strings.Builder, dc DiveContext) {
	b.WriteString("The user is diving deeper from an item of an existing canvas.\n\n")
	describeCanvas(b, dc.ParentCanvas)
	fmt.Fprintf(b, "\nSection: %s\n", dc.SectionName)
	if dc.SectionPlaceholder != "" {
		fmt.Fprintf(b, "Section purpose: %s\n", dc.SectionPlaceholder)
	}
	fmt.Fprintf(b, "Item to explore: %s\n", dc.Item)
}

func sectionPrompt(req SectionRequest) (system, user string) {
	system = defaultSystemPrompt
	if req.Agent != nil && req.Agent.SystemPrompt != "" {
		system = req.Agent.SystemPrompt
	}

	var b strings.Builder
	describeType(&b, req.CanvasType)
	b.WriteString("\n")
	describeCanvas(&b, req.Canvas)

	if req.ParentCanvas != nil {
		b.WriteString("\nThis canvas was created from the following parent canvas.\n")
		describeCanvas(&b, req.ParentCanvas)
	}
	if req.DiveItem != "" {
		fmt.Fprintf(&b, "\nIt explores this item of the parent: %s\n", req.DiveItem)
	}

	fmt.Fprintf(&b, "\nPropose 3 to 5 items for the section %q.", req.Section.Name)
	if req.Section.Placeholder != "" {
		fmt.Fprintf(&b, " The section should capture: %s.", req.Section.Placeholder)
	}
	if req.Agent != nil {
		if extra := req.Agent.SectionPrompts[req.Section.Name]; extra != "" {
			fmt.Fprintf(&b, "\n%s", extra)
		}
	}
	b.WriteString("\nEach item needs short content and a one sentence rationale.")

	return system, b.String()
}

func existingTypesPrompt(dc DiveContext, candidates []domain.CanvasType) string {
	var b strings.Builder
	describeDive(&b, dc)

	sorted := make([]domain.CanvasType, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	b.WriteString("\nAvailable canvas types:\n")
	for _, t := range sorted {
		fmt.Fprintf(&b, "- id=%s name=%q: %s\n", t.ID, t.Name, t.Description)
	}
	b.WriteString("\nPick up to 3 of the available canvas types that best help explore the item. ")
	b.WriteString("Use only ids from the list and explain each choice in one sentence.")
	return b.String()
}

func newTypesPrompt(dc DiveContext) string {
	var b strings.Builder
	describeDive(&b, dc)
	b.WriteString("\nPropose up to 3 brand-new canvas types tailored to exploring the item. ")
	b.WriteString("Give each a name, a single icon name, a one sentence rationale and 4 to 9 section names.")
	return b.String()
}

func canvasTypePrompt(dc DiveContext, proposal NewTypeProposal) string {
	var b strings.Builder
	describeDive(&b, dc)
	fmt.Fprintf(&b, "\nTurn this proposal into a complete canvas type.\nName: %s\nIcon: %s\nRationale: %s\nSections: %s\n",
		proposal.Name, proposal.Icon, proposal.Rationale, strings.Join(proposal.Sections, ", "))
	b.WriteString("Every section needs a name, an icon, placeholder text describing what belongs there, and a grid_index starting at 0. ")
	b.WriteString("Provide a CSS grid layout with template columns, template rows and one named area per section.")
	return b.String()
}

func agentPrompt(t *domain.CanvasType) string {
	var b strings.Builder
	describeType(&b, t)
	b.WriteString("\nWrite the configuration of an assistant that fills canvases of this type: ")
	b.WriteString("a name, a system prompt, and one short instruction per section.")
	return b.String()
}

func namingPrompt(dc DiveContext, t *domain.CanvasType) string {
	var b strings.Builder
	describeDive(&b, dc)
	b.WriteString("\n")
	describeType(&b, t)
	b.WriteString("\nName the new canvas (at most 6 words) and describe its focus in one or two sentences.")
	return b.String()
}
