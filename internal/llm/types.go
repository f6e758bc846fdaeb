package llm

import (
	"fmt"

	"cavvy/internal/domain"
)

// Suggestion is one proposed section item.
type Suggestion struct {
	Content   string `json:"content" validate:"required"`
	Rationale string `json:"rationale"`
}

// DiveContext describes where a dive starts: the parent canvas and the
// section item the user dove from.
type DiveContext struct {
	ParentCanvas       *domain.Canvas
	ParentType         *domain.CanvasType
	SectionName        string
	SectionPlaceholder string
	Item               string
}

// SectionRequest asks for items for one section of a freshly created canvas.
type SectionRequest struct {
	ParentCanvas *domain.Canvas
	Canvas       *domain.Canvas
	CanvasType   *domain.CanvasType
	Agent        *domain.AIAgent
	DiveItem     string
	Section      domain.SectionDescriptor
}

// TypeFit is the model's opinion that an existing canvas type suits a dive.
type TypeFit struct {
	CanvasTypeID string `json:"canvas_type_id" validate:"required"`
	Rationale    string `json:"rationale"`
}

// NewTypeProposal is a lightweight idea for a canvas type that does not
// exist yet.
type NewTypeProposal struct {
	Name      string   `json:"name" validate:"required"`
	Icon      string   `json:"icon"`
	Rationale string   `json:"rationale"`
	Sections  []string `json:"sections" validate:"required,min=1,dive,required"`
}

// CanvasNaming is the generated name and description of a child canvas.
type CanvasNaming struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// ProviderError is returned for every failure of the language model call:
// transport errors, non-2xx responses, and replies that do not decode into
// the requested shape.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type suggestionList struct {
	Suggestions []Suggestion `json:"suggestions" validate:"dive"`
}

type typeFitList struct {
	Suggestions []TypeFit `json:"suggestions" validate:"dive"`
}

type proposalList struct {
	Proposals []NewTypeProposal `json:"proposals" validate:"dive"`
}

type layoutArea struct {
	Section string `json:"section" validate:"required"`
	Area    string `json:"area" validate:"required"`
}

type layoutDraft struct {
	Columns string       `json:"grid_template_columns" validate:"required"`
	Rows    string       `json:"grid_template_rows" validate:"required"`
	Areas   []layoutArea `json:"areas" validate:"dive"`
}

// canvasTypeDraft is the fully specified type the synthesis call must
// return.
type canvasTypeDraft struct {
	Name        string                     `json:"name" validate:"required"`
	Icon        string                     `json:"icon" validate:"required"`
	Description string                     `json:"description" validate:"required"`
	Sections    []domain.SectionDescriptor `json:"sections" validate:"required,min=1,dive"`
	Layout      layoutDraft                `json:"layout"`
	Tags        []string                   `json:"tags"`
}

func (d canvasTypeDraft) toCanvasType(id string) *domain.CanvasType {
	areas := make(map[string]string, len(d.Layout.Areas))
	for _, a := range d.Layout.Areas {
		areas[a.Section] = a.Area
	}
	sections := make([]domain.SectionDescriptor, len(d.Sections))
	copy(sections, d.Sections)

	return &domain.CanvasType{
		ID:          id,
		Name:        d.Name,
		Icon:        d.Icon,
		Description: d.Description,
		DefaultLayout: &domain.Layout{
			GridTemplateColumns: d.Layout.Columns,
			GridTemplateRows:    d.Layout.Rows,
			Areas:               areas,
		},
		Sections: sections,
		Tags:     d.Tags,
		IsCustom: true,
	}
}

type agentDraft struct {
	Name           string               `json:"name" validate:"required"`
	SystemPrompt   string               `json:"system_prompt" validate:"required"`
	SectionPrompts []sectionInstruction `json:"section_prompts" validate:"dive"`
}

type sectionInstruction struct {
	Section string `json:"section" validate:"required"`
	Prompt  string `json:"prompt" validate:"required"`
}
