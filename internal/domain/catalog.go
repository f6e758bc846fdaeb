package domain

import "sort"

// SectionDescriptor describes one section of a CanvasType.
type SectionDescriptor struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Icon        string `json:"icon" yaml:"icon"`
	Placeholder string `json:"placeholder" yaml:"placeholder"`
	GridIndex   int    `json:"grid_index" yaml:"grid_index" validate:"gte=0"`
}

// CanvasType is a canvas template. Types owned by UserID 0 form the shared
// catalog; any other owner makes it a custom type for that user.
type CanvasType struct {
	ID            string              `json:"id" yaml:"id" validate:"required"`
	UserID        uint64              `json:"user_id,omitempty" yaml:"-"`
	Name          string              `json:"name" yaml:"name" validate:"required"`
	Icon          string              `json:"icon" yaml:"icon"`
	Description   string              `json:"description" yaml:"description"`
	DefaultLayout *Layout             `json:"default_layout,omitempty" yaml:"layout"`
	Sections      []SectionDescriptor `json:"sections" yaml:"sections" validate:"required,min=1,dive"`
	Tags          []string            `json:"tags,omitempty" yaml:"tags"`
	IsCustom      bool                `json:"is_custom,omitempty" yaml:"-"`
}

// OrderedSections returns the section descriptors sorted by grid index.
func (t *CanvasType) OrderedSections() []SectionDescriptor {
	out := make([]SectionDescriptor, len(t.Sections))
	copy(out, t.Sections)
	sort.SliceStable(out, func(i, j int) bool { return out[i].GridIndex < out[j].GridIndex })
	return out
}

func (t *CanvasType) Section(name string) (SectionDescriptor, bool) {
	for _, s := range t.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionDescriptor{}, false
}

// AIAgent holds the prompt templates used to generate content for canvases
// of one type. Its ID is the canvas type id it serves.
type AIAgent struct {
	ID             string            `json:"id" validate:"required"`
	UserID         uint64            `json:"user_id,omitempty"`
	Name           string            `json:"name" validate:"required"`
	SystemPrompt   string            `json:"system_prompt" validate:"required"`
	SectionPrompts map[string]string `json:"section_prompts,omitempty"`
	IsCustom       bool              `json:"is_custom,omitempty"`
}
