package domain

import (
	"sort"
	"time"
)

// Layout is the grid template a canvas is rendered with. The service stores
// it verbatim and never interprets the CSS values.
type Layout struct {
	GridTemplateColumns string            `json:"grid_template_columns" yaml:"columns"`
	GridTemplateRows    string            `json:"grid_template_rows" yaml:"rows"`
	Areas               map[string]string `json:"areas,omitempty" yaml:"areas"`
}

// DiveLink records that a section item was the origin of a child canvas.
type DiveLink struct {
	CanvasID     string `json:"canvas_id"`
	CanvasTypeID string `json:"canvas_type_id"`
}

type SectionItem struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	Dive    *DiveLink `json:"dive,omitempty"`
}

type QuestionAnswer struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Section struct {
	Name      string           `json:"name"`
	GridIndex int              `json:"grid_index"`
	Items     []SectionItem    `json:"items"`
	QAs       []QuestionAnswer `json:"qas"`
}

// Canvas is a document instance of a CanvasType.
//
// ParentCanvasID is a weak back-reference to the canvas this one was dived
// from. It is written once at creation and never changed, and it may point
// at a canvas that has since been deleted.
type Canvas struct {
	ID             string             `json:"id"`
	UserID         uint64             `json:"user_id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	CanvasTypeID   string             `json:"canvas_type_id"`
	Layout         *Layout            `json:"layout,omitempty"`
	Theme          string             `json:"theme,omitempty"`
	Sections       map[string]Section `json:"sections"`
	ParentCanvasID *string            `json:"parent_canvas_id"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CanvasSummary is the lightweight projection used by listings, the folder
// sweep and the parent index.
type CanvasSummary struct {
	ID             string    `json:"id"`
	UserID         uint64    `json:"user_id"`
	Name           string    `json:"name"`
	CanvasTypeID   string    `json:"canvas_type_id"`
	ParentCanvasID *string   `json:"parent_canvas_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Canvas) Summary() CanvasSummary {
	return CanvasSummary{
		ID:             c.ID,
		UserID:         c.UserID,
		Name:           c.Name,
		CanvasTypeID:   c.CanvasTypeID,
		ParentCanvasID: c.ParentCanvasID,
		UpdatedAt:      c.UpdatedAt,
	}
}

// OrderedSections returns the canvas sections sorted by grid index, then name.
func (c *Canvas) OrderedSections() []Section {
	sections := make([]Section, 0, len(c.Sections))
	for _, s := range c.Sections {
		sections = append(sections, s)
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].GridIndex != sections[j].GridIndex {
			return sections[i].GridIndex < sections[j].GridIndex
		}
		return sections[i].Name < sections[j].Name
	})
	return sections
}

// IsRoot reports whether the canvas was created without a parent.
func (c *Canvas) IsRoot() bool {
	return c.ParentCanvasID == nil || *c.ParentCanvasID == ""
}

// CloneItems copies an item slice, including dive links, so callers can
// mutate the result without touching shared state.
func CloneItems(items []SectionItem) []SectionItem {
	if items == nil {
		return []SectionItem{}
	}
	out := make([]SectionItem, len(items))
	for i, item := range items {
		out[i] = item
		if item.Dive != nil {
			link := *item.Dive
			out[i].Dive = &link
		}
	}
	return out
}
