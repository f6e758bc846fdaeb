package dive

import (
	"time"

	"cavvy/internal/domain"
	"cavvy/internal/llm"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusExploring Status = "exploring"
	StatusReady     Status = "ready"
	StatusSelected  Status = "selected"
	StatusError     Status = "error"
)

const (
	msgExploring     = "Exploring existing canvas types..."
	msgThinking      = "Thinking of new canvas possibilities..."
	msgCreatingType  = "Creating new canvas type..."
	msgFailedSuggest = "Failed to get suggestions"
	msgFailedCreate  = "Failed to create new canvas type"
)

type Section struct {
	Name        string `json:"name" binding:"required"`
	Placeholder string `json:"placeholder"`
}

// Context is where a dive starts: a section item of a parent canvas.
type Context struct {
	ParentCanvasID string  `json:"parent_canvas_id"`
	FolderID       string  `json:"folder_id,omitempty"`
	Section        Section `json:"section"`
	Item           string  `json:"item"`
	ItemID         string  `json:"item_id,omitempty"`
}

// CanvasTypeSuggestion is an existing canvas type proposed for a dive. Its
// Description carries the rationale for the fit.
type CanvasTypeSuggestion struct {
	domain.CanvasType
	Rationale string `json:"rationale"`
}

// Session is the state of one dive. Both suggestion lists are always
// non-nil.
type Session struct {
	ID                  string                 `json:"id"`
	UserID              uint64                 `json:"user_id"`
	Context             Context                `json:"context"`
	Status              Status                 `json:"status"`
	StatusMessage       string                 `json:"status_message"`
	ExistingSuggestions []CanvasTypeSuggestion `json:"existing_suggestions"`
	NewSuggestions      []llm.NewTypeProposal  `json:"new_suggestions"`
	Selected            *string                `json:"selected"`
	Error               string                 `json:"error,omitempty"`
	Attempt             int                    `json:"attempt"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

func newSession(userID uint64, dc Context) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:                  domain.NewID(),
		UserID:              userID,
		Context:             dc,
		Status:              StatusIdle,
		ExistingSuggestions: []CanvasTypeSuggestion{},
		NewSuggestions:      []llm.NewTypeProposal{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (s *Session) clone() *Session {
	out := *s
	out.ExistingSuggestions = append([]CanvasTypeSuggestion{}, s.ExistingSuggestions...)
	out.NewSuggestions = append([]llm.NewTypeProposal{}, s.NewSuggestions...)
	if s.Selected != nil {
		id := *s.Selected
		out.Selected = &id
	}
	return &out
}

// reset starts a new analysis attempt. Results of earlier attempts are
// discarded, never merged.
func (s *Session) reset(dc Context) {
	s.Context = dc
	s.Attempt++
	s.Status = StatusExploring
	s.StatusMessage = msgExploring
	s.ExistingSuggestions = []CanvasTypeSuggestion{}
	s.NewSuggestions = []llm.NewTypeProposal{}
	s.Selected = nil
	s.Error = ""
}

// fail records a failure the client may show. Provider errors carry
// upstream bodies and URLs, so callers log them and only message reaches
// the session.
func (s *Session) fail(message string) {
	s.Status = StatusError
	s.StatusMessage = message
	s.Error = message
}

func (s *Session) suggestion(typeID string) (CanvasTypeSuggestion, bool) {
	for _, sg := range s.ExistingSuggestions {
		if sg.ID == typeID {
			return sg, true
		}
	}
	return CanvasTypeSuggestion{}, false
}
