package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/llm"
	"cavvy/internal/worker"

	"github.com/rs/zerolog"
)

// SuggestionGenerator proposes items for one section.
type SuggestionGenerator interface {
	SuggestSectionItems(ctx context.Context, req llm.SectionRequest) ([]llm.Suggestion, error)
}

// SectionWriter replaces the items of a canvas section.
type SectionWriter interface {
	UpdateSection(ctx context.Context, userID uint64, canvasID, section string, items []domain.SectionItem) error
	FlushSection(ctx context.Context, userID uint64, canvasID, section string) error
}

// AgentResolver finds the prompt templates for a canvas type.
type AgentResolver interface {
	GetAgent(ctx context.Context, userID uint64, id string) (*domain.AIAgent, error)
}

// Request starts generation for a freshly created canvas.
type Request struct {
	UserID       uint64
	Canvas       *domain.Canvas
	SelectedType *domain.CanvasType
	ParentCanvas *domain.Canvas
	DiveItem     string
}

type Service interface {
	StartGeneration(ctx context.Context, req Request) (Status, error)
	Run(ctx context.Context, req Request) Status
	CancelGeneration(ctx context.Context, userID uint64, canvasID string) (Status, error)
	Status(userID uint64, canvasID string) (Status, error)
}

type DefaultService struct {
	generator SuggestionGenerator
	sections  SectionWriter
	agents    AgentResolver
	pool      *worker.Pool
	tracker   *Tracker
	feed      *changefeed.Feed
	log       zerolog.Logger
}

func NewService(
	generator SuggestionGenerator,
	sections SectionWriter,
	agents AgentResolver,
	pool *worker.Pool,
	feed *changefeed.Feed,
	log zerolog.Logger,
) *DefaultService {
	return &DefaultService{
		generator: generator,
		sections:  sections,
		agents:    agents,
		pool:      pool,
		tracker:   NewTracker(),
		feed:      feed,
		log:       log.With().Str("component", "generation").Logger(),
	}
}

func validate(req Request) error {
	if req.Canvas == nil || req.Canvas.ID == "" {
		return errors.BadRequest("Canvas is required", nil)
	}
	if req.SelectedType == nil {
		return errors.BadRequest("Canvas type is required", nil)
	}
	return nil
}

// StartGeneration queues a run and returns at once with the initial status.
func (s *DefaultService) StartGeneration(ctx context.Context, req Request) (Status, error) {
	if err := validate(req); err != nil {
		return Status{}, err
	}

	st, ok := s.tracker.Begin(req.UserID, req.Canvas.ID)
	if !ok {
		return st, errors.Conflict("Generation already running", nil)
	}
	s.publish(ctx, st)

	accepted := s.pool.Submit(func(ctx context.Context) error {
		s.run(ctx, req, st.run)
		return nil
	})
	if !accepted {
		failed, _ := s.tracker.update(req.Canvas.ID, st.run, func(st *Status) {
			st.IsGenerating = false
			st.Error = "Generation queue is full"
		})
		s.publish(ctx, failed)
		return failed, errors.New(http.StatusServiceUnavailable, "Generation queue is full", nil)
	}
	return st, nil
}

// Run performs a whole generation synchronously and returns the final
// status.
func (s *DefaultService) Run(ctx context.Context, req Request) Status {
	if err := validate(req); err != nil {
		return Status{Error: err.Error(), CompletedSections: []string{}}
	}

	st, ok := s.tracker.Begin(req.UserID, req.Canvas.ID)
	if !ok {
		return st
	}
	s.publish(ctx, st)
	return s.run(ctx, req, st.run)
}

// run visits the sections of the selected type one at a time. A failing
// section records an error and the loop moves on.
func (s *DefaultService) run(ctx context.Context, req Request, run uint64) Status {
	canvasID := req.Canvas.ID
	log := s.log.With().Str("canvas_id", canvasID).Logger()

	agent, err := s.agents.GetAgent(ctx, req.UserID, req.SelectedType.ID)
	if err != nil {
		log.Debug().Err(err).Str("canvas_type_id", req.SelectedType.ID).Msg("no agent for canvas type, using defaults")
		agent = nil
	}

	for _, section := range req.SelectedType.OrderedSections() {
		if s.tracker.stopped(canvasID, run) {
			log.Info().Msg("generation stopped before completing")
			break
		}

		if st, ok := s.tracker.start(canvasID, run, section.Name); ok {
			s.publish(ctx, st)
		}

		if err := s.generateSection(ctx, req, agent, section); err != nil {
			log.Warn().Err(err).Str("section", section.Name).Msg("section generation failed")
			if st, ok := s.tracker.fail(canvasID, run, fmt.Sprintf("Error generating suggestions for %s", section.Name)); ok {
				s.publish(ctx, st)
			}
			continue
		}

		if st, ok := s.tracker.complete(canvasID, run, section.Name); ok {
			s.publish(ctx, st)
		}
	}

	final, ok := s.tracker.finish(canvasID, run)
	if !ok {
		final, _ = s.tracker.Get(canvasID)
		return final
	}
	s.publish(ctx, final)

	log.Info().
		Strs("completed", final.CompletedSections).
		Str("error", final.Error).
		Msg("generation finished")
	return final
}

func (s *DefaultService) generateSection(ctx context.Context, req Request, agent *domain.AIAgent, section domain.SectionDescriptor) error {
	suggestions, err := s.generator.SuggestSectionItems(ctx, llm.SectionRequest{
		ParentCanvas: req.ParentCanvas,
		Canvas:       req.Canvas,
		CanvasType:   req.SelectedType,
		Agent:        agent,
		DiveItem:     req.DiveItem,
		Section:      section,
	})
	if err != nil {
		return err
	}

	items := make([]domain.SectionItem, 0, len(suggestions))
	for _, sg := range suggestions {
		items = append(items, domain.SectionItem{
			ID:      domain.NewID(),
			Content: FormatItem(sg),
		})
	}

	if err := s.sections.UpdateSection(ctx, req.UserID, req.Canvas.ID, section.Name, items); err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if err := s.sections.FlushSection(ctx, req.UserID, req.Canvas.ID, section.Name); err != nil {
		return fmt.Errorf("save section: %w", err)
	}
	return nil
}

// CancelGeneration stops a run before its next section. A request already
// sent to the model still completes and its items are written.
func (s *DefaultService) CancelGeneration(ctx context.Context, userID uint64, canvasID string) (Status, error) {
	if _, err := s.Status(userID, canvasID); err != nil {
		return Status{}, err
	}

	st, _ := s.tracker.Cancel(canvasID)
	s.publish(ctx, st)
	return st, nil
}

func (s *DefaultService) Status(userID uint64, canvasID string) (Status, error) {
	st, ok := s.tracker.Get(canvasID)
	if !ok || st.UserID != userID {
		return Status{}, errors.NotFound("No generation for this canvas", nil)
	}
	return st, nil
}

// Forget drops the status of a deleted canvas.
func (s *DefaultService) Forget(canvasID string) {
	s.tracker.Forget(canvasID)
}

func (s *DefaultService) publish(ctx context.Context, st Status) {
	s.feed.Emit(ctx, changefeed.Generation, changefeed.Modified, st.UserID, st.CanvasID, st)
}

// FormatItem renders a suggestion as section item content: the content in
// bold unless it already carries markup, then the rationale as a second
// paragraph.
func FormatItem(sg llm.Suggestion) string {
	content := strings.TrimSpace(sg.Content)
	if content != "" && !hasMarkup(content) {
		content = "**" + content + "**"
	}

	rationale := strings.TrimSpace(sg.Rationale)
	if rationale == "" {
		return content
	}
	return content + "\n\n" + rationale
}

func hasMarkup(s string) bool {
	return strings.ContainsAny(s, "*_`#[]>") || strings.Contains(s, "\n- ")
}
