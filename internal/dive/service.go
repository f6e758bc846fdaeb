package dive

import (
	"context"
	defErrors "errors"
	"strings"
	"time"
	"unicode/utf8"

	"cavvy/internal/canvas"
	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/generation"
	"cavvy/internal/llm"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Suggester is the language model surface a dive needs.
type Suggester interface {
	SuggestExistingTypes(ctx context.Context, dc llm.DiveContext, candidates []domain.CanvasType) ([]llm.TypeFit, error)
	ProposeNewTypes(ctx context.Context, dc llm.DiveContext) ([]llm.NewTypeProposal, error)
	BuildCanvasType(ctx context.Context, dc llm.DiveContext, proposal llm.NewTypeProposal, id string) (*domain.CanvasType, error)
	BuildAgent(ctx context.Context, t *domain.CanvasType) (*domain.AIAgent, error)
	NameCanvas(ctx context.Context, dc llm.DiveContext, t *domain.CanvasType) (*llm.CanvasNaming, error)
}

type Catalog interface {
	GetTypes(ctx context.Context, userID uint64) ([]domain.CanvasType, error)
	GetType(ctx context.Context, userID uint64, id string) (*domain.CanvasType, error)
	SaveCustom(ctx context.Context, userID uint64, t *domain.CanvasType) (*domain.CanvasType, error)
	SaveCustomAgent(ctx context.Context, userID uint64, a *domain.AIAgent) (*domain.AIAgent, error)
}

type Canvases interface {
	LoadCanvas(ctx context.Context, userID uint64, id string) (*domain.Canvas, error)
	CreateCanvas(ctx context.Context, userID uint64, in canvas.CreateInput) (*domain.Canvas, error)
	AttachDiveLink(ctx context.Context, userID uint64, canvasID, section string, item canvas.ItemRef, link domain.DiveLink) (*domain.Canvas, error)
}

type Generator interface {
	StartGeneration(ctx context.Context, req generation.Request) (generation.Status, error)
}

// StartRequest opens a dive, or restarts the analysis of SessionID.
type StartRequest struct {
	SessionID string
	Context   Context
}

// ProposalRef picks a new-type proposal by index or, when Index is nil, by
// name.
type ProposalRef struct {
	Index *int   `json:"index"`
	Name  string `json:"name"`
}

type Service interface {
	StartDiveAnalysis(ctx context.Context, userID uint64, req StartRequest) (*Session, error)
	BeginDiveAnalysis(ctx context.Context, userID uint64, req StartRequest) (*Session, error)
	Select(ctx context.Context, userID uint64, sessionID, typeID string) (*Session, error)
	ClearSelection(ctx context.Context, userID uint64, sessionID string) (*Session, error)
	CreateNewCanvasType(ctx context.Context, userID uint64, sessionID string, ref ProposalRef) (*Session, error)
	ConfirmCanvas(ctx context.Context, userID uint64, sessionID string, folderID *string) (*domain.Canvas, error)
	GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, userID uint64, sessionID string) error
}

type Options struct {
	// Parallel requests existing-type fits and new-type proposals at the
	// same time instead of one after the other.
	Parallel bool
	// AnalysisTimeout bounds a background analysis.
	AnalysisTimeout time.Duration
}

type DefaultService struct {
	registry   *Registry
	suggester  Suggester
	catalog    Catalog
	canvases   Canvases
	generation Generator
	feed       *changefeed.Feed
	opts       Options
	log        zerolog.Logger
}

func NewService(
	registry *Registry,
	suggester Suggester,
	catalog Catalog,
	canvases Canvases,
	generation Generator,
	feed *changefeed.Feed,
	opts Options,
	log zerolog.Logger,
) *DefaultService {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 5 * time.Minute
	}
	return &DefaultService{
		registry:   registry,
		suggester:  suggester,
		catalog:    catalog,
		canvases:   canvases,
		generation: generation,
		feed:       feed,
		opts:       opts,
		log:        log.With().Str("component", "dive").Logger(),
	}
}

// StartDiveAnalysis runs a whole analysis on the caller goroutine and
// returns the final session. Provider failures are reported in the session,
// not as an error.
func (s *DefaultService) StartDiveAnalysis(ctx context.Context, userID uint64, req StartRequest) (*Session, error) {
	session, dc, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, session, dc), nil
}

// BeginDiveAnalysis returns as soon as the session is exploring and lets the
// analysis continue in the background.
func (s *DefaultService) BeginDiveAnalysis(ctx context.Context, userID uint64, req StartRequest) (*Session, error) {
	session, dc, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), s.opts.AnalysisTimeout)
		defer cancel()
		s.analyze(bg, session, dc)
	}()
	return session, nil
}

// prepare validates the dive origin and moves the session to exploring.
func (s *DefaultService) prepare(ctx context.Context, userID uint64, req StartRequest) (*Session, llm.DiveContext, error) {
	dc := req.Context
	dc.Item = strings.TrimSpace(dc.Item)
	if dc.Item == "" {
		return nil, llm.DiveContext{}, errors.BadRequest("Dive item is required", nil)
	}

	parent, err := s.canvases.LoadCanvas(ctx, userID, dc.ParentCanvasID)
	if err != nil {
		return nil, llm.DiveContext{}, err
	}
	if _, ok := parent.Sections[dc.Section.Name]; !ok {
		return nil, llm.DiveContext{}, errors.NotFound("Section not found", nil)
	}

	parentType, err := s.catalog.GetType(ctx, userID, parent.CanvasTypeID)
	if err != nil {
		s.log.Debug().Err(err).Str("canvas_type_id", parent.CanvasTypeID).Msg("parent canvas type not resolvable")
		parentType = nil
	}
	if dc.Section.Placeholder == "" && parentType != nil {
		if desc, ok := parentType.Section(dc.Section.Name); ok {
			dc.Section.Placeholder = desc.Placeholder
		}
	}

	var session *Session
	if req.SessionID == "" {
		fresh := newSession(userID, dc)
		fresh.reset(dc)
		session = s.registry.Put(ctx, fresh)
	} else {
		session, err = s.registry.Update(ctx, userID, req.SessionID, func(sess *Session) error {
			sess.reset(dc)
			return nil
		})
		if err != nil {
			return nil, llm.DiveContext{}, err
		}
	}
	s.publish(ctx, session)

	return session, diveContext(parent, parentType, dc), nil
}

func diveContext(parent *domain.Canvas, parentType *domain.CanvasType, dc Context) llm.DiveContext {
	return llm.DiveContext{
		ParentCanvas:       parent,
		ParentType:         parentType,
		SectionName:        dc.Section.Name,
		SectionPlaceholder: dc.Section.Placeholder,
		Item:               dc.Item,
	}
}

// apply updates the session only while attempt is still its current
// analysis; a restarted dive makes older results stale.
func (s *DefaultService) apply(ctx context.Context, session *Session, fn func(sess *Session)) *Session {
	updated, err := s.registry.Update(ctx, session.UserID, session.ID, func(sess *Session) error {
		if sess.Attempt != session.Attempt {
			return errStale
		}
		fn(sess)
		return nil
	})
	if err != nil {
		if !defErrors.Is(err, errStale) {
			s.log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to update dive session")
		}
		return session
	}
	s.publish(ctx, updated)
	return updated
}

var errStale = defErrors.New("stale dive attempt")

func (s *DefaultService) analyze(ctx context.Context, session *Session, dc llm.DiveContext) *Session {
	log := s.log.With().Str("session_id", session.ID).Logger()

	types, err := s.catalog.GetTypes(ctx, session.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load canvas types for dive")
		return s.apply(ctx, session, func(sess *Session) { sess.fail(msgFailedSuggest) })
	}

	if s.opts.Parallel {
		return s.analyzeParallel(ctx, session, dc, types)
	}

	fits, err := s.suggester.SuggestExistingTypes(ctx, dc, types)
	if err != nil {
		log.Warn().Err(err).Msg("existing type suggestions failed")
		return s.apply(ctx, session, func(sess *Session) { sess.fail(msgFailedSuggest) })
	}
	existing := matchTypes(fits, types)
	session = s.apply(ctx, session, func(sess *Session) {
		sess.ExistingSuggestions = existing
		sess.StatusMessage = msgThinking
	})

	proposals, err := s.suggester.ProposeNewTypes(ctx, dc)
	if err != nil {
		log.Warn().Err(err).Msg("new type proposals failed")
		return s.apply(ctx, session, func(sess *Session) { sess.fail(msgFailedSuggest) })
	}
	return s.apply(ctx, session, func(sess *Session) { ready(sess, proposals) })
}

// analyzeParallel issues both requests at once. Whatever succeeded is kept
// even when the other request fails.
func (s *DefaultService) analyzeParallel(ctx context.Context, session *Session, dc llm.DiveContext, types []domain.CanvasType) *Session {
	var (
		fits      []llm.TypeFit
		proposals []llm.NewTypeProposal
		fitErr    error
		newErr    error
	)

	var g errgroup.Group
	g.Go(func() error {
		fits, fitErr = s.suggester.SuggestExistingTypes(ctx, dc, types)
		return fitErr
	})
	g.Go(func() error {
		proposals, newErr = s.suggester.ProposeNewTypes(ctx, dc)
		return newErr
	})
	err := g.Wait()

	return s.apply(ctx, session, func(sess *Session) {
		if fitErr == nil {
			sess.ExistingSuggestions = matchTypes(fits, types)
		}
		if newErr == nil && fitErr == nil {
			ready(sess, proposals)
			return
		}
		if newErr == nil {
			sess.NewSuggestions = nonNil(proposals)
		}
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("dive suggestions failed")
		sess.fail(msgFailedSuggest)
	})
}

// ready finishes an analysis. A type the user selected while proposals were
// still being fetched stays selected.
func ready(sess *Session, proposals []llm.NewTypeProposal) {
	sess.NewSuggestions = nonNil(proposals)
	sess.Status = StatusReady
	if sess.Selected != nil {
		sess.Status = StatusSelected
	}
	sess.StatusMessage = ""
	sess.Error = ""
}

func nonNil(proposals []llm.NewTypeProposal) []llm.NewTypeProposal {
	if proposals == nil {
		return []llm.NewTypeProposal{}
	}
	return proposals
}

// matchTypes resolves fits against the catalog. Fits naming an unknown type
// are dropped; a type suggested twice appears once.
func matchTypes(fits []llm.TypeFit, types []domain.CanvasType) []CanvasTypeSuggestion {
	byID := make(map[string]domain.CanvasType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	out := make([]CanvasTypeSuggestion, 0, len(fits))
	seen := make(map[string]bool, len(fits))
	for _, fit := range fits {
		t, ok := byID[fit.CanvasTypeID]
		if !ok || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		if fit.Rationale != "" {
			t.Description = fit.Rationale
		}
		out = append(out, CanvasTypeSuggestion{CanvasType: t, Rationale: fit.Rationale})
	}
	return out
}

// Select picks a catalog type or an existing suggestion for the child.
func (s *DefaultService) Select(ctx context.Context, userID uint64, sessionID, typeID string) (*Session, error) {
	current, err := s.registry.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := current.suggestion(typeID); !ok {
		if _, err := s.catalog.GetType(ctx, userID, typeID); err != nil {
			return nil, err
		}
	}

	updated, err := s.registry.Update(ctx, userID, sessionID, func(sess *Session) error {
		id := typeID
		sess.Selected = &id
		sess.Status = StatusSelected
		sess.StatusMessage = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

// ClearSelection drops the selection and keeps both suggestion lists.
func (s *DefaultService) ClearSelection(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	updated, err := s.registry.Update(ctx, userID, sessionID, func(sess *Session) error {
		sess.Selected = nil
		sess.Status = StatusReady
		sess.StatusMessage = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

// CreateNewCanvasType turns a proposal into a persisted custom canvas type
// and selects it.
func (s *DefaultService) CreateNewCanvasType(ctx context.Context, userID uint64, sessionID string, ref ProposalRef) (*Session, error) {
	current, err := s.registry.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	proposal, ok := findProposal(current.NewSuggestions, ref)
	if !ok {
		return nil, errors.NotFound("Proposal not found", nil)
	}

	dc, err := s.reloadContext(ctx, current)
	if err != nil {
		return nil, err
	}

	current, err = s.registry.Update(ctx, userID, sessionID, func(sess *Session) error {
		sess.Selected = nil
		sess.StatusMessage = msgCreatingType
		sess.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, current)

	created, err := s.buildType(ctx, userID, dc, proposal)
	if err != nil {
		s.log.Warn().Err(err).Str("proposal", proposal.Name).Msg("failed to create canvas type from proposal")
		failed, uerr := s.registry.Update(ctx, userID, sessionID, func(sess *Session) error {
			sess.Selected = nil
			sess.fail(msgFailedCreate)
			return nil
		})
		if uerr == nil {
			s.publish(ctx, failed)
		}
		if errors.Status(err) < 500 {
			return nil, err
		}
		return nil, errors.BadGateway(msgFailedCreate, err)
	}

	s.buildAgent(ctx, userID, created)

	updated, err := s.registry.Update(ctx, userID, sessionID, func(sess *Session) error {
		id := created.ID
		sess.NewSuggestions = []llm.NewTypeProposal{}
		sess.ExistingSuggestions = []CanvasTypeSuggestion{{CanvasType: *created, Rationale: proposal.Rationale}}
		sess.Selected = &id
		sess.Status = StatusSelected
		sess.StatusMessage = ""
		sess.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

func findProposal(proposals []llm.NewTypeProposal, ref ProposalRef) (llm.NewTypeProposal, bool) {
	if ref.Index != nil {
		i := *ref.Index
		if i < 0 || i >= len(proposals) {
			return llm.NewTypeProposal{}, false
		}
		return proposals[i], true
	}
	for _, p := range proposals {
		if strings.EqualFold(p.Name, ref.Name) {
			return p, true
		}
	}
	return llm.NewTypeProposal{}, false
}

func (s *DefaultService) buildType(ctx context.Context, userID uint64, dc llm.DiveContext, proposal llm.NewTypeProposal) (*domain.CanvasType, error) {
	t, err := s.suggester.BuildCanvasType(ctx, dc, proposal, "custom-"+domain.NewID())
	if err != nil {
		return nil, err
	}
	return s.catalog.SaveCustom(ctx, userID, t)
}

// buildAgent gives a new type its own prompts. Failure leaves the type
// without an agent and generation falls back to default prompts.
func (s *DefaultService) buildAgent(ctx context.Context, userID uint64, t *domain.CanvasType) {
	agent, err := s.suggester.BuildAgent(ctx, t)
	if err == nil {
		_, err = s.catalog.SaveCustomAgent(ctx, userID, agent)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("canvas_type_id", t.ID).Msg("failed to create agent for new canvas type")
	}
}

func (s *DefaultService) reloadContext(ctx context.Context, session *Session) (llm.DiveContext, error) {
	parent, err := s.canvases.LoadCanvas(ctx, session.UserID, session.Context.ParentCanvasID)
	if err != nil {
		return llm.DiveContext{}, err
	}
	parentType, err := s.catalog.GetType(ctx, session.UserID, parent.CanvasTypeID)
	if err != nil {
		parentType = nil
	}
	return diveContext(parent, parentType, session.Context), nil
}

// ConfirmCanvas creates the child canvas of the dive, links it from the
// source item and starts filling its sections.
func (s *DefaultService) ConfirmCanvas(ctx context.Context, userID uint64, sessionID string, folderID *string) (*domain.Canvas, error) {
	session, err := s.registry.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Selected == nil {
		return nil, errors.BadRequest("Select a canvas type first", nil)
	}

	selected, err := s.catalog.GetType(ctx, userID, *session.Selected)
	if err != nil {
		return nil, err
	}
	dc, err := s.reloadContext(ctx, session)
	if err != nil {
		return nil, err
	}
	parent := dc.ParentCanvas

	name, description := s.nameChild(ctx, dc, selected)

	target := session.Context.FolderID
	if folderID != nil {
		target = *folderID
	}

	child, err := s.canvases.CreateCanvas(ctx, userID, canvas.CreateInput{
		Name:           name,
		Description:    description,
		CanvasType:     selected,
		Layout:         selected.DefaultLayout,
		FolderID:       target,
		ParentCanvasID: &parent.ID,
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("session_id", sessionID).Str("canvas_id", child.ID).Logger()

	ref := canvas.ItemRef{ID: session.Context.ItemID, Content: session.Context.Item}
	link := domain.DiveLink{CanvasID: child.ID, CanvasTypeID: selected.ID}
	if _, err := s.canvases.AttachDiveLink(ctx, userID, parent.ID, session.Context.Section.Name, ref, link); err != nil {
		log.Warn().Err(err).Msg("failed to attach dive link to source item")
	}

	if _, err := s.generation.StartGeneration(ctx, generation.Request{
		UserID:       userID,
		Canvas:       child,
		SelectedType: selected,
		ParentCanvas: parent,
		DiveItem:     session.Context.Item,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to start section generation")
	}

	log.Info().Str("parent_canvas_id", parent.ID).Str("canvas_type_id", selected.ID).Msg("dive confirmed")
	return child, nil
}

const maxFallbackName = 60

// nameChild asks the model for a name and description, falling back to the
// dive item and the section name.
func (s *DefaultService) nameChild(ctx context.Context, dc llm.DiveContext, t *domain.CanvasType) (string, string) {
	naming, err := s.suggester.NameCanvas(ctx, dc, t)
	if err == nil && strings.TrimSpace(naming.Name) != "" {
		return strings.TrimSpace(naming.Name), naming.Description
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("canvas naming failed, using dive item")
	}
	return truncate(dc.Item, maxFallbackName), dc.SectionName
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}

func (s *DefaultService) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.registry.Get(ctx, userID, sessionID)
}

func (s *DefaultService) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	if err := s.registry.Delete(ctx, userID, sessionID); err != nil {
		return err
	}
	s.feed.Emit(ctx, changefeed.Dives, changefeed.Removed, userID, sessionID, nil)
	return nil
}

func (s *DefaultService) publish(ctx context.Context, session *Session) {
	s.feed.Emit(ctx, changefeed.Dives, changefeed.Modified, session.UserID, session.ID, session)
}
