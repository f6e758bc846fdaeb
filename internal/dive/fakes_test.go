package dive

import (
	"context"
	"fmt"
	"sync"

	"cavvy/internal/canvas"
	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/generation"
	"cavvy/internal/llm"
)

type fakeSuggester struct {
	mu         sync.Mutex
	fits       []llm.TypeFit
	proposals  []llm.NewTypeProposal
	fitErr     error
	newErr     error
	buildErr   error
	agentErr   error
	namingErr  error
	builtIDs   []string
	fitCalls   int
	proposeCnt int

	// when set, ProposeNewTypes signals proposing and waits for release
	proposing chan struct{}
	release   chan struct{}
}

func (f *fakeSuggester) SuggestExistingTypes(context.Context, llm.DiveContext, []domain.CanvasType) ([]llm.TypeFit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitCalls++
	return f.fits, f.fitErr
}

func (f *fakeSuggester) ProposeNewTypes(context.Context, llm.DiveContext) ([]llm.NewTypeProposal, error) {
	if f.release != nil {
		close(f.proposing)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposeCnt++
	return f.proposals, f.newErr
}

func (f *fakeSuggester) BuildCanvasType(_ context.Context, _ llm.DiveContext, p llm.NewTypeProposal, id string) (*domain.CanvasType, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.builtIDs = append(f.builtIDs, id)
	sections := make([]domain.SectionDescriptor, len(p.Sections))
	for i, name := range p.Sections {
		sections[i] = domain.SectionDescriptor{Name: name, GridIndex: i}
	}
	return &domain.CanvasType{ID: id, Name: p.Name, Icon: p.Icon, Description: "synthesised", Sections: sections}, nil
}

func (f *fakeSuggester) BuildAgent(_ context.Context, t *domain.CanvasType) (*domain.AIAgent, error) {
	if f.agentErr != nil {
		return nil, f.agentErr
	}
	return &domain.AIAgent{ID: t.ID, Name: t.Name + " agent", SystemPrompt: "You help."}, nil
}

func (f *fakeSuggester) NameCanvas(context.Context, llm.DiveContext, *domain.CanvasType) (*llm.CanvasNaming, error) {
	if f.namingErr != nil {
		return nil, f.namingErr
	}
	return &llm.CanvasNaming{Name: "Market Risk", Description: "Risks of entering the market"}, nil
}

type fakeCatalog struct {
	mu     sync.Mutex
	shared map[string]domain.CanvasType
	custom map[string]domain.CanvasType
	agents map[string]domain.AIAgent
}

func newFakeCatalog(types ...domain.CanvasType) *fakeCatalog {
	c := &fakeCatalog{
		shared: map[string]domain.CanvasType{},
		custom: map[string]domain.CanvasType{},
		agents: map[string]domain.AIAgent{},
	}
	for _, t := range types {
		c.shared[t.ID] = t
	}
	return c
}

func (c *fakeCatalog) GetTypes(context.Context, uint64) ([]domain.CanvasType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.CanvasType
	for _, t := range c.shared {
		out = append(out, t)
	}
	for _, t := range c.custom {
		out = append(out, t)
	}
	return out, nil
}

func (c *fakeCatalog) GetType(_ context.Context, _ uint64, id string) (*domain.CanvasType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.custom[id]; ok {
		return &t, nil
	}
	if t, ok := c.shared[id]; ok {
		return &t, nil
	}
	return nil, errors.NotFound("Canvas type not found", nil)
}

func (c *fakeCatalog) SaveCustom(_ context.Context, userID uint64, t *domain.CanvasType) (*domain.CanvasType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := *t
	saved.UserID = userID
	saved.IsCustom = true
	c.custom[saved.ID] = saved
	return &saved, nil
}

func (c *fakeCatalog) SaveCustomAgent(_ context.Context, _ uint64, a *domain.AIAgent) (*domain.AIAgent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[a.ID] = *a
	return a, nil
}

type linkCall struct {
	canvasID string
	section  string
	item     canvas.ItemRef
	link     domain.DiveLink
}

type fakeCanvases struct {
	mu       sync.Mutex
	canvases map[string]*domain.Canvas
	links    []linkCall
	seq      int
}

func newFakeCanvases() *fakeCanvases {
	return &fakeCanvases{canvases: map[string]*domain.Canvas{}}
}

func (f *fakeCanvases) LoadCanvas(_ context.Context, userID uint64, id string) (*domain.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.canvases[id]
	if !ok || c.UserID != userID {
		return nil, errors.NotFound("Canvas not found", nil)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCanvases) CreateCanvas(_ context.Context, userID uint64, in canvas.CreateInput) (*domain.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sections := map[string]domain.Section{}
	for _, d := range in.CanvasType.Sections {
		sections[d.Name] = domain.Section{Name: d.Name, GridIndex: d.GridIndex, Items: []domain.SectionItem{}}
	}
	c := &domain.Canvas{
		ID:             fmt.Sprintf("child-%d", f.seq),
		UserID:         userID,
		Name:           in.Name,
		Description:    in.Description,
		CanvasTypeID:   in.CanvasType.ID,
		Sections:       sections,
		ParentCanvasID: in.ParentCanvasID,
	}
	f.canvases[c.ID] = c
	return c, nil
}

func (f *fakeCanvases) AttachDiveLink(_ context.Context, _ uint64, canvasID, section string, item canvas.ItemRef, link domain.DiveLink) (*domain.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, linkCall{canvasID: canvasID, section: section, item: item, link: link})
	return f.canvases[canvasID], nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []generation.Request
}

func (g *fakeGenerator) StartGeneration(_ context.Context, req generation.Request) (generation.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return generation.Status{CanvasID: req.Canvas.ID, IsGenerating: true}, nil
}
