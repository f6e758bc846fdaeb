package canvas

import (
	"context"
	defErrors "errors"
	"fmt"
	"strings"
	"time"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/utils"
	"cavvy/redis"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Service interface {
	CreateCanvas(ctx context.Context, userID uint64, in CreateInput) (*domain.Canvas, error)
	LoadCanvas(ctx context.Context, userID uint64, id string) (*domain.Canvas, error)
	ListCanvases(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedCanvases, error)
	UpdateSection(ctx context.Context, userID uint64, canvasID, section string, items []domain.SectionItem) error
	FlushSection(ctx context.Context, userID uint64, canvasID, section string) error
	SetQuestionAnswers(ctx context.Context, userID uint64, canvasID, section string, qas []domain.QuestionAnswer) (*domain.Canvas, error)
	UpdateMetadata(ctx context.Context, userID uint64, id string, in MetadataInput) (*domain.Canvas, error)
	AttachDiveLink(ctx context.Context, userID uint64, canvasID, section string, item ItemRef, link domain.DiveLink) (*domain.Canvas, error)
	DeleteCanvas(ctx context.Context, userID uint64, id string) error
	Children(ctx context.Context, userID uint64, id string) ([]domain.CanvasSummary, error)
	Ancestors(ctx context.Context, userID uint64, id string) ([]domain.CanvasSummary, error)
	Roots(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error)
	SaveStatus(canvasID string) SaveStatus
	Flush(ctx context.Context) error
}

// FolderIndex files canvases into folders.
type FolderIndex interface {
	RegisterCanvas(ctx context.Context, userID uint64, folderID string, entry domain.FolderCanvas) error
	RemoveCanvas(ctx context.Context, userID uint64, canvasID string) error
}

type CreateInput struct {
	Name           string
	Description    string
	CanvasType     *domain.CanvasType
	Layout         *domain.Layout
	Theme          string
	FolderID       string
	ParentCanvasID *string
}

type MetadataInput struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Theme       *string        `json:"theme"`
	Layout      *domain.Layout `json:"layout"`
}

// ItemRef points at a section item by id or, when the id is empty, by its
// exact content.
type ItemRef struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type PaginatedCanvases struct {
	Data []domain.CanvasSummary `json:"data"`
	Meta utils.PageMeta         `json:"meta"`
}

type DefaultService struct {
	repository Repository
	folders    FolderIndex
	index      *Index
	debouncer  *Debouncer
	feed       *changefeed.Feed
	cache      *redis.Cache
	log        zerolog.Logger
}

func NewService(
	repository Repository,
	folders FolderIndex,
	index *Index,
	feed *changefeed.Feed,
	cache *redis.Cache,
	saveDelay time.Duration,
	log zerolog.Logger,
) *DefaultService {
	s := &DefaultService{
		repository: repository,
		folders:    folders,
		index:      index,
		feed:       feed,
		cache:      cache,
		log:        log,
	}
	s.debouncer = NewDebouncer(saveDelay, s.saveSection, log)
	return s
}

func versionKey(userID uint64) string {
	return fmt.Sprintf("user:%d:canvases:version", userID)
}

func notFound(err error) error {
	if defErrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("Canvas not found", err)
	}
	return err
}

func (s *DefaultService) CreateCanvas(ctx context.Context, userID uint64, in CreateInput) (*domain.Canvas, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.BadRequest("Canvas name is required", nil)
	}
	if in.CanvasType == nil {
		return nil, errors.BadRequest("Canvas type is required", nil)
	}

	var parentID *string
	if in.ParentCanvasID != nil && *in.ParentCanvasID != "" {
		if _, err := s.repository.FindByID(ctx, userID, *in.ParentCanvasID); err != nil {
			if defErrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.NotFound("Parent canvas not found", err)
			}
			return nil, errors.Internal(err).WithMessage("Failed to create canvas")
		}
		id := *in.ParentCanvasID
		parentID = &id
	}

	layout := in.Layout
	if layout == nil {
		layout = in.CanvasType.DefaultLayout
	}

	sections := make(map[string]domain.Section, len(in.CanvasType.Sections))
	for _, d := range in.CanvasType.Sections {
		sections[d.Name] = domain.Section{
			Name:      d.Name,
			GridIndex: d.GridIndex,
			Items:     []domain.SectionItem{},
			QAs:       []domain.QuestionAnswer{},
		}
	}

	c := &domain.Canvas{
		ID:             domain.NewID(),
		UserID:         userID,
		Name:           name,
		Description:    in.Description,
		CanvasTypeID:   in.CanvasType.ID,
		Layout:         layout,
		Theme:          in.Theme,
		Sections:       sections,
		ParentCanvasID: parentID,
	}

	if err := s.repository.Create(ctx, c); err != nil {
		return nil, errors.Internal(err).WithMessage("Failed to create canvas")
	}

	s.changed(ctx, changefeed.Added, c)

	entry := domain.FolderCanvas{ID: c.ID, Name: c.Name, CanvasTypeID: c.CanvasTypeID}
	if err := s.folders.RegisterCanvas(ctx, userID, in.FolderID, entry); err != nil {
		// the next folder sweep files it into root
		s.log.Warn().Err(err).Str("canvas_id", c.ID).Str("folder_id", in.FolderID).Msg("failed to register canvas in folder")
	}

	s.log.Info().Uint64("user_id", userID).Str("canvas_id", c.ID).Str("canvas_type_id", c.CanvasTypeID).Msg("canvas created")
	return c, nil
}

// LoadCanvas returns the stored canvas with unsaved section edits applied.
func (s *DefaultService) LoadCanvas(ctx context.Context, userID uint64, id string) (*domain.Canvas, error) {
	c, err := s.repository.FindByID(ctx, userID, id)
	if err != nil {
		return nil, notFound(err)
	}

	for name, items := range s.debouncer.Pending(userID, id) {
		if section, ok := c.Sections[name]; ok {
			section.Items = items
			c.Sections[name] = section
		}
	}
	return c, nil
}

func (s *DefaultService) ListCanvases(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedCanvases, error) {
	v := s.cache.GetVersion(ctx, versionKey(userID))
	cacheKey := fmt.Sprintf("canvases:u:%d:v:%d:p:%d:ps:%d", userID, v, page, pageSize)

	var result PaginatedCanvases
	if found, _ := s.cache.Get(ctx, cacheKey, &result); found {
		return &result, nil
	}

	list, meta, err := s.repository.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	result = PaginatedCanvases{Data: list, Meta: meta}

	if err := s.cache.Set(ctx, cacheKey, result, time.Hour); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache canvas list")
	}
	return &result, nil
}

// UpdateSection replaces the whole item list of a section. The write is
// deferred and coalesced with later edits of the same section.
func (s *DefaultService) UpdateSection(ctx context.Context, userID uint64, canvasID, section string, items []domain.SectionItem) error {
	c, err := s.repository.FindByID(ctx, userID, canvasID)
	if err != nil {
		return notFound(err)
	}
	if _, ok := c.Sections[section]; !ok {
		return errors.NotFound("Section not found", nil)
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = domain.NewID()
		}
	}

	key := SectionKey{UserID: userID, CanvasID: canvasID, Section: section}
	if err := s.debouncer.Schedule(ctx, key, items); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *DefaultService) FlushSection(ctx context.Context, userID uint64, canvasID, section string) error {
	key := SectionKey{UserID: userID, CanvasID: canvasID, Section: section}
	return notFound(s.debouncer.Flush(ctx, key))
}

func (s *DefaultService) saveSection(ctx context.Context, key SectionKey, items []domain.SectionItem) error {
	c, err := s.repository.Update(ctx, key.UserID, key.CanvasID, func(c *domain.Canvas) error {
		section, ok := c.Sections[key.Section]
		if !ok {
			return errors.NotFound("Section not found", nil)
		}
		section.Items = domain.CloneItems(items)
		c.Sections[key.Section] = section
		return nil
	})
	if err != nil {
		return err
	}

	s.changed(ctx, changefeed.Modified, c)
	return nil
}

func (s *DefaultService) SetQuestionAnswers(ctx context.Context, userID uint64, canvasID, section string, qas []domain.QuestionAnswer) (*domain.Canvas, error) {
	if qas == nil {
		qas = []domain.QuestionAnswer{}
	}
	for i := range qas {
		if qas[i].ID == "" {
			qas[i].ID = domain.NewID()
		}
	}

	c, err := s.repository.Update(ctx, userID, canvasID, func(c *domain.Canvas) error {
		sec, ok := c.Sections[section]
		if !ok {
			return errors.NotFound("Section not found", nil)
		}
		sec.QAs = qas
		c.Sections[section] = sec
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}

	s.changed(ctx, changefeed.Modified, c)
	return c, nil
}

func (s *DefaultService) UpdateMetadata(ctx context.Context, userID uint64, id string, in MetadataInput) (*domain.Canvas, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, errors.BadRequest("Canvas name cannot be empty", nil)
	}

	c, err := s.repository.Update(ctx, userID, id, func(c *domain.Canvas) error {
		if in.Name != nil {
			c.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			c.Description = *in.Description
		}
		if in.Theme != nil {
			c.Theme = *in.Theme
		}
		if in.Layout != nil {
			c.Layout = in.Layout
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}

	s.changed(ctx, changefeed.Modified, c)
	return c, nil
}

// AttachDiveLink records on a section item the child canvas created from it.
// An item holds a single link; attaching again replaces it.
func (s *DefaultService) AttachDiveLink(ctx context.Context, userID uint64, canvasID, section string, item ItemRef, link domain.DiveLink) (*domain.Canvas, error) {
	// an unsaved edit of the section would otherwise overwrite the link
	if err := s.FlushSection(ctx, userID, canvasID, section); err != nil {
		return nil, err
	}

	c, err := s.repository.Update(ctx, userID, canvasID, func(c *domain.Canvas) error {
		sec, ok := c.Sections[section]
		if !ok {
			return errors.NotFound("Section not found", nil)
		}

		idx := -1
		for i, it := range sec.Items {
			if (item.ID != "" && it.ID == item.ID) || (item.ID == "" && it.Content == item.Content) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.NotFound("Section item not found", nil)
		}

		sec.Items = domain.CloneItems(sec.Items)
		l := link
		sec.Items[idx].Dive = &l
		c.Sections[section] = sec
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}

	s.changed(ctx, changefeed.Modified, c)
	return c, nil
}

// DeleteCanvas removes one canvas. Children are left in place with their
// parent reference dangling.
func (s *DefaultService) DeleteCanvas(ctx context.Context, userID uint64, id string) error {
	s.debouncer.Discard(userID, id)

	if err := s.repository.Delete(ctx, userID, id); err != nil {
		return notFound(err)
	}

	if err := s.folders.RemoveCanvas(ctx, userID, id); err != nil {
		s.log.Warn().Err(err).Str("canvas_id", id).Msg("failed to remove canvas from folder")
	}

	s.bump(ctx, userID)
	s.emit(ctx, changefeed.Removed, userID, id, nil)
	return nil
}

func (s *DefaultService) Children(ctx context.Context, userID uint64, id string) ([]domain.CanvasSummary, error) {
	return s.index.Children(ctx, userID, id)
}

// Ancestors returns the chain of parents of a canvas, root first, without
// the canvas itself. The walk stops at a parent that no longer exists.
func (s *DefaultService) Ancestors(ctx context.Context, userID uint64, id string) ([]domain.CanvasSummary, error) {
	self, ok, err := s.index.Summary(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("Canvas not found", nil)
	}

	var path []domain.CanvasSummary
	seen := map[string]bool{id: true}
	next := self.ParentCanvasID
	for next != nil && *next != "" && !seen[*next] {
		parent, ok, err := s.index.Summary(ctx, userID, *next)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		seen[parent.ID] = true
		path = append(path, parent)
		next = parent.ParentCanvasID
	}

	// reverse into root-first order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if path == nil {
		path = []domain.CanvasSummary{}
	}
	return path, nil
}

// Roots returns canvases with no parent and canvases whose parent no longer
// exists.
func (s *DefaultService) Roots(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error) {
	all, err := s.index.UserCanvases(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(all))
	for _, c := range all {
		ids[c.ID] = true
	}

	roots := make([]domain.CanvasSummary, 0)
	for _, c := range all {
		if c.ParentCanvasID == nil || *c.ParentCanvasID == "" || !ids[*c.ParentCanvasID] {
			roots = append(roots, c)
		}
	}
	return roots, nil
}

func (s *DefaultService) SaveStatus(canvasID string) SaveStatus {
	return s.debouncer.Status(canvasID)
}

// Flush writes every deferred section edit.
func (s *DefaultService) Flush(ctx context.Context) error {
	return s.debouncer.FlushAll(ctx)
}

func (s *DefaultService) changed(ctx context.Context, kind changefeed.Kind, c *domain.Canvas) {
	s.bump(ctx, c.UserID)
	s.emit(ctx, kind, c.UserID, c.ID, c)
}

// emit publishes a canvas change. A distributed feed only reaches this
// replica after the Redis round trip, so the local index is updated first
// to keep reads after a write consistent.
func (s *DefaultService) emit(ctx context.Context, kind changefeed.Kind, userID uint64, id string, data any) {
	if s.feed.Distributed() {
		change, err := changefeed.NewChange(changefeed.Canvases, kind, userID, id, data)
		if err != nil {
			s.log.Warn().Err(err).Str("canvas_id", id).Msg("failed to encode canvas change")
		} else {
			s.index.Apply(change)
		}
	}
	s.feed.Emit(ctx, changefeed.Canvases, kind, userID, id, data)
}

// bump makes every cached canvas listing of the user stale.
func (s *DefaultService) bump(ctx context.Context, userID uint64) {
	if err := s.cache.IncrementVersion(ctx, versionKey(userID)); err != nil {
		s.log.Warn().Err(err).Uint64("user_id", userID).Msg("failed to bump canvas list version")
	}
}
