package folder

import (
	"context"
	defErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Service interface {
	EnsureRoot(ctx context.Context, userID uint64) (*domain.Folder, error)
	ListFolders(ctx context.Context, userID uint64) ([]domain.Folder, error)
	CreateFolder(ctx context.Context, userID uint64, name string, parentID *string) (*domain.Folder, error)
	DeleteFolder(ctx context.Context, userID uint64, id string) error
	RegisterCanvas(ctx context.Context, userID uint64, folderID string, entry domain.FolderCanvas) error
	MoveCanvas(ctx context.Context, userID uint64, canvasID, folderID string) error
	RemoveCanvas(ctx context.Context, userID uint64, canvasID string) error
	Sweep(ctx context.Context, userID uint64) (*SweepResult, error)
}

// CanvasLister returns every canvas a user owns.
// CanvasLister is the live view of a user's canvases. The view may lag
// behind writes, so MissingCanvases answers from storage which of ids are
// really gone.
type CanvasLister interface {
	UserCanvases(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error)
	MissingCanvases(ctx context.Context, userID uint64, ids []string) ([]string, error)
}

// SweepResult counts what a sweep repaired.
type SweepResult struct {
	Filed        int `json:"filed"`
	Deduplicated int `json:"deduplicated"`
	Pruned       int `json:"pruned"`
	Renamed      int `json:"renamed"`
}

func (r SweepResult) Changed() bool {
	return r.Filed+r.Deduplicated+r.Pruned+r.Renamed > 0
}

type DefaultService struct {
	repository Repository
	canvases   CanvasLister
	feed       *changefeed.Feed
	log        zerolog.Logger

	// rootLocks serialises root creation per user.
	rootLocks sync.Map
}

func NewService(repository Repository, canvases CanvasLister, feed *changefeed.Feed, log zerolog.Logger) *DefaultService {
	return &DefaultService{
		repository: repository,
		canvases:   canvases,
		feed:       feed,
		log:        log,
	}
}

func findRoot(folders []domain.Folder) *domain.Folder {
	var root *domain.Folder
	for i := range folders {
		if folders[i].IsRoot() && (root == nil || folders[i].CreatedAt.Before(root.CreatedAt)) {
			root = &folders[i]
		}
	}
	return root
}

func rootOf(folders map[string]*domain.Folder) *domain.Folder {
	var root *domain.Folder
	for _, f := range folders {
		if f.IsRoot() && (root == nil || f.CreatedAt.Before(root.CreatedAt) ||
			(f.CreatedAt.Equal(root.CreatedAt) && f.ID < root.ID)) {
			root = f
		}
	}
	return root
}

// EnsureRoot returns the user's root folder, creating it on first use.
func (s *DefaultService) EnsureRoot(ctx context.Context, userID uint64) (*domain.Folder, error) {
	lock, _ := s.rootLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	folders, err := s.repository.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	if root := findRoot(folders); root != nil {
		return root, nil
	}

	root := &domain.Folder{
		ID:       domain.NewID(),
		UserID:   userID,
		Name:     domain.RootFolderName,
		Canvases: map[string]domain.FolderCanvas{},
	}
	if err := s.repository.Create(ctx, root); err != nil {
		return nil, fmt.Errorf("create root folder: %w", err)
	}

	s.feed.Emit(ctx, changefeed.Folders, changefeed.Added, userID, root.ID, root)
	return root, nil
}

func (s *DefaultService) ListFolders(ctx context.Context, userID uint64) ([]domain.Folder, error) {
	if _, err := s.EnsureRoot(ctx, userID); err != nil {
		return nil, err
	}
	return s.repository.ListByUserID(ctx, userID)
}

func (s *DefaultService) CreateFolder(ctx context.Context, userID uint64, name string, parentID *string) (*domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.BadRequest("Folder name is required", nil)
	}

	root, err := s.EnsureRoot(ctx, userID)
	if err != nil {
		return nil, err
	}

	parent := root.ID
	if parentID != nil && *parentID != "" {
		folders, err := s.repository.ListByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		found := false
		for _, f := range folders {
			if f.ID == *parentID {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.NotFound("Parent folder not found", nil)
		}
		parent = *parentID
	}

	f := &domain.Folder{
		ID:       domain.NewID(),
		UserID:   userID,
		Name:     name,
		ParentID: &parent,
		Canvases: map[string]domain.FolderCanvas{},
	}
	if err := s.repository.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}

	s.feed.Emit(ctx, changefeed.Folders, changefeed.Added, userID, f.ID, f)
	return f, nil
}

// DeleteFolder removes a non-root folder. Its canvases and sub-folders move
// to its parent.
func (s *DefaultService) DeleteFolder(ctx context.Context, userID uint64, id string) error {
	if _, err := s.EnsureRoot(ctx, userID); err != nil {
		return err
	}

	_, err := s.update(ctx, userID, func(folders map[string]*domain.Folder) ([]string, error) {
		target, ok := folders[id]
		if !ok {
			return nil, errors.NotFound("Folder not found", nil)
		}
		root := rootOf(folders)
		if target == root {
			return nil, errors.BadRequest("The root folder cannot be deleted", nil)
		}

		heir := root
		if target.ParentID != nil {
			if p, ok := folders[*target.ParentID]; ok {
				heir = p
			}
		}

		changed := []string{heir.ID}
		for cid, entry := range target.Canvases {
			heir.Canvases[cid] = entry
		}
		target.Canvases = map[string]domain.FolderCanvas{}

		for _, f := range folders {
			if f.ParentID != nil && *f.ParentID == id {
				heirID := heir.ID
				f.ParentID = &heirID
				changed = append(changed, f.ID)
			}
		}
		return changed, nil
	})
	if err != nil {
		return err
	}

	if err := s.repository.Delete(ctx, userID, id); err != nil {
		if defErrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Folder not found", err)
		}
		return fmt.Errorf("delete folder: %w", err)
	}

	s.feed.Emit(ctx, changefeed.Folders, changefeed.Removed, userID, id, nil)
	return nil
}

// fileInto places entry in target and removes it from every other folder,
// so a canvas is never listed twice. It returns the changed folder ids.
func fileInto(folders map[string]*domain.Folder, target *domain.Folder, entry domain.FolderCanvas) []string {
	var changed []string
	for _, f := range folders {
		if f.ID == target.ID {
			continue
		}
		if _, ok := f.Canvases[entry.ID]; ok {
			delete(f.Canvases, entry.ID)
			changed = append(changed, f.ID)
		}
	}
	if existing, ok := target.Canvases[entry.ID]; !ok || existing != entry {
		target.Canvases[entry.ID] = entry
		changed = append(changed, target.ID)
	}
	return changed
}

// RegisterCanvas files a canvas into folderID, or into the root folder when
// folderID is empty.
func (s *DefaultService) RegisterCanvas(ctx context.Context, userID uint64, folderID string, entry domain.FolderCanvas) error {
	root, err := s.EnsureRoot(ctx, userID)
	if err != nil {
		return err
	}
	if folderID == "" {
		folderID = root.ID
	}

	_, err = s.update(ctx, userID, func(folders map[string]*domain.Folder) ([]string, error) {
		target, ok := folders[folderID]
		if !ok {
			return nil, errors.NotFound("Folder not found", nil)
		}
		return fileInto(folders, target, entry), nil
	})
	return err
}

func (s *DefaultService) MoveCanvas(ctx context.Context, userID uint64, canvasID, folderID string) error {
	if _, err := s.EnsureRoot(ctx, userID); err != nil {
		return err
	}

	entry, err := s.lookupCanvas(ctx, userID, canvasID)
	if err != nil {
		return err
	}

	_, err = s.update(ctx, userID, func(folders map[string]*domain.Folder) ([]string, error) {
		target, ok := folders[folderID]
		if !ok {
			return nil, errors.NotFound("Folder not found", nil)
		}
		return fileInto(folders, target, entry), nil
	})
	return err
}

func (s *DefaultService) lookupCanvas(ctx context.Context, userID uint64, canvasID string) (domain.FolderCanvas, error) {
	canvases, err := s.canvases.UserCanvases(ctx, userID)
	if err != nil {
		return domain.FolderCanvas{}, fmt.Errorf("list canvases: %w", err)
	}
	for _, c := range canvases {
		if c.ID == canvasID {
			return domain.FolderCanvas{ID: c.ID, Name: c.Name, CanvasTypeID: c.CanvasTypeID}, nil
		}
	}
	return domain.FolderCanvas{}, errors.NotFound("Canvas not found", nil)
}

func (s *DefaultService) RemoveCanvas(ctx context.Context, userID uint64, canvasID string) error {
	_, err := s.update(ctx, userID, func(folders map[string]*domain.Folder) ([]string, error) {
		var changed []string
		for _, f := range folders {
			if _, ok := f.Canvases[canvasID]; ok {
				delete(f.Canvases, canvasID)
				changed = append(changed, f.ID)
			}
		}
		return changed, nil
	})
	return err
}

// Sweep repairs folder membership against the user's canvases: unfiled
// canvases go to root, a canvas listed in several folders keeps only one
// entry, entries of deleted canvases are dropped and stale names refreshed.
// Running it twice in a row changes nothing the second time.
func (s *DefaultService) Sweep(ctx context.Context, userID uint64) (*SweepResult, error) {
	if _, err := s.EnsureRoot(ctx, userID); err != nil {
		return nil, err
	}

	canvases, err := s.canvases.UserCanvases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	live := make(map[string]domain.CanvasSummary, len(canvases))
	for _, c := range canvases {
		live[c.ID] = c
	}

	gone, err := s.deletedEntries(ctx, userID, live)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	_, err = s.update(ctx, userID, func(folders map[string]*domain.Folder) ([]string, error) {
		root := rootOf(folders)
		changed := map[string]bool{}

		// deterministic order: root first, then by id
		ordered := make([]*domain.Folder, 0, len(folders))
		for _, f := range folders {
			ordered = append(ordered, f)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if (ordered[i] == root) != (ordered[j] == root) {
				return ordered[i] == root
			}
			return ordered[i].ID < ordered[j].ID
		})

		// a canvas in several folders stays in the last non-root one
		owner := make(map[string]*domain.Folder)
		for _, f := range ordered {
			for cid := range f.Canvases {
				if gone[cid] {
					delete(f.Canvases, cid)
					changed[f.ID] = true
					result.Pruned++
					continue
				}
				if prev, ok := owner[cid]; ok {
					delete(prev.Canvases, cid)
					changed[prev.ID] = true
					result.Deduplicated++
				}
				owner[cid] = f
			}
		}

		for _, c := range canvases {
			want := domain.FolderCanvas{ID: c.ID, Name: c.Name, CanvasTypeID: c.CanvasTypeID}
			f, ok := owner[c.ID]
			if !ok {
				root.Canvases[c.ID] = want
				changed[root.ID] = true
				result.Filed++
				continue
			}
			if f.Canvases[c.ID] != want {
				f.Canvases[c.ID] = want
				changed[f.ID] = true
				result.Renamed++
			}
		}

		ids := make([]string, 0, len(changed))
		for id := range changed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed() {
		s.log.Info().Uint64("user_id", userID).
			Int("filed", result.Filed).
			Int("deduplicated", result.Deduplicated).
			Int("pruned", result.Pruned).
			Msg("folder sweep repaired membership")
	}
	return result, nil
}

// deletedEntries returns the filed canvases that storage confirms deleted.
// Entries the live view merely has not caught up with are kept.
func (s *DefaultService) deletedEntries(ctx context.Context, userID uint64, live map[string]domain.CanvasSummary) (map[string]bool, error) {
	folders, err := s.repository.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	var unknown []string
	seen := map[string]bool{}
	for _, f := range folders {
		for cid := range f.Canvases {
			if _, ok := live[cid]; !ok && !seen[cid] {
				seen[cid] = true
				unknown = append(unknown, cid)
			}
		}
	}
	if len(unknown) == 0 {
		return map[string]bool{}, nil
	}

	sort.Strings(unknown)
	missing, err := s.canvases.MissingCanvases(ctx, userID, unknown)
	if err != nil {
		return nil, fmt.Errorf("check filed canvases: %w", err)
	}

	gone := make(map[string]bool, len(missing))
	for _, id := range missing {
		gone[id] = true
	}
	return gone, nil
}

func (s *DefaultService) update(ctx context.Context, userID uint64, mutate Mutation) ([]domain.Folder, error) {
	changed, err := s.repository.Update(ctx, userID, mutate)
	if err != nil {
		var apiErr *errors.APIError
		if defErrors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("update folders: %w", err)
	}

	for i := range changed {
		s.feed.Emit(ctx, changefeed.Folders, changefeed.Modified, userID, changed[i].ID, changed[i])
	}
	return changed, nil
}
