package canvas

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cavvy/internal/domain"
	"cavvy/internal/utils"

	"gorm.io/gorm"
)

// memoryRepository stores canvases as JSON so tests never share nested
// state with the service.
type memoryRepository struct {
	mu       sync.Mutex
	canvases map[string][]byte
	failNext error
	updates  int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{canvases: make(map[string][]byte)}
}

func (r *memoryRepository) put(c *domain.Canvas) {
	raw, _ := json.Marshal(c)
	r.canvases[c.ID] = raw
}

func (r *memoryRepository) get(id string) (*domain.Canvas, bool) {
	raw, ok := r.canvases[id]
	if !ok {
		return nil, false
	}
	var c domain.Canvas
	_ = json.Unmarshal(raw, &c)
	return &c, true
}

func (r *memoryRepository) Create(_ context.Context, c *domain.Canvas) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.put(c)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, userID uint64, id string) (*domain.Canvas, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.get(id)
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *memoryRepository) all(userID uint64) []domain.CanvasSummary {
	out := []domain.CanvasSummary{}
	for id := range r.canvases {
		c, _ := r.get(id)
		if c.UserID == userID {
			out = append(out, c.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepository) ListByUserID(_ context.Context, userID uint64, page, pageSize int) ([]domain.CanvasSummary, utils.PageMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.all(userID)
	start := utils.Offset(page, pageSize)
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], utils.NewPageMeta(int64(len(all)), page, pageSize), nil
}

func (r *memoryRepository) ListSummaries(_ context.Context, userID uint64) ([]domain.CanvasSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all(userID), nil
}

func (r *memoryRepository) ListChildren(_ context.Context, userID uint64, parentID string) ([]domain.CanvasSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.CanvasSummary{}
	for _, s := range r.all(userID) {
		if s.ParentCanvasID != nil && *s.ParentCanvasID == parentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepository) ExistingIDs(_ context.Context, userID uint64, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range ids {
		if c, ok := r.get(id); ok && c.UserID == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memoryRepository) Update(_ context.Context, userID uint64, id string, mutate Mutation) (*domain.Canvas, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.get(id)
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	parent := c.ParentCanvasID
	if err := mutate(c); err != nil {
		return nil, err
	}
	c.ParentCanvasID = parent
	c.UpdatedAt = time.Now().UTC()
	r.put(c)
	r.updates++
	out, _ := r.get(id)
	return out, nil
}

func (r *memoryRepository) Delete(_ context.Context, userID uint64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.get(id)
	if !ok || c.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(r.canvases, id)
	return nil
}

func (r *memoryRepository) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// recordingFolders is a FolderIndex that remembers where canvases were filed.
type recordingFolders struct {
	mu      sync.Mutex
	filed   map[string]string
	failErr error
}

func newRecordingFolders() *recordingFolders {
	return &recordingFolders{filed: make(map[string]string)}
}

func (f *recordingFolders) RegisterCanvas(_ context.Context, _ uint64, folderID string, entry domain.FolderCanvas) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if folderID == "" {
		folderID = domain.RootFolderName
	}
	f.filed[entry.ID] = folderID
	return nil
}

func (f *recordingFolders) RemoveCanvas(_ context.Context, _ uint64, canvasID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.filed, canvasID)
	return nil
}

func (f *recordingFolders) folderOf(canvasID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.filed[canvasID]
	return id, ok
}
