package catalog

import (
	"context"
	"sort"
	"sync"

	"cavvy/internal/domain"

	"gorm.io/gorm"
)

// memoryRepository is an in-memory Repository used by the service tests.
type memoryRepository struct {
	mu     sync.Mutex
	types  map[uint64]map[string]domain.CanvasType
	agents map[uint64]map[string]domain.AIAgent
	writes int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		types:  make(map[uint64]map[string]domain.CanvasType),
		agents: make(map[uint64]map[string]domain.AIAgent),
	}
}

func (r *memoryRepository) ListTypes(_ context.Context, ownerID uint64) ([]domain.CanvasType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CanvasType, 0, len(r.types[ownerID]))
	for _, t := range r.types[ownerID] {
		t.UserID = ownerID
		t.IsCustom = ownerID != SharedOwner
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) SaveType(_ context.Context, ownerID uint64, t *domain.CanvasType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types[ownerID] == nil {
		r.types[ownerID] = make(map[string]domain.CanvasType)
	}
	r.types[ownerID][t.ID] = *t
	r.writes++
	return nil
}

func (r *memoryRepository) DeleteType(_ context.Context, ownerID uint64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[ownerID][id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.types[ownerID], id)
	r.writes++
	return nil
}

func (r *memoryRepository) CountTypes(_ context.Context, ownerID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.types[ownerID])), nil
}

func (r *memoryRepository) ListAgents(_ context.Context, ownerID uint64) ([]domain.AIAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AIAgent, 0, len(r.agents[ownerID]))
	for _, a := range r.agents[ownerID] {
		a.UserID = ownerID
		a.IsCustom = ownerID != SharedOwner
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) SaveAgent(_ context.Context, ownerID uint64, a *domain.AIAgent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agents[ownerID] == nil {
		r.agents[ownerID] = make(map[string]domain.AIAgent)
	}
	r.agents[ownerID][a.ID] = *a
	r.writes++
	return nil
}

func (r *memoryRepository) DeleteAgent(_ context.Context, ownerID uint64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[ownerID][id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.agents[ownerID], id)
	r.writes++
	return nil
}

func (r *memoryRepository) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
