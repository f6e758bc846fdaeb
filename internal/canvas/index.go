package canvas

import (
	"context"
	"sort"
	"sync"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"

	"github.com/rs/zerolog"
)

type userIndex struct {
	canvases map[string]domain.CanvasSummary
	children map[string]map[string]struct{}
}

func newUserIndex() *userIndex {
	return &userIndex{
		canvases: make(map[string]domain.CanvasSummary),
		children: make(map[string]map[string]struct{}),
	}
}

func (u *userIndex) put(s domain.CanvasSummary) {
	if old, ok := u.canvases[s.ID]; ok {
		u.unlink(old)
	}
	u.canvases[s.ID] = s
	if s.ParentCanvasID != nil && *s.ParentCanvasID != "" {
		parent := *s.ParentCanvasID
		if u.children[parent] == nil {
			u.children[parent] = make(map[string]struct{})
		}
		u.children[parent][s.ID] = struct{}{}
	}
}

func (u *userIndex) remove(id string) {
	old, ok := u.canvases[id]
	if !ok {
		return
	}
	u.unlink(old)
	delete(u.canvases, id)
}

func (u *userIndex) unlink(s domain.CanvasSummary) {
	if s.ParentCanvasID == nil {
		return
	}
	parent := *s.ParentCanvasID
	delete(u.children[parent], s.ID)
	if len(u.children[parent]) == 0 {
		delete(u.children, parent)
	}
}

// Index is a per-user view of canvas summaries plus a parent to children
// index derived from the parent back-references. A user's view is loaded
// from the repository on first use and then kept current from change feed
// deltas. Applying the same delta twice leaves the same state.
type Index struct {
	repo Repository
	log  zerolog.Logger

	mu      sync.RWMutex
	users   map[uint64]*userIndex
	loading map[uint64]*pendingLoad
}

// pendingLoad buffers deltas that arrive while a user's view is read from
// the repository. They are replayed on top of the loaded state.
type pendingLoad struct {
	loaders int
	changes []changefeed.Change
}

func NewIndex(repo Repository, log zerolog.Logger) *Index {
	return &Index{
		repo:    repo,
		log:     log,
		users:   make(map[uint64]*userIndex),
		loading: make(map[uint64]*pendingLoad),
	}
}

// Attach subscribes the index to canvas deltas of feed.
func (x *Index) Attach(feed *changefeed.Feed) func() {
	return feed.Subscribe(x.Apply)
}

// Apply folds one change into the index. Changes for users whose view was
// never loaded are ignored; the load reads the current state anyway.
func (x *Index) Apply(change changefeed.Change) {
	if change.Collection != changefeed.Canvases {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if u, ok := x.users[change.UserID]; ok {
		x.apply(u, change)
		return
	}
	if p, ok := x.loading[change.UserID]; ok {
		p.changes = append(p.changes, change)
	}
}

func (x *Index) apply(u *userIndex, change changefeed.Change) {
	switch change.Kind {
	case changefeed.Added, changefeed.Modified:
		var s domain.CanvasSummary
		if err := change.Decode(&s); err != nil {
			x.log.Warn().Err(err).Str("canvas_id", change.DocumentID).Msg("dropping undecodable canvas change")
			return
		}
		if s.ID == "" {
			s.ID = change.DocumentID
		}
		u.put(s)
	case changefeed.Removed:
		u.remove(change.DocumentID)
	}
}

func (x *Index) loaded(userID uint64) (*userIndex, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	u, ok := x.users[userID]
	return u, ok
}

func (x *Index) load(ctx context.Context, userID uint64) (*userIndex, error) {
	if u, ok := x.loaded(userID); ok {
		return u, nil
	}

	x.mu.Lock()
	if u, ok := x.users[userID]; ok {
		x.mu.Unlock()
		return u, nil
	}
	p, ok := x.loading[userID]
	if !ok {
		p = &pendingLoad{}
		x.loading[userID] = p
	}
	p.loaders++
	x.mu.Unlock()

	list, err := x.repo.ListSummaries(ctx, userID)

	x.mu.Lock()
	defer x.mu.Unlock()
	p.loaders--
	if p.loaders == 0 && x.loading[userID] == p {
		delete(x.loading, userID)
	}
	if err != nil {
		return nil, err
	}
	if u, ok := x.users[userID]; ok {
		return u, nil
	}

	u := newUserIndex()
	for _, s := range list {
		u.put(s)
	}
	// a buffered delta may predate the read; replaying it is still safe
	// since deltas carry whole summaries
	for _, change := range p.changes {
		x.apply(u, change)
	}
	x.users[userID] = u
	return u, nil
}

// UserCanvases returns every canvas of the user, oldest id first.
func (x *Index) UserCanvases(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error) {
	u, err := x.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	out := make([]domain.CanvasSummary, 0, len(u.canvases))
	for _, s := range u.canvases {
		out = append(out, s)
	}
	x.mu.RUnlock()

	sortSummaries(out)
	return out, nil
}

// Children lists the direct children of parentID. A user without a loaded
// view is answered straight from the repository.
func (x *Index) Children(ctx context.Context, userID uint64, parentID string) ([]domain.CanvasSummary, error) {
	u, ok := x.loaded(userID)
	if !ok {
		return x.repo.ListChildren(ctx, userID, parentID)
	}

	x.mu.RLock()
	out := make([]domain.CanvasSummary, 0, len(u.children[parentID]))
	for id := range u.children[parentID] {
		if s, ok := u.canvases[id]; ok {
			out = append(out, s)
		}
	}
	x.mu.RUnlock()

	sortSummaries(out)
	return out, nil
}

func (x *Index) Summary(ctx context.Context, userID uint64, id string) (domain.CanvasSummary, bool, error) {
	u, err := x.load(ctx, userID)
	if err != nil {
		return domain.CanvasSummary{}, false, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := u.canvases[id]
	return s, ok, nil
}

// MissingCanvases returns the ids that are no longer stored for the user.
// When storage holds an id the view has not seen, the view is dropped so
// the next read reloads it.
func (x *Index) MissingCanvases(ctx context.Context, userID uint64, ids []string) ([]string, error) {
	existing, err := x.repo.ExistingIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		stored[id] = struct{}{}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}

	if u, ok := x.loaded(userID); ok {
		x.mu.RLock()
		behind := false
		for id := range stored {
			if _, ok := u.canvases[id]; !ok {
				behind = true
				break
			}
		}
		x.mu.RUnlock()
		if behind {
			x.log.Debug().Uint64("user_id", userID).Msg("canvas view is behind storage, reloading")
			x.Forget(userID)
		}
	}
	return missing, nil
}

// Forget drops a user's view so the next read reloads it.
func (x *Index) Forget(userID uint64) {
	x.mu.Lock()
	delete(x.users, userID)
	x.mu.Unlock()
}

// uuid v7 ids sort by creation time.
func sortSummaries(list []domain.CanvasSummary) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
