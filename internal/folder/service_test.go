package folder

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryRepository struct {
	mu      sync.Mutex
	folders map[string][]byte
	clock   time.Time
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{folders: make(map[string][]byte), clock: time.Unix(1700000000, 0).UTC()}
}

func (r *memoryRepository) decode(raw []byte) *domain.Folder {
	var f domain.Folder
	_ = json.Unmarshal(raw, &f)
	if f.Canvases == nil {
		f.Canvases = map[string]domain.FolderCanvas{}
	}
	return &f
}

func (r *memoryRepository) ListByUserID(_ context.Context, userID uint64) ([]domain.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Folder{}
	for _, raw := range r.folders {
		if f := r.decode(raw); f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memoryRepository) Create(_ context.Context, f *domain.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = r.clock.Add(time.Second)
	f.CreatedAt, f.UpdatedAt = r.clock, r.clock
	raw, _ := json.Marshal(f)
	r.folders[f.ID] = raw
	return nil
}

func (r *memoryRepository) Update(_ context.Context, userID uint64, mutate Mutation) ([]domain.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	folders := map[string]*domain.Folder{}
	for id, raw := range r.folders {
		if f := r.decode(raw); f.UserID == userID {
			folders[id] = f
		}
	}
	ids, err := mutate(folders)
	if err != nil {
		return nil, err
	}
	var changed []domain.Folder
	for _, id := range ids {
		raw, _ := json.Marshal(folders[id])
		r.folders[id] = raw
		changed = append(changed, *folders[id])
	}
	return changed, nil
}

func (r *memoryRepository) Delete(_ context.Context, userID uint64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.folders[id]
	if !ok || r.decode(raw).UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(r.folders, id)
	return nil
}

type stubCanvases struct {
	list []domain.CanvasSummary
	// stored but not yet visible in list
	lagging map[string]bool
}

func (s *stubCanvases) UserCanvases(context.Context, uint64) ([]domain.CanvasSummary, error) {
	return s.list, nil
}

func (s *stubCanvases) MissingCanvases(_ context.Context, _ uint64, ids []string) ([]string, error) {
	listed := map[string]bool{}
	for _, c := range s.list {
		listed[c.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !listed[id] && !s.lagging[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *stubCanvases) add(id, name string) domain.FolderCanvas {
	s.list = append(s.list, domain.CanvasSummary{ID: id, Name: name, CanvasTypeID: "swot"})
	return domain.FolderCanvas{ID: id, Name: name, CanvasTypeID: "swot"}
}

const testUser uint64 = 5

func newTestService() (*DefaultService, *memoryRepository, *stubCanvases) {
	repo := newMemoryRepository()
	canvases := &stubCanvases{}
	return NewService(repo, canvases, changefeed.New(nil, zerolog.Nop()), zerolog.Nop()), repo, canvases
}

// membership maps every filed canvas to the folders listing it.
func membership(t *testing.T, svc *DefaultService) map[string][]string {
	t.Helper()
	folders, err := svc.ListFolders(context.Background(), testUser)
	require.NoError(t, err)
	out := map[string][]string{}
	for _, f := range folders {
		for cid := range f.Canvases {
			out[cid] = append(out[cid], f.ID)
		}
	}
	return out
}

func TestEnsureRoot_CreatesSingleRoot(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EnsureRoot(ctx, testUser)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	folders, err := svc.ListFolders(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, domain.RootFolderName, folders[0].Name)
	assert.Nil(t, folders[0].ParentID)
}

func TestRegisterCanvas_DefaultsToRoot(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()

	entry := canvases.add("c1", "Root1")
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, "", entry))

	root, err := svc.EnsureRoot(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, entry, root.Canvases["c1"])
}

func TestRegisterCanvas_UnknownFolder(t *testing.T) {
	svc, _, canvases := newTestService()

	err := svc.RegisterCanvas(context.Background(), testUser, "nope", canvases.add("c1", "x"))
	assert.True(t, errors.IsNotFound(err))
}

func TestMembership_CanvasInExactlyOneFolder(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()

	projects, err := svc.CreateFolder(ctx, testUser, "Projects", nil)
	require.NoError(t, err)
	archive, err := svc.CreateFolder(ctx, testUser, "Archive", &projects.ID)
	require.NoError(t, err)

	a := canvases.add("a", "A")
	b := canvases.add("b", "B")
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, "", a))
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, projects.ID, b))
	require.NoError(t, svc.MoveCanvas(ctx, testUser, "a", projects.ID))
	require.NoError(t, svc.MoveCanvas(ctx, testUser, "a", archive.ID))
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, archive.ID, b))
	require.NoError(t, svc.MoveCanvas(ctx, testUser, "b", archive.ID))

	m := membership(t, svc)
	assert.Equal(t, []string{archive.ID}, m["a"])
	assert.Equal(t, []string{archive.ID}, m["b"])
}

func TestMoveCanvas_Errors(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()
	canvases.add("a", "A")

	err := svc.MoveCanvas(ctx, testUser, "missing", "whatever")
	assert.True(t, errors.IsNotFound(err))

	err = svc.MoveCanvas(ctx, testUser, "a", "no-such-folder")
	assert.True(t, errors.IsNotFound(err))
}

func TestRemoveCanvas(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RegisterCanvas(ctx, testUser, "", canvases.add("a", "A")))
	require.NoError(t, svc.RemoveCanvas(ctx, testUser, "a"))

	assert.Empty(t, membership(t, svc))
}

func TestCreateFolder_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateFolder(ctx, testUser, "  ", nil)
	assert.Equal(t, http.StatusBadRequest, errors.Status(err))

	missing := "missing"
	_, err = svc.CreateFolder(ctx, testUser, "Sub", &missing)
	assert.True(t, errors.IsNotFound(err))

	f, err := svc.CreateFolder(ctx, testUser, "Top", nil)
	require.NoError(t, err)
	root, _ := svc.EnsureRoot(ctx, testUser)
	require.NotNil(t, f.ParentID)
	assert.Equal(t, root.ID, *f.ParentID)
}

func TestDeleteFolder_MovesContentsToParent(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()

	projects, err := svc.CreateFolder(ctx, testUser, "Projects", nil)
	require.NoError(t, err)
	sub, err := svc.CreateFolder(ctx, testUser, "Sub", &projects.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, sub.ID, canvases.add("a", "A")))
	deeper, err := svc.CreateFolder(ctx, testUser, "Deeper", &sub.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteFolder(ctx, testUser, sub.ID))

	folders, err := svc.ListFolders(ctx, testUser)
	require.NoError(t, err)
	byID := map[string]domain.Folder{}
	for _, f := range folders {
		byID[f.ID] = f
	}
	assert.NotContains(t, byID, sub.ID)
	assert.Contains(t, byID[projects.ID].Canvases, "a")
	assert.Equal(t, projects.ID, *byID[deeper.ID].ParentID)
}

func TestDeleteFolder_RootRefused(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	root, err := svc.EnsureRoot(ctx, testUser)
	require.NoError(t, err)

	err = svc.DeleteFolder(ctx, testUser, root.ID)
	assert.Equal(t, http.StatusBadRequest, errors.Status(err))

	err = svc.DeleteFolder(ctx, testUser, "unknown")
	assert.True(t, errors.IsNotFound(err))
}

func TestSweep_RepairsAndIsIdempotent(t *testing.T) {
	svc, repo, canvases := newTestService()
	ctx := context.Background()

	projects, err := svc.CreateFolder(ctx, testUser, "Projects", nil)
	require.NoError(t, err)
	root, err := svc.EnsureRoot(ctx, testUser)
	require.NoError(t, err)

	canvases.add("unfiled", "Unfiled")
	canvases.add("twice", "Twice")
	canvases.add("renamed", "New Name")

	// corrupt membership directly: duplicate, stale and outdated entries
	_, err = repo.Update(ctx, testUser, func(folders map[string]*domain.Folder) ([]string, error) {
		folders[root.ID].Canvases["twice"] = domain.FolderCanvas{ID: "twice", Name: "Twice", CanvasTypeID: "swot"}
		folders[projects.ID].Canvases["twice"] = domain.FolderCanvas{ID: "twice", Name: "Twice", CanvasTypeID: "swot"}
		folders[projects.ID].Canvases["gone"] = domain.FolderCanvas{ID: "gone", Name: "Deleted"}
		folders[projects.ID].Canvases["renamed"] = domain.FolderCanvas{ID: "renamed", Name: "Old Name", CanvasTypeID: "swot"}
		return []string{root.ID, projects.ID}, nil
	})
	require.NoError(t, err)

	result, err := svc.Sweep(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Filed: 1, Deduplicated: 1, Pruned: 1, Renamed: 1}, *result)

	m := membership(t, svc)
	assert.Equal(t, []string{root.ID}, m["unfiled"])
	assert.Equal(t, []string{projects.ID}, m["twice"])
	assert.NotContains(t, m, "gone")
	for cid, folders := range m {
		assert.Len(t, folders, 1, cid)
	}

	again, err := svc.Sweep(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}


func TestSweep_KeepsCanvasTheViewHasNotSeenYet(t *testing.T) {
	svc, _, canvases := newTestService()
	ctx := context.Background()

	projects, err := svc.CreateFolder(ctx, testUser, "Projects", nil)
	require.NoError(t, err)

	// created and filed, but the live view has not received the change
	entry := domain.FolderCanvas{ID: "fresh", Name: "Fresh", CanvasTypeID: "swot"}
	require.NoError(t, svc.RegisterCanvas(ctx, testUser, projects.ID, entry))
	canvases.lagging = map[string]bool{"fresh": true}

	result, err := svc.Sweep(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pruned)
	assert.Equal(t, []string{projects.ID}, membership(t, svc)["fresh"])

	// once the view catches up nothing moves
	canvases.lagging = nil
	canvases.add("fresh", "Fresh")

	result, err = svc.Sweep(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Equal(t, []string{projects.ID}, membership(t, svc)["fresh"])
}
