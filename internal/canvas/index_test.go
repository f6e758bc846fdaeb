package canvas

import (
	"context"
	"testing"
	"time"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryChange(t *testing.T, kind changefeed.Kind, s domain.CanvasSummary) changefeed.Change {
	t.Helper()
	change, err := changefeed.NewChange(changefeed.Canvases, kind, s.UserID, s.ID, s)
	require.NoError(t, err)
	return change
}

func TestIndex_AppliesDeltasIdempotently(t *testing.T) {
	repo := newMemoryRepository()
	index := NewIndex(repo, zerolog.Nop())
	ctx := context.Background()

	// load the empty view first so deltas are applied
	all, err := index.UserCanvases(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, all)

	parent := "p1"
	child := domain.CanvasSummary{ID: "c1", UserID: testUser, Name: "Child", ParentCanvasID: &parent}
	root := domain.CanvasSummary{ID: "p1", UserID: testUser, Name: "Root"}

	for i := 0; i < 2; i++ {
		index.Apply(summaryChange(t, changefeed.Added, root))
		index.Apply(summaryChange(t, changefeed.Added, child))
	}

	children, err := index.Children(ctx, testUser, "p1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "c1", children[0].ID)

	all, err = index.UserCanvases(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed := changefeed.Change{Collection: changefeed.Canvases, Kind: changefeed.Removed, UserID: testUser, DocumentID: "c1"}
	index.Apply(removed)
	index.Apply(removed)

	children, err = index.Children(ctx, testUser, "p1")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestIndex_IgnoresOtherCollectionsAndUnloadedUsers(t *testing.T) {
	repo := newMemoryRepository()
	index := NewIndex(repo, zerolog.Nop())
	ctx := context.Background()

	index.Apply(summaryChange(t, changefeed.Added, domain.CanvasSummary{ID: "c1", UserID: testUser}))

	folderChange := changefeed.Change{Collection: changefeed.Folders, Kind: changefeed.Added, UserID: testUser, DocumentID: "f1", Data: []byte(`{}`)}
	index.Apply(folderChange)

	all, err := index.UserCanvases(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIndex_BootstrapsFromRepository(t *testing.T) {
	repo := newMemoryRepository()
	parent := "root"
	repo.put(&domain.Canvas{ID: "root", UserID: testUser, Name: "Root"})
	repo.put(&domain.Canvas{ID: "kid", UserID: testUser, Name: "Kid", ParentCanvasID: &parent})
	repo.put(&domain.Canvas{ID: "other", UserID: testUser + 1, Name: "Other"})

	index := NewIndex(repo, zerolog.Nop())

	children, err := index.Children(context.Background(), testUser, "root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "kid", children[0].ID)

	// children of an unloaded user come straight from the repository
	_, loaded := index.loaded(testUser)
	assert.False(t, loaded)

	s, ok, err := index.Summary(context.Background(), testUser, "other")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.ID)

	index.Forget(testUser)
	all, err := index.UserCanvases(context.Background(), testUser)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// slowRepository holds ListSummaries open after reading so deltas can land
// while the view is loading.
type slowRepository struct {
	*memoryRepository
	reading chan struct{}
	release chan struct{}
}

func (r *slowRepository) ListSummaries(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error) {
	list, err := r.memoryRepository.ListSummaries(ctx, userID)
	close(r.reading)
	<-r.release
	return list, err
}

func TestIndex_KeepsDeltasThatArriveWhileLoading(t *testing.T) {
	repo := &slowRepository{
		memoryRepository: newMemoryRepository(),
		reading:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	repo.put(&domain.Canvas{ID: "c1", UserID: testUser, Name: "First"})
	index := NewIndex(repo, zerolog.Nop())

	done := make(chan []domain.CanvasSummary)
	go func() {
		all, err := index.UserCanvases(context.Background(), testUser)
		assert.NoError(t, err)
		done <- all
	}()

	<-repo.reading
	index.Apply(summaryChange(t, changefeed.Added, domain.CanvasSummary{ID: "c2", UserID: testUser, Name: "Second"}))
	index.Apply(changefeed.Change{Collection: changefeed.Canvases, Kind: changefeed.Removed, UserID: testUser, DocumentID: "c1"})
	close(repo.release)

	select {
	case all := <-done:
		require.Len(t, all, 1)
		assert.Equal(t, "c2", all[0].ID)
	case <-time.After(time.Second):
		t.Fatal("load did not finish")
	}
	assert.Empty(t, index.loading)
}

func TestIndex_MissingCanvasesAnswersFromStorage(t *testing.T) {
	repo := newMemoryRepository()
	repo.put(&domain.Canvas{ID: "c1", UserID: testUser, Name: "First"})
	index := NewIndex(repo, zerolog.Nop())
	ctx := context.Background()

	all, err := index.UserCanvases(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, all, 1)

	// stored without a delta reaching this index
	repo.put(&domain.Canvas{ID: "c2", UserID: testUser, Name: "Second"})

	missing, err := index.MissingCanvases(ctx, testUser, []string{"c1", "c2", "gone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, missing)

	// the stale view was dropped and reloads with c2
	all, err = index.UserCanvases(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
