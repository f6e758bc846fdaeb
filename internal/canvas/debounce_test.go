package canvas

import (
	"context"
	defErrors "errors"
	"sync"
	"testing"
	"time"

	"cavvy/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saveRecorder struct {
	mu    sync.Mutex
	saves [][]domain.SectionItem
	err   error
}

func (r *saveRecorder) save(_ context.Context, _ SectionKey, items []domain.SectionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, items)
	return r.err
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *saveRecorder) last() []domain.SectionItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

func TestDebouncer_CoalescesRapidEdits(t *testing.T) {
	rec := &saveRecorder{}
	d := NewDebouncer(30*time.Millisecond, rec.save, zerolog.Nop())
	key := SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Schedule(context.Background(), key, []domain.SectionItem{{ID: "x", Content: string(rune('a' + i))}}))
	}

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "e", rec.last()[0].Content)

	// nothing else fires later
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Zero(t, d.Status("c1").Pending)
	assert.NotNil(t, d.Status("c1").LastSavedAt)
}

func TestDebouncer_PendingIsACopy(t *testing.T) {
	rec := &saveRecorder{}
	d := NewDebouncer(time.Hour, rec.save, zerolog.Nop())
	key := SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}

	items := []domain.SectionItem{{ID: "1", Content: "draft", Dive: &domain.DiveLink{CanvasID: "k"}}}
	require.NoError(t, d.Schedule(context.Background(), key, items))
	items[0].Content = "mutated by caller"
	items[0].Dive.CanvasID = "mutated"

	pending := d.Pending(1, "c1")
	require.Contains(t, pending, "A")
	assert.Equal(t, "draft", pending["A"][0].Content)
	assert.Equal(t, "k", pending["A"][0].Dive.CanvasID)
	assert.Empty(t, d.Pending(2, "c1"))
}

func TestDebouncer_FlushWritesImmediately(t *testing.T) {
	rec := &saveRecorder{}
	d := NewDebouncer(time.Hour, rec.save, zerolog.Nop())
	key := SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}

	require.NoError(t, d.Schedule(context.Background(), key, []domain.SectionItem{{ID: "1"}}))
	require.NoError(t, d.Flush(context.Background(), key))
	assert.Equal(t, 1, rec.count())

	// flushing with nothing pending is a no-op
	require.NoError(t, d.Flush(context.Background(), key))
	assert.Equal(t, 1, rec.count())
}

func TestDebouncer_ErrorRecordedInStatus(t *testing.T) {
	rec := &saveRecorder{err: defErrors.New("disk full")}
	d := NewDebouncer(10*time.Millisecond, rec.save, zerolog.Nop())

	require.NoError(t, d.Schedule(context.Background(), SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}, nil))

	assert.Eventually(t, func() bool { return d.Status("c1").LastError == "disk full" }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_ZeroDelayWritesSynchronously(t *testing.T) {
	rec := &saveRecorder{err: defErrors.New("boom")}
	d := NewDebouncer(0, rec.save, zerolog.Nop())

	err := d.Schedule(context.Background(), SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}, nil)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, rec.count())
}

func TestDebouncer_DiscardDropsPending(t *testing.T) {
	rec := &saveRecorder{}
	d := NewDebouncer(20*time.Millisecond, rec.save, zerolog.Nop())

	require.NoError(t, d.Schedule(context.Background(), SectionKey{UserID: 1, CanvasID: "c1", Section: "A"}, nil))
	d.Discard(1, "c1")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Empty(t, d.Pending(1, "c1"))
}
