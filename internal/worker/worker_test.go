package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 10, zerolog.Nop())

	var ran atomic.Int32
	for range 5 {
		ok := p.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		assert.True(t, ok)
	}

	p.Shutdown(context.Background())
	assert.Equal(t, int32(5), ran.Load())
}

func TestPool_FailingAndPanickingTasksDoNotKillWorkers(t *testing.T) {
	p := NewPool(1, 10, zerolog.Nop())

	var ran atomic.Int32
	p.Submit(func(ctx context.Context) error { return errors.New("boom") })
	p.Submit(func(ctx context.Context) error { panic("worse") })
	p.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	p.Shutdown(context.Background())
	assert.Equal(t, int32(1), ran.Load())
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	p := NewPool(1, 1, zerolog.Nop())
	p.Shutdown(context.Background())

	assert.False(t, p.Submit(func(ctx context.Context) error { return nil }))
	// second shutdown is a no-op
	p.Shutdown(context.Background())
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1, zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.True(t, p.Submit(func(ctx context.Context) error { return nil }))
	assert.False(t, p.Submit(func(ctx context.Context) error { return nil }))

	close(release)
	p.Shutdown(context.Background())
}

func TestPool_ShutdownTimeoutCancelsTaskContext(t *testing.T) {
	p := NewPool(1, 1, zerolog.Nop())

	cancelled := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)

	select {
	case <-cancelled:
	default:
		t.Fatal("expected running task to observe cancellation")
	}
}
