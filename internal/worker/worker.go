package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines. Tasks are
// dropped, not blocked on, when the queue is full or the pool is closing.
type Pool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isClosing atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger
}

func NewPool(size, queueSize int, log zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}

	for range size {
		p.wg.Add(1)
		go p.startWorker()
	}

	return p
}

func (p *Pool) startWorker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("worker task panicked")
		}
	}()

	if err := task(p.ctx); err != nil {
		p.log.Warn().Err(err).Msg("worker task failed")
	}
}

// Submit queues t and reports whether it was accepted.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isClosing.Load() {
		p.log.Warn().Msg("task submitted during shutdown, dropping")
		return false
	}
	select {
	case p.taskQueue <- t:
		return true
	default:
		p.log.Warn().Msg("task queue full, dropping task")
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. If ctx
// expires first the context handed to running tasks is cancelled.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if !p.isClosing.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	close(p.taskQueue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}
