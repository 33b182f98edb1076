// Package queue runs task work on a bounded pool of background workers.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// PanicHandler receives the task ID and a bounded stack excerpt when a
// worker recovers a panic. Typically marks the task failed.
type PanicHandler func(taskID, message string)

// maxStackExcerpt bounds the stack carried into the task error.
const maxStackExcerpt = 4096

type job struct {
	taskID string
	run    func(ctx context.Context)
}

// Pool manages task workers. Each submitted task runs to completion or
// suspension on one worker; Stop waits for in-flight work.
type Pool struct {
	workerCount int
	jobs        chan job
	onPanic     PanicHandler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Active-task cancel registry: task_id → cancel function.
	mu     sync.Mutex
	active map[string]context.CancelFunc

	started bool
}

// NewPool creates a Pool. queueCapacity bounds Submit; a full queue is a
// client-visible error rather than a blocked caller.
func NewPool(workerCount, queueCapacity int, onPanic PanicHandler) *Pool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	return &Pool{
		workerCount: workerCount,
		jobs:        make(chan job, queueCapacity),
		onPanic:     onPanic,
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	slog.Info("Starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit enqueues task work. Returns an error when the queue is full or
// the pool is stopping.
func (p *Pool) Submit(taskID string, run func(ctx context.Context)) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("worker pool is stopping")
	default:
	}
	select {
	case p.jobs <- job{taskID: taskID, run: run}:
		return nil
	default:
		return fmt.Errorf("worker queue is full (%d pending)", cap(p.jobs))
	}
}

// Cancel cancels the context of an actively running task. Returns true
// when the task was running on a worker.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Stop signals workers to drain and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.runJob(ctx, j)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, j job) {
	jobCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.active[j.taskID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, j.taskID)
		p.mu.Unlock()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, maxStackExcerpt)
			n := runtime.Stack(buf, false)
			msg := fmt.Sprintf("panic: %v\n%s", r, buf[:n])
			slog.Error("Worker recovered panic", "task_id", j.taskID, "panic", r)
			if p.onPanic != nil {
				p.onPanic(j.taskID, msg)
			}
		}
	}()
	j.run(jobCtx)
}
