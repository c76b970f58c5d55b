// Package workerpool runs tasks on a fixed set of goroutines fed by a bounded queue.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context
}

// WorkerPool manages a bounded pool of goroutines for executing tasks.
// Every accepted task runs exactly once; tasks still queued when Stop is
// called run with a cancelled context.
type WorkerPool struct {
	name       string
	maxWorkers int
	taskQueue  chan Task
	logger     *zap.Logger
	wg         sync.WaitGroup

	// stopMu orders Submit against Stop so nothing is queued after the drain
	stopMu   sync.RWMutex
	stopped  bool
	stopChan chan struct{}

	// drainCtx is handed to tasks that were queued when the pool stopped
	drainCtx context.Context

	activeWorkers  atomic.Int32
	submitted      atomic.Uint64
	completedTasks atomic.Uint64
	failedTasks    atomic.Uint64
	rejectedTasks  atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool creates a worker pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, queueSize),
		logger:     logger,
		stopChan:   make(chan struct{}),
		drainCtx:   drainCtx,
	}

	pool.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go pool.worker(i)
	}

	logger.Debug("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", maxWorkers),
		zap.Int("queue_size", queueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			p.drain(id)
			return
		default:
		}

		select {
		case task := <-p.taskQueue:
			p.execute(id, task)
		case <-p.stopChan:
			p.drain(id)
			return
		}
	}
}

// drain runs whatever is left in the queue with a cancelled context
func (p *WorkerPool) drain(id int) {
	for {
		select {
		case task := <-p.taskQueue:
			task.Context = p.drainCtx
			p.execute(id, task)
		default:
			return
		}
	}
}

func (p *WorkerPool) execute(workerID int, task Task) {
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)

	start := time.Now()
	if err := p.run(task); err != nil {
		p.failedTasks.Add(1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completedTasks.Add(1)
}

// run converts a panicking task into an error
func (p *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return task.Fn(ctx)
}

// Submit queues a task without blocking. It fails if the queue is full or
// the pool is stopped; the task then never runs.
func (p *WorkerPool) Submit(task Task) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()

	if p.stopped {
		p.rejectedTasks.Add(1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	}

	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejectedTasks.Add(1)
		return fmt.Errorf("worker pool '%s' queue is full", p.name)
	}
}

// Stop refuses new tasks, lets the workers drain the queue and waits up to
// timeout for them to exit
func (p *WorkerPool) Stop(timeout time.Duration) error {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopChan)
	p.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("Worker pool stopped", zap.String("name", p.name))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
	}
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(p.activeWorkers.Load()),
		QueuedTasks:    len(p.taskQueue),
		SubmittedTasks: p.submitted.Load(),
		CompletedTasks: p.completedTasks.Load(),
		FailedTasks:    p.failedTasks.Load(),
		RejectedTasks:  p.rejectedTasks.Load(),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueuedTasks    int
	SubmittedTasks uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}
