package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool
	ErrStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned when the task queue has no free slot
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a named unit of work
type Task struct {
	Name string
	Fn   func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name        string
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
// Stop drains tasks that were already accepted.
type Pool struct {
	cfg    Config
	queue  chan Task
	logger *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	active    int32
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
}

// New creates and starts a worker pool
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		logger: logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("Worker pool started",
		zap.String("name", cfg.Name),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(id, task)
	}
}

func (p *Pool) run(workerID int, task Task) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	start := time.Now()
	err := p.safeRun(task)

	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.cfg.Name),
			zap.Int("worker_id", workerID),
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	ctx := context.Background()
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}
	return task.Fn(ctx)
}

// Submit enqueues a task without blocking
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		atomic.AddUint64(&p.rejected, 1)
		return ErrStopped
	}

	select {
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	default:
		atomic.AddUint64(&p.rejected, 1)
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for accepted tasks to finish or ctx to expire
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", zap.String("name", p.cfg.Name))
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out",
			zap.String("name", p.cfg.Name),
			zap.Int("queued", len(p.queue)))
		return ctx.Err()
	}
}

// Stats returns current worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.cfg.Name,
		Workers:   p.cfg.Workers,
		Active:    int(atomic.LoadInt32(&p.active)),
		Queued:    len(p.queue),
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}
