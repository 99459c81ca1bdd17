// Package pool runs tasks on a fixed set of workers fed by a bounded FIFO
// queue. Submission never blocks: a full queue is reported immediately.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"corral/internal/metrics"
	"corral/internal/status"
)

var (
	// ErrQueueSaturated is returned by Submit when the queue is full.
	ErrQueueSaturated = errors.New("queue saturated")
	// ErrClosed is returned by Submit after shutdown has begun.
	ErrClosed = errors.New("pool closed")
	// ErrDiscarded resolves futures whose tasks were dropped by ShutdownNow.
	ErrDiscarded = errors.New("task discarded")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Task is a unit of work. ctx is the pool's context, cancelled only when a
// graceful shutdown runs out of time.
type Task func(ctx context.Context) status.Status

// Config sizes the pool.
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queueSize"`
	Queued    int    `json:"queued"`
	Busy      int    `json:"busy"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Discarded uint64 `json:"discarded"`
	Closed    bool   `json:"closed"`
}

// Future is the pending result of a submitted task.
type Future struct {
	done chan struct{}
	st   status.Status
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(st status.Status, err error) {
	f.st, f.err = st, err
	close(f.done)
}

// Done is closed once the task has finished or been discarded.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends. Giving up on a future
// does not affect the task; it runs to completion and its result is dropped.
func (f *Future) Wait(ctx context.Context) (status.Status, error) {
	select {
	case <-f.done:
		return f.st, f.err
	case <-ctx.Done():
		return status.Status{}, ctx.Err()
	}
}

type job struct {
	task Task
	fut  *Future
}

// Pool is a fixed-size worker pool.
type Pool struct {
	cfg  Config
	jobs chan *job

	// mu guards closed and the close of jobs against concurrent sends.
	mu     sync.RWMutex
	closed bool

	discard   atomic.Bool
	busy      atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
	discarded atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New starts cfg.Workers workers. Non-positive sizes take the defaults.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		jobs:   make(chan *job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "pool"),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return p
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	j := &job{task: task, fut: newFuture()}
	select {
	case p.jobs <- j:
		metrics.PoolQueueDepth.Set(float64(len(p.jobs)))
		return j.fut, nil
	default:
		p.rejected.Add(1)
		return nil, ErrQueueSaturated
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to
// finish. If ctx ends first, remaining queued tasks are discarded, running
// tasks see their context cancelled, and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		p.discard.Store(true)
		p.cancel()
		p.logger.Warn("worker pool shutdown timed out", "queued", len(p.jobs), "busy", p.busy.Load())
		return ctx.Err()
	}
}

// ShutdownNow stops accepting work, resolves every queued task's future
// with ErrDiscarded and waits for running tasks. It returns how many tasks
// were discarded.
func (p *Pool) ShutdownNow() int {
	before := p.discarded.Load()
	p.discard.Store(true)
	p.close()
	p.wg.Wait()
	p.cancel()
	n := int(p.discarded.Load() - before)
	p.logger.Info("worker pool stopped", "discarded", n)
	return n
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	return Stats{
		Workers:   p.cfg.Workers,
		QueueSize: p.cfg.QueueSize,
		Queued:    len(p.jobs),
		Busy:      int(p.busy.Load()),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Discarded: p.discarded.Load(),
		Closed:    closed,
	}
}

func (p *Pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		metrics.PoolQueueDepth.Set(float64(len(p.jobs)))
		if p.discard.Load() {
			p.discarded.Add(1)
			j.fut.resolve(status.Status{}, ErrDiscarded)
			continue
		}
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j *job) {
	p.busy.Add(1)
	metrics.PoolBusyWorkers.Inc()
	defer func() {
		p.busy.Add(-1)
		metrics.PoolBusyWorkers.Dec()
		p.completed.Add(1)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
			j.fut.resolve(status.Failf(status.InternalError, "task panicked: %v", r), nil)
		}
	}()

	j.fut.resolve(j.task(p.ctx), nil)
}
