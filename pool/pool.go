// Package pool implements a fixed set of background workers
// draining an unbounded queue of best-effort tasks.
//
// Submit never blocks on the workers.
// A task's error is logged and otherwise dropped;
// nothing is retried.
package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of workers used when New is given a non-positive count.
const DefaultWorkers = 5

// ErrClosed is returned by Submit after Close or Abort.
var ErrClosed = errors.New("pool closed")

// Task is a unit of best-effort work.
// Its name appears in log messages.
type Task struct {
	Name string
	Run  func(context.Context) error
}

// Pool runs Tasks on a fixed number of goroutines.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	eg     errgroup.Group

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	closed  bool
	running int
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger on which task failures are reported.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New starts a Pool with the given number of workers.
// Tasks run with a context that is canceled by Abort.
func New(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		logger: zap.NewNop(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < workers; i++ {
		p.eg.Go(p.work)
	}
	return p
}

// Submit queues a task.
// It does not wait for the task to start.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

// Len tells how many tasks are queued or running.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.running
}

// Close stops accepting tasks,
// waits for the queued ones to finish,
// and stops the workers.
func (p *Pool) Close() {
	p.shutdown(false)
}

// Abort stops accepting tasks,
// discards the queued ones,
// cancels the context of the running ones,
// and waits for the workers to stop.
// It returns the number of discarded tasks.
func (p *Pool) Abort() int {
	return p.shutdown(true)
}

func (p *Pool) shutdown(discard bool) int {
	p.mu.Lock()
	p.closed = true
	var n int
	if discard {
		n = len(p.queue)
		p.queue = nil
		p.cancel()
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.eg.Wait()
	p.cancel()

	if n > 0 {
		p.logger.Warn("discarded queued tasks", zap.Int("count", n))
	}
	return n
}

func (p *Pool) work() error {
	for {
		t, ok := p.next()
		if !ok {
			return nil
		}
		p.run(t)
	}
}

// Next blocks until a task is available or the pool is shut down.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		if p.closed {
			return Task{}, false
		}
		p.cond.Wait()
	}
	t := p.queue[0]
	p.queue[0] = Task{}
	p.queue = p.queue[1:]
	p.running++
	return t, true
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("task", t.Name), zap.Any("panic", r))
		}
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}()

	if err := t.Run(p.ctx); err != nil {
		p.logger.Error("task failed", zap.String("task", t.Name), zap.Error(err))
	}
}
