package scope

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Dispatcher decides where and when a ready task resumes.
//
// The implementations are NewPool, NewConfined and Unconfined.
type Dispatcher interface {
	dispatch(r *runner)
}

// runner is the goroutine behind a task. Frames created by Within share
// the runner of the task they run on.
type runner struct {
	task   *Task
	disp   Dispatcher
	resume chan chan struct{}
	slot   chan struct{} // worker handed to us; nil when unconfined
}

func newRunner(t *Task, d Dispatcher) *runner {
	return &runner{task: t, disp: d, resume: make(chan chan struct{}, 1)}
}

// park gives the worker back and blocks until the dispatcher resumes us.
func (r *runner) park() {
	r.release()
	r.slot = <-r.resume
}

func (r *runner) release() {
	if s := r.slot; s != nil {
		r.slot = nil
		s <- struct{}{}
	}
}

type unconfined struct{}

func (unconfined) dispatch(r *runner) { r.resume <- nil }

// Unconfined returns a dispatcher that resumes a task immediately on its
// own goroutine, without any worker limit or queue. Ordering between tasks
// is whatever the Go scheduler does. Useful for bodies that block on plain
// Go channels; not a good default.
func Unconfined() Dispatcher { return unconfined{} }

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	onResume func(ctx context.Context)
	logger   *slog.Logger
	name     string
}

// WithResumeHook installs fn to be called by the worker every time it
// resumes a task, with that task's context. Hosts use it to re-install
// ambient state carried in the context.
func WithResumeHook(fn func(ctx context.Context)) PoolOption {
	return func(o *poolOptions) { o.onResume = fn }
}

// WithPoolLogger sets the logger used for late dispatches after Close.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(o *poolOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPoolName names the pool in log records and metrics.
func WithPoolName(name string) PoolOption { return func(o *poolOptions) { o.name = name } }

// Pool is a dispatcher with a fixed number of workers pulling ready tasks
// from one FIFO queue. A task keeps its worker until it suspends or ends.
type Pool struct {
	q    readyQueue
	g    errgroup.Group
	opts poolOptions
	size int
	once sync.Once
	err  error
}

// NewPool starts a pool with n workers. n <= 0 means GOMAXPROCS.
func NewPool(n int, optFns ...PoolOption) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{size: n, opts: poolOptions{name: "pool", logger: discardLogger()}}
	for _, fn := range optFns {
		fn(&p.opts)
	}
	p.q.cond.L = &p.q.mu
	for i := 0; i < n; i++ {
		p.g.Go(p.work)
	}
	return p
}

// NewConfined returns a single-worker pool: the whole system runs one task
// at a time and equally ready tasks resume in insertion order.
func NewConfined(optFns ...PoolOption) *Pool {
	return NewPool(1, append([]PoolOption{WithPoolName("confined")}, optFns...)...)
}

// Size reports the number of workers.
func (p *Pool) Size() int { return p.size }

// Name reports the pool name.
func (p *Pool) Name() string { return p.opts.name }

// Len reports how many tasks are waiting for a worker.
func (p *Pool) Len() int { return p.q.len() }

// Close stops accepting work, lets the workers drain the queue and waits
// for them to exit. Close is idempotent.
func (p *Pool) Close() error {
	p.once.Do(func() {
		p.q.close()
		p.err = p.g.Wait()
	})
	return p.err
}

func (p *Pool) dispatch(r *runner) {
	if p.q.push(r) {
		return
	}
	p.opts.logger.Error("dispatch after pool close; resuming unconfined",
		slog.String("pool", p.opts.name),
		slog.String("task", r.task.name),
		slog.String("task_id", r.task.id.String()))
	r.resume <- nil
}

func (p *Pool) work() error {
	slot := make(chan struct{})
	for {
		r, ok := p.q.pop()
		if !ok {
			return nil
		}
		if p.opts.onResume != nil {
			p.opts.onResume(r.task.Context())
		}
		r.resume <- slot
		<-slot
	}
}

type readyQueue struct {
	mu     sync.Mutex
	cond   sync.Cond
	items  []*runner
	closed bool
}

func (q *readyQueue) push(r *runner) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, r)
	q.cond.Signal()
	return true
}

func (q *readyQueue) pop() (*runner, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r, true
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *readyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
