package scope

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	policy Policy
	disp   Dispatcher
	parent *Scope
	owner  *Task

	explicit bool
	detached bool

	opts  Options
	obs   Observer
	lim   Limiter
	log   *slog.Logger
	timer *time.Timer
	stop  func() bool // detaches the parent AfterFunc of root and child scopes

	mu       sync.Mutex
	tasks    []*Task
	frames   []*Task
	active   int
	joiners  []*Waiter
	pending  []*Task // admission queue of a limited scope
	firstErr error
	canceled bool
	closed   bool
}

type scopeKind uint8

const (
	taskScope     scopeKind = iota // the own scope of a task
	explicitScope                  // New, Child and Within frames
	detachedScope                  // Global
)

func newScope(parent context.Context, d Dispatcher, policy Policy, opts Options, ps *Scope, owner *Task, kind scopeKind) *Scope {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Scope{
		ctx:      ctx,
		cancel:   cancel,
		policy:   policy,
		disp:     d,
		parent:   ps,
		owner:    owner,
		explicit: kind != taskScope,
		detached: kind == detachedScope,
		opts:     opts,
		obs:      opts.Observer,
		log:      opts.Logger,
	}
	if s.log == nil {
		s.log = discardLogger()
	}
	if opts.MaxConcurrency > 0 {
		s.lim = newSemaphoreLimiter(opts.MaxConcurrency)
	}
	if opts.Timeout > 0 {
		s.timer = time.AfterFunc(opts.Timeout, func() { s.Cancel(ErrTimedOut) })
	}
	return s
}

// New creates a root scope whose tasks run on d. The scope is cancelled
// when parent is. A nil parent means context.Background.
func New(parent context.Context, d Dispatcher, policy Policy, optFns ...Option) *Scope {
	return newRoot(parent, d, policy, explicitScope, optFns)
}

func newRoot(parent context.Context, d Dispatcher, policy Policy, kind scopeKind, optFns []Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	if d == nil {
		panic("scope: nil dispatcher")
	}
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	s := newScope(parent, d, policy, opts, nil, nil, kind)
	s.stop = context.AfterFunc(parent, func() { s.Cancel(context.Cause(parent)) })
	if s.obs != nil {
		s.obs.ScopeCreated(s.ctx)
	}
	return s
}

// Global returns a detached Supervisor scope. It is never joined by
// anybody and no parent cancels it; failures of its tasks are only logged.
// It exists for work that must outlive every structured scope.
func Global(d Dispatcher, optFns ...Option) *Scope {
	return newRoot(context.Background(), d, Supervisor, detachedScope, optFns)
}

// Child creates a nested scope that is cancelled with s. The caller joins
// it with Wait or Join.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	childOpts.Timeout = 0
	for _, fn := range optFns {
		fn(&childOpts)
	}
	cs := newScope(s.ctx, s.disp, policy, childOpts, s, nil, explicitScope)
	cs.stop = context.AfterFunc(s.ctx, func() { cs.Cancel(context.Cause(s.ctx)) })
	if cs.obs != nil {
		cs.obs.ScopeCreated(cs.ctx)
	}
	return cs
}

func (s *Scope) Context() context.Context { return s.ctx }

func (s *Scope) Parent() *Scope { return s.parent }

func (s *Scope) Policy() Policy { return s.policy }

func (s *Scope) Dispatcher() Dispatcher { return s.disp }

// Tasks returns the live tasks of s in spawn order.
func (s *Scope) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

func (s *Scope) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Err returns the first recorded failure or cancellation cause.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Go spawns fn as a task of s.
func (s *Scope) Go(name string, fn func(t *Task) error, opts ...TaskOption) *Task {
	if fn == nil {
		return nil
	}
	return s.spawn(name, fn, opts)
}

// Cancel cancels s, its owner and every descendant. It is idempotent and
// irreversible.
func (s *Scope) Cancel(cause error) {
	err := cancelErr(cause)
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	if s.firstErr == nil {
		s.firstErr = err
	}
	tasks := slices.Clone(s.tasks)
	frames := slices.Clone(s.frames)
	s.mu.Unlock()

	s.cancel(err)
	if s.explicit && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, err)
	}
	if s.owner != nil {
		s.owner.Cancel(err)
	}
	for _, t := range tasks {
		t.Cancel(err)
	}
	for _, f := range frames {
		f.Cancel(err)
	}
}

// Wait blocks the calling goroutine until every task of s is terminal and
// returns the first error. Do not call it from inside a task; use Join.
func (s *Scope) Wait() error { return s.Join(nil) }

// Join suspends caller until every task of s is terminal and returns the
// first error recorded by s.
func (s *Scope) Join(caller *Task) error {
	var start time.Time
	if s.obs != nil {
		start = time.Now()
	}
	s.await(caller, false)
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}
	return s.Err()
}

// Close releases s once it has been waited for: its context is cancelled,
// it is detached from its parent context and later spawns start
// cancelled. Tasks still running are not cancelled. Close is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel(nil)
}

// drain joins like Join and then closes s: later spawns are cancelled
// before they start.
func (s *Scope) drain(caller *Task) { s.await(caller, true) }

func (s *Scope) await(caller *Task, closing bool) {
	for {
		s.mu.Lock()
		if s.active == 0 {
			if closing {
				s.closed = true
			}
			s.mu.Unlock()
			return
		}
		w := newWaiter(caller, false)
		s.joiners = append(s.joiners, w)
		s.mu.Unlock()
		_ = caller.Suspend(w)
	}
}

func (s *Scope) register(t *Task) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.tasks = append(s.tasks, t)
	s.active++
	canceled, cause := s.canceled, s.firstErr
	s.mu.Unlock()
	if canceled {
		t.Cancel(cause)
	}
	return true
}

func (s *Scope) addFrame(f *Task) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	canceled, cause := s.canceled, s.firstErr
	s.mu.Unlock()
	if canceled {
		f.Cancel(cause)
	}
}

func (s *Scope) removeFrame(f *Task) {
	s.mu.Lock()
	if i := slices.Index(s.frames, f); i >= 0 {
		s.frames = slices.Delete(s.frames, i, i+1)
	}
	s.mu.Unlock()
}

func (s *Scope) childDone(t *Task, st State, err error) {
	if st == Failed {
		s.fail(t, err)
	}
	s.mu.Lock()
	if i := slices.Index(s.tasks, t); i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
	}
	s.active--
	var js []*Waiter
	if s.active == 0 {
		js = s.joiners
		s.joiners = nil
	}
	s.mu.Unlock()
	for _, w := range js {
		w.fire()
	}
}

func (s *Scope) fail(t *Task, err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()

	switch {
	case s.detached:
		s.log.Error("task failed in detached scope",
			slog.String("task", t.name), slog.String("task_id", t.id.String()), slog.Any("err", err))
	case s.policy == Supervisor:
		s.log.Warn("task failed",
			slog.String("task", t.name), slog.String("task_id", t.id.String()), slog.Any("err", err))
	}
	if s.policy != FailFast {
		return
	}
	if s.owner != nil {
		s.owner.failWith(err)
		return
	}
	s.Cancel(err)
}

func (s *Scope) childOptions() Options {
	o := s.opts
	o.MaxConcurrency = 0
	o.Timeout = 0
	return o
}
