package scope

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Task. States only move forward.
type State int32

const (
	Created State = iota
	Active
	Completing
	Cancelling
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Completing:
		return "completing"
	case Cancelling:
		return "cancelling"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed, Cancelled or Failed.
func (s State) Terminal() bool { return s >= Completed }

// Task is a unit of cooperative work owned by exactly one Scope.
//
// A task runs uninterrupted between suspension points (Delay, Yield, Join,
// channel operations, Within). Cancellation is observed only there and at
// Check: a loop that never suspends cannot be cancelled.
//
// Methods that suspend take the calling task explicitly. A nil caller is a
// plain goroutine outside the runtime and simply blocks.
type Task struct {
	id    uuid.UUID
	name  string
	run   *runner
	scope *Scope
	self  *Scope
	frame bool

	admitted bool // holds a limiter permit; set before dispatch

	mu        sync.Mutex
	state     State
	cancelReq bool
	cause     error
	failure   error
	err       error
	cur       *Waiter
	joiners   []*Waiter
	done      chan struct{}
}

// Handle is a task producing a value of type T.
type Handle[T any] struct {
	*Task
	val T
}

// Spawn starts body as a new task in s and returns its handle.
func Spawn[T any](s *Scope, name string, body func(t *Task) (T, error), opts ...TaskOption) *Handle[T] {
	h := &Handle[T]{}
	h.Task = s.spawn(name, func(t *Task) error {
		v, err := body(t)
		h.val = v
		return err
	}, opts)
	return h
}

// Await suspends caller until the task is terminal and returns its value
// or its final error.
func (h *Handle[T]) Await(caller *Task) (T, error) {
	var zero T
	if err := h.Join(caller); err != nil {
		return zero, err
	}
	if err := h.Err(); err != nil {
		return zero, err
	}
	return h.val, nil
}

func (t *Task) ID() uuid.UUID { return t.id }

func (t *Task) Name() string { return t.name }

func (t *Task) String() string { return t.name + "#" + t.id.String()[:8] }

// Scope returns the scope the task's own children are spawned in.
func (t *Task) Scope() *Scope { return t.self }

// Parent returns the scope that owns the task.
func (t *Task) Parent() *Scope { return t.scope }

// Context is cancelled together with the task and carries its ambient
// values.
func (t *Task) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.self.ctx
}

type taskKey struct{}

// FromContext returns the task whose context ctx is, or derives from.
func FromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}

// Go spawns a child task of t.
func (t *Task) Go(name string, body func(t *Task) error, opts ...TaskOption) *Task {
	return t.self.Go(name, body, opts...)
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the final error of a terminal task: nil when Completed, a
// cancellation error when Cancelled, the failure when Failed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Check returns the cancellation error if t has been cancelled.
func (t *Task) Check() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelReq {
		return t.cause
	}
	return nil
}

// Active reports whether t is neither cancelled nor terminal.
func (t *Task) Active() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelReq && !t.state.Terminal()
}

// Cancel requests cancellation of t and all of its descendants. The task
// sees it at its next suspension point. Cancel is idempotent; the first
// cause wins.
func (t *Task) Cancel(cause error) {
	t.mu.Lock()
	if t.cancelReq || t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.cancelReq = true
	t.cause = cancelErr(cause)
	if t.state < Cancelling {
		t.state = Cancelling
	}
	w, err := t.cur, t.cause
	t.mu.Unlock()

	if w != nil && w.cancellable && w.Claim() {
		w.cancelled = true
		w.Wake()
	}
	if !t.frame && t.scope.lim != nil {
		t.scope.unqueue(t)
	}
	t.self.Cancel(err)
}

// Join suspends caller until t is terminal. It returns immediately if t
// already is. The error is the caller's own cancellation, never t's
// outcome; use Err for that.
func (t *Task) Join(caller *Task) error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return nil
	}
	w := newWaiter(caller, true)
	t.joiners = append(t.joiners, w)
	t.mu.Unlock()
	return caller.Suspend(w)
}

// Suspend parks t until w is woken. If w is cancellable and t gets
// cancelled first, Suspend returns the cancellation error and w is left
// claimed so no partner can complete with it.
func (t *Task) Suspend(w *Waiter) error {
	if t == nil {
		<-w.ch
		return nil
	}
	t.mu.Lock()
	if w.cancellable && t.cancelReq {
		err := t.cause
		t.mu.Unlock()
		if w.Claim() {
			return err
		}
		// A partner already completed the operation and dispatched us.
		t.run.park()
		return nil
	}
	t.cur = w
	t.mu.Unlock()

	t.run.park()

	t.mu.Lock()
	t.cur = nil
	err := t.cause
	t.mu.Unlock()
	if w.cancelled {
		return err
	}
	return nil
}

// Delay suspends t for d.
func (t *Task) Delay(d time.Duration) error {
	if err := t.Check(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	w := newWaiter(t, true)
	tm := time.AfterFunc(d, w.fire)
	err := t.Suspend(w)
	tm.Stop()
	return err
}

// Yield puts t at the back of its dispatcher's ready queue.
func (t *Task) Yield() error {
	if t == nil {
		runtime.Gosched()
		return nil
	}
	if err := t.Check(); err != nil {
		return err
	}
	w := newWaiter(t, true)
	w.fire()
	if err := t.Suspend(w); err != nil {
		return err
	}
	return t.Check()
}

func (s *Scope) spawn(name string, body func(*Task) error, optFns []TaskOption) *Task {
	var o taskOptions
	for _, fn := range optFns {
		fn(&o)
	}
	if name == "" {
		name = "task"
	}
	d := o.disp
	if d == nil {
		d = s.disp
	}
	t := &Task{id: uuid.New(), name: name, scope: s, done: make(chan struct{})}
	t.run = newRunner(t, d)
	ctx := context.WithValue(s.ctx, taskKey{}, t)
	for _, kv := range o.values {
		ctx = context.WithValue(ctx, kv.key, kv.val)
	}
	t.self = newScope(ctx, d, FailFast, o.childOptions(s), s, t, taskScope)

	if !s.register(t) {
		t.mu.Lock()
		t.cancelReq = true
		t.cause = cancelErr(errScopeClosed)
		t.state, t.err = Cancelled, t.cause
		close(t.done)
		t.mu.Unlock()
		t.self.cancel(t.cause)
		return t
	}
	if s.lim == nil {
		d.dispatch(t.run)
	} else {
		s.admit(t)
	}
	go t.main(body)
	return t
}

func (t *Task) main(body func(*Task) error) {
	s := t.scope
	t.run.slot = <-t.run.resume

	start := time.Now()
	var err error
	var repanic any
	started := t.begin()
	if started {
		if s.obs != nil {
			s.obs.TaskStarted(t.Context())
		}
		s.log.Debug("task started", slog.String("task", t.name), slog.String("task_id", t.id.String()))
		repanic, err = t.exec(body)
	} else {
		err = t.Check()
	}

	t.settle(err)
	t.self.drain(t)
	st, ferr := t.outcome(err)
	if t.admitted {
		s.releasePermit()
	}
	_, panicked := err.(*PanicError)
	if started && s.obs != nil {
		s.obs.TaskFinished(t.Context(), time.Since(start), ferr, panicked)
	}
	s.log.Debug("task finished",
		slog.String("task", t.name),
		slog.String("task_id", t.id.String()),
		slog.String("state", st.String()),
		slog.Duration("took", time.Since(start)))
	t.finish(st, ferr)
	t.self.cancel(nil)

	t.run.release()
	if repanic != nil {
		panic(repanic)
	}
}

func (t *Task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelReq {
		return false
	}
	t.state = Active
	return true
}

func (t *Task) exec(body func(*Task) error) (repanic any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
			if !t.scope.opts.PanicAsError {
				repanic = r
			}
		}
	}()
	return nil, body(t)
}

// settle applies the body's result: a failure fails t, a cancellation
// error cancels it, and in both cases the children are cancelled.
func (t *Task) settle(err error) {
	switch {
	case err == nil:
	case IsCancellation(err):
		t.Cancel(err)
	default:
		t.failWith(err)
	}
	t.advance(Completing)
}

func (t *Task) failWith(err error) {
	t.mu.Lock()
	if t.failure == nil {
		t.failure = err
	}
	t.mu.Unlock()
	t.Cancel(err)
}

func (t *Task) advance(to State) {
	t.mu.Lock()
	if t.state < to && !t.state.Terminal() {
		t.state = to
	}
	t.mu.Unlock()
}

func (t *Task) outcome(bodyErr error) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.failure != nil:
		return Failed, t.failure
	case t.cancelReq:
		return Cancelled, t.cause
	case bodyErr != nil:
		return Cancelled, bodyErr
	}
	return Completed, nil
}

func (t *Task) finish(st State, err error) {
	t.mu.Lock()
	t.state, t.err = st, err
	js := t.joiners
	t.joiners = nil
	close(t.done)
	t.mu.Unlock()

	for _, w := range js {
		w.fire()
	}
	if !t.frame {
		t.scope.childDone(t, st, err)
	}
}
