package scope

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Run creates a FailFast scope on d, runs body as its first task and waits
// for body and everything it spawned. A failure anywhere cancels the rest
// and is returned. WithMaxConcurrency bounds the tasks body spawns.
func Run[T any](ctx context.Context, d Dispatcher, body func(t *Task) (T, error), optFns ...Option) (T, error) {
	var zero T
	s := New(ctx, d, FailFast, optFns...)
	defer s.Close()
	h := Spawn(s, "run", body, limitChildren(s.opts.MaxConcurrency))
	if err := s.Wait(); err != nil {
		return zero, err
	}
	return h.Await(nil)
}

// Within runs body inline on t with a fresh FailFast scope and returns once
// body and every task spawned in that scope are terminal. A failing child
// cancels body and its siblings, and its error is returned. Cancelling t
// cancels the whole scope. t itself is not failed by a child failure; the
// caller decides what to do with the error.
func Within[T any](t *Task, body func(t *Task) (T, error), optFns ...Option) (T, error) {
	return within(t, FailFast, body, optFns)
}

// Supervise is Within with a Supervisor scope: failing children do not
// cancel body or each other. Their failures are logged; the result is the
// body's own.
func Supervise[T any](t *Task, body func(t *Task) (T, error), optFns ...Option) (T, error) {
	return within(t, Supervisor, body, optFns)
}

// Timeout runs body like Within and cancels it with ErrTimedOut after d.
func Timeout[T any](t *Task, d time.Duration, body func(t *Task) (T, error)) (T, error) {
	return within(t, FailFast, body, []Option{WithTimeout(d)})
}

func within[T any](t *Task, policy Policy, body func(t *Task) (T, error), optFns []Option) (T, error) {
	if t == nil {
		panic("scope: Within needs a running task")
	}
	ps := t.self
	opts := ps.childOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	f := &Task{
		id:    uuid.New(),
		name:  t.name,
		run:   t.run,
		scope: ps,
		frame: true,
		state: Active,
		done:  make(chan struct{}),
	}
	f.self = newScope(ps.ctx, ps.disp, policy, opts, ps, f, explicitScope)
	if f.self.obs != nil {
		f.self.obs.ScopeCreated(f.self.ctx)
	}
	ps.addFrame(f)
	defer ps.removeFrame(f)

	var v T
	repanic, err := f.exec(func(f *Task) error {
		var e error
		v, e = body(f)
		return e
	})
	f.settle(err)

	var start time.Time
	if f.self.obs != nil {
		start = time.Now()
	}
	f.self.drain(f)
	if f.self.timer != nil {
		f.self.timer.Stop()
	}
	if f.self.obs != nil {
		f.self.obs.ScopeJoined(f.self.ctx, time.Since(start))
	}
	st, ferr := f.outcome(err)
	f.finish(st, ferr)
	f.self.cancel(nil)

	if repanic != nil {
		panic(repanic)
	}
	if st != Completed {
		var zero T
		return zero, ferr
	}
	return v, nil
}
