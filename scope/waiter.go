package scope

import "sync/atomic"

// A Waiter is a one-shot wake-up registration for one suspension of one
// task. Whoever wins Claim owns the wake-up: it stores its result where the
// task will look for it, then calls Wake exactly once. Losers must leave
// the waiter alone.
//
// A Waiter built for a nil task belongs to a plain goroutine, which blocks
// instead of suspending.
type Waiter struct {
	t           *Task
	ch          chan struct{}
	fired       atomic.Bool
	cancellable bool
	cancelled   bool
}

// NewWaiter returns a cancellable waiter for t.
func NewWaiter(t *Task) *Waiter { return newWaiter(t, true) }

func newWaiter(t *Task, cancellable bool) *Waiter {
	w := &Waiter{t: t, cancellable: cancellable}
	if t == nil {
		w.ch = make(chan struct{})
	}
	return w
}

// Claim reports whether the caller won the right to wake the waiter.
func (w *Waiter) Claim() bool { return w.fired.CompareAndSwap(false, true) }

// Claimed reports whether somebody already claimed the waiter.
func (w *Waiter) Claimed() bool { return w.fired.Load() }

// Wake resumes the waiting task. Call it once, after a successful Claim.
func (w *Waiter) Wake() {
	if w.t == nil {
		close(w.ch)
		return
	}
	r := w.t.run
	r.disp.dispatch(r)
}

func (w *Waiter) fire() {
	if w.Claim() {
		w.Wake()
	}
}
