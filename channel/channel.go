package channel

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/NetPo4ki/go-coflow/scope"
)

// Capacity values accepted by New besides a positive bound.
const (
	// Rendezvous makes every Send wait for its paired Receive.
	Rendezvous = 0
	// Unlimited never suspends senders.
	Unlimited = -1
	// Conflated keeps only the most recent unreceived value.
	Conflated = -2
	// Buffered selects DefaultBuffer.
	Buffered = -3
)

// DefaultBuffer is the capacity used for Buffered.
const DefaultBuffer = 64

var (
	// ErrClosed is returned by Send on a closed channel.
	ErrClosed = errors.New("channel: send on closed channel")

	// ErrEndOfChannel is returned by Receive once a closed channel is drained.
	ErrEndOfChannel = errors.New("channel: end of channel")

	// ErrFull is returned by TrySend when the value cannot be taken now.
	ErrFull = errors.New("channel: full")

	// ErrEmpty is returned by TryReceive when no value is ready.
	ErrEmpty = errors.New("channel: empty")
)

type sender[T any] struct {
	w   *scope.Waiter
	v   T
	err error
}

type receiver[T any] struct {
	w   *scope.Waiter
	v   T
	err error
}

// Channel is a FIFO queue with suspending Send and Receive for tasks.
//
// A nil *scope.Task passed as caller is a plain goroutine, which blocks.
// Values are received in the order their sends completed; a closed
// channel still delivers every buffered value, then the values of senders
// that were suspended when it closed, and then fails with
// ErrEndOfChannel or the close cause.
type Channel[T any] struct {
	capacity int

	mu        sync.Mutex
	buf       []T
	senders   []*sender[T]
	receivers []*receiver[T]
	closed    bool
	cancelled bool
	cause     error
	producer  *scope.Task
}

// New returns a channel with the given capacity: Rendezvous, a positive
// bound, Unlimited, Conflated or Buffered.
func New[T any](capacity int) *Channel[T] {
	switch {
	case capacity == Buffered:
		capacity = DefaultBuffer
	case capacity < Buffered:
		panic(fmt.Sprintf("channel: invalid capacity %d", capacity))
	}
	return &Channel[T]{capacity: capacity}
}

// Cap returns the capacity the channel was created with; Buffered is
// reported as DefaultBuffer.
func (c *Channel[T]) Cap() int { return c.capacity }

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// ClosedForSend reports whether Close, CloseWithError or Cancel was called.
func (c *Channel[T]) ClosedForSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers v, suspending t while the channel has no room for it.
func (c *Channel[T]) Send(t *scope.Task, v T) error {
	if err := t.Check(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		err := c.sendErr()
		c.mu.Unlock()
		return err
	}
	if r := c.popReceiver(); r != nil {
		r.v = v
		c.mu.Unlock()
		r.w.Wake()
		return nil
	}
	if c.offer(v) {
		c.mu.Unlock()
		return nil
	}
	s := &sender[T]{w: scope.NewWaiter(t), v: v}
	c.senders = append(c.senders, s)
	c.mu.Unlock()

	if err := t.Suspend(s.w); err != nil {
		c.mu.Lock()
		c.senders = remove(c.senders, s)
		c.mu.Unlock()
		return err
	}
	return s.err
}

// TrySend delivers v if that is possible without suspending.
func (c *Channel[T]) TrySend(v T) error {
	c.mu.Lock()
	if c.closed {
		err := c.sendErr()
		c.mu.Unlock()
		return err
	}
	if r := c.popReceiver(); r != nil {
		r.v = v
		c.mu.Unlock()
		r.w.Wake()
		return nil
	}
	ok := c.offer(v)
	c.mu.Unlock()
	if !ok {
		return ErrFull
	}
	return nil
}

// Receive returns the next value, suspending t until one is available or
// the channel is closed and drained.
func (c *Channel[T]) Receive(t *scope.Task) (T, error) {
	var zero T
	if err := t.Check(); err != nil {
		return zero, err
	}
	c.mu.Lock()
	if v, s, ok := c.take(); ok {
		c.mu.Unlock()
		if s != nil {
			s.w.Wake()
		}
		return v, nil
	}
	if c.closed {
		err := c.endErr()
		c.mu.Unlock()
		return zero, err
	}
	r := &receiver[T]{w: scope.NewWaiter(t)}
	c.receivers = append(c.receivers, r)
	c.mu.Unlock()

	if err := t.Suspend(r.w); err != nil {
		c.mu.Lock()
		c.receivers = remove(c.receivers, r)
		c.mu.Unlock()
		return zero, err
	}
	if r.err != nil {
		return zero, r.err
	}
	return r.v, nil
}

// TryReceive returns the next value if one is ready. It returns ErrEmpty
// when the receive would suspend.
func (c *Channel[T]) TryReceive() (T, error) {
	var zero T
	c.mu.Lock()
	if v, s, ok := c.take(); ok {
		c.mu.Unlock()
		if s != nil {
			s.w.Wake()
		}
		return v, nil
	}
	defer c.mu.Unlock()
	if c.closed {
		return zero, c.endErr()
	}
	return zero, ErrEmpty
}

// ForEach receives until the channel is drained and calls fn for every
// value. It returns nil at the end of the channel and stops at the first
// error from fn or from Receive.
func (c *Channel[T]) ForEach(t *scope.Task, fn func(T) error) error {
	for {
		v, err := c.Receive(t)
		if errors.Is(err, ErrEndOfChannel) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Close marks the channel closed for sending. It is idempotent. Values
// already in the channel stay receivable.
func (c *Channel[T]) Close() { c.CloseWithError(nil) }

// CloseWithError is Close with a cause. Once the channel is drained
// Receive returns cause instead of ErrEndOfChannel. Only the first close
// counts.
func (c *Channel[T]) CloseWithError(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cause = cause
	var rs []*receiver[T]
	if len(c.buf) == 0 && len(c.senders) == 0 {
		rs = c.receivers
		c.receivers = nil
	}
	err := c.endErr()
	c.mu.Unlock()

	for _, r := range rs {
		if r.w.Claim() {
			r.err = err
			r.w.Wake()
		}
	}
}

// Cancel closes the channel, drops every buffered value and fails
// suspended senders and receivers with a cancellation error wrapping
// cause. A producer started by Produce is cancelled as well.
func (c *Channel[T]) Cancel(cause error) {
	err := cause
	if !scope.IsCancellation(err) {
		if err == nil {
			err = scope.ErrCancelled
		} else {
			err = fmt.Errorf("%w: %w", scope.ErrCancelled, cause)
		}
	}

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.closed = true
	c.cause = err
	clear(c.buf)
	c.buf = nil
	ss, rs := c.senders, c.receivers
	c.senders, c.receivers = nil, nil
	p := c.producer
	c.mu.Unlock()

	for _, s := range ss {
		if s.w.Claim() {
			s.err = err
			s.w.Wake()
		}
	}
	for _, r := range rs {
		if r.w.Claim() {
			r.err = err
			r.w.Wake()
		}
	}
	if p != nil {
		p.Cancel(err)
	}
}

// popReceiver returns the first suspended receiver that can still be
// completed, already claimed. Called with c.mu held.
func (c *Channel[T]) popReceiver() *receiver[T] {
	for len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]
		if r.w.Claim() {
			return r
		}
	}
	return nil
}

func (c *Channel[T]) popSender() *sender[T] {
	for len(c.senders) > 0 {
		s := c.senders[0]
		c.senders[0] = nil
		c.senders = c.senders[1:]
		if s.w.Claim() {
			return s
		}
	}
	return nil
}

// offer buffers v if there is room. Called with c.mu held.
func (c *Channel[T]) offer(v T) bool {
	switch {
	case c.capacity == Conflated:
		if len(c.buf) == 0 {
			c.buf = append(c.buf, v)
		} else {
			c.buf[0] = v
		}
		return true
	case c.capacity == Unlimited, len(c.buf) < c.capacity:
		c.buf = append(c.buf, v)
		return true
	}
	return false
}

// take removes the next value. If that frees room for a suspended sender,
// the sender's value moves into the buffer and the sender is returned to
// be woken after unlocking. Called with c.mu held.
func (c *Channel[T]) take() (v T, woken *sender[T], ok bool) {
	if len(c.buf) > 0 {
		v = c.buf[0]
		var zero T
		c.buf[0] = zero
		c.buf = c.buf[1:]
		if s := c.popSender(); s != nil {
			c.buf = append(c.buf, s.v)
			woken = s
		}
		return v, woken, true
	}
	if s := c.popSender(); s != nil {
		return s.v, s, true
	}
	return v, nil, false
}

func (c *Channel[T]) sendErr() error {
	switch {
	case c.cancelled:
		return c.cause
	case c.cause != nil:
		return fmt.Errorf("%w: %w", ErrClosed, c.cause)
	}
	return ErrClosed
}

func (c *Channel[T]) endErr() error {
	if c.cause != nil {
		return c.cause
	}
	return ErrEndOfChannel
}

func (c *Channel[T]) setProducer(t *scope.Task) {
	c.mu.Lock()
	c.producer = t
	cancelled, cause := c.cancelled, c.cause
	c.mu.Unlock()
	if cancelled {
		t.Cancel(cause)
	}
}

func remove[E comparable](s []E, e E) []E {
	if i := slices.Index(s, e); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}
