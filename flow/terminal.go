package flow

import (
	"errors"
	"sync/atomic"

	"github.com/NetPo4ki/go-coflow/channel"
	"github.com/NetPo4ki/go-coflow/scope"
)

// Collect runs f on t and calls fn for every value.
func Collect[T any](t *scope.Task, f Flow[T], fn func(T) error) error {
	return f.Collect(t, fn)
}

// CollectLatest runs fn for every value in a task of its own, cancelling
// the previous run when a newer value arrives.
func CollectLatest[T any](t *scope.Task, f Flow[T], fn func(t *scope.Task, v T) error) error {
	latest := transformLatest(f, channel.Rendezvous, func(lt *scope.Task, v T, _ func(struct{}) error) error {
		return fn(lt, v)
	})
	return latest.Collect(t, func(struct{}) error { return nil })
}

func ToSlice[T any](t *scope.Task, f Flow[T]) ([]T, error) {
	var out []T
	err := f.Collect(t, func(v T) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first value and stops the upstream.
func First[T any](t *scope.Task, f Flow[T]) (T, error) {
	var (
		first T
		found bool
	)
	abort := &abortError{}
	err := f.Collect(t, func(v T) error {
		first, found = v, true
		return abort
	})
	switch {
	case err != nil && !errors.Is(err, abort):
		var zero T
		return zero, err
	case !found:
		return first, ErrNoElements
	}
	return first, nil
}

// Reduce folds the values with op, starting from the first one.
func Reduce[T any](t *scope.Task, f Flow[T], op func(acc, v T) (T, error)) (T, error) {
	var (
		acc   T
		found bool
	)
	err := f.Collect(t, func(v T) error {
		if !found {
			acc, found = v, true
			return nil
		}
		var err error
		acc, err = op(acc, v)
		return err
	})
	var zero T
	switch {
	case err != nil:
		return zero, err
	case !found:
		return zero, ErrNoElements
	}
	return acc, nil
}

func Fold[T, R any](t *scope.Task, f Flow[T], init R, op func(acc R, v T) (R, error)) (R, error) {
	acc := init
	err := f.Collect(t, func(v T) error {
		var err error
		acc, err = op(acc, v)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return acc, nil
}

func Count[T any](t *scope.Task, f Flow[T]) (int, error) {
	n := 0
	err := f.Collect(t, func(T) error {
		n++
		return nil
	})
	return n, err
}

// Status is the state of one collection of a flow.
type Status int32

const (
	NotStarted Status = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Collection is one collection of a flow started by LaunchIn.
type Collection struct {
	task    *scope.Task
	started atomic.Bool
}

// LaunchIn collects f in a new task of s, calling fn for every value.
func LaunchIn[T any](s *scope.Scope, name string, f Flow[T], fn func(T) error, opts ...scope.TaskOption) *Collection {
	c := &Collection{}
	c.task = s.Go(name, func(t *scope.Task) error {
		c.started.Store(true)
		return f.Collect(t, fn)
	}, opts...)
	return c
}

func (c *Collection) Status() Status {
	switch c.task.State() {
	case scope.Completed:
		return Completed
	case scope.Failed:
		return Failed
	case scope.Cancelled:
		return Cancelled
	}
	if c.started.Load() {
		return Running
	}
	return NotStarted
}

func (c *Collection) Task() *scope.Task { return c.task }

func (c *Collection) Cancel(cause error) { c.task.Cancel(cause) }

// Join suspends caller until the collection is over and returns how it
// ended: nil, the failure, or a cancellation error.
func (c *Collection) Join(caller *scope.Task) error {
	if err := c.task.Join(caller); err != nil {
		return err
	}
	return c.task.Err()
}
