package flow

import (
	"errors"
	"fmt"

	"github.com/NetPo4ki/go-coflow/channel"
	"github.com/NetPo4ki/go-coflow/scope"
)

// DefaultConcurrency bounds FlatMapMerge when it is given k <= 0.
const DefaultConcurrency = 16

var errSuperseded = fmt.Errorf("%w: superseded by a newer value", scope.ErrCancelled)

// Buffer collects the upstream in its own task, which runs ahead of the
// collector by up to capacity values. capacity takes the channel package
// constants.
func Buffer[T any](f Flow[T], capacity int) Flow[T] {
	return channelFlow(capacity, func(t *scope.Task, ch *channel.Channel[T]) error {
		return f.Collect(t, sendTo(t, ch))
	})
}

// Conflate is Buffer with a single slot that keeps only the latest value.
// The upstream is never suspended by a slow collector.
func Conflate[T any](f Flow[T]) Flow[T] { return Buffer(f, channel.Conflated) }

// FlowOn collects the upstream in a task running on d. The collector stays
// where it is.
func FlowOn[T any](f Flow[T], d scope.Dispatcher) Flow[T] {
	return channelFlow(channel.Buffered, func(t *scope.Task, ch *channel.Channel[T]) error {
		return f.Collect(t, sendTo(t, ch))
	}, scope.On(d))
}

// TransformLatest runs fn for every upstream value in a task of its own.
// A new upstream value cancels the task still working on the previous one
// and waits for it before fn starts again.
func TransformLatest[T, R any](f Flow[T], fn func(t *scope.Task, v T, emit func(R) error) error) Flow[R] {
	return transformLatest(f, channel.Buffered, fn)
}

func transformLatest[T, R any](f Flow[T], capacity int, fn func(t *scope.Task, v T, emit func(R) error) error) Flow[R] {
	return channelFlow(capacity, func(pt *scope.Task, ch *channel.Channel[R]) error {
		var prev *scope.Task
		return f.Collect(pt, func(v T) error {
			if prev != nil {
				prev.Cancel(errSuperseded)
				if err := prev.Join(pt); err != nil {
					return err
				}
			}
			prev = pt.Go("flow.latest", func(lt *scope.Task) error {
				return fn(lt, v, sendTo(lt, ch))
			})
			return nil
		})
	})
}

func MapLatest[T, R any](f Flow[T], fn func(t *scope.Task, v T) (R, error)) Flow[R] {
	return TransformLatest(f, func(t *scope.Task, v T, emit func(R) error) error {
		r, err := fn(t, v)
		if err != nil {
			return err
		}
		return emit(r)
	})
}

// FlatMapConcat collects the flow fn returns for each upstream value, one
// after the other, in upstream order.
func FlatMapConcat[T, R any](f Flow[T], fn func(T) Flow[R]) Flow[R] {
	return Func[R](func(t *scope.Task, emit func(R) error) error {
		return f.Collect(t, func(v T) error {
			return fn(v).Collect(t, emit)
		})
	})
}

// FlatMapMerge collects up to k inner flows at once. Inner flows start in
// upstream order; the interleaving of their values is unspecified.
func FlatMapMerge[T, R any](f Flow[T], k int, fn func(T) Flow[R]) Flow[R] {
	if k <= 0 {
		k = DefaultConcurrency
	}
	return channelFlow(channel.Buffered, func(pt *scope.Task, ch *channel.Channel[R]) error {
		slots := channel.New[struct{}](k)
		return f.Collect(pt, func(v T) error {
			if err := slots.Send(pt, struct{}{}); err != nil {
				return err
			}
			inner := fn(v)
			pt.Go("flow.merge", func(it *scope.Task) error {
				defer slots.TryReceive()
				return inner.Collect(it, sendTo(it, ch))
			})
			return nil
		})
	})
}

// FlatMapLatest is FlatMapConcat that abandons the running inner flow as
// soon as a new upstream value arrives.
func FlatMapLatest[T, R any](f Flow[T], fn func(T) Flow[R]) Flow[R] {
	return TransformLatest(f, func(t *scope.Task, v T, emit func(R) error) error {
		return fn(v).Collect(t, emit)
	})
}

// Merge collects every flow concurrently into one. The interleaving of
// their values is unspecified.
func Merge[T any](flows ...Flow[T]) Flow[T] {
	return channelFlow(channel.Buffered, func(pt *scope.Task, ch *channel.Channel[T]) error {
		for _, f := range flows {
			pt.Go("flow.merge", func(it *scope.Task) error {
				return f.Collect(it, sendTo(it, ch))
			})
		}
		return nil
	})
}

// Zip pairs the n-th value of a with the n-th value of b. It completes as
// soon as either side does and cancels the other.
func Zip[A, B, R any](a Flow[A], b Flow[B], fn func(A, B) (R, error)) Flow[R] {
	return Func[R](func(t *scope.Task, emit func(R) error) error {
		_, err := scope.Within(t, func(inner *scope.Task) (struct{}, error) {
			bs := channel.Produce(inner.Scope(), "flow.zip", channel.Rendezvous, func(pt *scope.Task, ch *channel.Channel[B]) error {
				return b.Collect(pt, sendTo(pt, ch))
			})
			abort := &abortError{}
			err := a.Collect(inner, func(av A) error {
				bv, err := bs.Receive(inner)
				if errors.Is(err, channel.ErrEndOfChannel) {
					return abort
				}
				if err != nil {
					return err
				}
				r, err := fn(av, bv)
				if err != nil {
					return err
				}
				return emit(r)
			})
			if errors.Is(err, abort) {
				err = nil
			}
			bs.Cancel(err)
			return struct{}{}, err
		})
		return err
	})
}

type either[A, B any] struct {
	a   A
	b   B
	isB bool
}

// Combine emits fn of the latest values of a and b every time either side
// produces one, once both have produced at least one.
func Combine[A, B, R any](a Flow[A], b Flow[B], fn func(A, B) (R, error)) Flow[R] {
	left := Map(a, func(v A) (either[A, B], error) { return either[A, B]{a: v}, nil })
	right := Map(b, func(v B) (either[A, B], error) { return either[A, B]{b: v, isB: true}, nil })
	merged := Merge(left, right)
	return Func[R](func(t *scope.Task, emit func(R) error) error {
		var (
			la         A
			lb         B
			hasA, hasB bool
		)
		return merged.Collect(t, func(e either[A, B]) error {
			if e.isB {
				lb, hasB = e.b, true
			} else {
				la, hasA = e.a, true
			}
			if !hasA || !hasB {
				return nil
			}
			r, err := fn(la, lb)
			if err != nil {
				return err
			}
			return emit(r)
		})
	})
}
