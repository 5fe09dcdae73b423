package flow

import (
	"errors"

	"github.com/NetPo4ki/go-coflow/channel"
	"github.com/NetPo4ki/go-coflow/scope"
)

// Flow is a cold stream of values. Nothing runs until Collect is called,
// and every Collect runs the whole pipeline again from the start.
//
// Collect pushes values into emit on the collecting task. An error from
// emit must be returned by Collect as is; it belongs to the downstream
// side.
type Flow[T any] interface {
	Collect(t *scope.Task, emit func(T) error) error
}

// Func adapts a function to Flow.
type Func[T any] func(t *scope.Task, emit func(T) error) error

func (f Func[T]) Collect(t *scope.Task, emit func(T) error) error { return f(t, emit) }

// ErrNoElements is returned by First and Reduce on an empty flow.
var ErrNoElements = errors.New("flow: no elements")

// New returns a flow running body on every collection. emit checks for
// cancellation of t before forwarding, so a body looping over emit stops
// once the collector is cancelled.
func New[T any](body func(t *scope.Task, emit func(T) error) error) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		return body(t, func(v T) error {
			if err := t.Check(); err != nil {
				return err
			}
			return emit(v)
		})
	})
}

func Of[T any](vs ...T) Flow[T] { return FromSlice(vs) }

func FromSlice[T any](vs []T) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		for _, v := range vs {
			if err := t.Check(); err != nil {
				return err
			}
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func Empty[T any]() Flow[T] {
	return Func[T](func(*scope.Task, func(T) error) error { return nil })
}

// FromChannel receives from ch until it is drained. The channel is hot:
// values taken by one collection are gone for the next.
func FromChannel[T any](ch *channel.Channel[T]) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		return ch.ForEach(t, emit)
	})
}

// ChannelFlow runs body as a producer task that sends into a channel of
// the given capacity, while the collector receives from it. body may spawn
// further tasks in its own scope; the channel is closed once they are all
// done.
func ChannelFlow[T any](capacity int, body func(t *scope.Task, ch *channel.Channel[T]) error) Flow[T] {
	return channelFlow(capacity, body)
}

func channelFlow[T any](capacity int, body func(t *scope.Task, ch *channel.Channel[T]) error, opts ...scope.TaskOption) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		_, err := scope.Within(t, func(inner *scope.Task) (struct{}, error) {
			ch := channel.Produce(inner.Scope(), "flow.producer", capacity, func(pt *scope.Task, ch *channel.Channel[T]) error {
				_, err := scope.Within(pt, func(ws *scope.Task) (struct{}, error) {
					return struct{}{}, body(ws, ch)
				})
				return err
			}, opts...)
			err := ch.ForEach(inner, emit)
			if err != nil {
				ch.Cancel(err)
			}
			return struct{}{}, err
		})
		return err
	})
}

// abortError stops an upstream collection early without it counting as a
// failure. Each early-stopping collection makes its own and recognizes it
// by identity.
type abortError struct{}

func (*abortError) Error() string { return "flow: collection stopped early" }

func (*abortError) Is(target error) bool { return target == scope.ErrCancelled }

// sendTo forwards values into ch on behalf of t.
func sendTo[T any](t *scope.Task, ch *channel.Channel[T]) func(T) error {
	return func(v T) error { return ch.Send(t, v) }
}
