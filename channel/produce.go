package channel

import "github.com/NetPo4ki/go-coflow/scope"

// Produce starts fn as a task of s that sends into a new channel of the
// given capacity. The channel is closed when fn returns, with fn's error
// as the close cause. Cancelling the channel cancels the producer.
func Produce[T any](s *scope.Scope, name string, capacity int, fn func(t *scope.Task, ch *Channel[T]) error, opts ...scope.TaskOption) *Channel[T] {
	ch := New[T](capacity)
	t := s.Go(name, func(t *scope.Task) error {
		err := fn(t, ch)
		ch.CloseWithError(err)
		return err
	}, opts...)
	ch.setProducer(t)
	return ch
}
