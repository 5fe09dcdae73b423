// Package channel provides FIFO channels whose Send and Receive suspend the
// calling scope.Task instead of blocking its worker.
//
// A channel has one of four shapes, picked by the capacity given to New:
//
//   - Rendezvous: a Send completes only together with its paired Receive.
//   - N > 0: up to N values are buffered; further senders suspend.
//   - Unlimited: senders never suspend.
//   - Conflated: one slot, overwritten by every Send; senders never suspend.
//
// Buffered selects DefaultBuffer.
//
// Several consumers may receive from one channel: every value goes to
// exactly one of them. Several producers may send into one channel; the
// order in which their values interleave is not specified.
//
// Close is idempotent. After Close every buffered value is still received
// in order, after which Receive returns ErrEndOfChannel (or the cause given
// to CloseWithError). Cancel is the abrupt variant: buffered values are
// dropped and every suspended sender and receiver fails with a
// cancellation error.
//
// Produce ties a channel to a producer task:
//
//	ch := channel.Produce(s, "numbers", channel.Rendezvous, func(t *scope.Task, ch *channel.Channel[int]) error {
//		for i := range 3 {
//			if err := ch.Send(t, i); err != nil {
//				return err
//			}
//		}
//		return nil
//	})
//	err := ch.ForEach(consumer, func(v int) error { ... })
package channel
