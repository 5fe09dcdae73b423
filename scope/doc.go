// Package scope provides a cooperative task runtime with structured
// concurrency.
//
// Tasks are spawned into a Scope and run on a Dispatcher: a Pool of N
// workers, a confined single-worker pool, or Unconfined. A task holds its
// worker until it reaches a suspension point (Task.Delay, Task.Yield,
// Task.Join, Handle.Await, Scope.Join, Within, or a channel operation from
// package channel). Suspension gives the worker back; the condition that
// wakes the task puts it at the end of the ready queue.
//
// Scopes own the tasks they spawn, provide a join point, and propagate
// cancellation down and failures up according to a Policy. Cancellation
// is cooperative: it is observed at suspension points and Task.Check only.
package scope
