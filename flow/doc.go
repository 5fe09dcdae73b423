// Package flow implements cold streams on top of scope and channel.
//
// A Flow describes how to produce values; nothing happens until a terminal
// operator (Collect, ToSlice, First, LaunchIn, ...) runs it on a task, and
// every run starts over from the beginning.
//
// Values are pushed depth first: an upstream emit returns only after the
// whole downstream chain has handled the value. Plain operators (Map,
// Filter, Take, Catch, ...) therefore run on the collecting task, one value
// at a time. Buffer, Conflate, FlowOn, the Latest family, FlatMapMerge,
// Merge, Zip and Combine move the upstream into tasks of their own and hand
// values back through a channel, so the downstream still only ever runs on
// the collector.
//
// Errors travel downstream unchanged until a Catch between the failure and
// the collector handles them. Catch never sees errors raised below it, and
// OnCompletion sees the outcome without changing it.
//
//	sum, err := scope.Run(ctx, pool, func(t *scope.Task) (int, error) {
//		squares := flow.Map(flow.Of(1, 2, 3), func(v int) (int, error) { return v * v, nil })
//		return flow.Fold(t, squares, 0, func(acc, v int) (int, error) { return acc + v, nil })
//	})
package flow
