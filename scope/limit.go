package scope

import (
	"slices"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent tasks within a scope.
//
// A task that finds no free permit is not handed to its dispatcher at all:
// it waits in the scope's admission queue, in spawn order, and never holds
// a worker while waiting.
type Limiter interface {
	TryAcquire() bool
	Release()
}

type semLimiter struct {
	sem *semaphore.Weighted
}

func newSemaphoreLimiter(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return &semLimiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *semLimiter) TryAcquire() bool { return l.sem.TryAcquire(1) }

func (l *semLimiter) Release() { l.sem.Release(1) }

// admit dispatches t if a permit is free and nobody is queued before it,
// and queues it otherwise. A task cancelled before admission is
// dispatched without a permit so it can finish.
func (s *Scope) admit(t *Task) {
	s.mu.Lock()
	switch {
	case t.Check() != nil:
	case len(s.pending) == 0 && s.lim.TryAcquire():
		t.admitted = true
	default:
		s.pending = append(s.pending, t)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	t.run.disp.dispatch(t.run)
}

// releasePermit hands the permit of a finished task to the oldest queued
// task, or returns it to the limiter when the queue is empty.
func (s *Scope) releasePermit() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		s.lim.Release()
		return
	}
	next := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	next.admitted = true
	s.mu.Unlock()
	next.run.disp.dispatch(next.run)
}

// unqueue takes a cancelled task out of the admission queue and
// dispatches it without a permit.
func (s *Scope) unqueue(t *Task) {
	s.mu.Lock()
	i := slices.Index(s.pending, t)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	s.mu.Unlock()
	t.run.disp.dispatch(t.run)
}
