package scope

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMaxConcurrencyBound(t *testing.T) {
	t.Parallel()
	const N = 8
	const M = 50
	p := NewPool(4)
	t.Cleanup(func() { _ = p.Close() })
	s := New(context.Background(), p, Supervisor, WithMaxConcurrency(N))
	var cur, maxSeen atomic.Int64
	for i := 0; i < M; i++ {
		s.Go("worker", func(task *Task) error {
			c := cur.Add(1)
			defer cur.Add(-1)
			for j := 0; j < 5; j++ {
				if m := maxSeen.Load(); c > m {
					maxSeen.CompareAndSwap(m, c)
				}
				if err := task.Delay(time.Millisecond); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed := int(maxSeen.Load()); observed > N {
		t.Fatalf("observed concurrency %d exceeds limit %d", observed, N)
	}
}

func TestLimiterAcquireRespectsCancel(t *testing.T) {
	t.Parallel()
	p := NewConfined()
	t.Cleanup(func() { _ = p.Close() })
	s := New(context.Background(), p, FailFast, WithMaxConcurrency(1))
	s.Go("holder", func(task *Task) error {
		return task.Delay(time.Hour)
	})
	var ran atomic.Bool
	queued := s.Go("queued", func(*Task) error {
		ran.Store(true)
		return nil
	})
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	s.Cancel(context.Canceled)
	_ = s.Wait()
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("expected quick abort on cancel, got %v", elapsed)
	}
	if ran.Load() {
		t.Fatal("queued task should never start")
	}
	if st := queued.State(); st != Cancelled {
		t.Fatalf("expected queued task cancelled, got %v", st)
	}
}

func TestChildMaxConcurrencyBound(t *testing.T) {
	t.Parallel()
	p := NewPool(2)
	t.Cleanup(func() { _ = p.Close() })
	parent := New(context.Background(), p, Supervisor)
	child := parent.Child(Supervisor, WithMaxConcurrency(1))
	var cur, maxSeen atomic.Int64
	body := func(task *Task) error {
		c := cur.Add(1)
		defer cur.Add(-1)
		if m := maxSeen.Load(); c > m {
			maxSeen.CompareAndSwap(m, c)
		}
		return task.Delay(10 * time.Millisecond)
	}
	child.Go("first", body)
	child.Go("second", body)
	if err := child.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = parent.Wait()
	if observed := int(maxSeen.Load()); observed > 1 {
		t.Fatalf("child observed concurrency %d exceeds limit 1", observed)
	}
}

func TestLimitedScopeStartsInSpawnOrder(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), confined(t), Supervisor, WithMaxConcurrency(1))
	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"a", "b", "c", "d"} {
		s.Go(name, func(task *Task) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return task.Yield()
		})
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b", "c", "d"}; !slices.Equal(order, want) {
		t.Fatalf("start order %v, want %v", order, want)
	}
}

func TestCancelledQueuedTaskLeavesQueue(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), confined(t), Supervisor, WithMaxConcurrency(1))
	holder := s.Go("holder", func(task *Task) error {
		return task.Delay(time.Hour)
	})
	skipped := s.Go("skipped", func(*Task) error { return nil })
	var ran atomic.Bool
	s.Go("next", func(*Task) error {
		ran.Store(true)
		return nil
	})
	skipped.Cancel(nil)
	<-skipped.Done()
	if st := skipped.State(); st != Cancelled {
		t.Fatalf("expected skipped task cancelled, got %v", st)
	}
	if ran.Load() {
		t.Fatal("queued task started while the holder kept the permit")
	}
	holder.Cancel(nil)
	if err := s.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran.Load() {
		t.Fatal("task queued behind the cancelled one never ran")
	}
}

func TestRunLimitsBodyChildren(t *testing.T) {
	t.Parallel()
	p := NewPool(4)
	t.Cleanup(func() { _ = p.Close() })
	var cur, maxSeen atomic.Int64
	_, err := Run(context.Background(), p, func(task *Task) (struct{}, error) {
		for range 6 {
			task.Go("child", func(c *Task) error {
				n := cur.Add(1)
				defer cur.Add(-1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				return c.Delay(2 * time.Millisecond)
			})
		}
		return struct{}{}, nil
	}, WithMaxConcurrency(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed := maxSeen.Load(); observed > 2 {
		t.Fatalf("observed concurrency %d exceeds limit 2", observed)
	}
}
