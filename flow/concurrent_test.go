package flow

import (
	"context"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NetPo4ki/go-coflow/channel"
	"github.com/NetPo4ki/go-coflow/scope"
)

func recordProducer(events *[]string) Flow[int] {
	return New(func(_ *scope.Task, emit func(int) error) error {
		for i := 1; i <= 3; i++ {
			if err := emit(i); err != nil {
				return err
			}
			*events = append(*events, "p"+strconv.Itoa(i))
		}
		return nil
	})
}

func TestBufferLetsProducerRunAhead(t *testing.T) {
	t.Parallel()
	collect := func(f Flow[int], events *[]string) error {
		_, err := run(t, func(task *scope.Task) (struct{}, error) {
			return struct{}{}, Collect(task, f, func(v int) error {
				*events = append(*events, "c"+strconv.Itoa(v))
				return nil
			})
		})
		return err
	}

	var plain []string
	require.NoError(t, collect(recordProducer(&plain), &plain))
	require.Equal(t, []string{"c1", "p1", "c2", "p2", "c3", "p3"}, plain)

	var buffered []string
	require.NoError(t, collect(Buffer(recordProducer(&buffered), 3), &buffered))
	require.Equal(t, []string{"p1", "p2", "p3", "c1", "c2", "c3"}, buffered)
}

func TestConflateKeepsLatest(t *testing.T) {
	t.Parallel()
	const produced = 20
	src := New(func(task *scope.Task, emit func(int) error) error {
		for i := 1; i <= produced; i++ {
			if err := emit(i); err != nil {
				return err
			}
			if err := task.Delay(time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	})
	slow := OnEach(Conflate(src), func(task *scope.Task, _ int) error {
		return task.Delay(10 * time.Millisecond)
	})
	got, err := run(t, func(task *scope.Task) ([]int, error) { return ToSlice(task, slow) })
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Less(t, len(got), produced)
	require.True(t, slices.IsSorted(got))
	require.Len(t, slices.Compact(slices.Clone(got)), len(got))
	require.Equal(t, produced, got[len(got)-1])
}

func TestBufferTakeCancelsProducer(t *testing.T) {
	t.Parallel()
	var cleanups atomic.Int32
	got, err := run(t, func(task *scope.Task) ([]int, error) {
		return ToSlice(task, Take(Buffer(naturals(&cleanups), 2), 3))
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, got)
	require.EqualValues(t, 1, cleanups.Load())
}

func TestBufferPropagatesFailures(t *testing.T) {
	t.Parallel()
	_, err := run(t, func(task *scope.Task) ([]int, error) {
		return ToSlice(task, Buffer(failingAfter(1, 2), channel.Buffered))
	})
	require.ErrorIs(t, err, errBoom)

	var cleanups atomic.Int32
	_, err = run(t, func(task *scope.Task) (struct{}, error) {
		return struct{}{}, Collect(task, Buffer(naturals(&cleanups), 4), func(int) error { return errDown })
	})
	require.ErrorIs(t, err, errDown)
	require.EqualValues(t, 1, cleanups.Load())
}

func TestFlatMapConcatPreservesOrder(t *testing.T) {
	t.Parallel()
	f := FlatMapConcat(Of(1, 2, 3), func(v int) Flow[int] { return Of(v*10, v*10+1) })
	got, err := run(t, func(task *scope.Task) ([]int, error) { return ToSlice(task, f) })
	require.NoError(t, err)
	require.Equal(t, []int{10, 11, 20, 21, 30, 31}, got)
}

func TestFlatMapMergeBoundsConcurrency(t *testing.T) {
	t.Parallel()
	var active, peak atomic.Int32
	inner := func(v int) Flow[int] {
		return New(func(task *scope.Task, emit func(int) error) error {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			if err := task.Delay(time.Duration(5*(4-v%4)) * time.Millisecond); err != nil {
				return err
			}
			return emit(v)
		})
	}
	p := scope.NewPool(4)
	t.Cleanup(func() { _ = p.Close() })
	got, err := scope.Run(context.Background(), p, func(task *scope.Task) ([]int, error) {
		return ToSlice(task, FlatMapMerge(Of(1, 2, 3, 4, 5, 6, 7, 8), 2, inner))
	})
	require.NoError(t, err)
	slices.Sort(got)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, got)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFlatMapMergeStartsInnerInUpstreamOrder(t *testing.T) {
	t.Parallel()
	var started []int
	f := FlatMapMerge(Of(1, 2, 3, 4, 5, 6, 7, 8), 3, func(v int) Flow[int] {
		return New(func(task *scope.Task, emit func(int) error) error {
			started = append(started, v)
			if err := task.Yield(); err != nil {
				return err
			}
			return emit(v)
		})
	})
	got, err := run(t, func(task *scope.Task) ([]int, error) { return ToSlice(task, f) })
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, started)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestFlatMapLatestCancelsInner(t *testing.T) {
	t.Parallel()
	outer := New(func(task *scope.Task, emit func(int) error) error {
		if err := emit(1); err != nil {
			return err
		}
		if err := task.Delay(30 * time.Millisecond); err != nil {
			return err
		}
		return emit(2)
	})
	f := FlatMapLatest(outer, func(v int) Flow[int] {
		return New(func(task *scope.Task, emit func(int) error) error {
			if err := emit(v * 10); err != nil {
				return err
			}
			if err := task.Delay(100 * time.Millisecond); err != nil {
				return err
			}
			return emit(v*10 + 1)
		})
	})
	got, err := run(t, func(task *scope.Task) ([]int, error) { return ToSlice(task, f) })
	require.NoError(t, err)
	require.Equal(t, []int{10, 20, 21}, got)
}

func TestMapLatestKeepsLatest(t *testing.T) {
	t.Parallel()
	f := MapLatest(Of(1, 2, 3), func(task *scope.Task, v int) (int, error) {
		if err := task.Delay(10 * time.Millisecond); err != nil {
			return 0, err
		}
		return v * 2, nil
	})
	got, err := run(t, func(task *scope.Task) ([]int, error) { return ToSlice(task, f) })
	require.NoError(t, err)
	require.Equal(t, []int{6}, got)
}

func TestCollectLatestCancelsPrevious(t *testing.T) {
	t.Parallel()
	var started, finished []int
	_, err := run(t, func(task *scope.Task) (struct{}, error) {
		return struct{}{}, CollectLatest(task, Of(1, 2, 3), func(lt *scope.Task, v int) error {
			started = append(started, v)
			if err := lt.Delay(20 * time.Millisecond); err != nil {
				return err
			}
			finished = append(finished, v)
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, []int{3}, finished)
	require.Contains(t, started, 3)
}

func TestZipStopsAtShorter(t *testing.T) {
	t.Parallel()
	pair := func(a int, b string) (string, error) { return strconv.Itoa(a) + b, nil }
	var cleanups atomic.Int32
	got, err := run(t, func(task *scope.Task) ([][]string, error) {
		short, err := ToSlice(task, Zip(Of(1, 2, 3), Of("a", "b"), pair))
		if err != nil {
			return nil, err
		}
		endless, err := ToSlice(task, Zip(naturals(&cleanups), Of("x", "y"), pair))
		return [][]string{short, endless}, err
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1a", "2b"}, {"0x", "1y"}}, got)
	require.EqualValues(t, 1, cleanups.Load())
}

func TestZipPropagatesFailure(t *testing.T) {
	t.Parallel()
	_, err := run(t, func(task *scope.Task) (int, error) {
		return Count(task, Zip(Of(1, 2, 3), failingAfter(1), func(a, b int) (int, error) { return a + b, nil }))
	})
	require.ErrorIs(t, err, errBoom)
}

func TestCombineUsesLatestOfBoth(t *testing.T) {
	t.Parallel()
	step := 30 * time.Millisecond
	a := New(func(task *scope.Task, emit func(int) error) error {
		if err := emit(1); err != nil {
			return err
		}
		if err := task.Delay(2 * step); err != nil {
			return err
		}
		return emit(2)
	})
	b := New(func(task *scope.Task, emit func(string) error) error {
		if err := task.Delay(step); err != nil {
			return err
		}
		if err := emit("x"); err != nil {
			return err
		}
		if err := task.Delay(2 * step); err != nil {
			return err
		}
		return emit("y")
	})
	f := Combine(a, b, func(x int, y string) (string, error) { return strconv.Itoa(x) + y, nil })
	got, err := run(t, func(task *scope.Task) ([]string, error) { return ToSlice(task, f) })
	require.NoError(t, err)
	require.Equal(t, []string{"1x", "2x", "2y"}, got)
}

func TestMergeCollectsAll(t *testing.T) {
	t.Parallel()
	got, err := run(t, func(task *scope.Task) ([]int, error) {
		return ToSlice(task, Merge(Of(1, 2), Of(3, 4), Empty[int]()))
	})
	require.NoError(t, err)
	slices.Sort(got)
	require.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestFlowOnRunsUpstreamOnOtherDispatcher(t *testing.T) {
	t.Parallel()
	var resumes atomic.Int32
	io := scope.NewPool(2, scope.WithResumeHook(func(context.Context) { resumes.Add(1) }))
	t.Cleanup(func() { _ = io.Close() })
	got, err := run(t, func(task *scope.Task) ([]int, error) {
		return ToSlice(task, Map(FlowOn(Of(1, 2, 3), io), func(v int) (int, error) { return v * v, nil }))
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 9}, got)
	require.Positive(t, resumes.Load())
}

func TestTimeoutStopsFlow(t *testing.T) {
	t.Parallel()
	ticks := New(func(task *scope.Task, emit func(int) error) error {
		for i := 0; ; i++ {
			if err := emit(i); err != nil {
				return err
			}
			if err := task.Delay(time.Millisecond); err != nil {
				return err
			}
		}
	})
	_, err := run(t, func(task *scope.Task) (int, error) {
		return scope.Timeout(task, 20*time.Millisecond, func(inner *scope.Task) (int, error) {
			return Count(inner, Buffer(ticks, channel.Buffered))
		})
	})
	require.ErrorIs(t, err, scope.ErrTimedOut)
}

func TestLaunchInStatus(t *testing.T) {
	t.Parallel()
	p := scope.NewConfined()
	t.Cleanup(func() { _ = p.Close() })
	s := scope.New(context.Background(), p, scope.Supervisor)

	release := make(chan struct{})
	started := make(chan struct{})
	s.Go("hog", func(*scope.Task) error {
		close(started)
		<-release
		return nil
	})
	<-started

	var sum atomic.Int32
	ok := LaunchIn(s, "sum", Of(1, 2, 3), func(v int) error {
		sum.Add(int32(v))
		return nil
	})
	bad := LaunchIn(s, "bad", failingAfter(), func(int) error { return nil })
	endless := LaunchIn(s, "endless", New(func(task *scope.Task, emit func(int) error) error {
		for {
			if err := task.Delay(time.Millisecond); err != nil {
				return err
			}
		}
	}), func(int) error { return nil })

	require.Equal(t, NotStarted, ok.Status())
	close(release)
	require.NoError(t, ok.Join(nil))
	require.ErrorIs(t, bad.Join(nil), errBoom)
	endless.Cancel(nil)
	require.ErrorIs(t, endless.Join(nil), scope.ErrCancelled)
	_ = s.Wait()

	require.Equal(t, Completed, ok.Status())
	require.Equal(t, Failed, bad.Status())
	require.Equal(t, Cancelled, endless.Status())
	require.EqualValues(t, 6, sum.Load())
}
