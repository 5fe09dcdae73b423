package flow

import (
	"errors"

	"github.com/NetPo4ki/go-coflow/scope"
)

// Transform calls fn for every upstream value; fn may emit any number of
// values downstream. It runs on the collecting task.
func Transform[T, R any](f Flow[T], fn func(t *scope.Task, v T, emit func(R) error) error) Flow[R] {
	return Func[R](func(t *scope.Task, emit func(R) error) error {
		return f.Collect(t, func(v T) error { return fn(t, v, emit) })
	})
}

func Map[T, R any](f Flow[T], fn func(T) (R, error)) Flow[R] {
	return Func[R](func(t *scope.Task, emit func(R) error) error {
		return f.Collect(t, func(v T) error {
			r, err := fn(v)
			if err != nil {
				return err
			}
			return emit(r)
		})
	})
}

func Filter[T any](f Flow[T], pred func(T) bool) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		return f.Collect(t, func(v T) error {
			if !pred(v) {
				return nil
			}
			return emit(v)
		})
	})
}

// OnEach runs fn before every value is passed on.
func OnEach[T any](f Flow[T], fn func(t *scope.Task, v T) error) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		return f.Collect(t, func(v T) error {
			if err := fn(t, v); err != nil {
				return err
			}
			return emit(v)
		})
	})
}

// Take passes on the first n values and then stops the upstream through
// the cancellation path, so its cleanup runs.
func Take[T any](f Flow[T], n int) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		if n <= 0 {
			return nil
		}
		abort := &abortError{}
		count := 0
		err := f.Collect(t, func(v T) error {
			if count >= n {
				return abort
			}
			count++
			if err := emit(v); err != nil {
				return err
			}
			if count == n {
				return abort
			}
			return nil
		})
		if errors.Is(err, abort) {
			return nil
		}
		return err
	})
}

// TakeWhile passes on values while pred holds and stops the upstream at
// the first value for which it does not.
func TakeWhile[T any](f Flow[T], pred func(T) bool) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		abort := &abortError{}
		err := f.Collect(t, func(v T) error {
			if !pred(v) {
				return abort
			}
			return emit(v)
		})
		if errors.Is(err, abort) {
			return nil
		}
		return err
	})
}

func Drop[T any](f Flow[T], n int) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		skipped := 0
		return f.Collect(t, func(v T) error {
			if skipped < n {
				skipped++
				return nil
			}
			return emit(v)
		})
	})
}

// OnStart runs action before the upstream is collected. action may emit.
func OnStart[T any](f Flow[T], action func(t *scope.Task, emit func(T) error) error) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		if err := action(t, emit); err != nil {
			return err
		}
		return f.Collect(t, emit)
	})
}

// OnCompletion runs action once the upstream is done, with the error the
// collection ended with (nil on success). The original outcome is passed
// on unchanged; an error from action only surfaces when there was none.
func OnCompletion[T any](f Flow[T], action func(t *scope.Task, err error) error) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		err := f.Collect(t, emit)
		if aerr := action(t, err); err == nil {
			return aerr
		}
		return err
	})
}

// Catch handles a failure of the upstream with handler, which may emit
// replacement values, return nil to swallow the failure, or return an
// error. Failures raised downstream of Catch and cancellation of the
// collector pass through untouched.
func Catch[T any](f Flow[T], handler func(t *scope.Task, err error, emit func(T) error) error) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		var downErr error
		err := f.Collect(t, func(v T) error {
			if err := emit(v); err != nil {
				downErr = err
				return err
			}
			return nil
		})
		switch {
		case err == nil, downErr != nil:
			return err
		case scope.IsCancellation(err) && t.Check() != nil:
			return err
		}
		return handler(t, err, emit)
	})
}

// Retry collects the upstream again after a failure, up to n more times,
// as long as pred accepts the error. A nil pred retries every failure.
// Downstream failures and cancellation are never retried.
func Retry[T any](f Flow[T], n int, pred func(err error) bool) Flow[T] {
	return Func[T](func(t *scope.Task, emit func(T) error) error {
		for attempt := 0; ; attempt++ {
			var downErr error
			err := f.Collect(t, func(v T) error {
				if err := emit(v); err != nil {
					downErr = err
					return err
				}
				return nil
			})
			switch {
			case err == nil, downErr != nil, scope.IsCancellation(err):
				return err
			case attempt >= n, pred != nil && !pred(err):
				return err
			}
		}
	})
}
