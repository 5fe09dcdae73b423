package scope

import (
	"context"
	"log/slog"
	"time"
)

type Policy int

const (
	// FailFast cancels every sibling and the owner on the first failure.
	FailFast Policy = iota
	// Supervisor records failures and lets siblings run on.
	Supervisor
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Supervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Observer       Observer
	MaxConcurrency int
	Timeout        time.Duration
	Logger         *slog.Logger
}

func defaultOptions() Options { return Options{PanicAsError: true, Logger: discardLogger()} }

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

// WithTimeout cancels the scope with ErrTimedOut once d has elapsed.
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Observer receives lifecycle events of explicit scopes and their tasks.
// ctx is the scope or task context.
type Observer interface {
	ScopeCreated(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	TaskStarted(ctx context.Context)
	TaskFinished(ctx context.Context, dur time.Duration, err error, panicked bool)
}

// TaskOption configures a single spawned task.
type TaskOption func(*taskOptions)

type taskOptions struct {
	disp   Dispatcher
	values []keyValue
	limit  int
}

// childOptions are the options of the task's own scope.
func (o taskOptions) childOptions(s *Scope) Options {
	co := s.childOptions()
	co.MaxConcurrency = o.limit
	return co
}

// limitChildren bounds the tasks spawned by the task itself.
func limitChildren(n int) TaskOption { return func(o *taskOptions) { o.limit = n } }

type keyValue struct{ key, val any }

// On runs the task on d instead of the scope's dispatcher.
func On(d Dispatcher) TaskOption { return func(o *taskOptions) { o.disp = d } }

// WithValue attaches an ambient value to the task context. It travels
// with the task across suspensions and is visible to its children.
func WithValue(key, val any) TaskOption {
	return func(o *taskOptions) { o.values = append(o.values, keyValue{key, val}) }
}

// Observers fans every event out to each of obs, in order.
func Observers(obs ...Observer) Observer { return multiObserver(obs) }

type multiObserver []Observer

func (m multiObserver) ScopeCreated(ctx context.Context) {
	for _, o := range m {
		o.ScopeCreated(ctx)
	}
}

func (m multiObserver) ScopeCancelled(ctx context.Context, cause error) {
	for _, o := range m {
		o.ScopeCancelled(ctx, cause)
	}
}

func (m multiObserver) ScopeJoined(ctx context.Context, wait time.Duration) {
	for _, o := range m {
		o.ScopeJoined(ctx, wait)
	}
}

func (m multiObserver) TaskStarted(ctx context.Context) {
	for _, o := range m {
		o.TaskStarted(ctx)
	}
}

func (m multiObserver) TaskFinished(ctx context.Context, dur time.Duration, err error, panicked bool) {
	for _, o := range m {
		o.TaskFinished(ctx, dur, err, panicked)
	}
}
