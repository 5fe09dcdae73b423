package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/NetPo4ki/go-coflow/scope"
)

// Config configures NewLogger.
type Config struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a JSON, info level configuration writing to stderr.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a slog.Logger from cfg (or defaults if nil).
func NewLogger(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h)
}

// Observer writes scope and task lifecycle events to a slog.Logger.
//
// Lifecycle noise goes to Debug. A cancelled task is logged at Info, a
// failed one at Warn and a panicking one at Error.
type Observer struct {
	log *slog.Logger
}

// New returns an Observer writing to l. A nil l means slog.Default().
func New(l *slog.Logger) *Observer {
	if l == nil {
		l = slog.Default()
	}
	return &Observer{log: l.With(slog.String("component", "scope"))}
}

func (o *Observer) ScopeCreated(ctx context.Context) {
	o.log.LogAttrs(ctx, slog.LevelDebug, "scope created", taskAttrs(ctx)...)
}

func (o *Observer) ScopeCancelled(ctx context.Context, cause error) {
	o.log.LogAttrs(ctx, slog.LevelDebug, "scope cancelled", append(taskAttrs(ctx), slog.Any("cause", cause))...)
}

func (o *Observer) ScopeJoined(ctx context.Context, wait time.Duration) {
	o.log.LogAttrs(ctx, slog.LevelDebug, "scope joined", append(taskAttrs(ctx), slog.Duration("wait", wait))...)
}

func (o *Observer) TaskStarted(ctx context.Context) {
	o.log.LogAttrs(ctx, slog.LevelDebug, "task started", taskAttrs(ctx)...)
}

func (o *Observer) TaskFinished(ctx context.Context, dur time.Duration, err error, panicked bool) {
	attrs := append(taskAttrs(ctx), slog.Duration("took", dur))
	switch {
	case panicked:
		o.log.LogAttrs(ctx, slog.LevelError, "task panicked", append(attrs, slog.Any("err", err))...)
	case err == nil:
		o.log.LogAttrs(ctx, slog.LevelDebug, "task completed", attrs...)
	case scope.IsCancellation(err):
		o.log.LogAttrs(ctx, slog.LevelInfo, "task cancelled", append(attrs, slog.Any("cause", err))...)
	default:
		o.log.LogAttrs(ctx, slog.LevelWarn, "task failed", append(attrs, slog.Any("err", err))...)
	}
}

func taskAttrs(ctx context.Context) []slog.Attr {
	t, ok := scope.FromContext(ctx)
	if !ok {
		return nil
	}
	return []slog.Attr{slog.String("task", t.Name()), slog.String("task_id", t.ID().String())}
}

// Nop is a no-op implementation of the scope.Observer interface.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

func (*Nop) ScopeCreated(context.Context)                             {}
func (*Nop) ScopeCancelled(context.Context, error)                    {}
func (*Nop) ScopeJoined(context.Context, time.Duration)               {}
func (*Nop) TaskStarted(context.Context)                              {}
func (*Nop) TaskFinished(context.Context, time.Duration, error, bool) {}

var (
	_ scope.Observer = (*Observer)(nil)
	_ scope.Observer = (*Nop)(nil)
)
