// Package logging provides scope.Observer implementations backed by
// log/slog, and a small constructor for configured slog loggers.
//
//	log := logging.NewLogger(&logging.Config{Level: slog.LevelDebug, Format: "text"})
//	s := scope.New(ctx, pool, scope.FailFast,
//		scope.WithLogger(log),
//		scope.WithObserver(logging.New(log)))
//
// Nop is the observer to plug in when nothing should be recorded.
package logging
