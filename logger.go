package sandbox

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for the water engine and the registered
// hardware backend. By default nothing is logged.
//
// Pass nil to restore the silent default.
//
// Levels:
//   - [slog.LevelDebug]: per-tick diagnostics (step size, bathymetry sync)
//   - [slog.LevelInfo]: lifecycle events (device selected, context initialized)
//   - [slog.LevelWarn]: non-fatal problems (software fallback)
//   - [slog.LevelError]: program build failures, with the program name
//
// Example:
//
//	sandbox.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	backendMu.RLock()
	b := backend
	backendMu.RUnlock()
	if b != nil {
		propagateLogger(b, l)
	}
}

// Logger returns the current logger. Sub-packages (gpu, elevation,
// property) call it to share one configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(b Backend, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
