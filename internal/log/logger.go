package log

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// verbosities is the fixed severity table indexed by the -v count.
var verbosities = []slog.Level{slog.LevelError, slog.LevelWarn, slog.LevelInfo, slog.LevelDebug}

// Options configures the global logger.
type Options struct {
	Level  slog.Level
	Format string // text | json
	Writer io.Writer
}

// LevelForVerbosity maps a repeat count of -v onto error < warn < info < debug.
// Counts past the table are clamped to debug; negative counts behave like zero.
func LevelForVerbosity(count int) slog.Level {
	if count < 0 {
		count = 0
	}
	if count >= len(verbosities) {
		count = len(verbosities) - 1
	}
	return verbosities[count]
}

// ParseLevel accepts debug, info, warn and error. Anything else yields info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the global logger. It may be called again to reconfigure.
func Setup(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	l := slog.New(handler)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return Setup(Options{Level: slog.LevelInfo})
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithWorker returns a logger tagged with the worker ordinal.
func WithWorker(id int) *slog.Logger {
	return Get().With(slog.String("worker", strconv.Itoa(id)))
}

// WithTest returns a logger with the test_id field set.
func WithTest(id string) *slog.Logger {
	return Get().With(slog.String("test_id", id))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
