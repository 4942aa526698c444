package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hibiken/asynq"
)

// New builds the process logger. Production uses JSON output so log
// shippers can index the job_id/stage/backend attributes.
func New(env, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

func NewWithWriter(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(env, "production") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AsynqLevel maps the configured level onto the worker server's log level.
func AsynqLevel(level string) asynq.LogLevel {
	switch ParseLevel(level) {
	case slog.LevelDebug:
		return asynq.DebugLevel
	case slog.LevelWarn:
		return asynq.WarnLevel
	case slog.LevelError:
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// Discard is a logger for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
