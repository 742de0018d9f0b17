package log

import (
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

// Logger wraps slog with the attribute conventions used across flagsync.
type Logger struct {
	slog *slog.Logger
}

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = []string{"token", "authorization", "api_key", "password", "secret"}

// New creates a Logger writing in the configured format.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:       config.Level.slogLevel(),
		AddSource:   config.AddSource,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.Output.Writer(), opts)
	} else {
		handler = slog.NewJSONHandler(config.Output.Writer(), opts)
	}

	base := slog.New(handler)
	if config.ServiceName != "" {
		base = base.With("service", config.ServiceName, "version", config.ServiceVersion)
	}
	return &Logger{slog: base}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) && a.Value.String() != "" {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// Default creates a logger with DefaultConfig.
func Default() *Logger {
	return New(DefaultConfig())
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler)}
}

// With returns a Logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// WithComponent tags all entries with the emitting pipeline component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithOperation tags entries with a plan operation and its flag.
func (l *Logger) WithOperation(planID, operationID, flagKey string) *Logger {
	return l.With("plan_id", planID, "operation_id", operationID, "flag", flagKey)
}

// WithError adds error details. Coded errors contribute error_code,
// suggestions and cause.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	var fe *errors.FlagsyncError
	if !stderrors.As(err, &fe) {
		return l.With("error", err.Error())
	}

	args := []any{"error", fe.Message, "error_code", string(fe.Code)}
	if len(fe.Suggestions) > 0 {
		args = append(args, "suggestions", fe.Suggestions)
	}
	if fe.Cause != nil {
		args = append(args, "cause", fe.Cause.Error())
	}
	return l.With(args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }
