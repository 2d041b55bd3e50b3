// Package logger builds the zap loggers used across the engine and
// carries the shared structured-field vocabulary so log keys stay
// consistent between the monitor, proctor, and persistence layers.
package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// Format selects the encoder: json or text.
	Format string

	// Development enables human-friendly output and DPanic behavior.
	Development bool
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{Level: "info", Format: "json"}
}

// New builds a zap logger from the given options.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	if strings.EqualFold(opts.Format, "text") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return cfg.Build()
}

// Default creates a logger with default options, falling back to a
// no-op logger if construction fails.
func Default() *zap.Logger {
	log, err := New(DefaultOptions())
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// Shared field vocabulary.
func UserID(id string) Field        { return zap.String("user_id", id) }
func CourseID(id string) Field      { return zap.String("course_id", id) }
func LessonID(id string) Field      { return zap.String("lesson_id", id) }
func AssessmentID(id string) Field  { return zap.String("assessment_id", id) }
func SessionID(id string) Field     { return zap.String("session_id", id) }
func EventType(t string) Field      { return zap.String("event_type", t) }
func Component(name string) Field   { return zap.String("component", name) }
func Operation(name string) Field   { return zap.String("operation", name) }
func Latency(d time.Duration) Field { return zap.Duration("latency", d) }

// Field aliases zap.Field so callers of the helpers above do not need
// a direct zap import for plain field construction.
type Field = zap.Field
