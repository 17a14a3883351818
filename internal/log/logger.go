package log

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/raiich/httpconn/lib/log"
)

// LevelEnv names the environment variable read at startup to pick the level.
const LevelEnv = "HTTPCONN_LOG_LEVEL"

var level = new(slog.LevelVar)

var defaultLogger log.Logger = slog.New(&log.Handler{
	Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}),
})

func init() {
	level.Set(slog.LevelInfo)
	if v, ok := os.LookupEnv(LevelEnv); ok {
		SetLevel(ParseLevel(v))
	}
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetDefault replaces the logger used by the package-level helpers.
func SetDefault(l log.Logger) {
	defaultLogger = l
}

func Default() log.Logger {
	return defaultLogger
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.DebugContext(ctx, msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.InfoContext(ctx, msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.WarnContext(ctx, msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	defaultLogger.ErrorContext(ctx, msg, args...)
}

func OnError(err error, args ...any) {
	if err != nil {
		defaultLogger.Error("unexpected error", append(args, "error", err)...)
	}
}

func OnErrorContext(ctx context.Context, err error, args ...any) {
	if err != nil {
		defaultLogger.ErrorContext(ctx, "unexpected error", append(args, "error", err)...)
	}
}
