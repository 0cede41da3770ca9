package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// EnvLogLevel 覆盖日志级别，配置加载之前就要能用
const EnvLogLevel = "VAULTGATE_LOG_LEVEL"

var (
	globalLogger *slog.Logger
	once         sync.Once
)

// Init sets up the process-wide JSON logger. An empty level falls back to
// the VAULTGATE_LOG_LEVEL environment variable, then to info.
func Init(level string) {
	once.Do(func() {
		if level == "" {
			level = os.Getenv(EnvLogLevel)
		}
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
		globalLogger = slog.New(handler).With(slog.String("service", "vaultgate"))
		slog.SetDefault(globalLogger)
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		Init("")
	}
	return globalLogger
}

// Helper functions for quick logging
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

// LogError attaches the error string as a structured attribute. No-op on
// nil errors so call sites don't need the guard.
func LogError(ctx context.Context, err error, msg string, args ...any) {
	if err == nil {
		return
	}
	args = append(args, slog.String("error", err.Error()))
	Get().ErrorContext(ctx, msg, args...)
}
