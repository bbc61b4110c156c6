package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions — параметры логгера сервиса.
type LogOptions struct {
	// Service добавляется ко всем записям атрибутом service.
	Service string
	// Level — DEBUG, INFO, WARN(ING), ERROR без учёта регистра.
	// Пустое или неизвестное значение — INFO.
	Level string
	// Format — "json" (по умолчанию) или "text".
	Format string
}

// LogOptionsFromEnv читает LOG_LEVEL и LOG_FORMAT.
func LogOptionsFromEnv(service string) LogOptions {
	return LogOptions{
		Service: service,
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
	}
}

// ParseLevel разбирает уровень логирования. ok=false для неизвестного
// значения, уровень при этом INFO.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger создаёт логгер, пишущий в w. На DEBUG добавляется source.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	level, _ := ParseLevel(opts.Level)
	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

// SetupLogger создаёт логгер сервиса из окружения, пишет в stdout
// и делает его глобальным.
func SetupLogger(service string) *slog.Logger {
	opts := LogOptionsFromEnv(service)
	logger := NewLogger(os.Stdout, opts)
	if _, ok := ParseLevel(opts.Level); !ok {
		logger.Warn("unknown LOG_LEVEL, using INFO", "value", opts.Level)
	}
	slog.SetDefault(logger)
	return logger
}

type ctxKey struct{}

// WithLogger кладёт логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext достаёт логгер из контекста, иначе — глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRunID добавляет run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithTask добавляет имя задачи.
func WithTask(logger *slog.Logger, task string) *slog.Logger {
	return logger.With("task", task)
}

// WithPipeline добавляет имя pipeline.
func WithPipeline(logger *slog.Logger, pipeline string) *slog.Logger {
	return logger.With("pipeline", pipeline)
}

// Discard — логгер без вывода, для тестов.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
