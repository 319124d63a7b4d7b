package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

// serviceName is attached to every record as the "service" attribute.
const serviceName = "projectorctld"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the daemon's structured logger.
//
// Every package that logs declares its own small Logger interface
// (Debug/Info/Warn/Error); *Logger satisfies all of them, so components
// receive log.Component("name") and never import this package.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration.
// Every record carries the service name and the build version.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, writerFor(cfg.Output))
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	h := handlerFor(cfg.Format, w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// handlerFor picks JSON unless "text" is asked for.
func handlerFor(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a config level name to slog. Unknown names mean info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// With returns a Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags records with the subsystem that wrote them:
//
//	regLog := log.Component("registry")
//	regLog.Info("device arrived", "device_id", id)
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used until configuration is loaded.
func Default() *Logger {
	return newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
