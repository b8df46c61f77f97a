package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	id "github.com/beam-me/core/internal/utils/id"
)

// Logger is the process slog logger. Records emitted through the *Context
// methods carry the run, task and trace ids found in the context.
type Logger struct {
	*slog.Logger
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

func NewLogger(config LogConfig) *Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}

	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	}
	return &Logger{Logger: slog.New(contextHandler{Handler: handler})}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		if strings.EqualFold(strings.TrimSpace(level), "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return lvl
}

// contextHandler copies correlation ids from the record's context.
type contextHandler struct {
	slog.Handler
}

var contextIDs = []struct {
	key  string
	from func(context.Context) string
}{
	{"run_id", id.RunIDFromContext},
	{"task_id", id.TaskIDFromContext},
	{"trace_id", id.TraceIDFromContext},
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, c := range contextIDs {
			if v := c.from(ctx); v != "" {
				r.AddAttrs(slog.String(c.key, v))
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}
