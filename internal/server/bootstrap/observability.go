package bootstrap

import (
	"context"
	"time"

	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
)

// InitObservability configures the process logger and best-effort tracing,
// returning a cleanup hook that flushes spans.
func InitObservability(cfg config.Config) func() {
	logging.Configure(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger := logging.NewComponentLogger("Observability")

	tp, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown error: %v", err)
		}
	}
}
