package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beam-me/core/internal/async"
	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/logging"
	serverHTTP "github.com/beam-me/core/internal/server/http"
)

const shutdownTimeout = 10 * time.Second

// RunServer loads configuration, builds the container and serves HTTP until
// SIGINT or SIGTERM.
func RunServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup := InitObservability(cfg)
	defer cleanup()
	logger := logging.NewComponentLogger("Main")
	LogServerConfiguration(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := BuildContainer(ctx, cfg, WithLogger(logging.NewComponentLogger("Bootstrap")))
	if err != nil {
		return err
	}
	defer container.Close()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           container.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveUntilSignal(ctx, server, logger)
}

// Router builds the HTTP surface over the container's services.
func (c *Container) Router() *gin.Engine {
	srv := c.Config.Server
	return serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Gateway:      c.Gateway,
		Tokens:       c.Tokens,
		Policy:       c.Policy,
		Catalog:      c.Registry,
		Orchestrator: c.Orchestrator,
		Runs:         c.Runs,
		Logger:       logging.NewComponentLogger("HTTP"),
	}, serverHTTP.RouterConfig{
		Mode:           srv.Mode,
		AllowedOrigins: srv.CORSOrigins,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: srv.RateLimitPerMinute,
			Burst:             srv.RateLimitBurst,
		},
		TaskTokenTTL: c.Config.Auth.TaskTokenTTL,
	})
}

// serveUntilSignal runs server until it fails or ctx is done, then drains
// in-flight requests.
func serveUntilSignal(ctx context.Context, server *http.Server, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := async.Go(logger, "server.listen", func() error {
		logger.Info("Server listening on %s", server.Addr)
		return server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := server.Shutdown(shutdownCtx)

		serveErr := <-errCh
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("Server stopped")
		return nil
	}
}
