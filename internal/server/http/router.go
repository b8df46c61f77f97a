// Package http exposes the orchestrator and the negotiation gateway over a
// gin router.
package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/orchestrator"
)

// Negotiation is the gateway surface served under /abn and /channels.
type Negotiation interface {
	OpenChannel(ctx context.Context, taskToken, origin, target string, proposedBudget int) (gateway.OpenResult, error)
	SendMessage(ctx context.Context, channelID string, env abn.Envelope, channelToken string) (gateway.SendResult, error)
	Revoke(ctx context.Context, channelID string) error
	Transcript(ctx context.Context, channelID string) ([]abn.TranscriptEntry, error)
}

// TaskTokenMinter issues task tokens for POST /task.
type TaskTokenMinter interface {
	MintTaskToken(taskID string, cores []string, allowDirect bool, ttl time.Duration) (string, error)
}

// PolicyDecider answers POST /pdp/authorize_abn.
type PolicyDecider interface {
	Authorize(origin, target string, proposedBudget int) policy.Decision
}

// CoreCatalog lists registered cores for GET /agents.
type CoreCatalog interface {
	Describe() []cores.Descriptor
}

// Runner drives a run to a terminal message.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) mission.AgentMessage
}

// RouterDeps holds the services the router dispatches to.
type RouterDeps struct {
	Gateway      Negotiation
	Tokens       TaskTokenMinter
	Policy       PolicyDecider
	Catalog      CoreCatalog
	Orchestrator Runner
	Runs         *RunRegistry
	// Metrics serves GET /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
	Logger  logging.Logger
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	Mode           string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	TaskTokenTTL   time.Duration
}

// NewRouter wires every route.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HTTP")
	}
	if deps.Runs == nil {
		deps.Runs = NewRunRegistry(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ObservabilityMiddleware(logger))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	engine.Use(RateLimitMiddleware(cfg.RateLimit))

	abnHandler := &ABNHandler{
		gateway:  deps.Gateway,
		tokens:   deps.Tokens,
		policy:   deps.Policy,
		tokenTTL: cfg.TaskTokenTTL,
		logger:   logger,
	}
	runHandler := &RunHandler{runner: deps.Orchestrator, runs: deps.Runs, logger: logger}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})
	engine.GET("/agents", func(c *gin.Context) {
		if deps.Catalog == nil {
			c.JSON(http.StatusOK, []cores.Descriptor{})
			return
		}
		c.JSON(http.StatusOK, deps.Catalog.Describe())
	})
	engine.GET("/metrics", gin.WrapH(deps.Metrics))

	engine.POST("/task", abnHandler.MintTask)
	engine.POST("/pdp/authorize_abn", abnHandler.Authorize)
	engine.POST("/abn/open", abnHandler.Open)
	engine.POST("/abn/channel/:channelId/messages", abnHandler.Send)
	engine.GET("/abn/channel/:channelId/transcript", abnHandler.Transcript)
	engine.DELETE("/channels/:channelId", abnHandler.Revoke)

	engine.POST("/run/start", runHandler.Start)
	engine.POST("/run/continue", runHandler.Continue)
	engine.GET("/run/:runId", runHandler.Get)

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	allowAll := len(origins) == 0
	var explicit []string
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			allowAll = true
		default:
			explicit = append(explicit, origin)
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = explicit
	}
	return cfg
}
