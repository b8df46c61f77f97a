package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/beam-me/core/internal/abn/client"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/artifacts"
	"github.com/beam-me/core/internal/auth/token"
	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/cores/analysis"
	"github.com/beam-me/core/internal/cores/codereview"
	"github.com/beam-me/core/internal/cores/engineering"
	"github.com/beam-me/core/internal/cores/flightsafety"
	"github.com/beam-me/core/internal/cores/propulsion"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/knowledge"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/matchmaker"
	"github.com/beam-me/core/internal/observability"
	"github.com/beam-me/core/internal/orchestrator"
	"github.com/beam-me/core/internal/planner"
	"github.com/beam-me/core/internal/prompts"
	"github.com/beam-me/core/internal/rag"
	"github.com/beam-me/core/internal/sandbox"
	serverHTTP "github.com/beam-me/core/internal/server/http"
	"github.com/beam-me/core/internal/strategy"
)

// Container holds every long-lived service of one process.
type Container struct {
	Config       config.Config
	Tokens       *token.Authority
	Policy       *policy.Policy
	Channels     store.Store
	Gateway      *gateway.Gateway
	Registry     *cores.Registry
	Index        *rag.RepositoryIndex
	Orchestrator *orchestrator.Orchestrator
	Runs         *serverHTTP.RunRegistry
	Degraded     *DegradedComponents

	// LLM is exposed so callers may swap in a scripted client before
	// BuildContainer; nil selects the configured provider.
	LLM llm.Client

	logger     logging.Logger
	metrics    *observability.MetricsCollector
	prompts    *prompts.Loader
	knowledge  *knowledge.Base
	artifacts  artifacts.Store
	sandbox    *sandbox.ProcessSandbox
	robustness *sandbox.RobustnessValidator
	closers    []func()
}

// Option adjusts a container before its stages run.
type Option func(*Container)

// WithLLM replaces the configured inference provider.
func WithLLM(client llm.Client) Option {
	return func(c *Container) { c.LLM = client }
}

// WithLogger replaces the bootstrap logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Container) { c.logger = logger }
}

// BuildContainer wires every component described by cfg. Optional stages
// that fail leave the container usable with a fallback and are listed in
// Degraded.
func BuildContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	c := &Container{Config: cfg, Degraded: NewDegradedComponents()}
	for _, opt := range opts {
		opt(c)
	}
	if logging.IsNil(c.logger) {
		c.logger = logging.NewComponentLogger("Bootstrap")
	}

	stages := []Stage{
		{Name: "metrics", Init: c.initMetrics},
		{Name: "tokens", Required: true, Init: c.initTokens},
		{Name: "channel-store", Required: true, Init: c.initChannelStore},
		{Name: "inference", Required: true, Init: c.initInference},
		{Name: "knowledge", Required: true, Init: c.initKnowledge},
		{Name: "knowledge-dir", Init: c.initKnowledgeDir},
		{Name: "artifacts", Required: true, Init: c.initArtifacts},
		{Name: "sandbox", Required: true, Init: c.initSandbox},
		{Name: "similarity-index", Init: c.initIndex},
		{Name: "similarity-index-fallback", Required: true, Init: c.initIndexFallback},
		{Name: "gateway", Required: true, Init: c.initGateway},
		{Name: "cores", Required: true, Init: c.initCores},
		{Name: "orchestrator", Required: true, Init: c.initOrchestrator},
	}
	if err := RunStages(ctx, stages, c.Degraded, c.logger); err != nil {
		c.Close()
		return nil, err
	}
	if !c.Degraded.IsEmpty() {
		c.logger.Warn("Started with degraded components: %s", strings.Join(c.Degraded.Names(), ", "))
	}
	return c, nil
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Container) initMetrics(context.Context) error {
	c.metrics = &observability.MetricsCollector{}
	collector, err := observability.NewMetricsCollector(c.Config.Metrics)
	if err != nil {
		return err
	}
	c.metrics = collector
	return nil
}

func (c *Container) initTokens(context.Context) error {
	if c.Config.UsesDevSecret() {
		c.logger.Warn("auth.secret not set; signing tokens with the development secret")
	}
	secret := c.Config.Auth.Secret
	if strings.TrimSpace(secret) == "" {
		secret = config.DevSecret
	}
	authority, err := token.NewAuthority(secret, c.Config.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("token authority: %w", err)
	}
	c.Tokens = authority
	return nil
}

func (c *Container) initChannelStore(ctx context.Context) error {
	switch c.Config.Store.Driver {
	case "", "memory":
		c.Channels = store.NewMemoryStore()
		return nil
	case "postgres":
		pool, err := pgxpool.New(ctx, c.Config.Store.DSN)
		if err != nil {
			return fmt.Errorf("connect channel store: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		pg, err := store.NewPostgresStore(pool)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("channel store schema: %w", err)
		}
		c.Channels = pg
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", c.Config.Store.Driver)
	}
}

func (c *Container) initInference(context.Context) error {
	if c.LLM != nil {
		return nil
	}
	cfg := c.Config.Inference
	switch cfg.Provider {
	case "mock":
		c.LLM = llm.NewMockClient()
	case "openai", "":
		if cfg.APIKey == "" {
			c.logger.Warn("inference.api_key not set; requests to %s will likely be rejected", cfg.BaseURL)
		}
		base := llm.NewOpenAIClient(llm.Config{
			BaseURL:         cfg.BaseURL,
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Timeout:         cfg.Timeout,
			MaxPromptTokens: cfg.MaxPromptTokens,
		}, llm.WithMetrics(c.metrics))
		retry := coreerrors.DefaultRetryConfig()
		retry.MaxAttempts = cfg.MaxRetries
		breaker := coreerrors.NewCircuitBreaker("inference", coreerrors.DefaultCircuitBreakerConfig())
		c.LLM = llm.NewRetryClient(base, retry, breaker)
	default:
		return fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
	return nil
}

func (c *Container) initKnowledge(context.Context) error {
	loader, err := prompts.NewLoader()
	if err != nil {
		return err
	}
	c.prompts = loader
	kb, err := knowledge.Default()
	if err != nil {
		return fmt.Errorf("embedded knowledge base: %w", err)
	}
	c.knowledge = kb
	return nil
}

func (c *Container) initKnowledgeDir(context.Context) error {
	dir := c.Config.Knowledge.Dir
	if dir == "" {
		return nil
	}
	kb, err := knowledge.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load %s: %w", dir, err)
	}
	c.knowledge = kb
	return nil
}

func (c *Container) initArtifacts(context.Context) error {
	cfg := c.Config.Artifacts
	switch cfg.Provider {
	case "", "memory":
		c.artifacts = artifacts.NewMemoryStore()
		return nil
	case "github":
		gh, err := artifacts.NewGitHubStore(artifacts.GitHubConfig{
			BaseURL: cfg.BaseURL,
			Owner:   cfg.Owner,
			Repo:    cfg.Repo,
			Branch:  cfg.Branch,
			Token:   cfg.Token,
		})
		if err != nil {
			return err
		}
		c.artifacts = gh
		return nil
	default:
		return fmt.Errorf("unknown artifacts provider %q", cfg.Provider)
	}
}

func (c *Container) initSandbox(context.Context) error {
	cfg := c.Config.Sandbox
	if cfg.Interpreter == "" {
		return errors.New("sandbox.interpreter is required")
	}
	c.sandbox = sandbox.NewProcessSandbox(cfg.Interpreter, cfg.Timeout, c.metrics)
	c.robustness = sandbox.NewRobustnessValidator(c.sandbox, cfg.RobustnessTimeout)
	return nil
}

func (c *Container) initIndex(context.Context) error {
	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		Provider:  c.Config.Embeddings.Provider,
		Model:     c.Config.Embeddings.Model,
		APIKey:    c.Config.Embeddings.APIKey,
		BaseURL:   c.Config.Embeddings.BaseURL,
		CacheSize: c.Config.Embeddings.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	vectors, err := rag.NewVectorStore(rag.StoreConfig{
		PersistPath: c.Config.Index.PersistPath,
		Collection:  c.Config.Index.Collection,
	}, embedder)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	c.Index = rag.NewRepositoryIndex(vectors)
	return nil
}

// initIndexFallback keeps similarity search available in memory with the
// offline embedder when the configured index could not be opened.
func (c *Container) initIndexFallback(context.Context) error {
	if c.Index != nil {
		return nil
	}
	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{Provider: "hash"})
	if err != nil {
		return err
	}
	vectors, err := rag.NewVectorStore(rag.StoreConfig{Collection: c.Config.Index.Collection}, embedder)
	if err != nil {
		return err
	}
	c.Index = rag.NewRepositoryIndex(vectors)
	return nil
}

func (c *Container) initGateway(context.Context) error {
	c.Policy = policy.New(c.Config.Policy.MaxBudget, c.Config.Policy.ChannelTTL)
	gw, err := gateway.New(gateway.Config{
		Tokens:  c.Tokens,
		Policy:  c.Policy,
		Store:   c.Channels,
		Metrics: gateway.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	c.Gateway = gw
	return nil
}

func (c *Container) initCores(context.Context) error {
	registry, err := cores.NewRegistry(
		analysis.New(c.LLM, c.prompts),
		engineering.New(engineering.Config{
			LLM:        c.LLM,
			Prompts:    c.prompts,
			Sandbox:    c.sandbox,
			Robustness: c.robustness,
			Artifacts:  c.artifacts,
		}),
		propulsion.New(propulsion.Config{
			LLM:       c.LLM,
			Prompts:   c.prompts,
			Knowledge: c.knowledge,
			Matcher:   matchmaker.New(),
			Clients:   client.NewFactory(c.Gateway, c.Config.Policy.DefaultBudget, nil),
			Budget:    c.Config.Policy.DefaultBudget,
		}),
		flightsafety.New(c.LLM, c.prompts, c.knowledge),
		codereview.New(c.LLM, c.prompts, c.knowledge),
	)
	if err != nil {
		return err
	}
	c.Gateway.SetHandlers(registry)
	c.Registry = registry
	return nil
}

func (c *Container) initOrchestrator(context.Context) error {
	cfg := c.Config.Orchestrator
	orch, err := orchestrator.New(orchestrator.Config{
		Registry:      c.Registry,
		Selector:      strategy.New(c.Index, cfg.ReuseThreshold, cfg.ModifyThreshold),
		Planner:       planner.New(c.LLM, c.prompts, c.Registry.Describe()),
		Tokens:        c.Tokens,
		Index:         c.Index,
		MaxIterations: cfg.MaxIterations,
		MaxParallel:   cfg.MaxParallel,
		TaskTokenTTL:  c.Config.Auth.TaskTokenTTL,
		Metrics:       orchestrator.DefaultMetrics(),
	})
	if err != nil {
		return err
	}
	c.Orchestrator = orch
	c.Runs = serverHTTP.NewRunRegistry(c.Config.Server.RunCacheSize)
	return nil
}
