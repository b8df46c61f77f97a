package bootstrap

import (
	"strings"

	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/logging"
)

// LogServerConfiguration prints a redacted snapshot of cfg.
func LogServerConfiguration(logger logging.Logger, cfg config.Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")
	logger.Info("Address: %s (mode=%s)", cfg.Server.Addr, cfg.Server.Mode)
	logger.Info("CORS Origins: %s", strings.Join(cfg.Server.CORSOrigins, ", "))
	logger.Info("Rate Limit: %d/min (burst=%d)", cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)

	if cfg.UsesDevSecret() {
		logger.Warn("Token Secret: (development default)")
	} else {
		logger.Info("Token Secret: (set)")
	}
	logger.Info("Token Issuer: %s", cfg.Auth.Issuer)
	logger.Info("Policy: max_budget=%d default_budget=%d channel_ttl=%s",
		cfg.Policy.MaxBudget, cfg.Policy.DefaultBudget, cfg.Policy.ChannelTTL)
	logger.Info("Orchestrator: max_iterations=%d max_parallel=%d reuse>=%.2f modify>=%.2f",
		cfg.Orchestrator.MaxIterations, cfg.Orchestrator.MaxParallel,
		cfg.Orchestrator.ReuseThreshold, cfg.Orchestrator.ModifyThreshold)

	logger.Info("Inference: %s model=%s base_url=%s", cfg.Inference.Provider, cfg.Inference.Model, cfg.Inference.BaseURL)
	logger.Info("Inference API Key: %s", setOrNot(cfg.Inference.APIKey))
	logger.Info("Embeddings: %s model=%s (api key %s)", cfg.Embeddings.Provider, cfg.Embeddings.Model, setOrNot(cfg.Embeddings.APIKey))
	if cfg.Index.PersistPath != "" {
		logger.Info("Similarity Index: %s (collection=%s)", cfg.Index.PersistPath, cfg.Index.Collection)
	} else {
		logger.Info("Similarity Index: in-memory (collection=%s)", cfg.Index.Collection)
	}

	switch cfg.Store.Driver {
	case "postgres":
		logger.Info("Channel Store: postgres (dsn %s)", setOrNot(cfg.Store.DSN))
	default:
		logger.Info("Channel Store: %s", cfg.Store.Driver)
	}
	if cfg.Artifacts.Provider == "github" {
		logger.Info("Artifacts: github %s/%s@%s (token %s)", cfg.Artifacts.Owner, cfg.Artifacts.Repo, cfg.Artifacts.Branch, setOrNot(cfg.Artifacts.Token))
	} else {
		logger.Info("Artifacts: %s", cfg.Artifacts.Provider)
	}
	logger.Info("Sandbox: %s timeout=%s robustness_timeout=%s", cfg.Sandbox.Interpreter, cfg.Sandbox.Timeout, cfg.Sandbox.RobustnessTimeout)
	if cfg.Knowledge.Dir != "" {
		logger.Info("Knowledge: %s", cfg.Knowledge.Dir)
	}
	logger.Info("Tracing: enabled=%t exporter=%s", cfg.Tracing.Enabled, cfg.Tracing.Exporter)
	logger.Info("Metrics: enabled=%t", cfg.Metrics.Enabled)
	logger.Info("===========================")
}

func setOrNot(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "(set)"
}
