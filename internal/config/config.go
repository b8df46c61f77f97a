package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beam-me/core/internal/observability"
)

// DevSecret signs tokens when no secret is configured. It is only suitable
// for local development.
const DevSecret = "beam-dev-secret-change-me"

// Config is the fully resolved process configuration.
type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Auth         AuthConfig                  `mapstructure:"auth"`
	Policy       PolicyConfig                `mapstructure:"policy"`
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator"`
	Inference    InferenceConfig             `mapstructure:"inference"`
	Embeddings   EmbeddingsConfig            `mapstructure:"embeddings"`
	Index        IndexConfig                 `mapstructure:"index"`
	Store        StoreConfig                 `mapstructure:"store"`
	Artifacts    ArtifactsConfig             `mapstructure:"artifacts"`
	Sandbox      SandboxConfig               `mapstructure:"sandbox"`
	Knowledge    KnowledgeConfig             `mapstructure:"knowledge"`
	Logging      LoggingConfig               `mapstructure:"logging"`
	Tracing      observability.TracingConfig `mapstructure:"tracing"`
	Metrics      observability.MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr               string   `mapstructure:"addr"`
	Mode               string   `mapstructure:"mode"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	RunCacheSize       int      `mapstructure:"run_cache_size"`
}

type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	TaskTokenTTL    time.Duration `mapstructure:"task_token_ttl"`
	ChannelTokenTTL time.Duration `mapstructure:"channel_token_ttl"`
}

type PolicyConfig struct {
	MaxBudget     int           `mapstructure:"max_budget"`
	ChannelTTL    time.Duration `mapstructure:"channel_ttl"`
	DefaultBudget int           `mapstructure:"default_budget"`
}

type OrchestratorConfig struct {
	MaxIterations   int     `mapstructure:"max_iterations"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	ReuseThreshold  float64 `mapstructure:"reuse_threshold"`
	ModifyThreshold float64 `mapstructure:"modify_threshold"`
}

type InferenceConfig struct {
	Provider        string        `mapstructure:"provider"` // openai, mock
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxPromptTokens int           `mapstructure:"max_prompt_tokens"`
}

type EmbeddingsConfig struct {
	Provider  string `mapstructure:"provider"` // openai, hash
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	CacheSize int    `mapstructure:"cache_size"`
}

type IndexConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Collection  string `mapstructure:"collection"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres
	DSN    string `mapstructure:"dsn"`
}

type ArtifactsConfig struct {
	Provider string `mapstructure:"provider"` // memory, github
	BaseURL  string `mapstructure:"base_url"`
	Owner    string `mapstructure:"owner"`
	Repo     string `mapstructure:"repo"`
	Branch   string `mapstructure:"branch"`
	Token    string `mapstructure:"token"`
}

type SandboxConfig struct {
	Interpreter       string        `mapstructure:"interpreter"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RobustnessTimeout time.Duration `mapstructure:"robustness_timeout"`
}

type KnowledgeConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.rate_limit_burst", 30)
	v.SetDefault("server.run_cache_size", 256)

	v.SetDefault("auth.issuer", "orchestrator.beam.me")
	v.SetDefault("auth.task_token_ttl", time.Hour)
	v.SetDefault("auth.channel_token_ttl", time.Hour)

	v.SetDefault("policy.max_budget", 50)
	v.SetDefault("policy.channel_ttl", time.Hour)
	v.SetDefault("policy.default_budget", 10)

	v.SetDefault("orchestrator.max_iterations", 15)
	v.SetDefault("orchestrator.max_parallel", 1)
	v.SetDefault("orchestrator.reuse_threshold", 0.90)
	v.SetDefault("orchestrator.modify_threshold", 0.75)

	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.model", "gpt-4o")
	v.SetDefault("inference.timeout", 120*time.Second)
	v.SetDefault("inference.max_retries", 3)
	v.SetDefault("inference.max_prompt_tokens", 12000)

	v.SetDefault("embeddings.provider", "openai")
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.cache_size", 10000)

	v.SetDefault("index.collection", "solutions")

	v.SetDefault("store.driver", "memory")

	v.SetDefault("artifacts.provider", "memory")
	v.SetDefault("artifacts.base_url", "https://api.github.com")
	v.SetDefault("artifacts.branch", "main")

	v.SetDefault("sandbox.interpreter", "python3")
	v.SetDefault("sandbox.timeout", 10*time.Second)
	v.SetDefault("sandbox.robustness_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.service_name", "beam-core")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load resolves configuration from defaults, an optional YAML file and the
// environment. An explicit path must exist; otherwise beam.yaml is searched
// for in the working directory and $HOME/.beam and may be absent.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BEAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("beam")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.beam")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UsesDevSecret reports whether tokens would be signed with the built-in
// development secret.
func (c *Config) UsesDevSecret() bool {
	return c.Auth.Secret == "" || c.Auth.Secret == DevSecret
}

// Validate fills the development secret and rejects inconsistent settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		c.Auth.Secret = DevSecret
	}
	if c.Policy.MaxBudget < 0 {
		return fmt.Errorf("policy.max_budget must be >= 0, got %d", c.Policy.MaxBudget)
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be > 0, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.ModifyThreshold >= c.Orchestrator.ReuseThreshold {
		return fmt.Errorf("orchestrator.modify_threshold (%.2f) must be below reuse_threshold (%.2f)",
			c.Orchestrator.ModifyThreshold, c.Orchestrator.ReuseThreshold)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Artifacts.Provider == "github" && (c.Artifacts.Owner == "" || c.Artifacts.Repo == "") {
		return errors.New("artifacts.owner and artifacts.repo are required for the github provider")
	}
	return nil
}
