package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Policy.MaxBudget)
	assert.Equal(t, time.Hour, cfg.Policy.ChannelTTL)
	assert.Equal(t, 15, cfg.Orchestrator.MaxIterations)
	assert.InDelta(t, 0.90, cfg.Orchestrator.ReuseThreshold, 1e-9)
	assert.InDelta(t, 0.75, cfg.Orchestrator.ModifyThreshold, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "orchestrator.beam.me", cfg.Auth.Issuer)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.UsesDevSecret())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  max_budget: 20
sandbox:
  timeout: 3s
orchestrator:
  max_parallel: 4
`), 0o600))

	t.Setenv("BEAM_ORCHESTRATOR_MAX_ITERATIONS", "7")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Policy.MaxBudget)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 4, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, 7, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.False(t, cfg.UsesDevSecret())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsInconsistentSettings(t *testing.T) {
	base := func() Config {
		return Config{
			Policy:       PolicyConfig{MaxBudget: 50},
			Orchestrator: OrchestratorConfig{MaxIterations: 15, ReuseThreshold: 0.9, ModifyThreshold: 0.75},
			Store:        StoreConfig{Driver: "memory"},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Orchestrator.ModifyThreshold = 0.95
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Artifacts.Provider = "github"
	assert.Error(t, cfg.Validate())
}
