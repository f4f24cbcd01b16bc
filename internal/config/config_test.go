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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7474, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "ollama", cfg.Narrator.Provider)
	assert.Equal(t, 30, cfg.Narrator.RatePerMinute)
	assert.Equal(t, 10, cfg.Memory.WorkingCap)
	assert.Equal(t, 500, cfg.Memory.SummaryWordBudget)
	assert.Equal(t, time.Hour, cfg.Memory.CompressAfter)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 85, cfg.Validator.PassThreshold)
	assert.Equal(t, 2, cfg.Validator.MaxRevisions)
	assert.Equal(t, 0.85, cfg.Cache.SimilarityThreshold)
	assert.False(t, cfg.Intake.Enabled)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
narrator:
  provider: openai
  openai_api_key: sk-test
memory:
  working_cap: 20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Narrator.Provider)
	assert.Equal(t, 20, cfg.Memory.WorkingCap)
	// Untouched fields keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 85, cfg.Validator.PassThreshold)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("QUESTWEAVER_PORT", "8181")
	t.Setenv("QUESTWEAVER_NARRATOR_PROVIDER", "anthropic")
	t.Setenv("QUESTWEAVER_NARRATOR_TIMEOUT", "12s")
	t.Setenv("QUESTWEAVER_INTAKE_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.Narrator.Provider)
	assert.Equal(t, 12*time.Second, cfg.Narrator.Timeout)
	assert.True(t, cfg.Intake.Enabled)
}

func TestUnparseableEnvFallsBack(t *testing.T) {
	t.Setenv("QUESTWEAVER_PORT", "not-a-number")
	t.Setenv("QUESTWEAVER_NARRATOR_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7474, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Narrator.Timeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.Storage.Engine = "mongodb"
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Storage.Engine = "postgres"
	assert.Error(t, cfg.Validate(), "postgres engine requires a DSN")

	cfg = defaults()
	cfg.Validator.PassThreshold = 150
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Cache.SimilarityThreshold = 0
	assert.Error(t, cfg.Validate())
}
