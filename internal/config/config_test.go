package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfigFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.OllamaURL)
	assert.Equal(t, 60*time.Second, cfg.LLM.RequestTimeout)

	assert.Equal(t, 20, cfg.Pipeline.MaxCandidates)
	assert.InDelta(t, 0.92, cfg.Pipeline.DuplicateThreshold, 1e-9)
	assert.InDelta(t, 30.0, cfg.Decay.HalfLifeDays, 1e-9)
	assert.Equal(t, 20, cfg.Clustering.K)
	assert.Equal(t, 2, cfg.Recall.TopClusters)
	assert.False(t, cfg.Pipeline.UseLLMExtraction)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REVERIE_STORAGE_BACKEND", "postgres")
	t.Setenv("REVERIE_POSTGRES_DSN", "postgres://localhost/reverie")
	t.Setenv("REVERIE_LLM_PROVIDER", "openai")
	t.Setenv("REVERIE_OPENAI_API_KEY", "sk-test")
	t.Setenv("REVERIE_LLM_TIMEOUT", "90s")
	t.Setenv("REVERIE_MAX_CANDIDATES", "5")
	t.Setenv("REVERIE_DUPLICATE_THRESHOLD", "0.95")
	t.Setenv("REVERIE_USE_LLM_EXTRACTION", "true")
	t.Setenv("REVERIE_CLUSTER_K", "8")

	cfg, err := LoadConfigFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/reverie", cfg.Storage.PostgresDSN)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 90*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 5, cfg.Pipeline.MaxCandidates)
	assert.InDelta(t, 0.95, cfg.Pipeline.DuplicateThreshold, 1e-9)
	assert.True(t, cfg.Pipeline.UseLLMExtraction)
	assert.Equal(t, 8, cfg.Clustering.K)
}

func TestFileOverlayTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("REVERIE_CLUSTER_K", "8")
	t.Setenv("REVERIE_LLM_PROVIDER", "openai")
	t.Setenv("REVERIE_OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "reverie.yaml")
	content := []byte(`
clustering:
  k: 12
pipeline:
  use_llm_review: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	// File wins over env; untouched keys keep their env values.
	assert.Equal(t, 12, cfg.Clustering.K)
	assert.True(t, cfg.Pipeline.UseLLMReview)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestFileOverlayViaEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recall:\n  top_clusters: 3\n"), 0o600))
	t.Setenv("REVERIE_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recall.TopClusters)
}

func TestMissingOverlayFile(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "cassandra" },
			wantErr: "unknown storage backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "postgres_dsn is required",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "parrot" },
			wantErr: "unknown llm provider",
		},
		{
			name:    "anthropic without embedding provider",
			mutate:  func(c *Config) { c.LLM.Provider = "anthropic" },
			wantErr: "embedding_provider is required",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Pipeline.DuplicateThreshold = 1.5 },
			wantErr: "duplicate_threshold",
		},
		{
			name: "threshold ordering broken",
			mutate: func(c *Config) {
				c.Pipeline.ReviewThreshold = 0.94
			},
			wantErr: "thresholds must order",
		},
		{
			name:    "non-positive half life",
			mutate:  func(c *Config) { c.Decay.HalfLifeDays = 0 },
			wantErr: "half_life_days",
		},
		{
			name:    "zero clusters",
			mutate:  func(c *Config) { c.Clustering.K = 0 },
			wantErr: "clustering k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestStageSettingsResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.UseLLMExtraction = true
	cfg.Pipeline.ClassifyBatch = 0 // Normalize fills the default back in

	settings := cfg.StageSettings()
	assert.True(t, settings.UseLLMExtraction)
	assert.False(t, settings.UseLLMEdges)
	assert.Equal(t, 10, settings.ClassifyBatch)
	assert.InDelta(t, 0.85, settings.ReviewThreshold, 1e-9)
}
