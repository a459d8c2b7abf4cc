package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.IndexBackend)
	assert.Equal(t, "data/catalog.db", cfg.IndexPath)
	assert.Equal(t, "auto", cfg.EmbeddingProvider)
	assert.Equal(t, 384, cfg.EmbeddingDimensions)
	assert.Equal(t, 5*time.Second, cfg.PolicyTimeout)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, time.Duration(0), cfg.PerSourceTimeout)
	assert.Equal(t, 16, cfg.MaxFanout)
	assert.False(t, cfg.GovernanceDebug)
	assert.Equal(t, "coreason-catalog", cfg.ServiceName)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CATALOG_PORT", "9090")
	t.Setenv("CATALOG_INDEX_BACKEND", "qdrant")
	t.Setenv("QDRANT_URL", "http://localhost:6333")
	t.Setenv("CATALOG_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("CATALOG_POLICY_TIMEOUT", "2s")
	t.Setenv("CATALOG_GOVERNANCE_DEBUG", "true")
	t.Setenv("CATALOG_MAX_FANOUT", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "qdrant", cfg.IndexBackend)
	assert.Equal(t, "http://localhost:6333", cfg.QdrantURL)
	assert.Equal(t, 768, cfg.EmbeddingDimensions)
	assert.Equal(t, 2*time.Second, cfg.PolicyTimeout)
	assert.True(t, cfg.GovernanceDebug)
	assert.Equal(t, 4, cfg.MaxFanout)
}

func TestLoadIgnoresUnparseableEnv(t *testing.T) {
	t.Setenv("CATALOG_PORT", "not-a-number")
	t.Setenv("CATALOG_POLICY_TIMEOUT", "soon")
	t.Setenv("CATALOG_GOVERNANCE_DEBUG", "yep")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.PolicyTimeout)
	assert.False(t, cfg.GovernanceDebug)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "qdrant backend requires URL",
			mutate: func(c *Config) {
				c.IndexBackend = "qdrant"
				c.QdrantURL = ""
			},
			wantErr: "QDRANT_URL",
		},
		{
			name: "postgres backend requires DSN",
			mutate: func(c *Config) {
				c.IndexBackend = "postgres"
				c.DatabaseURL = ""
			},
			wantErr: "DATABASE_URL",
		},
		{
			name: "local backend requires path",
			mutate: func(c *Config) {
				c.IndexPath = ""
			},
			wantErr: "CATALOG_INDEX_PATH",
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.IndexBackend = "redis"
			},
			wantErr: "unknown CATALOG_INDEX_BACKEND",
		},
		{
			name: "non-positive dimensions",
			mutate: func(c *Config) {
				c.EmbeddingDimensions = 0
			},
			wantErr: "CATALOG_EMBEDDING_DIMENSIONS",
		},
		{
			name: "non-positive fanout",
			mutate: func(c *Config) {
				c.MaxFanout = -1
			},
			wantErr: "CATALOG_MAX_FANOUT",
		},
		{
			name: "non-positive policy timeout",
			mutate: func(c *Config) {
				c.PolicyTimeout = 0
			},
			wantErr: "CATALOG_POLICY_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
