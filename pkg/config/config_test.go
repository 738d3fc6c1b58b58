package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 16, cfg.HNSW.M)
	assert.Equal(t, 32, cfg.HNSW.M0)
	assert.Equal(t, 200, cfg.HNSW.EfConstruction)
	assert.Equal(t, 50, cfg.HNSW.EfSearch)
	assert.Equal(t, 100, cfg.Shard.VirtualNodesPerShard)
	assert.Equal(t, 5*time.Second, cfg.CountCache.TTL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VECDB_HNSW_M", "32")
	t.Setenv("VECDB_HNSW_EF_SEARCH", "128")
	t.Setenv("VECDB_SHARD_COUNT", "8")
	t.Setenv("VECDB_COUNT_CACHE_TTL_SECONDS", "10")

	cfg := LoadFromEnv()
	assert.Equal(t, 32, cfg.HNSW.M)
	assert.Equal(t, 128, cfg.HNSW.EfSearch)
	assert.Equal(t, 8, cfg.Shard.Count)
	assert.Equal(t, 10*time.Second, cfg.CountCache.TTL)
}

func TestLoadFromEnv_UnsetFallsBackToDefault(t *testing.T) {
	os.Unsetenv("VECDB_HNSW_M")
	cfg := LoadFromEnv()
	assert.Equal(t, DefaultConfig().HNSW.M, cfg.HNSW.M)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"M too small", func(c *Config) { c.HNSW.M = 1 }, true},
		{"M0 less than M", func(c *Config) { c.HNSW.M0 = 4; c.HNSW.M = 16 }, true},
		{"zero ef_construction", func(c *Config) { c.HNSW.EfConstruction = 0 }, true},
		{"zero ef_search", func(c *Config) { c.HNSW.EfSearch = 0 }, true},
		{"non-positive level_mult", func(c *Config) { c.HNSW.LevelMult = 0 }, true},
		{"compression level out of range", func(c *Config) { c.Storage.CompressionLevel = 99 }, true},
		{"negative cache bytes", func(c *Config) { c.Storage.CacheMaxBytes = -1 }, true},
		{"zero shard count", func(c *Config) { c.Shard.Count = 0 }, true},
		{"zero virtual nodes", func(c *Config) { c.Shard.VirtualNodesPerShard = 0 }, true},
		{"negative ttl", func(c *Config) { c.CountCache.TTL = -1 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
