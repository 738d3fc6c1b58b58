package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vecdb.yaml")

	contents := `
hnsw:
  M: 24
  ef_search: 75
storage:
  compression_level: 9
  cache:
    max_bytes: 52428800
shard:
  count: 4
  virtual_nodes_per_shard: 200
count_cache:
  ttl_seconds: 15
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFromYAML(path)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.HNSW.M)
	assert.Equal(t, 75, cfg.HNSW.EfSearch)
	assert.Equal(t, 9, cfg.Storage.CompressionLevel)
	assert.Equal(t, int64(52428800), cfg.Storage.CacheMaxBytes)
	assert.Equal(t, 4, cfg.Shard.Count)
	assert.Equal(t, 200, cfg.Shard.VirtualNodesPerShard)
	assert.Equal(t, 15*time.Second, cfg.CountCache.TTL)

	// Fields absent from the file keep their DefaultConfig value.
	assert.Equal(t, DefaultConfig().HNSW.M0, cfg.HNSW.M0)
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	_, err := LoadFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromYAMLOrDefault_MissingFile(t *testing.T) {
	cfg := LoadFromYAMLOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, DefaultConfig(), cfg)
}
