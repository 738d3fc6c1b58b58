package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func secondsToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// yamlConfig mirrors Config with the dotted key names a config file uses,
// e.g.:
//
//	hnsw:
//	  M: 16
//	  ef_search: 50
//	storage:
//	  compression_level: 6
//	shard:
//	  virtual_nodes_per_shard: 100
type yamlConfig struct {
	HNSW struct {
		M              int     `yaml:"M"`
		M0             int     `yaml:"M0"`
		EfConstruction int     `yaml:"ef_construction"`
		EfSearch       int     `yaml:"ef_search"`
		LevelMult      float64 `yaml:"level_mult"`
	} `yaml:"hnsw"`
	Storage struct {
		CompressionLevel int `yaml:"compression_level"`
		Cache            struct {
			MaxBytes int64 `yaml:"max_bytes"`
		} `yaml:"cache"`
	} `yaml:"storage"`
	Shard struct {
		Count                int `yaml:"count"`
		VirtualNodesPerShard int `yaml:"virtual_nodes_per_shard"`
	} `yaml:"shard"`
	CountCache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"count_cache"`
}

// LoadFromYAML loads a Config from a YAML file, starting from DefaultConfig
// and overriding only the fields present in the file.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if raw.HNSW.M != 0 {
		cfg.HNSW.M = raw.HNSW.M
	}
	if raw.HNSW.M0 != 0 {
		cfg.HNSW.M0 = raw.HNSW.M0
	}
	if raw.HNSW.EfConstruction != 0 {
		cfg.HNSW.EfConstruction = raw.HNSW.EfConstruction
	}
	if raw.HNSW.EfSearch != 0 {
		cfg.HNSW.EfSearch = raw.HNSW.EfSearch
	}
	if raw.HNSW.LevelMult != 0 {
		cfg.HNSW.LevelMult = raw.HNSW.LevelMult
	}
	if raw.Storage.CompressionLevel != 0 {
		cfg.Storage.CompressionLevel = raw.Storage.CompressionLevel
	}
	if raw.Storage.Cache.MaxBytes != 0 {
		cfg.Storage.CacheMaxBytes = raw.Storage.Cache.MaxBytes
	}
	if raw.Shard.Count != 0 {
		cfg.Shard.Count = raw.Shard.Count
	}
	if raw.Shard.VirtualNodesPerShard != 0 {
		cfg.Shard.VirtualNodesPerShard = raw.Shard.VirtualNodesPerShard
	}
	if raw.CountCache.TTLSeconds != 0 {
		cfg.CountCache.TTL = secondsToDuration(raw.CountCache.TTLSeconds)
	}

	return cfg, nil
}

// LoadFromYAMLOrDefault loads from a YAML file, or returns DefaultConfig if
// the file does not exist.
func LoadFromYAMLOrDefault(path string) *Config {
	cfg, err := LoadFromYAML(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}
