// Package config loads engine configuration from a YAML file via viper,
// the same loader style used throughout the rest of the stack.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// BufferPoolConfig controls the shared buffer pool's sizing.
type BufferPoolConfig struct {
	// PoolSize is the number of page frames kept in memory.
	PoolSize int `mapstructure:"pool_size"`

	// BucketSize is the per-bucket capacity of the extendible hash page
	// table used by the buffer pool.
	BucketSize int `mapstructure:"bucket_size"`

	// Replacer selects the eviction policy: "lru" (default) or "clock".
	Replacer string `mapstructure:"replacer"`
}

// StorageConfig points at the on-disk layout for page segments and the WAL.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	WALDir  string `mapstructure:"wal_dir"`
}

// ServerConfig controls the CLI/REPL front end.
type ServerConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Config is the top-level engine configuration.
type Config struct {
	BufferPool BufferPoolConfig `mapstructure:"buffer_pool"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
}

func defaults() *Config {
	return &Config{
		BufferPool: BufferPoolConfig{
			PoolSize:   128,
			BucketSize: 4,
			Replacer:   "lru",
		},
		Storage: StorageConfig{
			DataDir: "./data",
			WALDir:  "./data/wal",
		},
	}
}

// Load reads a YAML config file at path and merges it over the defaults.
// A missing file is not an error: Load simply returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
