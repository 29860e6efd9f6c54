// Package config holds the node configuration. Values come from, in
// increasing priority, DefaultConfig, an optional TOML/YAML/JSON file,
// LEDGERQ_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config
// keys. The key stream.live_capacity is read from
// LEDGERQ_STREAM_LIVE_CAPACITY.
const EnvPrefix = "LEDGERQ"

// Config is the full node configuration.
type Config struct {
	// ListenAddr is the gRPC listen address.
	ListenAddr string `mapstructure:"listen_addr"`
	// MetricsAddr serves /metrics. Empty disables the endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// DBDir holds the block store. Empty keeps blocks in memory.
	DBDir       string `mapstructure:"db_dir"`
	LogLevel    string `mapstructure:"log_level"`
	CacheSize   int    `mapstructure:"cache_size"`
	GenesisFile string `mapstructure:"genesis_file"`

	Stream StreamConfig `mapstructure:"stream"`
	Dev    DevConfig    `mapstructure:"dev"`
}

// StreamConfig bounds the per-stream queues of blocks-queries. Zero
// means unbounded.
type StreamConfig struct {
	BufferCapacity int `mapstructure:"buffer_capacity"`
	LiveCapacity   int `mapstructure:"live_capacity"`
}

// DevConfig controls the development block producer.
type DevConfig struct {
	// BlockInterval is the time between produced blocks. Zero disables
	// the producer.
	BlockInterval time.Duration `mapstructure:"block_interval"`
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  "127.0.0.1:50051",
		MetricsAddr: "127.0.0.1:9464",
		DBDir:       "",
		LogLevel:    "info",
		CacheSize:   128,
		Stream: StreamConfig{
			BufferCapacity: 0,
			LiveCapacity:   1024,
		},
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.)
// and returns an error if any check fails.
func (c *Config) ValidateBasic() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr can't be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.CacheSize <= 0 {
		return errors.New("cache_size must be positive")
	}
	if c.Stream.BufferCapacity < 0 {
		return errors.New("stream.buffer_capacity can't be negative")
	}
	if c.Stream.LiveCapacity < 0 {
		return errors.New("stream.live_capacity can't be negative")
	}
	if c.Dev.BlockInterval < 0 {
		return errors.New("dev.block_interval can't be negative")
	}
	return nil
}

// SetDefaults registers every key of DefaultConfig with v so that
// environment overrides apply to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("db_dir", d.DBDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("genesis_file", d.GenesisFile)
	v.SetDefault("stream.buffer_capacity", d.Stream.BufferCapacity)
	v.SetDefault("stream.live_capacity", d.Stream.LiveCapacity)
	v.SetDefault("dev.block_interval", d.Dev.BlockInterval)
}

// Load reads the configuration from v. If file is not empty it is read
// first. The result is validated.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	conf := DefaultConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config: %w", err)
	}
	return conf, nil
}
