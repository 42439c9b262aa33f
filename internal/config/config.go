// Package config loads demux's YAML configuration, grounded on the
// teacher's internal/core/config package (same AppConfig/Load shape:
// yaml.v2 + os.ExpandEnv substitution, defaults applied after parse).
package config

import (
	"time"

	"github.com/chainflux/demux/internal/datastore/postgres"
	"github.com/chainflux/demux/internal/effects"
)

// AppConfig is demux's top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Chains   []ChainConfig   `yaml:"chains"`
	Redis    RedisConfig     `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
	Database postgres.Config `yaml:"database"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RedisConfig holds connection settings for the effect dead-letter sink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChainConfig holds the settings for a single Reader/Handler/Watcher
// triple (spec.md §6's "External Interfaces" configuration, plus
// connection settings for its chain adapter).
type ChainConfig struct {
	Name string `yaml:"name"`

	// Adapter selects which internal/chain implementation to
	// construct: "evmrpc" or "grpc".
	Adapter string       `yaml:"adapter"`
	EVMRPC  EVMRPCConfig `yaml:"evmrpc"`
	GRPC    GRPCConfig   `yaml:"grpc"`

	StartAtBlock     uint64        `yaml:"start_at_block"`
	OnlyIrreversible bool          `yaml:"only_irreversible"`
	HistoryWindow    int           `yaml:"history_window"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxRetries       int           `yaml:"max_retries"`

	// MaxReplayTarget pins the replay boundary for deterministic test
	// replays. 0 means "resolve to the chain head observed at start"
	// (spec.md §4.2).
	MaxReplayTarget uint64 `yaml:"max_replay_target"`

	// EffectRunMode selects "fire_and_forget" or "await".
	EffectRunMode string `yaml:"effect_run_mode"`
	LaneBuffer    int    `yaml:"lane_buffer"`
}

// EVMRPCConfig configures internal/chain/evmrpc.
type EVMRPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GRPCConfig configures internal/chain/grpcchain.
type GRPCConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// EffectRunModeValue resolves the configured string to effects.RunMode,
// defaulting to FireAndForget.
func (c ChainConfig) EffectRunModeValue() effects.RunMode {
	if c.EffectRunMode == "await" {
		return effects.Await
	}
	return effects.FireAndForget
}
