package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads and parses a YAML configuration file, expanding
// ${VAR}-style environment references before unmarshalling (teacher:
// internal/core/config/loader.go).
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.PollInterval == 0 {
			c.PollInterval = 250 * time.Millisecond
		}
		if c.HistoryWindow == 0 {
			c.HistoryWindow = 180
		}
		if c.MaxRetries == 0 {
			c.MaxRetries = 10
		}
		if c.LaneBuffer == 0 {
			c.LaneBuffer = 64
		}
		if c.EVMRPC.Timeout == 0 {
			c.EVMRPC.Timeout = 10 * time.Second
		}
		if c.GRPC.DialTimeout == 0 {
			c.GRPC.DialTimeout = 10 * time.Second
		}
	}

	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}
}
