// Package config loads gateway configuration from an optional YAML file
// layered under AGW_-prefixed environment variables. Environment always
// wins; double underscores in variable names map to nesting, so
// AGW_SERVER__PORT sets server.port.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Session SessionConfig `koanf:"session"`
	Engine  EngineConfig  `koanf:"engine"`
	Storage StorageConfig `koanf:"storage"`
	Auth    AuthConfig    `koanf:"auth"`
}

type ServerConfig struct {
	Port                  int `koanf:"port"`
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds"`
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

type SessionConfig struct {
	TTLSeconds           int `koanf:"ttl_seconds"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

type EngineConfig struct {
	// Command is the agent executable the engine spawns per turn.
	Command            string   `koanf:"command"`
	Args               []string `koanf:"args"`
	IdleTimeoutSeconds int      `koanf:"idle_timeout_seconds"`
	MaxTurns           int      `koanf:"max_turns"`
}

func (c EngineConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

type AuthConfig struct {
	Keys []KeyConfig `koanf:"keys"`
}

// KeyConfig maps a stored key hash to its capability tier.
type KeyConfig struct {
	Hash string `koanf:"hash"`
	Tier string `koanf:"tier"`
}

// TierMap converts the configured keys to the authenticator's mapping.
func (c AuthConfig) TierMap() (map[string]domain.CapabilityTier, error) {
	out := make(map[string]domain.CapabilityTier, len(c.Keys))
	for _, key := range c.Keys {
		tier := domain.CapabilityTier(key.Tier)
		switch tier {
		case domain.TierNone, domain.TierBuiltin, domain.TierFull:
		default:
			return nil, fmt.Errorf("unknown capability tier %q for key %s", key.Tier, key.Hash)
		}
		out[strings.ToLower(key.Hash)] = tier
	}
	return out, nil
}

// Load reads path (when it exists) and the environment. An empty path
// falls back to config.yaml in the working directory.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("AGW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AGW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                    8080,
		"server.request_timeout_seconds": 300,
		"session.ttl_seconds":            3600,
		"session.sweep_interval_seconds": 60,
		"engine.command":                 "agent",
		"engine.idle_timeout_seconds":    120,
		"engine.max_turns":               25,
		"storage.backend":                "memory",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds must be positive")
	}
	if _, err := c.Auth.TierMap(); err != nil {
		return err
	}
	return nil
}
