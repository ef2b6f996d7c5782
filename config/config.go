// Package config loads glweb client settings from YAML.
//
// Defaults are applied first, then the file is decoded over them, then the
// result is validated. A zero value for an optional section disables it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap/zapcore"
)

// Balancer names accepted in Config.Balancer.
const (
	BalancerRoundRobin     = "round_robin"
	BalancerWeightedRandom = "weighted_random"
	BalancerConsistentHash = "consistent_hash"
)

type Config struct {
	// Endpoint is the grpc-web base URL, e.g. "http://localhost:1111".
	// Leave empty to discover endpoints through Registry.
	Endpoint string `yaml:"endpoint"`
	// NodeID is the hex node public key; it keys discovery and hashing.
	NodeID      string        `yaml:"node_id"`
	HTTP2       bool          `yaml:"http2"`
	Timeout     time.Duration `yaml:"timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"` // TCP connect bound for grpc-web endpoints
	Network     string        `yaml:"network"`
	Schema      string        `yaml:"schema"`      // FileDescriptorSet path; built-in schema when empty
	Credentials string        `yaml:"credentials"` // credential blob path
	Balancer    string        `yaml:"balancer"`

	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Registry  RegistryConfig  `yaml:"registry"`
	Log       LogConfig       `yaml:"log"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RegistryConfig struct {
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	Prefix        string        `yaml:"prefix"`
	TTL           int64         `yaml:"ttl"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	ToConsole  bool   `yaml:"to_console"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Endpoint: "http://localhost:1111",
		Timeout:     30 * time.Second,
		DialTimeout: 10 * time.Second,
		Network:     "regtest",
		Balancer:    BalancerConsistentHash,
		Retry: RetryConfig{
			BaseDelay: 100 * time.Millisecond,
		},
		Registry: RegistryConfig{
			Prefix:      "/glweb/nodes",
			TTL:         10,
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			ToConsole:  true,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Endpoint == "" && len(c.Registry.EtcdEndpoints) == 0 {
		return errors.New("config: endpoint or registry.etcd_endpoints is required")
	}
	if c.Endpoint == "" && c.NodeID == "" {
		return errors.New("config: node_id is required for endpoint discovery")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: negative timeout %s", c.Timeout)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("config: negative dial_timeout %s", c.DialTimeout)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: negative retry.max_retries %d", c.Retry.MaxRetries)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate_limit values must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		return errors.New("config: rate_limit.burst must be positive when rps is set")
	}
	switch c.Balancer {
	case BalancerRoundRobin, BalancerWeightedRandom, BalancerConsistentHash:
	default:
		return fmt.Errorf("config: unknown balancer %q", c.Balancer)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}
