package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Routing     RoutingConfig     `yaml:"routing"`
	Reasoning   ReasoningConfig   `yaml:"reasoning"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Cache       CacheConfig       `yaml:"cache"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Servers     map[string]ServerEndpoint `yaml:"servers"`
}

type ListenConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type CatalogConfig struct {
	DataDir          string `yaml:"data_dir"`
	MaterializedTTL  string `yaml:"materialized_ttl"`
	MaxMaterialized  int    `yaml:"max_materialized"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type RoutingConfig struct {
	TopK                int     `yaml:"top_k"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	RelevanceFloor      float64 `yaml:"relevance_floor"`
	MaxReasoningRounds  int     `yaml:"max_reasoning_rounds"`
}

type ReasoningConfig struct {
	Endpoints []ReasoningEndpoint `yaml:"endpoints"`
	Timeout   string              `yaml:"timeout"`
	Cooldown  CooldownConfig      `yaml:"cooldown"`
}

type ReasoningEndpoint struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type CooldownConfig struct {
	Initial    string `yaml:"initial"`
	Max        string `yaml:"max"`
	Multiplier int    `yaml:"multiplier"`
}

type SandboxConfig struct {
	PoolSize    int    `yaml:"pool_size"`
	AcquireWait string `yaml:"acquire_wait"`
	ExecTimeout string `yaml:"exec_timeout"`
	MaxSteps    int    `yaml:"max_steps"`
}

type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	TTL       string `yaml:"ttl"`
}

type MaintenanceConfig struct {
	SweepSchedule   string `yaml:"sweep_schedule"`
	RefreshSchedule string `yaml:"refresh_schedule"`
}

type ServerEndpoint struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInEndpoints(cfg *Config) {
	for i, ep := range cfg.Reasoning.Endpoints {
		ep.BaseURL = expandEnv(ep.BaseURL)
		ep.APIKey = expandEnv(ep.APIKey)
		cfg.Reasoning.Endpoints[i] = ep
	}
	cfg.Embedding.Endpoint = expandEnv(cfg.Embedding.Endpoint)
	cfg.Cache.RedisAddr = expandEnv(cfg.Cache.RedisAddr)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInEndpoints(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config usable without any file at all: hash embeddings,
// rule-based planning, in-memory cache fallback.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr:        "127.0.0.1:8900",
			MetricsAddr: "127.0.0.1:9190",
		},
		Catalog: CatalogConfig{
			DataDir:         "data",
			MaterializedTTL: "30m",
			MaxMaterialized: 64,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 256,
		},
		Routing: RoutingConfig{
			TopK:                5,
			ConfidenceThreshold: 0.75,
			RelevanceFloor:      0.15,
			MaxReasoningRounds:  3,
		},
		Reasoning: ReasoningConfig{
			Timeout: "30s",
			Cooldown: CooldownConfig{
				Initial:    "1m",
				Max:        "1h",
				Multiplier: 5,
			},
		},
		Sandbox: SandboxConfig{
			PoolSize:    4,
			AcquireWait: "5s",
			ExecTimeout: "30s",
			MaxSteps:    10000,
		},
		Cache: CacheConfig{
			TTL: "10m",
		},
		Maintenance: MaintenanceConfig{
			SweepSchedule:   "@every 5m",
			RefreshSchedule: "@every 15m",
		},
	}
}

func (c *Config) validate() error {
	if c.Routing.TopK < 1 {
		return fmt.Errorf("config: routing.top_k must be >= 1, got %d", c.Routing.TopK)
	}
	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: routing.confidence_threshold must be in [0,1], got %g", c.Routing.ConfidenceThreshold)
	}
	if c.Routing.RelevanceFloor < 0 || c.Routing.RelevanceFloor > 1 {
		return fmt.Errorf("config: routing.relevance_floor must be in [0,1], got %g", c.Routing.RelevanceFloor)
	}
	if c.Sandbox.PoolSize < 1 {
		return fmt.Errorf("config: sandbox.pool_size must be >= 1, got %d", c.Sandbox.PoolSize)
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("config: embedding.dimension must be >= 1, got %d", c.Embedding.Dimension)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"catalog.materialized_ttl", c.Catalog.MaterializedTTL},
		{"reasoning.timeout", c.Reasoning.Timeout},
		{"sandbox.acquire_wait", c.Sandbox.AcquireWait},
		{"sandbox.exec_timeout", c.Sandbox.ExecTimeout},
		{"cache.ttl", c.Cache.TTL},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a config duration string, returning fallback for empty or
// malformed values. Validation already rejected malformed values at load, so
// the fallback path only covers programmatically built configs.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
