package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseFull(t *testing.T) {
	data := []byte(`
listen:
  addr: "0.0.0.0:9000"
  metrics_addr: "0.0.0.0:9191"
catalog:
  data_dir: /var/lib/toolgate
  materialized_ttl: 15m
  max_materialized: 32
embedding:
  provider: ollama
  endpoint: http://localhost:11434
  model: nomic-embed-text
  dimension: 768
routing:
  top_k: 8
  confidence_threshold: 0.8
  relevance_floor: 0.2
  max_reasoning_rounds: 2
reasoning:
  timeout: 20s
  endpoints:
    - name: primary
      base_url: https://api.example.com/v1
      api_key: sk-test
      model: gpt-4o-mini
sandbox:
  pool_size: 8
  acquire_wait: 2s
  exec_timeout: 10s
  max_steps: 5000
cache:
  redis_addr: localhost:6379
  ttl: 5m
servers:
  files:
    network: unix
    address: /tmp/files.sock
  web:
    network: tcp
    address: 127.0.0.1:7001
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Listen.Addr != "0.0.0.0:9000" {
		t.Errorf("listen.addr = %q", cfg.Listen.Addr)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("embedding.dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Routing.TopK != 8 {
		t.Errorf("routing.top_k = %d", cfg.Routing.TopK)
	}
	if cfg.Routing.ConfidenceThreshold != 0.8 {
		t.Errorf("routing.confidence_threshold = %g", cfg.Routing.ConfidenceThreshold)
	}
	if len(cfg.Reasoning.Endpoints) != 1 || cfg.Reasoning.Endpoints[0].Model != "gpt-4o-mini" {
		t.Errorf("reasoning.endpoints = %+v", cfg.Reasoning.Endpoints)
	}
	if cfg.Sandbox.PoolSize != 8 {
		t.Errorf("sandbox.pool_size = %d", cfg.Sandbox.PoolSize)
	}
	if got := cfg.Servers["files"]; got.Network != "unix" || got.Address != "/tmp/files.sock" {
		t.Errorf("servers.files = %+v", got)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`listen: {addr: ":1234"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Routing.TopK != 5 {
		t.Errorf("default top_k = %d, want 5", cfg.Routing.TopK)
	}
	if cfg.Routing.ConfidenceThreshold != 0.75 {
		t.Errorf("default confidence_threshold = %g, want 0.75", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Sandbox.PoolSize != 4 {
		t.Errorf("default pool_size = %d, want 4", cfg.Sandbox.PoolSize)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("default embedding provider = %q, want hash", cfg.Embedding.Provider)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_KEY", "secret-from-env")
	t.Setenv("TOOLGATE_TEST_URL", "https://env.example.com")
	cfg, err := Parse([]byte(`
reasoning:
  endpoints:
    - name: primary
      base_url: "${TOOLGATE_TEST_URL}/v1"
      api_key: "${TOOLGATE_TEST_KEY}"
      model: test
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ep := cfg.Reasoning.Endpoints[0]
	if ep.APIKey != "secret-from-env" {
		t.Errorf("api_key = %q, want expanded env value", ep.APIKey)
	}
	if ep.BaseURL != "https://env.example.com/v1" {
		t.Errorf("base_url = %q", ep.BaseURL)
	}
}

func TestParseLeavesUnsetEnvIntact(t *testing.T) {
	cfg, err := Parse([]byte(`
cache:
  redis_addr: "${TOOLGATE_UNSET_VAR_FOR_TEST}"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Cache.RedisAddr != "${TOOLGATE_UNSET_VAR_FOR_TEST}" {
		t.Errorf("unset env var should remain literal, got %q", cfg.Cache.RedisAddr)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad top_k", "routing: {top_k: 0}", "top_k"},
		{"threshold out of range", "routing: {confidence_threshold: 1.5}", "confidence_threshold"},
		{"bad pool size", "sandbox: {pool_size: -1}", "pool_size"},
		{"bad duration", "cache: {ttl: banana}", "cache.ttl"},
		{"bad dimension", "embedding: {dimension: 0}", "dimension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("listen: [not: a: map")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Minute); got != 90*time.Second {
		t.Errorf("Duration(90s) = %v", got)
	}
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("Duration empty = %v, want fallback", got)
	}
	if got := Duration("junk", 2*time.Second); got != 2*time.Second {
		t.Errorf("Duration junk = %v, want fallback", got)
	}
}
