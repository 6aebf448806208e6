package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Executor.Kind != "echo" {
		t.Errorf("expected executor 'echo', got %q", cfg.Executor.Kind)
	}
	if cfg.Limits.Timeout != 5*time.Minute {
		t.Errorf("expected agent timeout 5m, got %v", cfg.Limits.Timeout)
	}
	if cfg.Timeouts.Coordination != 30*time.Minute {
		t.Errorf("expected coordination timeout 30m, got %v", cfg.Timeouts.Coordination)
	}
	if want := filepath.Join(".swarm", "state.db"); cfg.State.Path != want {
		t.Errorf("expected project-local state path %q, got %q", want, cfg.State.Path)
	}

	pool := cfg.Pool()
	if len(pool) != 2 {
		t.Fatalf("expected memory and tokens in the pool, got %+v", pool)
	}
	if pool[0].Type != models.ResourceMemory || pool[0].Total != 4096 {
		t.Errorf("unexpected memory capacity %+v", pool[0])
	}

	s, err := cfg.Strategy()
	if err != nil {
		t.Fatalf("Strategy() error = %v", err)
	}
	if s.Type != models.StrategyParallel || s.MaxConcurrentAgents != 3 {
		t.Errorf("unexpected default strategy %+v", s)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
executor:
  kind: claude
  model: claude-haiku-4-5
  bedrock: true
  region: eu-west-1
resources:
  memory_mb: 2048
  cpu_millis: 8000
  tokens: 0
defaults:
  strategy: hybrid
  max_concurrent_agents: 5
  failure_handling: retry-cascade
limits:
  memory_mb: 256
  timeout: 90s
parent:
  tokens: 50000
security:
  allowed_tools: [read, grep]
  network: none
  isolation: restricted
timeouts:
  sync: 30s
  lease_ttl: 10m
logging:
  level: debug
  format: json
state:
  path: /tmp/swarm.db
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Executor.Kind != "claude" || !cfg.Executor.Bedrock || cfg.Executor.Region != "eu-west-1" {
		t.Errorf("unexpected executor %+v", cfg.Executor)
	}
	if cfg.Executor.MaxTokens != 4096 {
		t.Errorf("expected default max_tokens 4096, got %d", cfg.Executor.MaxTokens)
	}

	pool := cfg.Pool()
	if len(pool) != 2 || pool[1].Type != models.ResourceCPU || pool[1].Total != 8000 {
		t.Errorf("unexpected pool %+v", pool)
	}

	s, err := cfg.Strategy()
	if err != nil {
		t.Fatalf("Strategy() error = %v", err)
	}
	if s.Type != models.StrategyHybrid || s.MaxConcurrentAgents != 5 || s.FailureHandling != models.RetryCascade {
		t.Errorf("unexpected strategy %+v", s)
	}

	limits := cfg.Limits.ResourceLimits()
	if limits.MemoryMB != 256 || limits.Timeout != 90*time.Second {
		t.Errorf("unexpected limits %+v", limits)
	}
	if limits.Tokens != 200000 {
		t.Errorf("expected unset limits to keep defaults, got tokens %d", limits.Tokens)
	}
	if cfg.Parent.ResourceLimits().Tokens != 50000 {
		t.Errorf("unexpected parent limits %+v", cfg.Parent)
	}

	sec := cfg.Security.Constraints()
	if sec.Network != models.AccessNone || len(sec.AllowedTools) != 2 {
		t.Errorf("unexpected security %+v", sec)
	}
	if cfg.Timeouts.Sync != 30*time.Second || cfg.Timeouts.LeaseTTL != 10*time.Minute {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.State.Path != "/tmp/swarm.db" {
		t.Errorf("unexpected state path %q", cfg.State.Path)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown strategy", "defaults:\n  strategy: round-robin\n"},
		{"unknown executor", "executor:\n  kind: gpt\n"},
		{"empty pool", "resources:\n  memory_mb: 0\n  tokens: 0\n"},
		{"bad isolation", "security:\n  isolation: none\n"},
		{"bad log level", "logging:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromPath(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	t.Setenv("SWARM_DEFAULTS_MAX_CONCURRENT_AGENTS", "7")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-environment")

	cfg, err := LoadFromPath(writeConfig(t, "defaults:\n  max_concurrent_agents: 2\n"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Defaults.MaxConcurrentAgents != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Defaults.MaxConcurrentAgents)
	}

	key, source, err := cfg.APIKey()
	if err != nil || key != "sk-ant-from-environment" || source != KeySourceEnv {
		t.Errorf("APIKey() = %q, %q, %v", key, source, err)
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SWARM_TEST_KEY", "sk-ant-expanded-key")

	tests := []struct {
		name    string
		key     string
		want    string
		source  KeySource
		wantErr bool
	}{
		{"from config", "sk-ant-config-key", "sk-ant-config-key", KeySourceConfig, false},
		{"expanded reference", "${SWARM_TEST_KEY}", "sk-ant-expanded-key", KeySourceConfig, false},
		{"unset reference", "${SWARM_MISSING_KEY}", "", KeySourceNone, true},
		{"not configured", "", "", KeySourceNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Anthropic: AnthropicConfig{APIKey: tt.key}}
			got, source, err := cfg.APIKey()
			if (err != nil) != tt.wantErr {
				t.Fatalf("APIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || source != tt.source {
				t.Errorf("APIKey() = %q, %q, want %q, %q", got, source, tt.want, tt.source)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-api03-abcdefghijkl", "sk-ant-...ijkl"},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := getUserConfigDir(); got != filepath.Join("/tmp/xdg", "swarm") {
		t.Errorf("getUserConfigDir() = %q", got)
	}
	if got := GetUserConfigPath(); got != filepath.Join("/tmp/xdg", "swarm", "config.yaml") {
		t.Errorf("GetUserConfigPath() = %q", got)
	}
}
