// Package config handles configuration loading and management for swarm.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/swarm/internal/logging"
	"github.com/ShayCichocki/swarm/internal/resource"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ProjectConfigName is the per-project override file searched for upward from
// the working directory.
const ProjectConfigName = ".swarm.yaml"

// envKeyReplacer maps nested keys to SWARM_SECTION_KEY variables.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds all configuration for swarm.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Parent    LimitsConfig    `mapstructure:"parent"`
	Security  SecurityConfig  `mapstructure:"security"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Logging   logging.Config  `mapstructure:"logging"`
	State     StateConfig     `mapstructure:"state"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// ExecutorConfig selects what runs subtasks.
type ExecutorConfig struct {
	// Kind is echo or claude.
	Kind      string `mapstructure:"kind"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	// Bedrock routes Claude calls through AWS Bedrock.
	Bedrock bool   `mapstructure:"bedrock"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
	// Latency is added to every echo execution.
	Latency time.Duration `mapstructure:"latency"`
}

// ResourcesConfig is the capacity pool. Zero leaves a type out of the pool.
type ResourcesConfig struct {
	MemoryMB  float64 `mapstructure:"memory_mb"`
	CPUMillis float64 `mapstructure:"cpu_millis"`
	Tokens    float64 `mapstructure:"tokens"`
}

// DefaultsConfig holds the coordination strategy used when a task file sets none.
type DefaultsConfig struct {
	Strategy            string `mapstructure:"strategy"`
	MaxConcurrentAgents int    `mapstructure:"max_concurrent_agents"`
	FailureHandling     string `mapstructure:"failure_handling"`
	Protocol            string `mapstructure:"protocol"`
}

// LimitsConfig holds per-agent resource ceilings.
type LimitsConfig struct {
	MemoryMB     int64         `mapstructure:"memory_mb"`
	CPUMillis    int64         `mapstructure:"cpu_millis"`
	Tokens       int64         `mapstructure:"tokens"`
	MaxToolCalls int           `mapstructure:"max_tool_calls"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SecurityConfig holds the security posture of spawned agents.
type SecurityConfig struct {
	AllowedTools       []string `mapstructure:"allowed_tools"`
	Network            string   `mapstructure:"network"`
	FileSystem         string   `mapstructure:"file_system"`
	Sandbox            bool     `mapstructure:"sandbox"`
	Isolation          string   `mapstructure:"isolation"`
	DeniedCapabilities []string `mapstructure:"denied_capabilities"`
	DeniedTools        []string `mapstructure:"denied_tools"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// Sync applies to synchronization points that time out but set no timeout.
	Sync time.Duration `mapstructure:"sync"`
	// LeaseTTL is the default lease lifetime. Zero means leases never expire.
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	Coordination time.Duration `mapstructure:"coordination"`
}

// StateConfig holds result history settings.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SWARM_*, ANTHROPIC_API_KEY)
// 2. Project config (.swarm.yaml in current directory or parent)
// 3. User config (~/.config/swarm/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside a coordination.
func (c *Config) Validate() error {
	if len(c.Pool()) == 0 {
		return fmt.Errorf("resources: at least one capacity must be positive")
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if !models.IsolationLevel(c.Security.Isolation).Valid() {
		return fmt.Errorf("security.isolation: unknown level %q", c.Security.Isolation)
	}
	switch c.Executor.Kind {
	case "echo", "claude":
	default:
		return fmt.Errorf("executor.kind: unknown executor %q", c.Executor.Kind)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Pool returns the capacity pool in memory, cpu, tokens order.
func (c *Config) Pool() []resource.Capacity {
	var pool []resource.Capacity
	add := func(t models.ResourceType, total float64, unit string) {
		if total > 0 {
			pool = append(pool, resource.Capacity{Type: t, Total: total, Unit: unit})
		}
	}
	add(models.ResourceMemory, c.Resources.MemoryMB, "MB")
	add(models.ResourceCPU, c.Resources.CPUMillis, "ms")
	add(models.ResourceTokens, c.Resources.Tokens, "tokens")
	return pool
}

// Strategy returns the default coordination strategy.
func (c *Config) Strategy() (models.CoordinationStrategy, error) {
	s := models.CoordinationStrategy{
		Type:                models.StrategyType(c.Defaults.Strategy),
		MaxConcurrentAgents: c.Defaults.MaxConcurrentAgents,
		FailureHandling:     models.FailurePolicy(c.Defaults.FailureHandling),
		Protocol:            models.CommunicationProtocol(c.Defaults.Protocol),
	}
	if !s.Type.Valid() {
		return s, fmt.Errorf("defaults.strategy: unknown strategy %q", c.Defaults.Strategy)
	}
	if !s.FailureHandling.Valid() {
		return s, fmt.Errorf("defaults.failure_handling: unknown policy %q", c.Defaults.FailureHandling)
	}
	if !s.Protocol.Valid() {
		return s, fmt.Errorf("defaults.protocol: unknown protocol %q", c.Defaults.Protocol)
	}
	return s, nil
}

// ResourceLimits converts a limits section.
func (l LimitsConfig) ResourceLimits() models.ResourceLimits {
	return models.ResourceLimits{
		MemoryMB:     l.MemoryMB,
		CPUMillis:    l.CPUMillis,
		Tokens:       l.Tokens,
		MaxToolCalls: l.MaxToolCalls,
		Timeout:      l.Timeout,
	}
}

// Constraints converts the security section.
func (s SecurityConfig) Constraints() models.SecurityConstraints {
	return models.SecurityConstraints{
		AllowedTools: append([]string(nil), s.AllowedTools...),
		Network:      models.AccessTier(s.Network),
		FileSystem:   models.AccessTier(s.FileSystem),
		Sandbox:      s.Sandbox,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("executor.kind", "echo")
	v.SetDefault("executor.model", "claude-sonnet-4-5")
	v.SetDefault("executor.max_tokens", 4096)
	v.SetDefault("executor.bedrock", false)
	v.SetDefault("executor.region", "us-east-1")
	v.SetDefault("executor.profile", "")
	v.SetDefault("executor.latency", "0s")

	v.SetDefault("resources.memory_mb", 4096)
	v.SetDefault("resources.cpu_millis", 0)
	v.SetDefault("resources.tokens", 1_000_000)

	v.SetDefault("defaults.strategy", string(models.StrategyParallel))
	v.SetDefault("defaults.max_concurrent_agents", 3)
	v.SetDefault("defaults.failure_handling", string(models.GracefulDegradation))
	v.SetDefault("defaults.protocol", string(models.ProtocolDirect))

	v.SetDefault("limits.memory_mb", 512)
	v.SetDefault("limits.cpu_millis", 600_000)
	v.SetDefault("limits.tokens", 200_000)
	v.SetDefault("limits.max_tool_calls", 100)
	v.SetDefault("limits.timeout", "5m")

	v.SetDefault("parent.memory_mb", 0)
	v.SetDefault("parent.cpu_millis", 0)
	v.SetDefault("parent.tokens", 0)
	v.SetDefault("parent.max_tool_calls", 0)
	v.SetDefault("parent.timeout", "0s")

	v.SetDefault("security.allowed_tools", []string{})
	v.SetDefault("security.network", string(models.AccessRestricted))
	v.SetDefault("security.file_system", string(models.AccessReadOnly))
	v.SetDefault("security.sandbox", true)
	v.SetDefault("security.isolation", string(models.IsolationSandbox))
	v.SetDefault("security.denied_capabilities", []string{})
	v.SetDefault("security.denied_tools", []string{})

	v.SetDefault("timeouts.sync", "2m")
	v.SetDefault("timeouts.lease_ttl", "0s")
	v.SetDefault("timeouts.reap_interval", "1s")
	v.SetDefault("timeouts.coordination", "30m")

	d := logging.DefaultConfig()
	v.SetDefault("logging.level", d.Level)
	v.SetDefault("logging.format", d.Format)
	v.SetDefault("logging.output", d.Output)
	v.SetDefault("logging.file_path", d.FilePath)
	v.SetDefault("logging.max_size_mb", d.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.MaxBackups)
	v.SetDefault("logging.max_age_days", d.MaxAgeDays)

	v.SetDefault("state.path", state.ProjectDBPath(""))
}

// getUserConfigDir returns the XDG config directory for swarm.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "swarm")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "swarm")
	}
	return filepath.Join(home, ".config", "swarm")
}

// findProjectConfig searches for .swarm.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			Kind:      "echo",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Region:    "us-east-1",
		},
		Resources: ResourcesConfig{
			MemoryMB: 4096,
			Tokens:   1_000_000,
		},
		Defaults: DefaultsConfig{
			Strategy:            string(models.StrategyParallel),
			MaxConcurrentAgents: 3,
			FailureHandling:     string(models.GracefulDegradation),
			Protocol:            string(models.ProtocolDirect),
		},
		Limits: LimitsConfig{
			MemoryMB:     512,
			CPUMillis:    600_000,
			Tokens:       200_000,
			MaxToolCalls: 100,
			Timeout:      5 * time.Minute,
		},
		Security: SecurityConfig{
			Network:    string(models.AccessRestricted),
			FileSystem: string(models.AccessReadOnly),
			Sandbox:    true,
			Isolation:  string(models.IsolationSandbox),
		},
		Timeouts: TimeoutsConfig{
			Sync:         2 * time.Minute,
			ReapInterval: time.Second,
			Coordination: 30 * time.Minute,
		},
		Logging: logging.DefaultConfig(),
		State: StateConfig{
			Path: state.ProjectDBPath(""),
		},
	}
}
