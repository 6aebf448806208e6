package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Display the configuration swarm would run with, after merging built-in
defaults, the user config, the project .swarm.yaml and SWARM_* environment
variables. The API key is masked.

User config:    ~/.config/swarm/config.yaml
Project config: .swarm.yaml (searched upward from the working directory)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			displayConfig(cmd.OutOrStdout(), a.cfg, a.configPath)
			return nil
		},
	}
}

func displayConfig(w io.Writer, cfg *config.Config, explicit string) {
	if explicit != "" {
		fmt.Fprintf(w, "config file: %s\n", explicit)
	} else {
		fmt.Fprintf(w, "user config: %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Fprintf(w, "project config: %s\n", p)
		}
	}
	fmt.Fprintln(w)

	key, source, err := cfg.APIKey()
	if err != nil {
		fmt.Fprintln(w, "anthropic.api_key: (not set)")
	} else {
		fmt.Fprintf(w, "anthropic.api_key: %s (%s)\n", config.MaskAPIKey(key), source)
	}

	fmt.Fprintf(w, "executor.kind: %s\n", cfg.Executor.Kind)
	fmt.Fprintf(w, "executor.model: %s\n", cfg.Executor.Model)
	fmt.Fprintf(w, "executor.max_tokens: %d\n", cfg.Executor.MaxTokens)
	fmt.Fprintf(w, "executor.bedrock: %t\n", cfg.Executor.Bedrock)
	if cfg.Executor.Bedrock {
		fmt.Fprintf(w, "executor.region: %s\n", cfg.Executor.Region)
		fmt.Fprintf(w, "executor.profile: %s\n", cfg.Executor.Profile)
	}

	fmt.Fprintf(w, "resources.memory_mb: %g\n", cfg.Resources.MemoryMB)
	fmt.Fprintf(w, "resources.cpu_millis: %g\n", cfg.Resources.CPUMillis)
	fmt.Fprintf(w, "resources.tokens: %g\n", cfg.Resources.Tokens)

	fmt.Fprintf(w, "defaults.strategy: %s\n", cfg.Defaults.Strategy)
	fmt.Fprintf(w, "defaults.max_concurrent_agents: %d\n", cfg.Defaults.MaxConcurrentAgents)
	fmt.Fprintf(w, "defaults.failure_handling: %s\n", cfg.Defaults.FailureHandling)
	fmt.Fprintf(w, "defaults.protocol: %s\n", cfg.Defaults.Protocol)

	printLimits(w, "limits", cfg.Limits)
	printLimits(w, "parent", cfg.Parent)

	fmt.Fprintf(w, "security.isolation: %s\n", cfg.Security.Isolation)
	fmt.Fprintf(w, "security.network: %s\n", cfg.Security.Network)
	fmt.Fprintf(w, "security.file_system: %s\n", cfg.Security.FileSystem)
	fmt.Fprintf(w, "security.sandbox: %t\n", cfg.Security.Sandbox)
	fmt.Fprintf(w, "security.allowed_tools: [%s]\n", strings.Join(cfg.Security.AllowedTools, ", "))

	fmt.Fprintf(w, "timeouts.sync: %s\n", cfg.Timeouts.Sync)
	fmt.Fprintf(w, "timeouts.lease_ttl: %s\n", cfg.Timeouts.LeaseTTL)
	fmt.Fprintf(w, "timeouts.reap_interval: %s\n", cfg.Timeouts.ReapInterval)
	fmt.Fprintf(w, "timeouts.coordination: %s\n", cfg.Timeouts.Coordination)

	fmt.Fprintf(w, "logging.level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "logging.output: %s\n", cfg.Logging.Output)
	fmt.Fprintf(w, "state.path: %s\n", cfg.State.Path)
}

func printLimits(w io.Writer, section string, l config.LimitsConfig) {
	fmt.Fprintf(w, "%s.memory_mb: %d\n", section, l.MemoryMB)
	fmt.Fprintf(w, "%s.cpu_millis: %d\n", section, l.CPUMillis)
	fmt.Fprintf(w, "%s.tokens: %d\n", section, l.Tokens)
	fmt.Fprintf(w, "%s.max_tool_calls: %d\n", section, l.MaxToolCalls)
	fmt.Fprintf(w, "%s.timeout: %s\n", section, l.Timeout)
}
