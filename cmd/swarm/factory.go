package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/executor"
	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/internal/orchestrator"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// newExecutor builds the executor named by kind, or the configured one when
// kind is empty.
func newExecutor(ctx context.Context, cfg *config.Config, kind string, logger *zap.Logger) (lifecycle.Executor, error) {
	if kind == "" {
		kind = cfg.Executor.Kind
	}
	switch kind {
	case "echo":
		var opts []executor.EchoOption
		if cfg.Executor.Latency > 0 {
			opts = append(opts, executor.WithLatency(cfg.Executor.Latency))
		}
		return executor.NewEcho(opts...), nil
	case "claude":
		cc := executor.ClaudeConfig{
			Model:         cfg.Executor.Model,
			MaxTokens:     cfg.Executor.MaxTokens,
			UseAWSBedrock: cfg.Executor.Bedrock,
			AWSRegion:     cfg.Executor.Region,
			AWSProfile:    cfg.Executor.Profile,
			Logger:        logger,
		}
		if !cc.UseAWSBedrock {
			key, _, err := cfg.APIKey()
			if err != nil {
				return nil, fmt.Errorf("claude executor: %w", err)
			}
			cc.APIKey = key
		}
		c, err := executor.NewClaude(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("create claude executor: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown executor %q: must be echo or claude", kind)
	}
}

// newCoordinator wires a coordinator from configuration.
func newCoordinator(cfg *config.Config, exec lifecycle.Executor, logger *zap.Logger) (*orchestrator.Coordinator, error) {
	return orchestrator.NewCoordinator(orchestrator.Config{
		Pool:     cfg.Pool(),
		Executor: exec,
		Permissions: lifecycle.DenyList{
			Capabilities: cfg.Security.DeniedCapabilities,
			Tools:        cfg.Security.DeniedTools,
		},
		ParentLimits: cfg.Parent.ResourceLimits(),
		Agents: orchestrator.AgentDefaults{
			Limits:    cfg.Limits.ResourceLimits(),
			Security:  cfg.Security.Constraints(),
			Isolation: models.IsolationLevel(cfg.Security.Isolation),
		},
		LeaseTTL:            cfg.Timeouts.LeaseTTL,
		ReapInterval:        cfg.Timeouts.ReapInterval,
		CoordinationTimeout: cfg.Timeouts.Coordination,
		SyncTimeout:         cfg.Timeouts.Sync,
		Logger:              logger,
	})
}
