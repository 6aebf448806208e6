package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/planner"
	"github.com/ShayCichocki/swarm/internal/taskfile"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		watch  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "plan <task-file>",
		Short: "Show how a task would be distributed",
		Long: `Plan a task file without running it.

Prints the allocations, their subtasks and dependencies, the synchronization
plan, the communication channels and the fallback rules. Strategy fields the
task file leaves out come from the configured defaults.

With --watch the file is re-planned every time it is saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := a.cfg.Strategy()
			if err != nil {
				return err
			}
			p := planner.New(planner.WithLogger(a.logger))
			out := cmd.OutOrStdout()

			if !watch {
				f, err := taskfile.Load(args[0])
				if err != nil {
					return err
				}
				return planAndPrint(out, p, f, def, asJSON)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", args[0])
			return taskfile.Watch(ctx, args[0], func(f *taskfile.File, err error) {
				if err == nil {
					fmt.Fprintln(out)
					err = planAndPrint(out, p, f, def, asJSON)
				}
				if err != nil {
					color.New(color.FgRed).Fprintf(out, "✗ %v\n", err)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-plan whenever the task file changes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the distribution as JSON")
	return cmd
}

func planAndPrint(w io.Writer, p *planner.Planner, f *taskfile.File, def models.CoordinationStrategy, asJSON bool) error {
	d, err := p.Distribute(&f.Task, f.StrategyOr(def))
	if err != nil {
		return fmt.Errorf("distribute %s: %w", f.Task.ID, err)
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	printDistribution(w, d)
	return nil
}

func printDistribution(w io.Writer, d *models.TaskDistribution) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Distribution %s\n", d.ID)
	fmt.Fprintf(w, "  Task: %s (%s)\n", d.Task.ID, d.Task.Complexity)
	fmt.Fprintf(w, "  Strategy: %s, up to %d agents, %s\n",
		d.Strategy.Type, d.Strategy.MaxConcurrentAgents, d.Strategy.FailureHandling)
	fmt.Fprintf(w, "  Suitability: %.2f\n", d.SuitabilityScore)

	fmt.Fprintf(w, "\nAllocations (%d):\n", len(d.Allocations))
	for _, alloc := range d.Allocations {
		line := fmt.Sprintf("  %s  priority %d", alloc.ID, alloc.Priority)
		if len(alloc.DependsOn) > 0 {
			line += "  after " + strings.Join(alloc.DependsOn, ", ")
		}
		if len(alloc.Resources) > 0 {
			line += "  " + formatRequirements(alloc.Resources)
		}
		fmt.Fprintln(w, line)
		for _, st := range alloc.Subtasks {
			fmt.Fprintf(w, "    - %s%s\n", st.ID, formatSubtaskIO(st))
		}
	}

	if len(d.SyncPlan) > 0 {
		fmt.Fprintln(w, "\nSynchronization:")
		for _, p := range d.SyncPlan {
			timeout := "no timeout"
			if p.Timeout > 0 {
				timeout = p.Timeout.String()
			}
			onTimeout := p.OnTimeout
			if onTimeout == "" {
				onTimeout = models.OnTimeoutWait
			}
			fmt.Fprintf(w, "  %s  %s [%s]  %s, on timeout %s\n",
				p.ID, p.Type, strings.Join(p.Participants, ", "), timeout, onTimeout)
		}
	}

	if len(d.Channels) > 0 {
		fmt.Fprintln(w, "\nChannels:")
		for _, ch := range d.Channels {
			fmt.Fprintf(w, "  %s  %s  %s -> %s\n",
				ch.ID, ch.Protocol, strings.Join(ch.From, ", "), strings.Join(ch.To, ", "))
		}
	}

	fmt.Fprintln(w, "\nFallback:")
	for _, r := range d.Fallback.Rules {
		line := fmt.Sprintf("  %s -> %s", r.Trigger, r.Action)
		if r.MaxAttempts > 0 {
			line += fmt.Sprintf(" (max %d)", r.MaxAttempts)
		}
		if r.Factor > 0 {
			line += fmt.Sprintf(" x%.1f", r.Factor)
		}
		fmt.Fprintln(w, line)
	}
}

func formatSubtaskIO(st models.SubTask) string {
	var parts []string
	if caps := st.Requirements.Capabilities; len(caps) > 0 {
		parts = append(parts, "["+strings.Join(caps, ", ")+"]")
	}
	if len(st.Inputs) > 0 {
		parts = append(parts, "<- "+strings.Join(st.Inputs, ", "))
	}
	if len(st.Outputs) > 0 {
		parts = append(parts, "-> "+strings.Join(st.Outputs, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func formatRequirements(reqs []models.ResourceRequirement) string {
	parts := make([]string, len(reqs))
	for i, r := range reqs {
		parts[i] = fmt.Sprintf("%s=%g%s", r.Type, r.Amount, r.Unit)
	}
	return strings.Join(parts, " ")
}
