package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/orchestrator"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/internal/taskfile"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		executorKind string
		noSave       bool
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "run <task-file>",
		Short: "Plan and execute a task",
		Long: `Run a task file: plan it, spawn one agent per allocation and drive the
agents under the coordination strategy.

Executors (--executor):
  echo    Deterministic local executor, no network (default)
  claude  Sends each subtask to Claude via the Anthropic API or AWS Bedrock

Progress events are printed as they happen. The final result is stored in
the history database unless --no-save is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := taskfile.Load(args[0])
			if err != nil {
				return err
			}
			def, err := a.cfg.Strategy()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exec, err := newExecutor(ctx, a.cfg, executorKind, a.logger)
			if err != nil {
				return err
			}
			c, err := newCoordinator(a.cfg, exec, a.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for ev := range c.Events() {
					if !quiet {
						printEvent(out, ev)
					}
				}
			}()

			report, runErr := c.Coordinate(ctx, &f.Task, f.StrategyOr(def))
			c.Close()
			<-printed

			if report.Result != nil {
				printResult(out, report.Result)
				if !noSave {
					if err := saveResult(a.cfg.State.Path, report); err != nil {
						a.logger.Warn("result not saved", zap.Error(err))
						color.New(color.FgYellow).Fprintf(out, "⚠ result not saved: %v\n", err)
					}
				}
			}
			if n := c.DroppedEvents(); n > 0 {
				a.logger.Debug("events dropped", zap.Uint64("count", n))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&executorKind, "executor", "", "Executor: echo or claude (default from config)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record the result in the history database")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final result")
	return cmd
}

func saveResult(path string, report *orchestrator.Report) error {
	db, err := state.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	return db.SaveResult(report.Result, report.Distribution.Strategy.Type)
}

func printEvent(w io.Writer, ev orchestrator.CoordinationEvent) {
	symbol, attr := "•", color.FgCyan
	switch ev.Type {
	case orchestrator.EventAgentStatus:
		return
	case orchestrator.EventSubtaskCompleted, orchestrator.EventAllocationCompleted:
		symbol, attr = "✓", color.FgGreen
	case orchestrator.EventSubtaskFailed, orchestrator.EventAllocationFailed:
		symbol, attr = "✗", color.FgRed
	case orchestrator.EventAllocationSkipped, orchestrator.EventAllocationCancelled,
		orchestrator.EventAllocationReassigned, orchestrator.EventDeadlineExtended,
		orchestrator.EventLeaseExpired:
		symbol, attr = "⚠", color.FgYellow
	}

	var detail []string
	for _, s := range []string{ev.AllocationID, ev.SubtaskID, ev.PointID, ev.Message} {
		if s != "" {
			detail = append(detail, s)
		}
	}
	if ev.Error != nil {
		detail = append(detail, ev.Error.Error())
	}
	fmt.Fprintf(w, "%s %s %-22s %s\n",
		ev.Timestamp.Format("15:04:05.000"), color.New(attr).Sprint(symbol), ev.Type, strings.Join(detail, "  "))
}

func printResult(w io.Writer, r *models.CoordinationResult) {
	fmt.Fprintln(w)
	color.New(color.Bold).Fprintf(w, "Coordination %s: ", r.CoordinationID)
	outcomeColor(r.Outcome).Fprintln(w, r.Outcome)
	fmt.Fprintf(w, "  Task: %s  Duration: %s\n", r.TaskID, formatDuration(r.ExecutionTime))
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}

	m := r.Metrics
	fmt.Fprintf(w, "  Subtasks: %d/%d completed, %d failed\n", m.CompletedSubtasks, m.TotalSubtasks, m.FailedSubtasks)
	fmt.Fprintf(w, "  Agents: %d spawned, %d reassignments, %d deadline extensions\n",
		m.AgentsSpawned, m.Reassignments, m.DeadlineExtended)
	if m.Latency.Count > 0 {
		fmt.Fprintf(w, "  Latency: p50 %s  p95 %s  max %s\n", m.Latency.P50, m.Latency.P95, m.Latency.Max)
	}

	ids := make([]string, 0, len(r.Allocations))
	for id := range r.Allocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "\nAllocations:")
	for _, id := range ids {
		a := r.Allocations[id]
		line := fmt.Sprintf("  %s  %s", id, allocationColor(a.Status).Sprint(a.Status))
		if a.Attempts > 1 {
			line += fmt.Sprintf("  (%d attempts)", a.Attempts)
		}
		if a.Error != "" {
			line += "  " + a.Error
		}
		fmt.Fprintln(w, line)
	}

	if len(r.Aggregated.Values) > 0 {
		names := make([]string, 0, len(r.Aggregated.Values))
		for name := range r.Aggregated.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "\nOutputs:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %v\n", name, r.Aggregated.Values[name])
		}
	}
}
