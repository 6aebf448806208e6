package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <coordination-id>",
		Short: "Show a recorded coordination",
		Long: `Display a coordination recorded by 'swarm run': its outcome, metrics,
per-allocation results, synchronization outcomes and aggregated outputs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			db, err := openHistory(a.cfg.State.Path)
			if err != nil {
				return err
			}
			if db == nil {
				fmt.Fprintln(out, "No coordinations recorded. Run 'swarm run <task-file>' to start.")
				return nil
			}
			defer db.Close()

			result, err := db.GetResult(args[0])
			if errors.Is(err, swarmerr.ErrNotFound) {
				return fmt.Errorf("no coordination %s in %s", args[0], db.Path())
			}
			if err != nil {
				return err
			}
			printResult(out, result)
			printSyncOutcomes(out, result.SyncOutcomes)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		purge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded coordinations",
		Long: `List the most recent coordinations recorded by 'swarm run'.

Use --purge to delete coordinations older than the given age first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			db, err := openHistory(a.cfg.State.Path)
			if err != nil {
				return err
			}
			if db == nil {
				fmt.Fprintln(out, "No coordinations recorded. Run 'swarm run <task-file>' to start.")
				return nil
			}
			defer db.Close()

			if purge > 0 {
				n, err := db.PurgeOlderThan(purge)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Purged %d coordinations older than %s\n", n, purge)
			}

			summaries, err := db.ListResults(limit)
			if err != nil {
				return err
			}
			printHistory(out, summaries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of coordinations to list (0 for all)")
	cmd.Flags().DurationVar(&purge, "purge", 0, "Delete coordinations older than this age first")
	return cmd
}

// openHistory opens the history database. It returns nil without error when
// nothing has been recorded yet.
func openHistory(path string) (*state.DB, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func printHistory(w io.Writer, summaries []state.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No coordinations recorded.")
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-10s  %-10s  %s  %d/%d subtasks  %s ago  %s\n",
			s.ID,
			outcomeColor(s.Outcome).Sprint(s.Outcome),
			s.Strategy,
			formatDuration(s.ExecutionTime),
			s.CompletedSubtasks, s.TotalSubtasks,
			formatDuration(time.Since(s.StartedAt)),
			s.TaskID)
	}
}
