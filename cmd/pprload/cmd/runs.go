package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/pprload/internal/runlog"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent pipeline runs",
	Long: `Runs lists the most recent entries of the run log, newest first, with
their status and record counts. Given a run id, it shows that run only.

Example:
  pprload runs --limit 20
  pprload runs 6f1c2f7e-54a8-4c4e-9a43-0d4a1c1f5b11`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10,
		"Number of runs to show")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if len(args) == 1 {
		run, err := env.runs.Get(ctx, args[0])
		if err != nil {
			return err
		}
		writeRuns(cmd.OutOrStdout(), []*runlog.Run{run})
		return nil
	}

	if runsLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	runs, err := env.runs.List(ctx, uint64(runsLimit))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Printf("No runs recorded in %s\n", env.cfg.Store.RunTable)
		return nil
	}

	writeRuns(cmd.OutOrStdout(), runs)
	cmd.Printf("\nTotal: %d run(s)\n", len(runs))
	return nil
}

func writeRuns(w io.Writer, runs []*runlog.Run) {
	fmt.Fprintf(w, "%s  %s  %s  %s  %s  %s\n",
		runewidth.FillRight("RUN", 36),
		runewidth.FillRight("COMMAND", 9),
		runewidth.FillRight("STATUS", 9),
		runewidth.FillRight("STARTED", 19),
		runewidth.FillLeft("+INS", 8),
		runewidth.FillLeft("-DEL", 8),
	)
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %s  %s  %s  %s\n",
			runewidth.FillRight(r.ID, 36),
			runewidth.FillRight(r.Command, 9),
			runewidth.FillRight(string(r.Status), 9),
			r.StartedAt.UTC().Format(time.DateTime),
			runewidth.FillLeft(fmt.Sprint(r.Counts.Inserted), 8),
			runewidth.FillLeft(fmt.Sprint(r.Counts.Deleted), 8),
		)
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", runewidth.Truncate(r.ErrorMessage, 100, "…"))
		}
	}
}
