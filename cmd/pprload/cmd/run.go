package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pprload/internal/acquire"
	"github.com/dbsmedya/pprload/internal/database"
	"github.com/dbsmedya/pprload/internal/lock"
	"github.com/dbsmedya/pprload/internal/metrics"
	"github.com/dbsmedya/pprload/internal/pipeline"
	"github.com/dbsmedya/pprload/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract, transform and load the register",
	Long: `Run executes the whole pipeline:
  1. Download PPR-ALL.zip (once per day) and extract the raw CSV
  2. Reset the staging table and stage the normalized records
  3. Reconcile the clean table with the staged snapshot in one transaction
  4. Verify the clean table and record the run

Example:
  pprload run --config pprload.yaml`,
	RunE: stageRunner("run", pipeline.AllStages...),
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Download the archive and write today's raw CSV",
	Long: `Extract downloads PPR-ALL.zip into the data directory, unless today's copy
already exists, and writes the raw CSV next to it.

Example:
  pprload extract --row-limit 1000`,
	RunE: stageRunner("extract", pipeline.StageExtract),
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Normalize today's raw CSV into the staging table",
	Long: `Transform resets the staging table and fills it with today's raw records,
normalized. Run extract first.

Example:
  pprload transform --on-error abort`,
	RunE: stageRunner("transform", pipeline.StageTransform),
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Reconcile the clean table with the staging table",
	Long: `Load reads the staged snapshot, inserts the sales missing from the clean
table and deletes the ones no longer published, all in one transaction.

Example:
  pprload load --batch-insert-size 5000`,
	RunE: stageRunner("load", pipeline.StageLoad),
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(loadCmd)
}

func stageRunner(command string, stages ...pipeline.Stage) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, command, stages)
	}
}

func runStages(cmd *cobra.Command, command string, stages []pipeline.Stage) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	log := env.log
	log.Infow("Starting pprload",
		"command", command,
		"config", GetConfigFile(),
		"driver", env.cfg.Store.Driver,
	)

	missing, err := env.store.TablesExist(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables %v (run 'pprload init-db' first)", missing)
	}
	if err := env.runs.InitializeTable(ctx); err != nil {
		return err
	}

	runLock := lock.NewRunLock(env.db.Store, env.db.Dialect, env.cfg.Store.CleanTable)
	if env.cfg.Reconcile.Lock {
		log.Debugw("Reconciliation guarded by advisory lock", "lock", runLock.LockName())
	}

	p, err := pipeline.New(env.cfg, pipeline.Deps{
		Source:  acquire.New(env.cfg.Source, log),
		Store:   env.store,
		RunLog:  env.runs,
		Lock:    runLock,
		Metrics: metrics.New(),
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// Handle graceful shutdown: cancelling rolls back an open transaction
	ctx, stop := database.WithShutdownSignals(ctx, func(sig os.Signal) {
		log.Warnw("Received shutdown signal - rolling back", "signal", sig.String())
	})
	defer stop()

	res, runErr := p.Run(ctx, command, stages...)
	if res != nil {
		if err := report.NewPrinter(cmd.OutOrStdout()).Summary(summaryOf(res, runErr)); err != nil {
			log.Warnw("Failed to print summary", "error", err)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Run cancelled, no changes were committed by the interrupted stage")
		}
		return fmt.Errorf("%s failed: %w", command, runErr)
	}
	return nil
}

func summaryOf(res *pipeline.Result, err error) report.Summary {
	s := report.Summary{
		RunID:      res.RunID,
		Command:    res.Command,
		Acquired:   res.Acquired,
		Skipped:    res.Skipped,
		Snapshot:   res.Snapshot,
		Collisions: res.Collisions,
		Duration:   res.Duration,
		Err:        err,
	}
	if res.Applied != nil {
		s.Inserted = res.Applied.Inserted
		s.Deleted = res.Applied.Deleted
	}
	if res.Verify != nil {
		s.Verify = string(res.Verify.Method)
		if !res.Verify.Match {
			s.Verify += " (mismatch)"
		}
	}
	return s
}
