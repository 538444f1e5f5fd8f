package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pprload/internal/pipeline"
	"github.com/dbsmedya/pprload/internal/report"
)

var planSample int

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the next load would change",
	Long: `Plan compares the staged snapshot with the clean table and prints the
number of sales to insert and delete, with a sample of each. Nothing is
written.

Example:
  pprload plan --config pprload.yaml --sample 20`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVarP(&planSample, "sample", "n", 10,
		"Number of inserts and deletes to list")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	p, err := pipeline.New(env.cfg, pipeline.Deps{Store: env.store, Logger: env.log})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	plan, res, err := p.Plan(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute plan: %w", err)
	}

	if res.Collisions.Records > 0 {
		cmd.Printf("%d staged records share a natural key with another record (%d groups)\n\n",
			res.Collisions.Records, res.Collisions.Groups)
	}
	return report.NewPrinter(cmd.OutOrStdout()).Plan(plan, planSample)
}
