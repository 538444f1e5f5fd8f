package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var initDBPrint bool

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the staging, clean and run tables",
	Long: `Init-db creates the staging, clean and run log tables if they do not exist.
Existing tables are left untouched.

Example:
  pprload init-db --config pprload.yaml
  pprload init-db --print`,
	RunE: runInitDB,
}

func init() {
	initDBCmd.Flags().BoolVar(&initDBPrint, "print", false,
		"Print the DDL instead of executing it")

	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if initDBPrint {
		stmts, err := env.store.Schema()
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			cmd.Printf("%s;\n\n", stmt)
		}
		return nil
	}

	if err := env.store.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := env.runs.InitializeTable(ctx); err != nil {
		return fmt.Errorf("failed to create run table: %w", err)
	}

	cmd.Printf("Tables ready: %s, %s, %s\n",
		env.cfg.Store.StagingTable, env.cfg.Store.CleanTable, env.cfg.Store.RunTable)
	return nil
}
