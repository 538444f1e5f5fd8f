package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pprload/internal/verifier"
)

var validateKeys bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and check the store",
	Long: `Validate checks the configuration file and the store the pipeline writes to.

Checks performed:
  - Configuration syntax and required fields
  - Store connectivity
  - Staging and clean table existence
  - Stored natural keys still match the keys derived from each row (--keys)

Example:
  pprload validate --config pprload.yaml --keys`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateKeys, "keys", false,
		"Re-derive every stored natural key and report drift")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cmd.Printf("\n=== Configuration Validation ===\n")
	cmd.Printf("Config file: %s\n", GetConfigFile())

	env, err := setup(ctx)
	if err != nil {
		cmd.Printf("❌ %v\n", err)
		return fmt.Errorf("validation failed")
	}
	defer env.Close()

	cmd.Printf("Driver: %s\n", env.cfg.Store.Driver)
	cmd.Printf("Clean table: %s\n\n", env.cfg.Store.CleanTable)

	if err := env.db.Ping(ctx); err != nil {
		cmd.Printf("❌ Store connection failed: %v\n", err)
		return fmt.Errorf("validation failed")
	}
	cmd.Printf("✅ Store reachable\n")

	hasErrors := false

	missing, err := env.store.TablesExist(ctx)
	switch {
	case err != nil:
		cmd.Printf("❌ Table check failed: %v\n", err)
		hasErrors = true
	case len(missing) > 0:
		cmd.Printf("❌ Missing tables: %v (run 'pprload init-db')\n", missing)
		hasErrors = true
	default:
		cmd.Printf("✅ Tables present\n")
	}

	if validateKeys && !hasErrors {
		drift, err := verifier.CheckKeyIntegrity(ctx, env.store)
		switch {
		case err != nil:
			cmd.Printf("❌ Key check failed: %v\n", err)
			hasErrors = true
		case len(drift) > 0:
			cmd.Printf("❌ %d stored keys drifted from their rows\n", len(drift))
			for i, d := range drift {
				if i == 10 {
					cmd.Printf("   … %d more\n", len(drift)-10)
					break
				}
				cmd.Printf("   stored  %s\n   derived %s\n", d.Stored, d.Derived)
			}
			hasErrors = true
		default:
			cmd.Printf("✅ Stored keys match their rows\n")
		}
	}

	if !hasErrors {
		last, err := env.runs.Last(ctx)
		switch {
		case err != nil:
			// Missing run table is not fatal: the first run creates it
			cmd.Printf("ℹ️  Run log unavailable: %v\n", err)
		case last == nil:
			cmd.Printf("ℹ️  No runs recorded yet\n")
		default:
			cmd.Printf("ℹ️  Last run %s: %s at %s\n",
				last.ID, last.Status, last.StartedAt.UTC().Format(time.DateTime))
		}
	}

	if hasErrors {
		return fmt.Errorf("validation failed")
	}

	cmd.Println("\n=== Validation Complete ===")
	return nil
}
