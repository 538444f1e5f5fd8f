package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pprload/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile         string
	logLevel        string
	logFormat       string
	batchInsertSize int
	batchDeleteSize int
	rowLimit        int
	onError         string
	skipVerify      bool
)

var rootCmd = &cobra.Command{
	Use:   "pprload",
	Short: "Irish Property Price Register loader",
	Long: `pprload downloads the Property Price Register archive, normalizes it and
reconciles it into a clean table that always mirrors the latest snapshot.

Features:
  - Natural-key reconciliation: only changed sales are inserted or deleted
  - One transaction per load, batched inserts and deletes
  - MySQL, PostgreSQL and SQLite stores
  - Post-load verification (count or SHA256) and a persistent run log`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pprload.yaml",
		"Path to configuration file")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Processing overrides
	rootCmd.PersistentFlags().IntVar(&batchInsertSize, "batch-insert-size", 0,
		"Override batch insert size (rows per INSERT statement)")
	rootCmd.PersistentFlags().IntVar(&batchDeleteSize, "batch-delete-size", 0,
		"Override batch delete size (keys per DELETE statement)")
	rootCmd.PersistentFlags().IntVar(&rowLimit, "row-limit", 0,
		"Only extract the first N rows of the register (0 = all)")
	rootCmd.PersistentFlags().StringVar(&onError, "on-error", "",
		"Override malformed record policy (skip, abort)")

	// Safety overrides
	rootCmd.PersistentFlags().BoolVar(&skipVerify, "skip-verify", false,
		"Skip verification after load")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() config.Overrides {
	return config.Overrides{
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		BatchInsertSize: batchInsertSize,
		BatchDeleteSize: batchDeleteSize,
		RowLimit:        rowLimit,
		OnError:         onError,
		SkipVerify:      skipVerify,
	}
}
