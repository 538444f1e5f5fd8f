package cmd

import (
	"context"
	"fmt"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/database"
	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/runlog"
	"github.com/dbsmedya/pprload/internal/store"
)

// loadConfig reads the config file, applies CLI overrides and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyOverrides(GetCLIOverrides())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment bundles the connected store and its companions for one command.
type environment struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.Manager
	store *store.SQLStore
	runs  *runlog.Manager
}

// Close releases the database connection and flushes the logger.
func (e *environment) Close() {
	if e.db != nil {
		e.db.Close()
	}
	_ = e.log.Sync()
}

// setup loads config, builds the logger and connects to the store.
func setup(ctx context.Context) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbManager, err := database.NewManager(&cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := dbManager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	env := &environment{cfg: cfg, log: log, db: dbManager}

	env.store, err = store.NewSQLStore(dbManager.Store, dbManager.Dialect, cfg.Store, log)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.runs, err = runlog.NewManager(dbManager.Store, dbManager.Dialect, cfg.Store.RunTable, log)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}
