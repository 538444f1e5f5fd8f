package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/sqlutil"
	"github.com/dbsmedya/pprload/internal/store"
	"github.com/dbsmedya/pprload/internal/types"
)

// ErrReconcileFailed is returned when applying a plan failed and was rolled back.
var ErrReconcileFailed = errors.New("reconciliation failed")

// ApplyStats contains statistics about an applied plan.
type ApplyStats struct {
	Inserted    int64
	Deleted     int64
	InsertBatch int
	DeleteBatch int
	Duration    time.Duration
}

// Result is the outcome of a full reconciliation.
type Result struct {
	Plan  *Plan
	Stats *ApplyStats
}

// Reconciler applies snapshots to a store. At most one reconciliation runs
// per Reconciler at a time.
type Reconciler struct {
	store           store.Store
	batchInsertSize int
	batchDeleteSize int
	logger          *logger.Logger

	mu sync.Mutex
}

// New creates a Reconciler.
func New(st store.Store, cfg config.ReconcileConfig, log *logger.Logger) (*Reconciler, error) {
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	insertSize := cfg.BatchInsertSize
	if insertSize <= 0 {
		insertSize = 1000
	}
	deleteSize := cfg.BatchDeleteSize
	if deleteSize <= 0 {
		deleteSize = 500
	}

	return &Reconciler{
		store:           st,
		batchInsertSize: insertSize,
		batchDeleteSize: deleteSize,
		logger:          log.WithStage("load"),
	}, nil
}

// Plan reads the persisted keys and computes the change set for snapshot
// without applying it.
func (r *Reconciler) Plan(ctx context.Context, snapshot *types.Snapshot) (*Plan, error) {
	persisted, err := r.store.QueryPersistedKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted keys: %w", err)
	}
	return NewPlan(ctx, snapshot, persisted)
}

// Reconcile makes the persisted key set equal to the snapshot's key set.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot *types.Snapshot) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Retrieving all the transaction keys from the clean table")
	plan, err := r.Plan(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	r.logger.Infow("Reconciliation plan",
		"snapshot", plan.SnapshotSize,
		"persisted", plan.PersistedSize,
		"to_insert", len(plan.Inserts),
		"to_delete", len(plan.Deletes),
	)

	stats, err := r.Apply(ctx, plan)
	if err != nil {
		return nil, err
	}

	return &Result{Plan: plan, Stats: stats}, nil
}

// Apply executes plan in a single transaction: deletes first, then inserts,
// each in batches. Any failure rolls the whole plan back.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) (*ApplyStats, error) {
	startTime := time.Now()
	stats := &ApplyStats{}

	if plan.Empty() {
		r.logger.Info("Clean table already matches snapshot, nothing to apply")
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	r.logger.Debug("Starting reconciliation transaction")
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcileFailed, err)
	}

	defer func() {
		if tx != nil {
			// Not committed: error, cancellation or panic
			r.logger.Warn("Rolling back reconciliation transaction")
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	for i, rng := range sqlutil.Chunk(len(plan.Deletes), r.batchDeleteSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: interrupted: %w", ErrReconcileFailed, err)
		}
		n, err := tx.BulkDelete(ctx, plan.Deletes[rng[0]:rng[1]])
		if err != nil {
			return nil, fmt.Errorf("%w: delete batch %d: %w", ErrReconcileFailed, i+1, err)
		}
		stats.Deleted += n
		stats.DeleteBatch++
		r.logger.WithBatch(i+1).Debugf("Deleted %d rows", n)
	}

	for i, rng := range sqlutil.Chunk(len(plan.Inserts), r.batchInsertSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: interrupted: %w", ErrReconcileFailed, err)
		}
		n, err := tx.BulkInsert(ctx, plan.Inserts[rng[0]:rng[1]])
		if err != nil {
			return nil, fmt.Errorf("%w: insert batch %d: %w", ErrReconcileFailed, i+1, err)
		}
		stats.Inserted += n
		stats.InsertBatch++
		r.logger.WithBatch(i+1).Debugf("Inserted %d rows", n)
	}

	r.logger.Debug("Committing reconciliation transaction")
	if err := tx.Commit(); err != nil {
		tx = nil // a failed commit has already ended the transaction
		return nil, fmt.Errorf("%w: commit: %w", ErrReconcileFailed, err)
	}
	tx = nil

	stats.Duration = time.Since(startTime)
	r.logger.Infof("Reconciliation applied: %d inserted, %d deleted in %d+%d batches, duration: %s",
		stats.Inserted, stats.Deleted, stats.InsertBatch, stats.DeleteBatch, stats.Duration)

	return stats, nil
}
