// Package store persists staging and clean property records in a relational
// database and exposes the operations the reconciler needs.
package store

import (
	"context"

	"github.com/dbsmedya/pprload/internal/types"
)

// Store is the persistence surface used by the reconciler.
type Store interface {
	// QueryPersistedKeys returns the natural keys of every clean row.
	QueryPersistedKeys(ctx context.Context) (types.KeySet, error)
	// BeginTx opens the transaction a reconciliation runs in.
	BeginTx(ctx context.Context) (Tx, error)
	// ResetStagingArea empties the staging table and restarts its row ids.
	ResetStagingArea(ctx context.Context) error
}

// Tx is an open reconciliation transaction. Nothing is visible to other
// readers until Commit succeeds.
type Tx interface {
	BulkInsert(ctx context.Context, records []types.KeyedRecord) (int64, error)
	BulkDelete(ctx context.Context, keys []types.NaturalKey) (int64, error)
	Commit() error
	Rollback() error
}
