// Package reconciler brings the clean table's key set into agreement with a
// snapshot by applying the minimal set of inserts and deletes in one
// transaction.
package reconciler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/pprload/internal/types"
)

// Plan is the change set for one reconciliation. Inserts and Deletes never
// share a key.
type Plan struct {
	Inserts       []types.KeyedRecord
	Deletes       []types.NaturalKey
	SnapshotSize  int
	PersistedSize int
}

// Empty reports whether applying the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Deletes) == 0
}

// ComputeInsertSet returns every snapshot record whose key is not persisted,
// in snapshot order.
func ComputeInsertSet(snapshot *types.Snapshot, persisted types.KeySet) []types.KeyedRecord {
	var out []types.KeyedRecord
	for _, kr := range snapshot.Records() {
		if !persisted.Has(kr.Key) {
			out = append(out, kr)
		}
	}
	return out
}

// ComputeDeleteSet returns every persisted key missing from the snapshot,
// sorted.
func ComputeDeleteSet(persisted, snapshotKeys types.KeySet) []types.NaturalKey {
	var out []types.NaturalKey
	for _, k := range persisted.Sorted() {
		if !snapshotKeys.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// NewPlan computes both sets concurrently. Both inputs are only read.
func NewPlan(ctx context.Context, snapshot *types.Snapshot, persisted types.KeySet) (*Plan, error) {
	plan := &Plan{
		SnapshotSize:  snapshot.Len(),
		PersistedSize: persisted.Len(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plan.Inserts = ComputeInsertSet(snapshot, persisted)
		return ctx.Err()
	})
	g.Go(func() error {
		plan.Deletes = ComputeDeleteSet(persisted, snapshot.Keys())
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return plan, nil
}
