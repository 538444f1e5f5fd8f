package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbsmedya/pprload/internal/types"
)

// Memory is an in-process Store. Transactions work on a private copy of the
// clean rows that replaces the committed state on Commit. It enforces key
// uniqueness the way the SQL schema does.
type Memory struct {
	mu      sync.Mutex
	rows    map[types.NaturalKey]types.CanonicalRecord
	staging []types.CanonicalRecord

	// BeforeInsert and BeforeDelete, when set, run before every batch; a
	// non-nil error fails that batch.
	BeforeInsert func(batch int) error
	BeforeDelete func(batch int) error

	Commits   int
	Rollbacks int
}

// NewMemory returns a Memory store holding the given clean rows.
func NewMemory(rows ...types.KeyedRecord) *Memory {
	m := &Memory{rows: make(map[types.NaturalKey]types.CanonicalRecord, len(rows))}
	for _, kr := range rows {
		m.rows[kr.Key] = kr.Record
	}
	return m
}

// QueryPersistedKeys returns the committed keys.
func (m *Memory) QueryPersistedKeys(ctx context.Context) (types.KeySet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make(types.KeySet, len(m.rows))
	for k := range m.rows {
		keys.Add(k)
	}
	return keys, nil
}

// QueryPersistedRecords returns the committed rows sorted by key.
func (m *Memory) QueryPersistedRecords(ctx context.Context) ([]types.KeyedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make(types.KeySet, len(m.rows))
	for k := range m.rows {
		keys.Add(k)
	}
	out := make([]types.KeyedRecord, 0, len(m.rows))
	for _, k := range keys.Sorted() {
		out = append(out, types.KeyedRecord{Key: k, Record: m.rows[k]})
	}
	return out, nil
}

// Rows returns a copy of the committed clean rows.
func (m *Memory) Rows() map[types.NaturalKey]types.CanonicalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.rows)
}

// ResetStagingArea clears staged records.
func (m *Memory) ResetStagingArea(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staging = nil
	return nil
}

// WriteStaging appends records to the staging area.
func (m *Memory) WriteStaging(ctx context.Context, records []types.CanonicalRecord, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staging = append(m.staging, records...)
	return int64(len(records)), nil
}

// ReadStaging returns staged records in write order.
func (m *Memory) ReadStaging(ctx context.Context) ([]types.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.CanonicalRecord(nil), m.staging...), nil
}

// BeginTx snapshots the committed rows into a new transaction.
func (m *Memory) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memoryTx{store: m, rows: cloneRows(m.rows)}, nil
}

type memoryTx struct {
	store   *Memory
	rows    map[types.NaturalKey]types.CanonicalRecord
	inserts int
	deletes int
	done    bool
}

func (t *memoryTx) BulkInsert(ctx context.Context, records []types.KeyedRecord) (int64, error) {
	if t.done {
		return 0, fmt.Errorf("transaction already finished")
	}
	t.inserts++
	if h := t.store.BeforeInsert; h != nil {
		if err := h(t.inserts); err != nil {
			return 0, err
		}
	}
	for _, kr := range records {
		if _, ok := t.rows[kr.Key]; ok {
			return 0, fmt.Errorf("duplicate transaction_key %q", kr.Key)
		}
	}
	for _, kr := range records {
		t.rows[kr.Key] = kr.Record
	}
	return int64(len(records)), nil
}

func (t *memoryTx) BulkDelete(ctx context.Context, keys []types.NaturalKey) (int64, error) {
	if t.done {
		return 0, fmt.Errorf("transaction already finished")
	}
	t.deletes++
	if h := t.store.BeforeDelete; h != nil {
		if err := h(t.deletes); err != nil {
			return 0, err
		}
	}
	var n int64
	for _, k := range keys {
		if _, ok := t.rows[k]; ok {
			delete(t.rows, k)
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rows = t.rows
	t.store.Commits++
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.Rollbacks++
	return nil
}

func cloneRows(src map[types.NaturalKey]types.CanonicalRecord) map[types.NaturalKey]types.CanonicalRecord {
	dst := make(map[types.NaturalKey]types.CanonicalRecord, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
