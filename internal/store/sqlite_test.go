package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/sqlutil"
	"github.com/dbsmedya/pprload/internal/types"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ppr.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(db, sqlutil.SQLite, testStoreConfig(), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.CreateTables(context.Background()))
	return s
}

func TestSQLite_CreateTablesIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTables(ctx))

	missing, err := s.TablesExist(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSQLite_TablesExistReportsMissing(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSQLStore(db, sqlutil.SQLite, testStoreConfig(), logger.NewNop())
	require.NoError(t, err)

	missing, err := s.TablesExist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ppr_raw_all", "ppr_clean_all"}, missing)
}

func TestSQLite_StagingRoundTripAndReset(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	records := []types.CanonicalRecord{sampleRecord("b"), sampleRecord("a"), sampleRecord("c")}
	n, err := s.WriteStaging(ctx, records, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := s.ReadStaging(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, got, "staging preserves write order")

	require.NoError(t, s.ResetStagingArea(ctx))
	got, err = s.ReadStaging(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Ids restart at 1 after the reset
	_, err = s.WriteStaging(ctx, records[:1], 0)
	require.NoError(t, err)
	var id int64
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT id FROM "ppr_raw_all"`).Scan(&id))
	assert.Equal(t, int64(1), id)
}

func TestSQLite_ReconcileTransaction(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	a, b := sampleRecord("a"), sampleRecord("b")
	ka, kb := types.DeriveKey(a), types.DeriveKey(b)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	n, err := tx.BulkInsert(ctx, []types.KeyedRecord{{Key: ka, Record: a}, {Key: kb, Record: b}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit())

	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	n, err = tx.BulkDelete(ctx, []types.NaturalKey{ka, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())

	keys, err := s.QueryPersistedKeys(ctx)
	require.NoError(t, err)
	assert.True(t, keys.Equal(types.NewKeySet(ka, kb)), "rolled back delete leaves rows in place")
}

func TestSQLite_DuplicateKeyRejected(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	a := sampleRecord("a")
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.BulkInsert(ctx, []types.KeyedRecord{
		{Key: types.DeriveKey(a), Record: a},
		{Key: types.DeriveKey(a), Record: a},
	})
	assert.Error(t, err)
}

func TestSQLite_KeyStableAcrossRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	r := sampleRecord("3 bóthar na trá | ballsbridge")
	r.PostalCode = "dublin 4"
	r.Description = types.DescriptionSecondHand

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.BulkInsert(ctx, []types.KeyedRecord{{Key: types.DeriveKey(r), Record: r}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	persisted, err := s.QueryPersistedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	assert.Equal(t, r, persisted[0].Record)
	assert.Equal(t, types.DeriveKey(r), persisted[0].Key)
	assert.Equal(t, types.DeriveKey(r), types.DeriveKey(persisted[0].Record))
}
