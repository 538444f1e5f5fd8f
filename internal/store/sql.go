package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/sqlutil"
	"github.com/dbsmedya/pprload/internal/types"
)

// recordColumns are the business columns shared by the staging and clean tables.
var recordColumns = []string{"date_of_sale", "address", "postal_code", "county", "price", "description"}

const keyColumn = "transaction_key"

// DefaultBatchSize is used for staging writes when no size is given.
const DefaultBatchSize = 1000

// SQLStore implements Store on MySQL, Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	builder sq.StatementBuilderType
	log     *logger.Logger

	stagingName string
	cleanName   string
	staging     string // quoted
	clean       string // quoted
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sql.DB, dialect sqlutil.Dialect, cfg config.StoreConfig, log *logger.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	staging, err := dialect.QuoteIdentifierSafe(cfg.StagingTable)
	if err != nil {
		return nil, fmt.Errorf("staging table: %w", err)
	}
	clean, err := dialect.QuoteIdentifierSafe(cfg.CleanTable)
	if err != nil {
		return nil, fmt.Errorf("clean table: %w", err)
	}

	return &SQLStore{
		db:          db,
		dialect:     dialect,
		builder:     dialect.Builder(),
		log:         log,
		stagingName: cfg.StagingTable,
		cleanName:   cfg.CleanTable,
		staging:     staging,
		clean:       clean,
	}, nil
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// QueryPersistedKeys reads the transaction key of every clean row.
func (s *SQLStore) QueryPersistedKeys(ctx context.Context) (types.KeySet, error) {
	query, args, err := s.builder.Select(keyColumn).From(s.clean).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build key query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query persisted keys: %w", err)
	}
	defer rows.Close()

	keys := types.NewKeySet()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan persisted key: %w", err)
		}
		keys.Add(types.NaturalKey(k))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating persisted keys: %w", err)
	}

	return keys, nil
}

// QueryPersistedRecords reads every clean row in insertion order.
func (s *SQLStore) QueryPersistedRecords(ctx context.Context) ([]types.KeyedRecord, error) {
	query, args, err := s.builder.
		Select(append([]string{keyColumn}, recordColumns...)...).
		From(s.clean).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query persisted records: %w", err)
	}
	defer rows.Close()

	var out []types.KeyedRecord
	for rows.Next() {
		var (
			key string
			r   types.CanonicalRecord
		)
		if err := rows.Scan(&key, &r.SaleDate, &r.Address, &r.PostalCode, &r.County, &r.Price, &r.Description); err != nil {
			return nil, fmt.Errorf("scan persisted record: %w", err)
		}
		out = append(out, types.KeyedRecord{Key: types.NaturalKey(key), Record: r})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating persisted records: %w", err)
	}

	return out, nil
}

// BeginTx starts a reconciliation transaction on the clean table.
func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, builder: s.builder, table: s.clean}, nil
}

// sqlTx applies reconciliation batches inside one database transaction.
type sqlTx struct {
	tx      *sql.Tx
	builder sq.StatementBuilderType
	table   string
}

// BulkInsert writes records with their keys as one multi-row INSERT.
func (t *sqlTx) BulkInsert(ctx context.Context, records []types.KeyedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ins := t.builder.Insert(t.table).Columns(append([]string{keyColumn}, recordColumns...)...)
	for _, kr := range records {
		r := kr.Record
		ins = ins.Values(string(kr.Key), r.SaleDate, r.Address, r.PostalCode, r.County, r.Price, string(r.Description))
	}

	query, args, err := ins.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %d records: %w", len(records), err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// BulkDelete removes the rows with the given keys using DELETE ... IN (...).
// Keys that are already gone are not an error.
func (t *sqlTx) BulkDelete(ctx context.Context, keys []types.NaturalKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = string(k)
	}

	query, args, err := t.builder.Delete(t.table).Where(sq.Eq{keyColumn: values}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %d keys: %w", len(keys), err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}
