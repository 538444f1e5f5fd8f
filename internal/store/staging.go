package store

import (
	"context"
	"fmt"

	"github.com/dbsmedya/pprload/internal/sqlutil"
	"github.com/dbsmedya/pprload/internal/types"
)

// ResetStagingArea empties the staging table and restarts its id sequence so
// every run's staging ids start at 1.
func (s *SQLStore) ResetStagingArea(ctx context.Context) error {
	log := s.log.WithTable(s.stagingName)
	log.Info("Truncating staging table and restarting the sequence")

	switch s.dialect {
	case sqlutil.MySQL:
		// TRUNCATE resets AUTO_INCREMENT
		if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+s.staging); err != nil {
			return fmt.Errorf("truncate staging table: %w", err)
		}
	case sqlutil.Postgres:
		if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+s.staging+" RESTART IDENTITY"); err != nil {
			return fmt.Errorf("truncate staging table: %w", err)
		}
	case sqlutil.SQLite:
		if err := s.resetSQLiteStaging(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported dialect %q", s.dialect)
	}

	log.Info("Staging table reset")
	return nil
}

func (s *SQLStore) resetSQLiteStaging(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.staging); err != nil {
		return fmt.Errorf("clear staging table: %w", err)
	}

	query, args, err := s.builder.Delete("sqlite_sequence").Where("name = ?", s.stagingName).ToSql()
	if err != nil {
		return fmt.Errorf("build sequence reset: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("reset staging sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit staging reset: %w", err)
	}
	tx = nil
	return nil
}

// WriteStaging appends records to the staging table in batches of batchSize,
// all within one transaction.
func (s *SQLStore) WriteStaging(ctx context.Context, records []types.CanonicalRecord, batchSize int) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Errorf("Failed to rollback staging write: %v", rbErr)
			}
		}
	}()

	var written int64
	for batchNum, r := range sqlutil.Chunk(len(records), batchSize) {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("staging write interrupted: %w", err)
		}

		ins := s.builder.Insert(s.staging).Columns(recordColumns...)
		for _, rec := range records[r[0]:r[1]] {
			ins = ins.Values(rec.SaleDate, rec.Address, rec.PostalCode, rec.County, rec.Price, string(rec.Description))
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build staging insert: %w", err)
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("staging batch %d: %w", batchNum+1, err)
		}
		affected, _ := result.RowsAffected()
		written += affected

		s.log.WithBatch(batchNum + 1).Debugf("Wrote %d staging rows", affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit staging write: %w", err)
	}
	tx = nil

	return written, nil
}

// ReadStaging returns the staged records in the order they were written.
func (s *SQLStore) ReadStaging(ctx context.Context) ([]types.CanonicalRecord, error) {
	query, args, err := s.builder.Select(recordColumns...).From(s.staging).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build staging query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query staging: %w", err)
	}
	defer rows.Close()

	var out []types.CanonicalRecord
	for rows.Next() {
		var r types.CanonicalRecord
		if err := rows.Scan(&r.SaleDate, &r.Address, &r.PostalCode, &r.County, &r.Price, &r.Description); err != nil {
			return nil, fmt.Errorf("scan staging row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staging rows: %w", err)
	}

	return out, nil
}
