package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbsmedya/pprload/internal/sqlutil"
	"github.com/dbsmedya/pprload/internal/types"
)

// columnTypes lists the SQL type of each column per dialect.
type columnTypes struct {
	id, date, text, address, county, key, price, suffix string
}

var dialectTypes = map[sqlutil.Dialect]columnTypes{
	sqlutil.MySQL: {
		id:      "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		date:    "DATE NOT NULL",
		text:    "VARCHAR(512) NOT NULL",
		address: fmt.Sprintf("VARCHAR(%d) NOT NULL", types.MaxAddressLength),
		county:  fmt.Sprintf("VARCHAR(%d) NOT NULL", types.MaxCountyLength),
		key:     fmt.Sprintf("VARCHAR(%d) NOT NULL", types.MaxKeyLength),
		price:   "BIGINT NOT NULL",
		// Binary collation keeps key comparison byte-exact
		suffix: " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin",
	},
	sqlutil.Postgres: {
		id:    "BIGSERIAL PRIMARY KEY",
		date:  "DATE NOT NULL",
		text:  "TEXT NOT NULL",
		key:   "TEXT NOT NULL",
		price: "BIGINT NOT NULL",
	},
	sqlutil.SQLite: {
		id:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		date:  "TEXT NOT NULL",
		text:  "TEXT NOT NULL",
		key:   "TEXT NOT NULL",
		price: "INTEGER NOT NULL",
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Schema returns the CREATE TABLE statements for the staging and clean tables.
func (s *SQLStore) Schema() ([]string, error) {
	ct, ok := dialectTypes[s.dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", s.dialect)
	}

	body := func(withKey bool) string {
		cols := []string{"id " + ct.id}
		if withKey {
			cols = append(cols, keyColumn+" "+ct.key)
		}
		cols = append(cols,
			"date_of_sale "+ct.date,
			"address "+orDefault(ct.address, ct.text),
			"postal_code "+ct.text,
			"county "+orDefault(ct.county, ct.text),
			"price "+ct.price,
			"description "+ct.text,
		)
		if withKey {
			cols = append(cols, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
				s.dialect.QuoteIdentifier("uq_"+s.cleanName+"_key"), keyColumn))
		}
		return "(\n  " + strings.Join(cols, ",\n  ") + "\n)"
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s%s", s.staging, body(false), ct.suffix),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s%s", s.clean, body(true), ct.suffix),
	}, nil
}

// CreateTables creates the staging and clean tables if they do not exist.
func (s *SQLStore) CreateTables(ctx context.Context) error {
	stmts, err := s.Schema()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.log.Infow("Tables ready", "staging", s.stagingName, "clean", s.cleanName)
	return nil
}

// TablesExist reports which of the staging and clean tables are missing.
func (s *SQLStore) TablesExist(ctx context.Context) ([]string, error) {
	var missing []string
	for _, name := range []string{s.stagingName, s.cleanName} {
		ok, err := TableExists(ctx, s.db, s.dialect, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// TableExists checks the engine catalogue for an unquoted table name.
func TableExists(ctx context.Context, db sqlutil.Querier, dialect sqlutil.Dialect, name string) (bool, error) {
	var query string
	switch dialect {
	case sqlutil.MySQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	case sqlutil.Postgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	case sqlutil.SQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		return false, fmt.Errorf("unsupported dialect %q", dialect)
	}

	var n int
	if err := db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}
