// Package database provides store connection management for pprload.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/sqlutil"
)

// Manager handles the connection to the store holding the staging, clean and
// run tables.
type Manager struct {
	Store   *sql.DB
	Dialect sqlutil.Dialect
	config  *config.StoreConfig
}

// NewManager creates a new database manager from configuration.
func NewManager(cfg *config.StoreConfig) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config is nil")
	}
	dialect, err := sqlutil.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Dialect: dialect,
		config:  cfg,
	}, nil
}

// Connect establishes the store connection.
func (m *Manager) Connect(ctx context.Context) error {
	db, err := m.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s store: %w", m.Dialect, err)
	}
	m.Store = db
	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	var db *sql.DB
	var err error

	maxRetries := 3
	backoff := time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = m.open()
		if err == nil {
			pingErr := db.PingContext(ctx)
			if pingErr == nil {
				return db, nil
			}
			db.Close()
			err = pingErr
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

// open creates a database handle with the configured pool settings.
func (m *Manager) open() (*sql.DB, error) {
	db, err := sql.Open(string(m.Dialect), BuildDSN(m.config))
	if err != nil {
		return nil, err
	}

	if m.Dialect == sqlutil.SQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return db, nil
	}

	if m.config.MaxConnections > 0 {
		db.SetMaxOpenConns(m.config.MaxConnections)
	}
	if m.config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(m.config.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs a driver-specific DSN from configuration.
func BuildDSN(cfg *config.StoreConfig) string {
	switch cfg.Driver {
	case config.DriverPostgres:
		return buildPostgresDSN(cfg)
	case config.DriverSQLite:
		return buildSQLiteDSN(cfg)
	default:
		return buildMySQLDSN(cfg)
	}
}

// buildMySQLDSN formats user:password@tcp(host:port)/database?params.
func buildMySQLDSN(cfg *config.StoreConfig) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	params := "?parseTime=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// buildPostgresDSN formats a postgres:// URL understood by lib/pq.
// lib/pq has no opportunistic TLS mode, so "preferred" maps to "require".
func buildPostgresDSN(cfg *config.StoreConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}

	sslmode := "require"
	if cfg.TLS == "disable" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()

	return u.String()
}

// buildSQLiteDSN appends connection parameters unless the path already has some.
func buildSQLiteDSN(cfg *config.StoreConfig) string {
	if strings.Contains(cfg.Database, "?") {
		return cfg.Database
	}
	return cfg.Database + "?_busy_timeout=5000&_foreign_keys=on"
}

// Close closes the store connection.
func (m *Manager) Close() error {
	if m.Store == nil {
		return nil
	}
	if err := m.Store.Close(); err != nil {
		return fmt.Errorf("store close: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.Store == nil {
		return fmt.Errorf("store not connected")
	}
	if err := m.Store.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}
