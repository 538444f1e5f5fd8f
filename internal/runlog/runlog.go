// Package runlog records the outcome of every pipeline run in the store.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/sqlutil"
)

// ErrRunNotFound is returned by Get for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Status represents the state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Counts are the per-stage record counts of a run.
type Counts struct {
	Acquired   int64
	Skipped    int64
	Collisions int64
	Inserted   int64
	Deleted    int64
}

// Run is one row of the run table.
type Run struct {
	ID           string
	Command      string
	Status       Status
	Counts       Counts
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
}

// Duration returns how long the run took, or how long it has been running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.Valid {
		return r.FinishedAt.Time.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

var columns = []string{
	"run_id", "command", "status",
	"acquired", "skipped", "collisions", "inserted", "deleted",
	"error_message", "started_at", "finished_at",
}

// Manager persists run state.
type Manager struct {
	db       *sql.DB
	dialect  sqlutil.Dialect
	builder  sq.StatementBuilderType
	table    string
	rawTable string
	logger   *logger.Logger
	now      func() time.Time
}

// NewManager creates a run log manager writing to table.
func NewManager(db *sql.DB, dialect sqlutil.Dialect, table string, log *logger.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	quoted, err := dialect.QuoteIdentifierSafe(table)
	if err != nil {
		return nil, fmt.Errorf("run table: %w", err)
	}

	return &Manager{
		db:       db,
		dialect:  dialect,
		builder:  dialect.Builder(),
		table:    quoted,
		rawTable: table,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// createTableSQL returns the run table DDL for the dialect.
func (m *Manager) createTableSQL() (string, error) {
	var ts, text string
	switch m.dialect {
	case sqlutil.MySQL:
		ts, text = "DATETIME(6)", "TEXT"
	case sqlutil.Postgres:
		ts, text = "TIMESTAMPTZ", "TEXT"
	case sqlutil.SQLite:
		ts, text = "TIMESTAMP", "TEXT"
	default:
		return "", fmt.Errorf("unsupported dialect %q", m.dialect)
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id VARCHAR(36) NOT NULL PRIMARY KEY,
	command VARCHAR(32) NOT NULL,
	status VARCHAR(16) NOT NULL,
	acquired BIGINT NOT NULL DEFAULT 0,
	skipped BIGINT NOT NULL DEFAULT 0,
	collisions BIGINT NOT NULL DEFAULT 0,
	inserted BIGINT NOT NULL DEFAULT 0,
	deleted BIGINT NOT NULL DEFAULT 0,
	error_message %s NULL,
	started_at %s NOT NULL,
	finished_at %s NULL
)`, m.table, text, ts, ts), nil
}

// InitializeTable creates the run table if it does not exist.
func (m *Manager) InitializeTable(ctx context.Context) error {
	stmt, err := m.createTableSQL()
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create %s table: %w", m.rawTable, err)
	}
	m.logger.Debugf("Run table %q ready", m.rawTable)
	return nil
}

// Start records a new running run and returns it.
func (m *Manager) Start(ctx context.Context, command string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    StatusRunning,
		StartedAt: m.now(),
	}

	query, args, err := m.builder.Insert(m.table).
		Columns("run_id", "command", "status", "started_at").
		Values(run.ID, run.Command, string(run.Status), run.StartedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run insert: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}

	m.logger.WithRun(run.ID).Infof("Run started (%s)", command)
	return run, nil
}

// Finish marks run as succeeded with the given counts.
func (m *Manager) Finish(ctx context.Context, run *Run, counts Counts) error {
	run.Status = StatusSucceeded
	run.Counts = counts
	return m.update(ctx, run)
}

// Fail marks run as failed. The original error is kept on the run.
func (m *Manager) Fail(ctx context.Context, run *Run, counts Counts, cause error) error {
	run.Status = StatusFailed
	run.Counts = counts
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	return m.update(ctx, run)
}

func (m *Manager) update(ctx context.Context, run *Run) error {
	run.FinishedAt = sql.NullTime{Time: m.now(), Valid: true}

	var errMsg interface{}
	if run.ErrorMessage != "" {
		errMsg = run.ErrorMessage
	}

	query, args, err := m.builder.Update(m.table).
		Set("status", string(run.Status)).
		Set("acquired", run.Counts.Acquired).
		Set("skipped", run.Counts.Skipped).
		Set("collisions", run.Counts.Collisions).
		Set("inserted", run.Counts.Inserted).
		Set("deleted", run.Counts.Deleted).
		Set("error_message", errMsg).
		Set("finished_at", run.FinishedAt.Time).
		Where(sq.Eq{"run_id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run update: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	m.logger.WithRun(run.ID).Infof("Run %s", run.Status)
	return nil
}

// Last returns the most recent run, or nil if none was recorded.
func (m *Manager) Last(ctx context.Context) (*Run, error) {
	runs, err := m.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// List returns up to limit runs, newest first. A zero limit returns all runs.
func (m *Manager) List(ctx context.Context, limit uint64) ([]*Run, error) {
	q := m.builder.Select(columns...).From(m.table).OrderBy("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return m.query(ctx, q)
}

// Get returns the run with the given id.
func (m *Manager) Get(ctx context.Context, id string) (*Run, error) {
	runs, err := m.query(ctx, m.builder.Select(columns...).From(m.table).Where(sq.Eq{"run_id": id}))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return runs[0], nil
}

func (m *Manager) query(ctx context.Context, q sq.SelectBuilder) ([]*Run, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run    Run
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.Command, &status,
			&run.Counts.Acquired, &run.Counts.Skipped, &run.Counts.Collisions,
			&run.Counts.Inserted, &run.Counts.Deleted,
			&errMsg, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = Status(status)
		run.ErrorMessage = errMsg.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
