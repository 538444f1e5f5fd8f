// Package lock provides advisory locking so only one pprload run reconciles
// a given store at a time.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/pprload/internal/sqlutil"
)

// ErrLockTimeout is returned when lock acquisition times out because
// another instance is holding the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Common timeout values for lock acquisition (in seconds).
const (
	// TimeoutImmediate returns immediately if lock cannot be acquired (no wait).
	TimeoutImmediate = 0

	// TimeoutShort is suitable for fast-failing duplicate run detection.
	TimeoutShort = 1

	// TimeoutInfinite waits until the lock is acquired or ctx is done.
	TimeoutInfinite = -1
)

// pollInterval is how often Postgres lock acquisition is retried while waiting.
var pollInterval = 100 * time.Millisecond

// AdvisoryLock is a named, session-scoped lock held on a dedicated
// connection. MySQL uses GET_LOCK, Postgres uses pg_try_advisory_lock on the
// hashed name. SQLite allows a single writer already, so the lock is a no-op.
type AdvisoryLock struct {
	db       *sql.DB
	dialect  sqlutil.Dialect
	lockName string
	conn     *sql.Conn
	held     bool
}

// NewAdvisoryLock creates a new advisory lock with the given name.
// The lock is not acquired until AcquireLock is called.
func NewAdvisoryLock(db *sql.DB, dialect sqlutil.Dialect, lockName string) *AdvisoryLock {
	return &AdvisoryLock{
		db:       db,
		dialect:  dialect,
		lockName: lockName,
	}
}

// AcquireLock attempts to acquire the lock, waiting up to timeoutSeconds.
// Returns true if the lock was acquired, false if the timeout was reached.
//
// MySQL GET_LOCK() return values:
//   - 1: Lock was obtained successfully
//   - 0: Timeout was reached without obtaining the lock
//   - NULL: An error occurred (e.g., out of memory, thread killed)
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.held {
		return true, nil
	}
	if a.dialect == sqlutil.SQLite {
		a.held = true
		return true, nil
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	switch a.dialect {
	case sqlutil.MySQL:
		acquired, err = a.getLockMySQL(ctx, conn, timeoutSeconds)
	case sqlutil.Postgres:
		acquired, err = a.getLockPostgres(ctx, conn, timeoutSeconds)
	default:
		err = fmt.Errorf("advisory locks not supported for %q", a.dialect)
	}

	if err != nil || !acquired {
		conn.Close()
		return false, err
	}

	a.conn = conn
	a.held = true
	return true, nil
}

func (a *AdvisoryLock) getLockMySQL(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}

	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q (possible database error)", a.lockName)
	}

	switch result.Int64 {
	case 1:
		return true, nil
	case 0:
		// Another instance is holding the lock
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

// getLockPostgres polls pg_try_advisory_lock since Postgres has no timed
// variant outside lock_timeout, which does not apply to advisory locks taken
// with the try form.
func (a *AdvisoryLock) getLockPostgres(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)

	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
		}
		if ok {
			return true, nil
		}
		if timeoutSeconds >= 0 && !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReleaseLock releases the lock and returns its connection to the pool.
// Returns false if the lock was not held.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if !a.held {
		return false, nil
	}
	a.held = false

	if a.conn == nil {
		return true, nil
	}
	conn := a.conn
	a.conn = nil
	// Closing the connection returns it to the pool; the session lock is
	// released explicitly first so it does not outlive this run.
	defer conn.Close()

	switch a.dialect {
	case sqlutil.MySQL:
		var result sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
			return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
		}
		if !result.Valid {
			return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q (lock did not exist)", a.lockName)
		}
		return result.Int64 == 1, nil
	case sqlutil.Postgres:
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
		}
		return ok, nil
	}
	return true, nil
}

// IsHeld returns true if this lock is currently held by this instance.
func (a *AdvisoryLock) IsHeld() bool {
	return a.held
}

// LockName returns the name of the advisory lock.
func (a *AdvisoryLock) LockName() string {
	return a.lockName
}

// AcquireOrFail acquires the lock or returns ErrLockTimeout if another
// instance holds it past timeoutSeconds.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context, timeoutSeconds int) error {
	acquired, err := a.AcquireLock(ctx, timeoutSeconds)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}
	return nil
}

// WithLock executes fn while holding the lock, releasing it on every exit path
// including panics.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error {
	if err := a.AcquireOrFail(ctx, timeoutSeconds); err != nil {
		return err
	}

	defer func() {
		// Release in a fresh context so a cancelled run still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = a.ReleaseLock(releaseCtx)
	}()

	return fn()
}

// GenerateRunLockName creates the lock name guarding reconciliation into one
// clean table. Format: "pprload:reconcile:{table}"
func GenerateRunLockName(table string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, table)

	return fmt.Sprintf("pprload:reconcile:%s", sanitized)
}

// NewRunLock creates the advisory lock for reconciling into table.
func NewRunLock(db *sql.DB, dialect sqlutil.Dialect, table string) *AdvisoryLock {
	return NewAdvisoryLock(db, dialect, GenerateRunLockName(table))
}
