package lock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/pprload/internal/sqlutil"
)

func TestGenerateRunLockName(t *testing.T) {
	assert.Equal(t, "pprload:reconcile:ppr_clean_all", GenerateRunLockName("ppr_clean_all"))
	assert.Equal(t, "pprload:reconcile:a_b_c", GenerateRunLockName("a b;c"))
}

func TestMySQL_AcquireAndRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
		WithArgs("pprload:reconcile:t", 1).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WithArgs("pprload:reconcile:t").
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	l := NewRunLock(db, sqlutil.MySQL, "t")
	acquired, err := l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	// Re-acquiring a held lock issues no query
	acquired, err = l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())

	released, err = l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.False(t, released)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_HeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(0))

	l := NewRunLock(db, sqlutil.MySQL, "t")
	err = l.AcquireOrFail(context.Background(), TimeoutShort)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.False(t, l.IsHeld())
}

func TestMySQL_NullResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(nil))

	l := NewRunLock(db, sqlutil.MySQL, "t")
	_, err = l.AcquireLock(context.Background(), TimeoutShort)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestPostgres_PollsUntilTimeout(t *testing.T) {
	old := pollInterval
	pollInterval = 10 * time.Millisecond
	defer func() { pollInterval = old }()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtext($1))")
	mock.ExpectQuery(q).WithArgs("pprload:reconcile:t").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectQuery(q).WithArgs("pprload:reconcile:t").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_advisory_unlock(hashtext($1))")).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))

	l := NewRunLock(db, sqlutil.Postgres, "t")
	acquired, err := l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Immediate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtext($1))")).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))

	l := NewRunLock(db, sqlutil.Postgres, "t")
	acquired, err := l.AcquireLock(context.Background(), TimeoutImmediate)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_NoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewRunLock(db, sqlutil.SQLite, "t")
	require.NoError(t, l.AcquireOrFail(context.Background(), TimeoutShort))
	assert.True(t, l.IsHeld())

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	l := NewRunLock(db, sqlutil.MySQL, "t")
	assert.Panics(t, func() {
		_ = l.WithLock(context.Background(), TimeoutShort, func() error { panic("boom") })
	})
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_ReturnsFnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	want := errors.New("reconcile failed")
	l := NewRunLock(db, sqlutil.MySQL, "t")
	err = l.WithLock(context.Background(), TimeoutShort, func() error { return want })
	assert.ErrorIs(t, err, want)
}
