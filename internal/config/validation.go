package config

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/pprload/internal/sqlutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateSource()...)
	errors = append(errors, c.validateNormalize()...)
	errors = append(errors, c.validateReconcile()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateStore() ValidationErrors {
	var errors ValidationErrors
	s := &c.Store

	switch s.Driver {
	case DriverMySQL, DriverPostgres:
		if s.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "store.host",
				Message: "host is required",
			})
		}
		if s.Port <= 0 || s.Port > 65535 {
			errors = append(errors, ValidationError{
				Field:   "store.port",
				Message: "port must be between 1 and 65535",
			})
		}
		if s.User == "" {
			errors = append(errors, ValidationError{
				Field:   "store.user",
				Message: "user is required",
			})
		}
	case DriverSQLite:
	default:
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Message: "driver must be 'mysql', 'postgres', or 'sqlite3'",
		})
	}

	if s.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "store.database",
			Message: "database name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[s.TLS] {
		errors = append(errors, ValidationError{
			Field:   "store.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if s.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if s.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	tables := map[string]string{
		"store.staging_table": s.StagingTable,
		"store.clean_table":   s.CleanTable,
		"store.run_table":     s.RunTable,
	}
	for field, name := range tables {
		if !sqlutil.IsValidIdentifier(name) {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must contain only alphanumeric characters and underscores",
			})
		}
	}
	if s.StagingTable != "" && s.StagingTable == s.CleanTable {
		errors = append(errors, ValidationError{
			Field:   "store.clean_table",
			Message: "clean_table must differ from staging_table",
		})
	}

	return errors
}

func (c *Config) validateSource() ValidationErrors {
	var errors ValidationErrors

	if c.Source.URL == "" && c.Source.IndexURL == "" {
		errors = append(errors, ValidationError{
			Field:   "source.url",
			Message: "url or index_url is required",
		})
	}

	if c.Source.DataDir == "" {
		errors = append(errors, ValidationError{
			Field:   "source.data_dir",
			Message: "data_dir is required",
		})
	}

	if c.Source.RowLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.row_limit",
			Message: "row_limit cannot be negative",
		})
	}

	if c.Source.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.timeout_seconds",
			Message: "timeout_seconds cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateNormalize() ValidationErrors {
	var errors ValidationErrors

	validPolicies := map[string]bool{OnErrorSkip: true, OnErrorAbort: true, "": true}
	if !validPolicies[c.Normalize.OnError] {
		errors = append(errors, ValidationError{
			Field:   "normalize.on_error",
			Message: "on_error must be 'skip' or 'abort'",
		})
	}

	return errors
}

// InsertParamsPerRow is the number of bind parameters one clean-table row
// takes in a multi-row INSERT (key plus six record columns).
const InsertParamsPerRow = 7

// MaxBindParameters returns the most placeholders one statement may carry
// on the given driver.
func MaxBindParameters(driver string) int {
	if driver == DriverSQLite {
		// SQLITE_MAX_VARIABLE_NUMBER since 3.32
		return 32766
	}
	return 65535
}

func (c *Config) validateReconcile() ValidationErrors {
	var errors ValidationErrors
	maxParams := MaxBindParameters(c.Store.Driver)

	if c.Reconcile.BatchInsertSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "reconcile.batch_insert_size",
			Message: "batch_insert_size must be positive",
		})
	} else if limit := maxParams / InsertParamsPerRow; c.Reconcile.BatchInsertSize > limit {
		errors = append(errors, ValidationError{
			Field:   "reconcile.batch_insert_size",
			Message: fmt.Sprintf("batch_insert_size must be at most %d for %s (%d parameters per row)", limit, c.Store.Driver, InsertParamsPerRow),
		})
	}

	if c.Reconcile.BatchDeleteSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "reconcile.batch_delete_size",
			Message: "batch_delete_size must be positive",
		})
	} else if c.Reconcile.BatchDeleteSize > maxParams {
		errors = append(errors, ValidationError{
			Field:   "reconcile.batch_delete_size",
			Message: fmt.Sprintf("batch_delete_size must be at most %d for %s", maxParams, c.Store.Driver),
		})
	}

	validModes := map[string]bool{DuplicateDisambiguate: true, DuplicateCollapse: true, "": true}
	if !validModes[c.Reconcile.DuplicateKeys] {
		errors = append(errors, ValidationError{
			Field:   "reconcile.duplicate_keys",
			Message: "duplicate_keys must be 'disambiguate' or 'collapse'",
		})
	}

	validMethods := map[string]bool{"count": true, "sha256": true, "skip": true, "": true}
	if !validMethods[c.Reconcile.Verify] {
		errors = append(errors, ValidationError{
			Field:   "reconcile.verify",
			Message: "verify must be 'count', 'sha256', or 'skip'",
		})
	}

	if c.Reconcile.LockTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "reconcile.lock_timeout_seconds",
			Message: "lock_timeout_seconds cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
