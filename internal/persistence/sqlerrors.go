package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExceeded is returned when a transaction is retried more than the
// max allowed value without a success.
var ErrRetriesExceeded = errors.New("persistence: tx retries exceeded")

// MapSQLError attempts to interpret a given error as a database agnostic SQL
// error.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}

	return err
}

func parseSqliteError(sqliteErr sqlite3.Error) error {
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {

			return &ErrUniqueConstraintViolation{DBError: sqliteErr}
		}

		return fmt.Errorf("sqlite constraint error: %w", sqliteErr)

	case sqlite3.ErrBusy:
		return &ErrSerializationError{DBError: sqliteErr}

	case sqlite3.ErrLocked:
		return &ErrDeadlockError{DBError: sqliteErr}

	case sqlite3.ErrError:
		errMsg := sqliteErr.Error()

		switch {
		case strings.Contains(errMsg, "no such table"):
			return &ErrSchemaError{DBError: sqliteErr}
		default:
			return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
		}

	default:
		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
	}
}

// ErrUniqueConstraintViolation is a database agnostic unique constraint
// violation.
type ErrUniqueConstraintViolation struct {
	DBError error
}

func (e ErrUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("unique constraint violation: %v", e.DBError)
}

func (e ErrUniqueConstraintViolation) Unwrap() error {
	return e.DBError
}

// ErrSerializationError is a database agnostic transaction-serialization
// failure.
type ErrSerializationError struct {
	DBError error
}

func (e ErrSerializationError) Error() string { return e.DBError.Error() }
func (e ErrSerializationError) Unwrap() error { return e.DBError }

// ErrDeadlockError is a database agnostic deadlock/lock-contention failure.
type ErrDeadlockError struct {
	DBError error
}

func (e ErrDeadlockError) Error() string { return e.DBError.Error() }
func (e ErrDeadlockError) Unwrap() error { return e.DBError }

// ErrSchemaError is a database agnostic schema mismatch error.
type ErrSchemaError struct {
	DBError error
}

func (e ErrSchemaError) Error() string { return e.DBError.Error() }
func (e ErrSchemaError) Unwrap() error { return e.DBError }

// IsSerializationError reports whether err is an ErrSerializationError.
func IsSerializationError(err error) bool {
	var e *ErrSerializationError
	return errors.As(err, &e)
}

// IsDeadlockError reports whether err is an ErrDeadlockError.
func IsDeadlockError(err error) bool {
	var e *ErrDeadlockError
	return errors.As(err, &e)
}

// IsSerializationOrDeadlockError reports whether err is retriable under the
// transaction executor's retry policy.
func IsSerializationOrDeadlockError(err error) bool {
	return IsDeadlockError(err) || IsSerializationError(err)
}
