package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
	sqlStateClassConnection      = "08"
)

// ErrConcurrentUpdate is returned when an optimistic compare-and-swap lost a race.
var ErrConcurrentUpdate = errors.New("concurrent update detected")

func sqlState(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func constraintName(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique violation. When
// constraintName is provided the violated constraint must match it.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if code := sqlState(err); code != "" {
		if code != sqlStateUniqueViolation {
			return false
		}
		return constraint == "" || constraintName(err) == constraint || strings.Contains(err.Error(), constraint)
	}
	msg := err.Error()
	matched := strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
	if !matched {
		return false
	}
	return constraint == "" || strings.Contains(msg, constraint)
}

// IsTransient reports whether err is an infrastructure failure after which the
// whole unit of work may be retried safely.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch code := sqlState(err); {
	case code == sqlStateSerializationFailure, code == sqlStateDeadlockDetected,
		code == sqlStateAdminShutdown, code == sqlStateCannotConnectNow:
		return true
	case strings.HasPrefix(code, sqlStateClassConnection):
		return true
	case code != "":
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"database is locked", "connection refused", "connection reset", "broken pipe", "unexpected eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// StoreError keeps typed errors intact and classifies raw driver errors as
// either retryable store unavailability or an internal failure.
func StoreError(err error, action string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, action)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
