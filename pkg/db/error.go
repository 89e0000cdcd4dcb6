package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// gorm wraps translated errors, unwrap first
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	if code := sqlState(err); code == "23505" {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsTransientErr reports errors worth retrying: lost connections, lock and
// serialization conflicts, and statement timeouts.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}

	switch code := sqlState(err); {
	case code == "40001", // serialization_failure
		code == "40P01", // deadlock_detected
		code == "55P03", // lock_not_available
		code == "57014", // query_canceled
		code == "57P01", // admin_shutdown
		strings.HasPrefix(code, "08"):
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"),
		strings.Contains(msg, "error 1213"), // mysql deadlock
		strings.Contains(msg, "error 1205"): // mysql lock wait timeout
		return true
	}
	return false
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
