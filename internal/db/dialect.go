package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Dialect names a supported database backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFromDSN picks the backend a DSN addresses.
func DialectFromDSN(dsn string) (Dialect, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if lower == "" {
		return "", errEmptyDSN
	}
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres, nil
	}
	for _, kv := range []string{"host=", "dbname=", "user=", "sslmode="} {
		if strings.Contains(lower, kv) {
			return DialectPostgres, nil
		}
	}
	if strings.HasPrefix(lower, "file:") || strings.HasPrefix(lower, "sqlite://") ||
		strings.HasPrefix(lower, "sqlite3://") || !strings.Contains(lower, "://") {
		return DialectSQLite, nil
	}
	scheme, _, _ := strings.Cut(lower, "://")
	return "", fmt.Errorf("db: unsupported dsn scheme %q", scheme)
}

// DialectOf returns the backend of an open connection.
func DialectOf(conn *gorm.DB) Dialect {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return Dialect(conn.Dialector.Name())
}

// IsUniqueViolation reports whether err is a unique constraint failure.
// Connections opened here translate it to gorm.ErrDuplicatedKey; the
// message checks cover connections opened without translation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsRetryable reports whether err is a transient write conflict: sqlite
// busy or locked, or a postgres serialization failure or deadlock. The
// transaction that hit it can be rerun from the start.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
