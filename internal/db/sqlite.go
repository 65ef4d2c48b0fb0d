package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var sqlitePool = PoolConfig{MaxOpenConns: 8, MaxIdleConns: 8, ConnMaxLifetime: time.Hour}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = map[string]string{
	"busy_timeout": "5000",
	"journal_mode": "WAL",
	"synchronous":  "NORMAL",
	"foreign_keys": "ON",
}

func openSQLite(dsn string) (*gorm.DB, error) {
	path, query := splitSQLiteDSN(dsn)
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
				return nil, fmt.Errorf("db: create sqlite dir: %w", errMkdir)
			}
		}
	}
	conn, err := gorm.Open(sqlite.Open(sqliteDSN(path, query)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	return conn, nil
}

// splitSQLiteDSN accepts a bare path, file:path or sqlite://path, each with
// an optional query, and returns the path and its parsed query.
func splitSQLiteDSN(dsn string) (string, url.Values) {
	rest := strings.TrimSpace(dsn)
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file:"} {
		if len(rest) >= len(prefix) && strings.EqualFold(rest[:len(prefix)], prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	path, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	return strings.TrimPrefix(path, "//"), query
}

// sqliteDSN rebuilds a driver DSN, adding a _pragma for every default the
// caller did not set.
func sqliteDSN(path string, query url.Values) string {
	set := map[string]bool{}
	for _, p := range query["_pragma"] {
		name, _, _ := strings.Cut(p, "(")
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	names := make([]string, 0, len(sqlitePragmas))
	for name := range sqlitePragmas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !set[name] {
			query.Add("_pragma", name+"("+sqlitePragmas[name]+")")
		}
	}
	return "file:" + path + "?" + query.Encode()
}
