package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/chatgate/internal/models"
	"gorm.io/gorm"
)

func TestMigrateSQLiteCreatesGateTables(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{"users", "licenses", "ip_bans", "user_ip_links", "admin_logs", "settings"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
	for _, column := range []string{"messages_used", "messages_limit", "banned", "banned_until", "is_admin", "plan"} {
		if !conn.Migrator().HasColumn("users", column) {
			t.Fatalf("users missing column %s", column)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	for i := 0; i < 2; i++ {
		if errMigrate := Migrate(conn); errMigrate != nil {
			t.Fatalf("migrate pass %d: %v", i, errMigrate)
		}
	}
	if !conn.Migrator().HasIndex("user_ip_links", "idx_user_ip_links_user_ip") {
		t.Fatalf("expected unique user/ip index")
	}
}

func TestDialectFromDSN(t *testing.T) {
	cases := map[string]Dialect{
		"postgres://u:p@localhost/db":     DialectPostgres,
		"host=localhost user=u dbname=db": DialectPostgres,
		"file:chatgate.db":                DialectSQLite,
		"sqlite://data/chatgate.db":       DialectSQLite,
		"chatgate.db":                     DialectSQLite,
	}
	for dsn, want := range cases {
		got, err := DialectFromDSN(dsn)
		if err != nil {
			t.Fatalf("dialect of %q: %v", dsn, err)
		}
		if got != want {
			t.Fatalf("dialect of %q: expected %s, got %s", dsn, want, got)
		}
	}
	if _, err := DialectFromDSN("mysql://u@localhost/db"); err == nil {
		t.Fatalf("expected error for unsupported dsn")
	}
	if _, err := DialectFromDSN("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestSQLiteDSNKeepsCallerPragmas(t *testing.T) {
	path, query := splitSQLiteDSN("sqlite://data/x.db?_pragma=busy_timeout(100)")
	if path != "data/x.db" {
		t.Fatalf("unexpected path %q", path)
	}
	dsn := sqliteDSN(path, query)
	if !strings.HasPrefix(dsn, "file:data/x.db?") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if strings.Count(dsn, "busy_timeout") != 1 || !strings.Contains(dsn, "busy_timeout%28100%29") {
		t.Fatalf("caller pragma should win: %q", dsn)
	}
	if !strings.Contains(dsn, "journal_mode%28WAL%29") {
		t.Fatalf("default pragma missing: %q", dsn)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open("file:" + filepath.ToSlash(filepath.Join(dir, "nested", "chatgate.db")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	if DialectOf(conn) != DialectSQLite {
		t.Fatalf("unexpected dialect %q", DialectOf(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	var mode string
	if errRaw := conn.Raw("PRAGMA journal_mode").Scan(&mode).Error; errRaw != nil {
		t.Fatalf("read pragma: %v", errRaw)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("expected WAL journal, got %q", mode)
	}

	first := models.User{Email: "dup@example.com"}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	errDup := conn.Create(&models.User{Email: "dup@example.com"}).Error
	if !IsUniqueViolation(errDup) {
		t.Fatalf("expected unique violation, got %v", errDup)
	}
}
