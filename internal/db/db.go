package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// PoolConfig bounds the connection pool of an opened database. Zero fields
// take the dialect default.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolConfig) orDefaults(d PoolConfig) PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = d.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = min(d.MaxIdleConns, p.MaxOpenConns)
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return p
}

func (p PoolConfig) apply(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(p.MaxOpenConns)
	sqlDB.SetMaxIdleConns(p.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(p.ConnMaxLifetime)
}

// Open opens the database named by dsn with default pool limits.
func Open(dsn string) (*gorm.DB, error) {
	return OpenWithPool(dsn, PoolConfig{})
}

// OpenWithPool opens the database named by dsn. Postgres URLs and key=value
// strings select postgres; file paths and file:/sqlite:// URLs select sqlite.
func OpenWithPool(dsn string, pool PoolConfig) (*gorm.DB, error) {
	dialect, err := DialectFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	var conn *gorm.DB
	switch dialect {
	case DialectPostgres:
		conn, err = openPostgres(strings.TrimSpace(dsn))
		pool = pool.orDefaults(postgresPool)
	case DialectSQLite:
		conn, err = openSQLite(strings.TrimSpace(dsn))
		pool = pool.orDefaults(sqlitePool)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: %s handle: %w", dialect, err)
	}
	pool.apply(sqlDB)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: ping %s: %w", dialect, errPing)
	}
	log.WithFields(log.Fields{"dialect": dialect, "max_open_conns": pool.MaxOpenConns}).Debug("database opened")
	return conn, nil
}

// gormConfig is shared by both dialects: UTC timestamps, translated
// constraint errors, warnings routed through logrus.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

var errEmptyDSN = errors.New("db: empty dsn")
