// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file opens the SQLite store and migrates the group
// chat schema.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// sqlitePragmas are applied to every connection pool OpenSQLite creates.
// Transcript rows are rewritten while replies stream, so writers wait on
// the busy timeout instead of failing.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

type openConfig struct {
	maxOpen  int
	logLevel logger.LogLevel
	tracing  bool
}

// OpenOption tunes OpenSQLite.
type OpenOption func(*openConfig)

// WithMaxOpenConns caps the connection pool; n < 1 is ignored.
func WithMaxOpenConns(n int) OpenOption {
	return func(c *openConfig) {
		if n > 0 {
			c.maxOpen = n
		}
	}
}

// WithLogLevel sets the GORM logger level (default Warn).
func WithLogLevel(l logger.LogLevel) OpenOption {
	return func(c *openConfig) { c.logLevel = l }
}

// WithoutTracing skips the OpenTelemetry plugin.
func WithoutTracing() OpenOption {
	return func(c *openConfig) { c.tracing = false }
}

// isMemoryDSN reports whether dsn names an in-memory database.
func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// OpenSQLite opens (or creates) the database at dsn, which is a file path
// or a "file:" URI. Queries become child spans of the request or reply
// session that issued them unless WithoutTracing is given.
func OpenSQLite(dsn string, opts ...OpenOption) (*gorm.DB, error) {
	cfg := openConfig{maxOpen: 10, logLevel: logger.Warn, tracing: true}
	for _, o := range opts {
		o(&cfg)
	}

	// sqlite reports a missing parent directory as "out of memory (14)".
	if !isMemoryDSN(dsn) && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.logLevel),
	})
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen)
	sqlDB.SetMaxIdleConns(cfg.maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if !isMemoryDSN(dsn) {
		// Recycling the last connection of a memory database drops it.
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if cfg.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// AutoMigrate creates or updates every table used by the group chat store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.GroupChat{},
		&domain.GroupMember{},
		&domain.TranscriptEntry{},
		&domain.Reaction{},
		&domain.Idempotency{},
	)
}
