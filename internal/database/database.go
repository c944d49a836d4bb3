package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (uses modernc.org/sqlite)
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/model"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
// _txlock=immediate takes the write lock at BEGIN so read-then-write
// transactions wait on busy_timeout instead of failing on upgrade.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// singleLeaderIndex backs the at-most-one-leader invariant at the storage
// level. Partial indexes are supported by both PostgreSQL and SQLite.
const singleLeaderIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_fleet_members_single_leader
	ON fleet_members (is_leader) WHERE is_leader`

// DB wraps the GORM DB connection with additional context
type DB struct {
	*gorm.DB
	Driver string
}

// Printer receives gorm's slow query and error reports.
type Printer interface {
	Printf(format string, args ...interface{})
}

// New creates a new database connection based on configuration
func New(cfg *config.Config, out Printer) (*DB, error) {
	return Open(cfg.DatabaseDriver, cfg.CleanDSN(), out)
}

// Open connects to the given driver ("postgres" or "sqlite").
// A nil out falls back to the standard logger.
func Open(driver, dsn string, out Printer) (*DB, error) {
	if out == nil {
		out = log.New(os.Stdout, "\r\n", log.LstdFlags)
	}

	// Configure logger to only log slow queries (>1 second)
	slowLogger := logger.New(
		out,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gormConfig := &gorm.Config{
		Logger: slowLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var db *gorm.DB
	var err error

	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		sqliteDSN := strings.TrimPrefix(dsn, "file:")

		// Ensure parent directory exists for file-based databases
		if !strings.HasPrefix(sqliteDSN, ":memory:") {
			dir := filepath.Dir(sqliteDSN)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}

		sep := "?"
		if strings.Contains(sqliteDSN, "?") {
			sep = "&"
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN+sep+sqlitePragmas), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	switch {
	case driver == "sqlite" && strings.Contains(dsn, ":memory:"):
		// Every connection would get its own empty in-memory database
		sqlDB.SetMaxOpenConns(1)
	case driver == "sqlite":
		// WAL allows concurrent readers next to the single writer
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
	default:
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// Migrate runs database migrations using GORM's AutoMigrate
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Exec(singleLeaderIndex).Error; err != nil {
		return fmt.Errorf("create single-leader index: %w", err)
	}
	return nil
}

// IsPostgres returns true if using PostgreSQL
func (db *DB) IsPostgres() bool {
	return db.Driver == "postgres"
}

// IsSQLite returns true if using SQLite
func (db *DB) IsSQLite() bool {
	return db.Driver == "sqlite"
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
