package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/HTF1125/investment-x-sub000/internal/common"
)

const defaultBusyTimeoutMS = 5000

// SQLiteDB is the chart database handle shared by chart storage and the series cache.
type SQLiteDB struct {
	db     *sql.DB
	path   string
	logger arbor.ILogger
}

// NewSQLiteDB opens the database file, creating its directory, and migrates
// the schema.
func NewSQLiteDB(logger arbor.ILogger, config *common.SQLiteConfig) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers, so concurrent refreshes never see SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, path: config.Path, logger: logger}

	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _ := s.SchemaVersion(ctx)
	logger.Info().
		Str("path", config.Path).
		Int("schema_version", version).
		Bool("wal", config.WALMode).
		Msg("SQLite database initialized")
	return s, nil
}

// dsn builds a modernc file URI; _pragma parameters are applied to every
// new connection by the driver.
func dsn(config *common.SQLiteConfig) string {
	busy := config.BusyTimeoutMS
	if busy <= 0 {
		busy = defaultBusyTimeoutMS
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if config.WALMode {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + config.Path + "?" + q.Encode()
}

// DB returns the underlying database connection
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug().Str("path", s.path).Msg("Closing SQLite database")
	return s.db.Close()
}

// Ping verifies the database connection
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
