package sqlite

import (
	"context"
	"fmt"
)

// migrations are applied in order; the schema version is the count applied,
// tracked in PRAGMA user_version. Append only.
var migrations = []struct {
	name       string
	statements []string
}{
	{
		name: "charts",
		// Timestamps are unix nanoseconds so ordering by updated_at is exact.
		statements: []string{
			`CREATE TABLE IF NOT EXISTS charts (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				category TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '[]',
				public INTEGER NOT NULL DEFAULT 0,
				rank INTEGER NOT NULL DEFAULT 0,
				source TEXT NOT NULL,
				figure TEXT,
				rendered_at INTEGER,
				last_error TEXT NOT NULL DEFAULT '',
				last_trace TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_charts_order ON charts(rank ASC, updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_charts_owner_name ON charts(owner_id, name)`,
			`CREATE INDEX IF NOT EXISTS idx_charts_category ON charts(category)`,
		},
	},
	{
		name: "series_cache",
		// expires_at of 0 never expires.
		statements: []string{
			`CREATE TABLE IF NOT EXISTS series_cache (
				code TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				fetched_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL DEFAULT 0
			)`,
		},
	},
	{
		name: "series_cache_expiry_index",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_series_cache_expires ON series_cache(expires_at) WHERE expires_at > 0`,
		},
	},
}

// migrate brings the schema up to date. Each pending migration runs in its
// own transaction together with its version bump.
func (s *SQLiteDB) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		m := migrations[i]
		if err := s.apply(ctx, i+1, m.statements); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		s.logger.Debug().Int("version", i+1).Str("name", m.name).Msg("Applied migration")
	}
	return nil
}

func (s *SQLiteDB) apply(ctx context.Context, version int, statements []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not take bound parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion reports the number of applied migrations.
func (s *SQLiteDB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
