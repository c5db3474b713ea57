package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// SeriesCache stores fetched series with an explicit expiry column
type SeriesCache struct {
	db     *SQLiteDB
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.SeriesCache = (*SeriesCache)(nil)

// NewSeriesCache creates a new SeriesCache instance
func NewSeriesCache(db *SQLiteDB, logger arbor.ILogger) *SeriesCache {
	return &SeriesCache{db: db, logger: logger, now: time.Now}
}

func (c *SeriesCache) GetSeries(ctx context.Context, code string) (*models.Series, error) {
	var data string
	var expiresAt int64
	err := c.db.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM series_cache WHERE code = ?`, code).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", code, interfaces.ErrSeriesNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached series: %w", err)
	}
	if expiresAt > 0 && c.now().UnixNano() >= expiresAt {
		return nil, fmt.Errorf("%s expired: %w", code, interfaces.ErrSeriesNotCached)
	}

	var series models.Series
	if err := json.Unmarshal([]byte(data), &series); err != nil {
		return nil, fmt.Errorf("failed to decode cached series: %w", err)
	}
	return &series, nil
}

func (c *SeriesCache) PutSeries(ctx context.Context, series *models.Series, ttl time.Duration) error {
	if series == nil || series.Code == "" {
		return fmt.Errorf("series code is required")
	}
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = c.now().Add(ttl).UnixNano()
	}

	query := `
		INSERT INTO series_cache (code, data, fetched_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			data = excluded.data,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`
	if _, err := c.db.db.ExecContext(ctx, query, series.Code, string(data), series.FetchedAt.UnixNano(), expiresAt); err != nil {
		return fmt.Errorf("failed to cache series: %w", err)
	}
	return nil
}

func (c *SeriesCache) DeleteSeries(ctx context.Context, code string) error {
	if _, err := c.db.db.ExecContext(ctx, `DELETE FROM series_cache WHERE code = ?`, code); err != nil {
		return fmt.Errorf("failed to delete cached series: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries past their expiry and reports how many went.
func (c *SeriesCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.db.ExecContext(ctx,
		`DELETE FROM series_cache WHERE expires_at > 0 AND expires_at <= ?`, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired series: %w", err)
	}
	return res.RowsAffected()
}
