package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

const seriesKeyPrefix = "series:"

// SeriesCache stores fetched series as raw badger entries so each carries
// its own TTL and expires without a sweeper.
type SeriesCache struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.SeriesCache = (*SeriesCache)(nil)

// NewSeriesCache creates a new SeriesCache instance
func NewSeriesCache(db *BadgerDB, logger arbor.ILogger) *SeriesCache {
	return &SeriesCache{db: db, logger: logger}
}

func seriesKey(code string) []byte {
	return []byte(seriesKeyPrefix + code)
}

func (c *SeriesCache) GetSeries(ctx context.Context, code string) (*models.Series, error) {
	var data []byte
	err := c.db.Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(seriesKey(code))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", code, interfaces.ErrSeriesNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached series: %w", err)
	}

	var series models.Series
	if err := msgpack.Unmarshal(data, &series); err != nil {
		return nil, fmt.Errorf("failed to decode cached series %s: %w", code, err)
	}
	return &series, nil
}

// PutSeries stores the series; a non-positive ttl keeps it until overwritten.
func (c *SeriesCache) PutSeries(ctx context.Context, series *models.Series, ttl time.Duration) error {
	if series.Code == "" {
		return fmt.Errorf("series code is required")
	}
	data, err := msgpack.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	entry := badger.NewEntry(seriesKey(series.Code), data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := c.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("failed to cache series: %w", err)
	}
	return nil
}

func (c *SeriesCache) DeleteSeries(ctx context.Context, code string) error {
	if err := c.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Delete(seriesKey(code))
	}); err != nil {
		return fmt.Errorf("failed to delete cached series: %w", err)
	}
	return nil
}
