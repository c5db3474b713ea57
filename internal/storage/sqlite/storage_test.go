package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	config := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
	}
	db, err := NewSQLiteDB(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChartStorage_RoundTrip(t *testing.T) {
	storage := NewChartStorage(setupTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	rendered := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	in := &models.Chart{
		ID:        "chart_1",
		Name:      "Rates",
		Source:    "fig = go.Figure()",
		Figure:    json.RawMessage(`{"data":[],"layout":{}}`),
		Tags:      []string{"macro"},
		Public:    true,
		Rank:      3,
		LastError: "",
	}
	in.RenderedAt = &rendered
	require.NoError(t, storage.SaveChart(ctx, in))
	assert.False(t, in.CreatedAt.IsZero())

	got, err := storage.GetChart(ctx, "chart_1")
	require.NoError(t, err)
	assert.Equal(t, "Rates", got.Name)
	assert.Equal(t, []string{"macro"}, got.Tags)
	assert.True(t, got.Public)
	assert.Equal(t, 3, got.Rank)
	assert.JSONEq(t, `{"data":[],"layout":{}}`, string(got.Figure))
	require.NotNil(t, got.RenderedAt)
	assert.True(t, rendered.Equal(*got.RenderedAt))
	assert.True(t, in.UpdatedAt.Equal(got.UpdatedAt))

	// Upsert replaces in place
	in.Name = "Rates v2"
	in.Figure = nil
	require.NoError(t, storage.SaveChart(ctx, in))
	got, err = storage.GetChart(ctx, "chart_1")
	require.NoError(t, err)
	assert.Equal(t, "Rates v2", got.Name)
	assert.False(t, got.HasFigure())

	count, err := storage.CountCharts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChartStorage_NotFound(t *testing.T) {
	storage := NewChartStorage(setupTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := storage.GetChart(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrChartNotFound)
	assert.ErrorIs(t, storage.DeleteChart(ctx, "missing"), interfaces.ErrChartNotFound)
	_, err = storage.GetChartByName(ctx, "", "missing")
	assert.ErrorIs(t, err, interfaces.ErrChartNotFound)
}

func TestChartStorage_ListOrderAndFilter(t *testing.T) {
	storage := NewChartStorage(setupTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []*models.Chart{
		{ID: "c1", OwnerID: "alice", Name: "one", Source: "x", Rank: 1, Tags: []string{"rates"}, UpdatedAt: base},
		{ID: "c2", OwnerID: "alice", Name: "two", Source: "x", Rank: 0, UpdatedAt: base},
		{ID: "c3", OwnerID: "alice", Name: "three", Source: "x", Rank: 1, UpdatedAt: base.Add(time.Hour)},
		{ID: "c4", OwnerID: "bob", Name: "four", Source: "x", Rank: 0, Public: true, UpdatedAt: base},
	}
	for _, c := range seed {
		c.CreatedAt = base
		require.NoError(t, storage.SaveChart(ctx, c))
	}

	tests := []struct {
		name   string
		filter models.ChartFilter
		want   []string
	}{
		{"all", models.ChartFilter{}, []string{"c2", "c4", "c3", "c1"}},
		{"owner", models.ChartFilter{OwnerID: "alice"}, []string{"c2", "c3", "c1"}},
		{"owner plus public", models.ChartFilter{OwnerID: "alice", IncludePublic: true}, []string{"c2", "c4", "c3", "c1"}},
		{"public only", models.ChartFilter{PublicOnly: true}, []string{"c4"}},
		{"tag", models.ChartFilter{Tag: "rates"}, []string{"c1"}},
		{"page", models.ChartFilter{Offset: 1, Limit: 2}, []string{"c4", "c3"}},
		{"past end", models.ChartFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charts, err := storage.ListCharts(ctx, tt.filter)
			require.NoError(t, err)
			got := make([]string, 0, len(charts))
			for _, c := range charts {
				got = append(got, c.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	byName, err := storage.GetChartByName(ctx, "bob", "four")
	require.NoError(t, err)
	assert.Equal(t, "c4", byName.ID)
}

func TestSeriesCache_Expiry(t *testing.T) {
	cache := NewSeriesCache(setupTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.GetSeries(ctx, "SPX")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotCached)

	series := &models.Series{
		Code:   "SPX",
		Points: []models.SeriesPoint{{Date: now, Value: 1.5}},
	}
	require.NoError(t, cache.PutSeries(ctx, series, time.Hour))

	got, err := cache.GetSeries(ctx, "SPX")
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 1.5, got.Points[0].Value)

	now = now.Add(2 * time.Hour)
	_, err = cache.GetSeries(ctx, "SPX")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotCached)

	require.NoError(t, cache.PutSeries(ctx, series, 0))
	now = now.Add(1000 * time.Hour)
	_, err = cache.GetSeries(ctx, "SPX")
	assert.NoError(t, err)

	require.NoError(t, cache.DeleteSeries(ctx, "SPX"))
	_, err = cache.GetSeries(ctx, "SPX")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotCached)
}

func TestSQLiteDB_MigrationsIdempotent(t *testing.T) {
	config := &common.SQLiteConfig{Path: filepath.Join(t.TempDir(), "migrate.db"), WALMode: true}
	ctx := context.Background()

	first, err := NewSQLiteDB(arbor.NewLogger(), config)
	require.NoError(t, err)
	version, err := first.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	require.NoError(t, first.Close())

	second, err := NewSQLiteDB(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer second.Close()
	version, err = second.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestSeriesCache_PurgeExpired(t *testing.T) {
	cache := NewSeriesCache(setupTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.PutSeries(ctx, &models.Series{Code: "SHORT"}, time.Minute))
	require.NoError(t, cache.PutSeries(ctx, &models.Series{Code: "FOREVER"}, 0))

	now = now.Add(time.Hour)
	purged, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = cache.GetSeries(ctx, "FOREVER")
	assert.NoError(t, err)
}
