package badger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	store, err := badgerhold.Open(storeOptions(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &BadgerDB{store: store}
}

func chart(id, owner, name string, rank int, updated time.Time) *models.Chart {
	return &models.Chart{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		Source:    "fig = go.Figure()",
		Rank:      rank,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func TestChartStorage_SaveGetRoundTrip(t *testing.T) {
	storage := NewChartStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	rendered := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := chart("chart_1", "alice", "Rates", 2, rendered)
	in.Figure = json.RawMessage(`{"data":[],"layout":{"title":{"text":"Rates"}}}`)
	in.Tags = []string{"macro", "rates"}
	in.RenderedAt = &rendered
	require.NoError(t, storage.SaveChart(ctx, in))

	got, err := storage.GetChart(ctx, "chart_1")
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Tags, got.Tags)
	assert.JSONEq(t, string(in.Figure), string(got.Figure))
	require.NotNil(t, got.RenderedAt)
	assert.True(t, rendered.Equal(*got.RenderedAt))
	assert.True(t, in.UpdatedAt.Equal(got.UpdatedAt))
}

func TestChartStorage_NotFound(t *testing.T) {
	storage := NewChartStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := storage.GetChart(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrChartNotFound)

	err = storage.DeleteChart(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrChartNotFound)

	_, err = storage.GetChartByName(ctx, "", "missing")
	assert.ErrorIs(t, err, interfaces.ErrChartNotFound)
}

func TestChartStorage_ListOrderAndFilter(t *testing.T) {
	storage := NewChartStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	charts := []*models.Chart{
		chart("c1", "alice", "one", 1, base),
		chart("c2", "alice", "two", 0, base),
		chart("c3", "alice", "three", 1, base.Add(time.Hour)),
		chart("c4", "bob", "four", 0, base),
	}
	charts[3].Public = true
	charts[0].Category = "macro"
	for _, c := range charts {
		require.NoError(t, storage.SaveChart(ctx, c))
	}

	all, err := storage.ListCharts(ctx, models.ChartFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c4", "c3", "c1"}, ids(all))

	mine, err := storage.ListCharts(ctx, models.ChartFilter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3", "c1"}, ids(mine))

	visible, err := storage.ListCharts(ctx, models.ChartFilter{OwnerID: "alice", IncludePublic: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c4", "c3", "c1"}, ids(visible))

	macro, err := storage.ListCharts(ctx, models.ChartFilter{Category: "macro"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(macro))

	paged, err := storage.ListCharts(ctx, models.ChartFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c4", "c3"}, ids(paged))

	count, err := storage.CountCharts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	byName, err := storage.GetChartByName(ctx, "bob", "four")
	require.NoError(t, err)
	assert.Equal(t, "c4", byName.ID)

	require.NoError(t, storage.DeleteChart(ctx, "c4"))
	count, err = storage.CountCharts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSeriesCache(t *testing.T) {
	cache := NewSeriesCache(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := cache.GetSeries(ctx, "SPX")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotCached)

	in := &models.Series{
		Code:      "SPX",
		Name:      "S&P 500",
		Points:    []models.SeriesPoint{{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: 4742.83}},
		FetchedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.PutSeries(ctx, in, time.Hour))

	got, err := cache.GetSeries(ctx, "SPX")
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 4742.83, got.Points[0].Value)
	assert.True(t, in.Points[0].Date.Equal(got.Points[0].Date))

	require.NoError(t, cache.DeleteSeries(ctx, "SPX"))
	_, err = cache.GetSeries(ctx, "SPX")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotCached)

	assert.Error(t, cache.PutSeries(ctx, &models.Series{}, time.Hour))
}

func ids(charts []*models.Chart) []string {
	out := make([]string, len(charts))
	for i, c := range charts {
		out[i] = c.ID
	}
	return out
}

func TestManager_ResetOnStartupAndClose(t *testing.T) {
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}
	ctx := context.Background()

	first, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	require.NoError(t, first.ChartStorage().SaveChart(ctx, chart("a", "", "A", 0, time.Now())))
	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	config.ResetOnStartup = true
	second, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer second.Close()

	n, err := second.ChartStorage().CountCharts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerDB_RunGCOnEmptyStore(t *testing.T) {
	db := openTestDB(t)
	db.logger = arbor.NewLogger()
	assert.NotPanics(t, db.runGC)
}
