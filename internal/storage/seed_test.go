package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
)

const tomlSeed = `
[[charts]]
name = "S&P 500"
category = "Equity"
tags = ["us", "index"]
rank = 1
source = """
fig = go.Figure(data=[go.Scatter(y=[1, 2, 3])])
"""
`

const yamlSeed = `
charts:
  - name: US 10Y
    category: Rates
    public: false
    source: |
      import plotly.graph_objects as go
      fig = go.Figure()
`

func seedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_rates.yaml"), []byte(yamlSeed), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_equity.toml"), []byte(tomlSeed), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	return dir
}

func TestLoadSeedDir(t *testing.T) {
	charts, err := LoadSeedDir(seedDir(t))
	require.NoError(t, err)
	require.Len(t, charts, 2)
	assert.Equal(t, "S&P 500", charts[0].Name)
	assert.Equal(t, []string{"us", "index"}, charts[0].Tags)
	assert.Nil(t, charts[0].Public)
	assert.Equal(t, "US 10Y", charts[1].Name)
	require.NotNil(t, charts[1].Public)
	assert.False(t, *charts[1].Public)
	assert.Contains(t, charts[1].Source, "fig = go.Figure()")

	missing, err := LoadSeedDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLoadSeedFile_RequiresSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[charts]]\nname = \"x\"\n"), 0644))
	_, err := LoadSeedFile(path)
	assert.Error(t, err)
}

func TestSeedCharts_UpsertsByName(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = "sqlite"
	config.Storage.SQLite.Path = filepath.Join(t.TempDir(), "seed.db")
	manager, err := NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer manager.Close()

	ctx := context.Background()
	store := manager.ChartStorage()
	seeds, err := LoadSeedDir(seedDir(t))
	require.NoError(t, err)

	pending, err := SeedCharts(ctx, store, seeds, arbor.NewLogger())
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	first, err := store.GetChartByName(ctx, "", "S&P 500")
	require.NoError(t, err)
	assert.True(t, first.Public)
	assert.Empty(t, first.OwnerID)

	// Re-seeding the same definitions keeps ids
	_, err = SeedCharts(ctx, store, seeds, arbor.NewLogger())
	require.NoError(t, err)
	count, err := store.CountCharts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	again, err := store.GetChartByName(ctx, "", "S&P 500")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.UpdatedAt.Equal(first.UpdatedAt))

	seeds[0].Rank = 5
	_, err = SeedCharts(ctx, store, seeds, arbor.NewLogger())
	require.NoError(t, err)
	updated, err := store.GetChartByName(ctx, "", "S&P 500")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Rank)
	assert.True(t, updated.UpdatedAt.After(first.UpdatedAt))
}

func TestNewStorageManager_RejectsUnknownType(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = "mongo"
	_, err := NewStorageManager(arbor.NewLogger(), config)
	assert.Error(t, err)
}
