package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// SeedChart is one system chart definition read from a seed file.
type SeedChart struct {
	Name        string   `toml:"name" yaml:"name"`
	Category    string   `toml:"category" yaml:"category"`
	Description string   `toml:"description" yaml:"description"`
	Tags        []string `toml:"tags" yaml:"tags"`
	Public      *bool    `toml:"public" yaml:"public"`
	Rank        int      `toml:"rank" yaml:"rank"`
	Source      string   `toml:"source" yaml:"source"`
}

type seedFile struct {
	Charts []SeedChart `toml:"charts" yaml:"charts"`
}

// LoadSeedDir reads every *.toml, *.yaml and *.yml file in dir, in name
// order. A missing directory yields no charts.
func LoadSeedDir(dir string) ([]SeedChart, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var charts []SeedChart
	for _, name := range names {
		loaded, err := LoadSeedFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		charts = append(charts, loaded...)
	}
	return charts, nil
}

// LoadSeedFile parses one seed file holding a charts list.
func LoadSeedFile(path string) ([]SeedChart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var file seedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported seed file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, c := range file.Charts {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("seed file %s: chart %d has no name", path, i+1)
		}
		if strings.TrimSpace(c.Source) == "" {
			return nil, fmt.Errorf("seed file %s: chart %q has no source", path, c.Name)
		}
	}
	return file.Charts, nil
}

// SeedCharts upserts system charts (empty owner) by name. Existing charts
// keep their id and cached figure unless the source changed, in which case
// the figure is dropped so the next refresh re-renders it. It returns the
// ids of charts that need rendering.
func SeedCharts(ctx context.Context, store interfaces.ChartStorage, seeds []SeedChart, logger arbor.ILogger) ([]string, error) {
	var pending []string
	for _, seed := range seeds {
		existing, err := store.GetChartByName(ctx, "", seed.Name)
		if err != nil && !errors.Is(err, interfaces.ErrChartNotFound) {
			return pending, err
		}

		chart := existing
		if chart == nil {
			chart = &models.Chart{ID: common.NewChartID(), Public: true}
		} else if !seedChanged(chart, seed) {
			if !chart.HasFigure() {
				pending = append(pending, chart.ID)
			}
			continue
		}

		if chart.Source != seed.Source {
			chart.Figure = nil
			chart.RenderedAt = nil
		}
		chart.Name = seed.Name
		chart.Category = seed.Category
		chart.Description = seed.Description
		chart.Tags = seed.Tags
		chart.Rank = seed.Rank
		chart.Source = seed.Source
		if seed.Public != nil {
			chart.Public = *seed.Public
		}
		now := time.Now().UTC()
		if chart.CreatedAt.IsZero() {
			chart.CreatedAt = now
		}
		if !now.After(chart.UpdatedAt) {
			now = chart.UpdatedAt.Add(time.Nanosecond)
		}
		chart.UpdatedAt = now

		if err := store.SaveChart(ctx, chart); err != nil {
			return pending, fmt.Errorf("failed to seed chart %q: %w", seed.Name, err)
		}
		if !chart.HasFigure() {
			pending = append(pending, chart.ID)
		}
		logger.Debug().Str("chart_id", chart.ID).Str("name", seed.Name).Msg("Seeded system chart")
	}
	return pending, nil
}

func seedChanged(c *models.Chart, s SeedChart) bool {
	if c.Source != s.Source || c.Category != s.Category || c.Description != s.Description || c.Rank != s.Rank {
		return true
	}
	if s.Public != nil && c.Public != *s.Public {
		return true
	}
	if len(c.Tags) != len(s.Tags) {
		return true
	}
	for i := range c.Tags {
		if c.Tags[i] != s.Tags[i] {
			return true
		}
	}
	return false
}
