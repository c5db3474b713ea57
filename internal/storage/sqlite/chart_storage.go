package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

const chartColumns = `id, owner_id, name, category, description, tags, public, rank,
	source, figure, rendered_at, last_error, last_trace, created_at, updated_at`

// ChartStorage implements the ChartStorage interface for SQLite
type ChartStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

var _ interfaces.ChartStorage = (*ChartStorage)(nil)

// NewChartStorage creates a new ChartStorage instance
func NewChartStorage(db *SQLiteDB, logger arbor.ILogger) *ChartStorage {
	return &ChartStorage{db: db, logger: logger}
}

func (s *ChartStorage) SaveChart(ctx context.Context, chart *models.Chart) error {
	if chart.ID == "" {
		return fmt.Errorf("chart ID is required")
	}
	if chart.CreatedAt.IsZero() {
		chart.CreatedAt = time.Now().UTC()
	}
	if chart.UpdatedAt.IsZero() {
		chart.UpdatedAt = chart.CreatedAt
	}

	tags, err := json.Marshal(nonNil(chart.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	var figure sql.NullString
	if chart.HasFigure() {
		figure = sql.NullString{String: string(chart.Figure), Valid: true}
	}
	var renderedAt sql.NullInt64
	if chart.RenderedAt != nil {
		renderedAt = sql.NullInt64{Int64: chart.RenderedAt.UnixNano(), Valid: true}
	}

	query := `
		INSERT INTO charts (` + chartColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			tags = excluded.tags,
			public = excluded.public,
			rank = excluded.rank,
			source = excluded.source,
			figure = excluded.figure,
			rendered_at = excluded.rendered_at,
			last_error = excluded.last_error,
			last_trace = excluded.last_trace,
			updated_at = excluded.updated_at
	`
	_, err = s.db.db.ExecContext(ctx, query,
		chart.ID, chart.OwnerID, chart.Name, chart.Category, chart.Description, string(tags),
		chart.Public, chart.Rank, chart.Source, figure, renderedAt,
		chart.LastError, chart.LastTrace, chart.CreatedAt.UnixNano(), chart.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}

func (s *ChartStorage) GetChart(ctx context.Context, id string) (*models.Chart, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+chartColumns+` FROM charts WHERE id = ?`, id)
	chart, err := scanChart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, interfaces.ErrChartNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chart: %w", err)
	}
	return chart, nil
}

func (s *ChartStorage) GetChartByName(ctx context.Context, ownerID, name string) (*models.Chart, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+chartColumns+` FROM charts WHERE owner_id = ? AND name = ? ORDER BY created_at LIMIT 1`,
		ownerID, name)
	chart, err := scanChart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", ownerID, name, interfaces.ErrChartNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chart by name: %w", err)
	}
	return chart, nil
}

func (s *ChartStorage) ListCharts(ctx context.Context, filter models.ChartFilter) ([]*models.Chart, error) {
	var where []string
	var args []any
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.PublicOnly {
		where = append(where, "public = 1")
	}
	if filter.OwnerID != "" {
		if filter.IncludePublic {
			where = append(where, "(owner_id = ? OR public = 1)")
		} else {
			where = append(where, "owner_id = ?")
		}
		args = append(args, filter.OwnerID)
	}

	query := `SELECT ` + chartColumns + ` FROM charts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rank ASC, updated_at DESC, id ASC"

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list charts: %w", err)
	}
	defer rows.Close()

	charts := []*models.Chart{}
	for rows.Next() {
		chart, err := scanChart(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chart: %w", err)
		}
		// Tag membership lives in a JSON column
		if filter.Matches(chart) {
			charts = append(charts, chart)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return filter.Page(charts), nil
}

func (s *ChartStorage) DeleteChart(ctx context.Context, id string) error {
	result, err := s.db.db.ExecContext(ctx, `DELETE FROM charts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, interfaces.ErrChartNotFound)
	}
	return nil
}

func (s *ChartStorage) CountCharts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM charts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count charts: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChart(row scanner) (*models.Chart, error) {
	var (
		chart                models.Chart
		tags                 string
		figure               sql.NullString
		renderedAt           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&chart.ID, &chart.OwnerID, &chart.Name, &chart.Category, &chart.Description,
		&tags, &chart.Public, &chart.Rank, &chart.Source, &figure, &renderedAt,
		&chart.LastError, &chart.LastTrace, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &chart.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(chart.Tags) == 0 {
		chart.Tags = nil
	}
	if figure.Valid {
		chart.Figure = json.RawMessage(figure.String)
	}
	if renderedAt.Valid {
		t := time.Unix(0, renderedAt.Int64).UTC()
		chart.RenderedAt = &t
	}
	chart.CreatedAt = time.Unix(0, createdAt).UTC()
	chart.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &chart, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
