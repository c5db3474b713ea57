package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Chart is the persisted unit of a custom chart: the script that defines it,
// the last figure it rendered, and display metadata.
type Chart struct {
	// Identity
	ID      string `json:"id" badgerhold:"key"` // chart_{uuid}
	OwnerID string `json:"owner_id,omitempty"`  // empty for system-seeded charts

	// Source of truth
	Source string `json:"source"`

	// Cached render, always normalizer output. Nil until the first successful render.
	Figure json.RawMessage `json:"figure,omitempty"`

	// Metadata
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Public      bool     `json:"public"`
	Rank        int      `json:"rank"`

	// Last render outcome, shown next to the editor
	RenderedAt *time.Time `json:"rendered_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastTrace  string     `json:"last_trace,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFigure reports whether the chart carries a rendered figure.
func (c *Chart) HasFigure() bool {
	return c != nil && len(c.Figure) > 0 && string(c.Figure) != "null"
}

// Summary returns the metadata-only projection of the chart.
func (c *Chart) Summary() ChartSummary {
	return ChartSummary{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Name:        c.Name,
		Category:    c.Category,
		Description: c.Description,
		Tags:        append([]string(nil), c.Tags...),
		Public:      c.Public,
		Rank:        c.Rank,
		HasFigure:   c.HasFigure(),
		LastError:   c.LastError,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Clone returns a deep copy so callers cannot alias stored slices.
func (c *Chart) Clone() *Chart {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	if c.Figure != nil {
		out.Figure = append(json.RawMessage(nil), c.Figure...)
	}
	if c.RenderedAt != nil {
		t := *c.RenderedAt
		out.RenderedAt = &t
	}
	return &out
}

// ChartSummary omits source and figure for fast listing.
type ChartSummary struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Public      bool      `json:"public"`
	Rank        int       `json:"rank"`
	HasFigure   bool      `json:"has_figure"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChartMetadata is a field-level partial update. Nil fields are left unchanged.
type ChartMetadata struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category    *string   `json:"category,omitempty" validate:"omitempty,max=100"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=10000"`
	Tags        *[]string `json:"tags,omitempty" validate:"omitempty,dive,min=1,max=50"`
	Public      *bool     `json:"public,omitempty"`
	Rank        *int      `json:"rank,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (m ChartMetadata) IsEmpty() bool {
	return m.Name == nil && m.Category == nil && m.Description == nil &&
		m.Tags == nil && m.Public == nil && m.Rank == nil
}

// Apply copies the set fields onto the chart.
func (m ChartMetadata) Apply(c *Chart) {
	if m.Name != nil {
		c.Name = *m.Name
	}
	if m.Category != nil {
		c.Category = *m.Category
	}
	if m.Description != nil {
		c.Description = *m.Description
	}
	if m.Tags != nil {
		c.Tags = append([]string(nil), (*m.Tags)...)
	}
	if m.Public != nil {
		c.Public = *m.Public
	}
	if m.Rank != nil {
		c.Rank = *m.Rank
	}
}

// ChartFilter selects charts for listing.
type ChartFilter struct {
	OwnerID       string // restrict to this owner (plus public charts when IncludePublic)
	Category      string
	Tag           string
	PublicOnly    bool
	IncludePublic bool // with OwnerID: also return other owners' public charts
	MetadataOnly  bool // callers want ChartSummary projections
	Limit         int
	Offset        int
}

// Matches reports whether the chart satisfies the filter predicates.
func (f ChartFilter) Matches(c *Chart) bool {
	if f.PublicOnly && !c.Public {
		return false
	}
	if f.OwnerID != "" && c.OwnerID != f.OwnerID {
		if !(f.IncludePublic && c.Public) {
			return false
		}
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range c.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortCharts orders charts by rank ascending, then most recently updated, then id.
func SortCharts(charts []*Chart) {
	sort.SliceStable(charts, func(i, j int) bool {
		a, b := charts[i], charts[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// Page applies Offset and Limit to an already ordered result.
func (f ChartFilter) Page(charts []*Chart) []*Chart {
	if f.Offset > 0 {
		if f.Offset >= len(charts) {
			return []*Chart{}
		}
		charts = charts[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(charts) {
		charts = charts[:f.Limit]
	}
	return charts
}
