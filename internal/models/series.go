package models

import "time"

// SeriesPoint is one dated observation.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a labelled numeric sequence indexed by date, ascending.
type Series struct {
	Code      string        `json:"code"`
	Name      string        `json:"name,omitempty"`
	Points    []SeriesPoint `json:"points"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// SeriesQuery describes a single fetch_series call.
type SeriesQuery struct {
	Code  string
	Start time.Time
	End   time.Time
}

// Key identifies the query for memoization within a session.
func (q SeriesQuery) Key() string {
	key := q.Code
	if !q.Start.IsZero() {
		key += "|" + q.Start.Format("2006-01-02")
	} else {
		key += "|"
	}
	if !q.End.IsZero() {
		key += "|" + q.End.Format("2006-01-02")
	} else {
		key += "|"
	}
	return key
}

// Slice returns the points inside [start, end]; zero bounds are open.
func (s *Series) Slice(start, end time.Time) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(s.Points))
	for _, p := range s.Points {
		if !start.IsZero() && p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}
