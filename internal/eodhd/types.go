// Package eodhd fetches end-of-day price history from the EODHD API and
// exposes it as a series source for chart scripts.
package eodhd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const dateLayout = "2006-01-02"

// EODBar is one day of end-of-day price data.
type EODBar struct {
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
}

// UnmarshalJSON reads the API's plain YYYY-MM-DD dates.
func (b *EODBar) UnmarshalJSON(data []byte) error {
	type plain EODBar
	aux := struct {
		Date string `json:"date"`
		*plain
	}{plain: (*plain)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, aux.Date)
	if err != nil {
		return fmt.Errorf("failed to parse EOD date %q: %w", aux.Date, err)
	}
	b.Date = t
	return nil
}

// EODResponse is the /eod payload.
type EODResponse []EODBar

// QueryOption represents an optional parameter for API queries.
type QueryOption func(*queryParams)

type queryParams struct {
	From   time.Time
	To     time.Time
	Period string // d, w, m
	Order  string // a, d
}

// WithDateRange bounds the bars returned; zero times are open ends.
func WithDateRange(from, to time.Time) QueryOption {
	return func(p *queryParams) {
		p.From = from
		p.To = to
	}
}

// WithPeriod sets the bar period (d, w or m).
func WithPeriod(period string) QueryOption {
	return func(p *queryParams) {
		p.Period = period
	}
}

// APIError is a non-200, non-429 response.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsNotFound reports whether err is an EODHD 404 for an unknown symbol.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RateLimitError is a 429, or a limiter wait that could not complete.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("EODHD rate limit exceeded, retry after %v", e.RetryAfter)
}
