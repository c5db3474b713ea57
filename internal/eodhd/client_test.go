package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/eod/AAPL.US", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		assert.Equal(t, "a", r.URL.Query().Get("order"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-02","open":1,"high":2,"low":0.5,"close":185.6,"adjusted_close":184.9,"volume":100},
			{"date":"2024-01-03","open":1,"high":2,"low":0.5,"close":184.2,"adjusted_close":0,"volume":90}
		]`))
	})
	mux.HandleFunc("/eod/BUSY.US", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/eod/BAD.US", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"date":"yesterday","close":1}]`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Ticker Not Found.", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetEOD(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100))

	bars, err := client.GetEOD(context.Background(), "AAPL.US")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, 184.9, bars[0].AdjustedClose)
}

func TestGetEOD_Errors(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100), WithRetries(0, 0))

	_, err := client.GetEOD(context.Background(), "NOPE.US")
	assert.True(t, IsNotFound(err))

	_, err = client.GetEOD(context.Background(), "BUSY.US")
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, 3*time.Second, rateErr.RetryAfter)

	_, err = client.GetEOD(context.Background(), "BAD.US")
	assert.ErrorContains(t, err, "failed to parse EOD date")
}

func TestGetEOD_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"date":"2024-01-02","close":1}]`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100), WithRetries(2, time.Millisecond))
	bars, err := client.GetEOD(context.Background(), "AAPL.US")
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetEOD_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "Ticker Not Found.", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100), WithRetries(3, time.Millisecond))
	_, err := client.GetEOD(context.Background(), "NOPE.US")
	require.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Ticker Not Found.", apiErr.Message)
}

func TestSource_FetchSeries(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100))
	source := NewSource(client, "US", arbor.NewLogger())

	series, err := source.FetchSeries(context.Background(), "nasdaq:aapl")
	require.NoError(t, err)
	assert.Equal(t, "nasdaq:aapl", series.Code)
	require.Len(t, series.Points, 2)
	assert.Equal(t, 184.9, series.Points[0].Value)
	// Falls back to close when no adjusted close is published.
	assert.Equal(t, 184.2, series.Points[1].Value)

	_, err = source.FetchSeries(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, interfaces.ErrSeriesNotFound)
}

func TestSymbol(t *testing.T) {
	tests := []struct {
		code, exchange, want string
	}{
		{"NYSE:IBM", "US", "IBM.US"},
		{"asx:bhp", "US", "BHP.AU"},
		{"AAPL.US", "AU", "AAPL.US"},
		{"BRK.B.US", "US", "BRK.B.US"},
		{"SPX", "US", "GSPC.INDX"},
		{"msft", "", "MSFT.US"},
		{"cba", "au", "CBA.AU"},
		{"OTC:FOO", "US", "FOO.OTC"},
		{"  ", "US", ""},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Symbol(tt.code, tt.exchange))
		})
	}
}
