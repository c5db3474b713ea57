package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
	DefaultRetries   = 2

	// maxBackoff caps a server supplied Retry-After between attempts
	maxBackoff = 10 * time.Second
	// maxErrorBody bounds how much of a failed response ends up in APIError
	maxErrorBody = 512
)

// Client is a rate limited EODHD API client. Throttled (429) and 5xx
// responses are retried with backoff.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL. Empty keeps the default.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets requests per second. Non-positive values keep the default.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			return
		}
		burst := max(int(requestsPerSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetries sets how many times a throttled or 5xx request is retried and
// the initial backoff, doubled per attempt.
func WithRetries(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient creates a new EODHD API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     arbor.NewLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retries:    DefaultRetries,
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get decodes the JSON body of GET baseURL+path into result, retrying
// transient failures.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, path, params, result)
		if err == nil || attempt >= c.retries || !retryable(err) {
			return err
		}

		delay := wait
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		delay = min(delay, maxBackoff)

		c.logger.Debug().
			Err(err).
			Str("endpoint", path).
			Int("attempt", attempt+1).
			Str("delay", delay.String()).
			Msg("Retrying EODHD request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		wait *= 2
	}
}

func (c *Client) do(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RateLimitError{RetryAfter: time.Second}
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("api_token", c.apiKey)
	query.Set("fmt", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the url in a transport error carries the token
		return fmt.Errorf("failed to execute request to %s: %w", path, unwrapURLError(err))
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("endpoint", path).
		Int("status", resp.StatusCode).
		Str("duration", time.Since(started).String()).
		Msg("EODHD API request")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetEOD retrieves end-of-day bars for a TICKER.EXCHANGE symbol, ascending by date.
func (c *Client) GetEOD(ctx context.Context, symbol string, opts ...QueryOption) (EODResponse, error) {
	p := &queryParams{Period: "d", Order: "a"}
	for _, opt := range opts {
		opt(p)
	}

	params := url.Values{}
	if !p.From.IsZero() {
		params.Set("from", p.From.Format(dateLayout))
	}
	if !p.To.IsZero() {
		params.Set("to", p.To.Format(dateLayout))
	}
	if p.Period != "" {
		params.Set("period", p.Period)
	}
	if p.Order != "" {
		params.Set("order", p.Order)
	}

	var result EODResponse
	if err := c.get(ctx, "/eod/"+url.PathEscape(symbol), params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func retryable(err error) bool {
	switch e := err.(type) {
	case *RateLimitError:
		return true
	case *APIError:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

func unwrapURLError(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return uerr.Err
	}
	return err
}
