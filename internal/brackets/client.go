// Package brackets fetches tax bracket schedules from the upstream tax
// data API.
package brackets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/metrics"
	"github.com/arpitdalal/tax-calculator/internal/tax"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// Client talks to the upstream tax data API. Transient upstream failures
// are retried with exponential backoff; client-side rejections are not.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxAttempts sets the total number of attempts per fetch.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the delay before the first retry; it doubles on
// each subsequent one.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseBackoff = d
		}
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		logger:      logger.With("component", "bracket_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSchedule retrieves the bracket schedule for a tax year and
// validates it before returning.
func (c *Client) FetchSchedule(ctx context.Context, year int) (domain.BracketSchedule, error) {
	url := fmt.Sprintf("%s/tax-calculator/tax-year/%d", c.baseURL, year)

	schedule, err := c.getWithRetry(ctx, url, year)
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues("error").Inc()
		return domain.BracketSchedule{}, err
	}
	metrics.UpstreamFetches.WithLabelValues("success").Inc()
	return schedule, nil
}

func (c *Client) getWithRetry(ctx context.Context, url string, year int) (domain.BracketSchedule, error) {
	backoff := c.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return domain.BracketSchedule{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		schedule, err := c.get(ctx, url, year)
		if err == nil {
			return schedule, nil
		}
		if !isRetryable(err) {
			return domain.BracketSchedule{}, err
		}
		c.logger.WarnContext(ctx, "upstream fetch failed, retrying",
			"year", year,
			"attempt", attempt,
			"error", err,
		)
		lastErr = err
	}

	return domain.BracketSchedule{}, fmt.Errorf("giving up after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, url string, year int) (domain.BracketSchedule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BracketSchedule{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.BracketSchedule{}, &retryableError{
			err: fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err),
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.BracketSchedule{}, &retryableError{
			err: fmt.Errorf("%w: upstream returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		// The upstream rate limiter will reject follow-up attempts too;
		// hammering it only extends the outage.
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.BracketSchedule{}, fmt.Errorf("%w: upstream rate limited", domain.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.BracketSchedule{}, fmt.Errorf("%w: no tax data for year %d", domain.ErrUpstreamUnavailable, year)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.BracketSchedule{}, fmt.Errorf("%w: upstream returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var wire struct {
		Brackets []domain.Bracket `json:"tax_brackets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return domain.BracketSchedule{}, fmt.Errorf("%w: decoding response: %w", domain.ErrMalformedSchedule, err)
	}

	schedule := domain.BracketSchedule{Year: year, Brackets: wire.Brackets}
	if err := tax.Validate(schedule); err != nil {
		return domain.BracketSchedule{}, err
	}
	return schedule, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
