// Package webhook delivers completed job results to caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/metrics"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 1 * time.Second
	maxBackoff         = 30 * time.Second
)

// DeliveryRecorder persists the delivery outcome on the job.
type DeliveryRecorder interface {
	SetWebhookDelivery(ctx context.Context, jobID string, state domain.WebhookDelivery) error
}

// Notifier posts job results with at-least-once semantics: transient
// failures are retried with exponential backoff, a 4xx response is
// treated as a permanent rejection. Delivery never changes the job
// status, only the recorded delivery state.
type Notifier struct {
	recorder    DeliveryRecorder
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

type Option func(*Notifier)

func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) { n.httpClient = hc }
}

func WithMaxAttempts(count int) Option {
	return func(n *Notifier) {
		if count > 0 {
			n.maxAttempts = count
		}
	}
}

func WithBaseBackoff(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.baseBackoff = d
		}
	}
}

func NewNotifier(recorder DeliveryRecorder, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		recorder:    recorder,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		logger:      logger.With("component", "webhook"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type resultEntry struct {
	Salary float64                   `json:"salary"`
	Year   int                       `json:"year"`
	Result *domain.CalculationResult `json:"result,omitempty"`
	Error  *domain.ItemError         `json:"error,omitempty"`
}

type payload struct {
	JobID   string        `json:"job_id"`
	Status  domain.Status `json:"status"`
	Results []resultEntry `json:"results"`
}

// Notify posts the job outcome to its webhook URL and records the result.
func (n *Notifier) Notify(ctx context.Context, job *domain.Job) {
	if job.WebhookURL == "" {
		return
	}

	body, err := encodePayload(job)
	if err != nil {
		n.logger.ErrorContext(ctx, "encode webhook payload", "job_id", job.ID, "error", err)
		n.record(ctx, job.ID, domain.WebhookFailed)
		return
	}

	backoff := n.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				n.logger.WarnContext(ctx, "webhook delivery abandoned at shutdown",
					"job_id", job.ID, "attempts", attempt-1)
				n.record(context.WithoutCancel(ctx), job.ID, domain.WebhookFailed)
				return
			case <-time.After(withJitter(backoff)):
			}
			backoff *= 2
		}

		err := n.post(ctx, job.WebhookURL, body)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			n.logger.InfoContext(ctx, "webhook delivered", "job_id", job.ID, "attempt", attempt)
			n.record(ctx, job.ID, domain.WebhookDelivered)
			return
		}
		if !isRetryable(err) {
			metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
			n.logger.WarnContext(ctx, "webhook rejected", "job_id", job.ID, "error", err)
			n.record(ctx, job.ID, domain.WebhookFailed)
			return
		}
		n.logger.WarnContext(ctx, "webhook delivery failed, retrying",
			"job_id", job.ID, "attempt", attempt, "error", err)
		lastErr = err
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	n.logger.ErrorContext(ctx, "webhook delivery failed",
		"job_id", job.ID, "attempts", n.maxAttempts, "error", lastErr)
	n.record(ctx, job.ID, domain.WebhookFailed)
}

func encodePayload(job *domain.Job) ([]byte, error) {
	p := payload{
		JobID:   job.ID,
		Status:  job.Status,
		Results: make([]resultEntry, 0, len(job.Items)),
	}
	for _, item := range job.Items {
		p.Results = append(p.Results, resultEntry{
			Salary: item.Salary,
			Year:   item.Year,
			Result: item.Result,
			Error:  item.Error,
		})
	}
	return json.Marshal(p)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("receiver returned %d", resp.StatusCode)}
	default:
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
}

func (n *Notifier) record(ctx context.Context, jobID string, state domain.WebhookDelivery) {
	if err := n.recorder.SetWebhookDelivery(ctx, jobID, state); err != nil {
		n.logger.ErrorContext(ctx, "record webhook delivery",
			"job_id", jobID, "state", state, "error", err)
	}
}

func withJitter(delay time.Duration) time.Duration {
	delay = min(delay, maxBackoff)
	if half := int64(delay / 2); half > 0 {
		return delay + time.Duration(rand.Int63n(half)) - delay/4
	}
	return delay
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
