package repository

import (
	"context"

	"github.com/arpitdalal/tax-calculator/internal/domain"
)

// The coordinator and handlers depend on this interface, not a concrete
// store, so the memory and Postgres implementations are interchangeable
// and tests can pass fakes.
type JobStore interface {
	// Create persists a new pending job with one unresolved slot per item
	// and returns a snapshot carrying the assigned ID.
	Create(ctx context.Context, items []domain.Item, webhookURL string) (*domain.Job, error)

	// Get returns a snapshot of the job, or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// MarkRunning moves a pending job to RUNNING. Calling it on a job
	// already running is a no-op.
	MarkRunning(ctx context.Context, jobID string) error

	// RecordItemResult resolves one slot and returns the number still
	// unresolved. Recording the same outcome twice is a no-op; recording
	// a different outcome for a resolved slot is domain.ErrIntegrity.
	// Exactly one caller observes the count reach zero.
	RecordItemResult(ctx context.Context, jobID string, index int, outcome domain.ItemOutcome) (int, error)

	// Finalize moves a fully resolved job to COMPLETED and returns its
	// snapshot. Finalizing a completed job returns the snapshot again;
	// finalizing with unresolved slots is domain.ErrJobNotReady.
	Finalize(ctx context.Context, jobID string) (*domain.Job, error)

	// MarkFailed moves the job to FAILED with a reason.
	MarkFailed(ctx context.Context, jobID string, reason string) error

	// SetWebhookDelivery records the webhook outcome without touching the
	// job status.
	SetWebhookDelivery(ctx context.Context, jobID string, state domain.WebhookDelivery) error
}
