// Package memory provides the in-memory job store used when no database
// is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/repository"
)

// JobStore keeps jobs in a mutex-guarded map. Snapshots are deep copies,
// so callers never observe a job mid-mutation.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

var _ repository.JobStore = (*JobStore)(nil)

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

func (s *JobStore) Create(_ context.Context, items []domain.Item, webhookURL string) (*domain.Job, error) {
	job := &domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.StatusPending,
		Items:      make([]domain.Item, len(items)),
		WebhookURL: webhookURL,
		CreatedAt:  time.Now().UTC(),
	}
	copy(job.Items, items)
	if webhookURL != "" {
		job.WebhookDelivery = domain.WebhookPending
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job.Clone(), nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.StatusRunning {
		return nil
	}
	if !domain.CanTransition(job.Status, domain.StatusRunning) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusRunning)
	}
	job.Status = domain.StatusRunning
	return nil
}

func (s *JobStore) RecordItemResult(_ context.Context, jobID string, index int, outcome domain.ItemOutcome) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, domain.ErrJobNotFound
	}
	if index < 0 || index >= len(job.Items) {
		return 0, fmt.Errorf("%w: item index %d out of range for job %s", domain.ErrIntegrity, index, jobID)
	}

	item := &job.Items[index]
	if item.Resolved() {
		if outcome.Matches(*item) {
			return job.Remaining(), nil
		}
		return 0, fmt.Errorf("%w: conflicting outcome for item %d of job %s", domain.ErrIntegrity, index, jobID)
	}

	item.Result = outcome.Result
	item.Error = outcome.Error
	return job.Remaining(), nil
}

func (s *JobStore) Finalize(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status == domain.StatusCompleted {
		return job.Clone(), nil
	}
	if remaining := job.Remaining(); remaining > 0 {
		return nil, fmt.Errorf("%w: %d of %d items unresolved", domain.ErrJobNotReady, remaining, len(job.Items))
	}
	if !domain.CanTransition(job.Status, domain.StatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusCompleted)
	}

	now := time.Now().UTC()
	job.Status = domain.StatusCompleted
	job.CompletedAt = &now
	return job.Clone(), nil
}

func (s *JobStore) MarkFailed(_ context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !domain.CanTransition(job.Status, domain.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusFailed)
	}

	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.FailureReason = reason
	job.CompletedAt = &now
	return nil
}

func (s *JobStore) SetWebhookDelivery(_ context.Context, jobID string, state domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.WebhookDelivery = state
	return nil
}
