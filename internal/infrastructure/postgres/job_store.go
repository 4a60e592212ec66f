package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/repository"
)

// JobStore persists jobs in two tables:
//
//	jobs       (id UUID PK, status TEXT, webhook_url TEXT, webhook_delivery TEXT,
//	            failure_reason TEXT, created_at TIMESTAMPTZ, completed_at TIMESTAMPTZ NULL)
//	job_items  (job_id UUID REFERENCES jobs ON DELETE CASCADE, idx INT,
//	            salary DOUBLE PRECISION, year INT, result JSONB NULL, error JSONB NULL,
//	            PRIMARY KEY (job_id, idx))
//
// A slot is unresolved while both result and error are NULL. Writers lock
// the parent jobs row before touching job_items, so concurrent workers
// recording into the same job serialize and the unresolved count each one
// reads is exact.
type JobStore struct {
	pool *pgxpool.Pool
}

var _ repository.JobStore = (*JobStore)(nil)

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// EnsureSchema creates the job tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id               UUID PRIMARY KEY,
			status           TEXT NOT NULL,
			webhook_url      TEXT NOT NULL DEFAULT '',
			webhook_delivery TEXT NOT NULL DEFAULT '',
			failure_reason   TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			completed_at     TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS job_items (
			job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			idx    INT NOT NULL,
			salary DOUBLE PRECISION NOT NULL,
			year   INT NOT NULL,
			result JSONB,
			error  JSONB,
			PRIMARY KEY (job_id, idx)
		);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *JobStore) Create(ctx context.Context, items []domain.Item, webhookURL string) (*domain.Job, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, status, webhook_url, webhook_delivery, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Status, job.WebhookURL, job.WebhookDelivery, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	for i, item := range job.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_items (job_id, idx, salary, year)
			VALUES ($1, $2, $3, $4)`,
			job.ID, i, item.Salary, item.Year)
		if err != nil {
			return nil, fmt.Errorf("insert job item %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return loadJob(ctx, s.pool, jobID)
}

func (s *JobStore) MarkRunning(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2
		WHERE id = $1 AND status = $3`,
		jobID, domain.StatusRunning, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	status, err := s.jobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if status == domain.StatusRunning {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, status, domain.StatusRunning)
}

func (s *JobStore) RecordItemResult(ctx context.Context, jobID string, index int, outcome domain.ItemOutcome) (remaining int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the parent row, not the item row: two workers recording the
	// last two slots of a job would otherwise each count the sibling's
	// uncommitted write as unresolved, and neither would see zero.
	var status domain.Status
	row := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err = row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("load job status: %w", err)
	}

	var item domain.Item
	var resultJSON, errorJSON []byte
	row = tx.QueryRow(ctx, `
		SELECT salary, year, result, error FROM job_items
		WHERE job_id = $1 AND idx = $2`,
		jobID, index)
	err = row.Scan(&item.Salary, &item.Year, &resultJSON, &errorJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: item index %d out of range for job %s", domain.ErrIntegrity, index, jobID)
	}
	if err != nil {
		return 0, fmt.Errorf("load job item: %w", err)
	}

	if err = unmarshalItem(&item, resultJSON, errorJSON); err != nil {
		return 0, err
	}

	switch {
	case !item.Resolved():
		resultJSON, errorJSON, err = marshalOutcome(outcome)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE job_items SET result = $3, error = $4
			WHERE job_id = $1 AND idx = $2`,
			jobID, index, resultJSON, errorJSON)
		if err != nil {
			return 0, fmt.Errorf("record item result: %w", err)
		}
	case outcome.Matches(item):
		// Duplicate of an already recorded outcome; nothing to write.
	default:
		return 0, fmt.Errorf("%w: conflicting outcome for item %d of job %s", domain.ErrIntegrity, index, jobID)
	}

	row = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_items
		WHERE job_id = $1 AND result IS NULL AND error IS NULL`,
		jobID)
	if err = row.Scan(&remaining); err != nil {
		return 0, fmt.Errorf("count unresolved items: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return remaining, nil
}

func (s *JobStore) Finalize(ctx context.Context, jobID string) (job *domain.Job, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var status domain.Status
	row := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err = row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("load job status: %w", err)
	}

	if status == domain.StatusCompleted {
		if job, err = loadJob(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return job, nil
	}

	var unresolved, total int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE result IS NULL AND error IS NULL), COUNT(*)
		FROM job_items WHERE job_id = $1`,
		jobID)
	if err = row.Scan(&unresolved, &total); err != nil {
		return nil, fmt.Errorf("count unresolved items: %w", err)
	}
	if unresolved > 0 {
		return nil, fmt.Errorf("%w: %d of %d items unresolved", domain.ErrJobNotReady, unresolved, total)
	}
	if !domain.CanTransition(status, domain.StatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, status, domain.StatusCompleted)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = NOW()
		WHERE id = $1`,
		jobID, domain.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("finalize job: %w", err)
	}

	if job, err = loadJob(ctx, tx, jobID); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, failure_reason = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)`,
		jobID, domain.StatusFailed, reason, domain.StatusPending, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	status, err := s.jobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, status, domain.StatusFailed)
}

func (s *JobStore) SetWebhookDelivery(ctx context.Context, jobID string, state domain.WebhookDelivery) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET webhook_delivery = $2 WHERE id = $1`,
		jobID, state)
	if err != nil {
		return fmt.Errorf("set webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) jobStatus(ctx context.Context, jobID string) (domain.Status, error) {
	var status domain.Status
	row := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("load job status: %w", err)
	}
	return status, nil
}

// querier lets loadJob run on the pool or inside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadJob(ctx context.Context, q querier, jobID string) (*domain.Job, error) {
	var j domain.Job
	row := q.QueryRow(ctx, `
		SELECT id, status, webhook_url, webhook_delivery, failure_reason, created_at, completed_at
		FROM jobs WHERE id = $1`,
		jobID)
	err := row.Scan(&j.ID, &j.Status, &j.WebhookURL, &j.WebhookDelivery,
		&j.FailureReason, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT salary, year, result, error FROM job_items
		WHERE job_id = $1
		ORDER BY idx ASC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("load job items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		var resultJSON, errorJSON []byte
		if err := rows.Scan(&item.Salary, &item.Year, &resultJSON, &errorJSON); err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		if err := unmarshalItem(&item, resultJSON, errorJSON); err != nil {
			return nil, err
		}
		j.Items = append(j.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job items: %w", err)
	}
	return &j, nil
}

func unmarshalItem(item *domain.Item, resultJSON, errorJSON []byte) error {
	if resultJSON != nil {
		item.Result = &domain.CalculationResult{}
		if err := json.Unmarshal(resultJSON, item.Result); err != nil {
			return fmt.Errorf("decode item result: %w", err)
		}
	}
	if errorJSON != nil {
		item.Error = &domain.ItemError{}
		if err := json.Unmarshal(errorJSON, item.Error); err != nil {
			return fmt.Errorf("decode item error: %w", err)
		}
	}
	return nil
}

func marshalOutcome(outcome domain.ItemOutcome) (resultJSON, errorJSON []byte, err error) {
	if outcome.Result != nil {
		if resultJSON, err = json.Marshal(outcome.Result); err != nil {
			return nil, nil, fmt.Errorf("encode item result: %w", err)
		}
	}
	if outcome.Error != nil {
		if errorJSON, err = json.Marshal(outcome.Error); err != nil {
			return nil, nil, fmt.Errorf("encode item error: %w", err)
		}
	}
	return resultJSON, errorJSON, nil
}
