// Package batch runs asynchronous tax calculation jobs on a fixed worker
// pool fed by a buffered queue.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/metrics"
	"github.com/arpitdalal/tax-calculator/internal/repository"
	"github.com/arpitdalal/tax-calculator/internal/tax"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Calculation is one requested item. Nil fields mark values the request
// did not carry; Err carries the parse failure when a value could not be
// read at all. Either way the item becomes a per-item validation error,
// never a rejected batch.
type Calculation struct {
	Salary *float64
	Year   *int
	Err    error
}

// Resolver produces a calculation result, from cache or by computing.
type Resolver interface {
	GetOrCompute(ctx context.Context, salary float64, year int) (domain.CalculationResult, bool, error)
}

// Notifier delivers the outcome of a finished job.
type Notifier interface {
	Notify(ctx context.Context, job *domain.Job)
}

type Config struct {
	Workers   int
	QueueSize int
	Years     tax.Years
}

type task struct {
	jobID  string
	index  int
	salary float64
	year   int
}

// Coordinator accepts batches, validates items, and hands the valid ones
// to the worker pool. The worker that records the last open slot
// finalizes the job and triggers the webhook.
type Coordinator struct {
	store    repository.JobStore
	resolver Resolver
	notifier Notifier
	years    tax.Years
	workers  int
	queue    chan task
	wg       sync.WaitGroup
	runCtx   context.Context
	logger   *slog.Logger
}

func NewCoordinator(store repository.JobStore, resolver Resolver, notifier Notifier, cfg Config, logger *slog.Logger) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Coordinator{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		years:    cfg.Years,
		workers:  workers,
		queue:    make(chan task, queueSize),
		runCtx:   context.Background(),
		logger:   logger.With("component", "batch"),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	c.runCtx = ctx
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	c.logger.InfoContext(ctx, "batch workers started", "workers", c.workers, "queue_size", cap(c.queue))
}

// Stop blocks until every worker, dispatcher and webhook goroutine has
// returned. Cancel the Start context first.
func (c *Coordinator) Stop() {
	c.wg.Wait()
}

// Submit creates the job, resolves invalid items in place, and queues the
// rest. It returns the job ID without waiting for any computation.
func (c *Coordinator) Submit(ctx context.Context, calcs []Calculation, webhookURL string) (string, error) {
	if len(calcs) == 0 {
		return "", domain.NewValidationError("calculations must be a non-empty array")
	}

	items := make([]domain.Item, len(calcs))
	for i, calc := range calcs {
		if calc.Salary != nil {
			items[i].Salary = *calc.Salary
		}
		if calc.Year != nil {
			items[i].Year = *calc.Year
		}
	}

	job, err := c.store.Create(ctx, items, webhookURL)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	// Invalid items resolve now; the rest go to the queue. An item-level
	// problem never aborts the batch.
	tasks := make([]task, 0, len(calcs))
	for i, calc := range calcs {
		if verr := checkItem(calc, c.years); verr != nil {
			outcome := domain.ItemOutcome{Error: domain.ItemErrorFrom(verr)}
			if _, err := c.store.RecordItemResult(ctx, job.ID, i, outcome); err != nil {
				c.logger.ErrorContext(ctx, "record item validation error",
					"job_id", job.ID, "index", i, "error", err)
				c.fail(ctx, job.ID, "job store rejected an item result")
				return job.ID, nil
			}
			continue
		}
		tasks = append(tasks, task{jobID: job.ID, index: i, salary: items[i].Salary, year: items[i].Year})
	}

	if err := c.store.MarkRunning(ctx, job.ID); err != nil {
		c.logger.ErrorContext(ctx, "mark job running", "job_id", job.ID, "error", err)
		c.fail(ctx, job.ID, "job store rejected the running transition")
		return job.ID, nil
	}

	metrics.JobsSubmitted.Inc()
	c.logger.InfoContext(ctx, "batch accepted",
		"job_id", job.ID,
		"items", len(calcs),
		"queued", len(tasks),
		"webhook", webhookURL != "",
	)

	if len(tasks) == 0 {
		// Every slot was filled by a validation error; nothing for the
		// workers to do.
		c.finalize(c.runCtx, job.ID)
		return job.ID, nil
	}

	c.wg.Add(1)
	go c.dispatch(tasks)

	return job.ID, nil
}

// Status returns a snapshot of the job for the HTTP layer.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return c.store.Get(ctx, jobID)
}

func checkItem(calc Calculation, years tax.Years) error {
	if calc.Err != nil {
		return calc.Err
	}
	if calc.Salary == nil {
		return domain.NewValidationError("salary must be a non-negative number")
	}
	if err := tax.CheckSalary(*calc.Salary); err != nil {
		return err
	}
	if calc.Year == nil {
		return domain.NewValidationError("tax year is required")
	}
	return years.Check(*calc.Year)
}

func (c *Coordinator) dispatch(tasks []task) {
	defer c.wg.Done()
	for i, t := range tasks {
		select {
		case c.queue <- t:
		case <-c.runCtx.Done():
			c.logger.Warn("dispatch abandoned at shutdown",
				"job_id", t.jobID, "remaining", len(tasks)-i)
			return
		}
	}
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	c.logger.Debug("worker started", "worker_id", id)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.queue:
			c.process(ctx, t)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, t task) {
	metrics.ItemsInFlight.Inc()
	defer metrics.ItemsInFlight.Dec()
	start := time.Now()

	var outcome domain.ItemOutcome
	res, _, err := c.resolver.GetOrCompute(ctx, t.salary, t.year)
	if err != nil {
		outcome.Error = domain.ItemErrorFrom(err)
		c.logger.WarnContext(ctx, "item resolution failed",
			"job_id", t.jobID, "index", t.index, "code", outcome.Error.Code, "error", err)
	} else {
		outcome.Result = &res
	}

	remaining, err := c.store.RecordItemResult(ctx, t.jobID, t.index, outcome)
	if err != nil {
		c.logger.ErrorContext(ctx, "record item result",
			"job_id", t.jobID, "index", t.index, "error", err)
		c.fail(ctx, t.jobID, "job store rejected an item result")
		return
	}

	label := "success"
	if outcome.Error != nil {
		label = "error"
	}
	metrics.ItemsProcessed.WithLabelValues(label).Inc()
	metrics.ItemDuration.Observe(time.Since(start).Seconds())

	if remaining == 0 {
		c.finalize(ctx, t.jobID)
	}
}

func (c *Coordinator) finalize(ctx context.Context, jobID string) {
	job, err := c.store.Finalize(ctx, jobID)
	if err != nil {
		c.logger.ErrorContext(ctx, "finalize job", "job_id", jobID, "error", err)
		return
	}

	metrics.JobsCompleted.WithLabelValues("completed").Inc()
	metrics.JobDuration.Observe(time.Since(job.CreatedAt).Seconds())
	c.logger.InfoContext(ctx, "job completed", "job_id", jobID, "items", len(job.Items))

	if job.WebhookURL != "" {
		// Delivery outlives the finalizing worker; it stops only with the
		// process context.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.notifier.Notify(c.runCtx, job)
		}()
	}
}

func (c *Coordinator) fail(ctx context.Context, jobID, reason string) {
	err := c.store.MarkFailed(ctx, jobID, reason)
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		c.logger.ErrorContext(ctx, "mark job failed", "job_id", jobID, "error", err)
		return
	}
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
}
