package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/infrastructure/postgres"
)

// testPool connects to the database named by TEST_DATABASE_URL. Tests
// create jobs under fresh UUIDs, so they do not interfere with each
// other or need teardown.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return pool
}

func makeItems(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{Salary: float64((i + 1) * 10000), Year: 2022}
	}
	return items
}

func resultOutcome(salary float64) domain.ItemOutcome {
	return domain.ItemOutcome{
		Result: &domain.CalculationResult{
			Salary:        salary,
			Year:          2022,
			Tax:           salary / 10,
			EffectiveRate: 10,
			ComputedAt:    time.Now().UTC(),
		},
	}
}

func TestJobLifecycle(t *testing.T) {
	store := postgres.NewJobStore(testPool(t))
	ctx := context.Background()

	job, err := store.Create(ctx, makeItems(2), "https://example.com/hook")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.Status != domain.StatusPending {
		t.Errorf("Status = %s, want %s", job.Status, domain.StatusPending)
	}
	if job.WebhookDelivery != domain.WebhookPending {
		t.Errorf("WebhookDelivery = %q, want %q", job.WebhookDelivery, domain.WebhookPending)
	}

	if err := store.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	if _, err := store.Finalize(ctx, job.ID); !errors.Is(err, domain.ErrJobNotReady) {
		t.Errorf("Finalize() before results error = %v, want ErrJobNotReady", err)
	}

	remaining, err := store.RecordItemResult(ctx, job.ID, 0, resultOutcome(10000))
	if err != nil {
		t.Fatalf("RecordItemResult(0) error = %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	remaining, err = store.RecordItemResult(ctx, job.ID, 1, resultOutcome(20000))
	if err != nil {
		t.Fatalf("RecordItemResult(1) error = %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	done, err := store.Finalize(ctx, job.ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want %s", done.Status, domain.StatusCompleted)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt is nil on a completed job")
	}

	if err := store.SetWebhookDelivery(ctx, job.ID, domain.WebhookDelivered); err != nil {
		t.Fatalf("SetWebhookDelivery() error = %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.WebhookDelivery != domain.WebhookDelivered {
		t.Errorf("WebhookDelivery = %q, want %q", got.WebhookDelivery, domain.WebhookDelivered)
	}
	for i, item := range got.Items {
		if item.Result == nil {
			t.Errorf("item %d has no result", i)
		}
	}
}

func TestGetUnknownJob(t *testing.T) {
	store := postgres.NewJobStore(testPool(t))

	_, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestRecordItemResultIdempotent(t *testing.T) {
	store := postgres.NewJobStore(testPool(t))
	ctx := context.Background()
	job, _ := store.Create(ctx, makeItems(2), "")

	outcome := resultOutcome(10000)
	if _, err := store.RecordItemResult(ctx, job.ID, 0, outcome); err != nil {
		t.Fatalf("RecordItemResult() error = %v", err)
	}
	remaining, err := store.RecordItemResult(ctx, job.ID, 0, outcome)
	if err != nil {
		t.Fatalf("RecordItemResult() repeat error = %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	conflicting := domain.ItemOutcome{
		Error: &domain.ItemError{Code: domain.ErrCodeUpstream, Message: "upstream down"},
	}
	if _, err := store.RecordItemResult(ctx, job.ID, 0, conflicting); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("RecordItemResult() conflicting error = %v, want ErrIntegrity", err)
	}
}

// Concurrent workers race to record every slot of one job; the recorder
// filling the last slot must be the only one to observe zero remaining,
// or no worker would ever finalize the job.
func TestConcurrentRecordersOneObservesZero(t *testing.T) {
	store := postgres.NewJobStore(testPool(t))
	ctx := context.Background()

	const n = 8
	job, err := store.Create(ctx, makeItems(n), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	zeros := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			remaining, err := store.RecordItemResult(ctx, job.ID, idx, resultOutcome(float64((idx+1)*10000)))
			if err != nil {
				t.Errorf("RecordItemResult(%d) error = %v", idx, err)
				return
			}
			if remaining == 0 {
				zeros <- idx
			}
		}(i)
	}
	wg.Wait()
	close(zeros)

	var winners int
	for range zeros {
		winners++
	}
	if winners != 1 {
		t.Fatalf("%d recorders observed zero remaining, want exactly 1", winners)
	}

	if _, err := store.Finalize(ctx, job.ID); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, domain.StatusCompleted)
	}
}
