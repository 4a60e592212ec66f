package cache_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/arpitdalal/tax-calculator/internal/cache"
	"github.com/arpitdalal/tax-calculator/internal/domain"
)

type fakeFetcher struct {
	mu        sync.Mutex
	calls     int
	schedules map[int]domain.BracketSchedule
	err       error
}

func (f *fakeFetcher) FetchSchedule(_ context.Context, year int) (domain.BracketSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.BracketSchedule{}, f.err
	}
	s, ok := f.schedules[year]
	if !ok {
		return domain.BracketSchedule{}, domain.ErrUpstreamUnavailable
	}
	return s, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func flatSchedule(year int, rate float64) domain.BracketSchedule {
	return domain.BracketSchedule{
		Year:     year,
		Brackets: []domain.Bracket{{Min: 0, Rate: rate}},
	}
}

func newFetcher(years ...int) *fakeFetcher {
	f := &fakeFetcher{schedules: make(map[int]domain.BracketSchedule)}
	for _, y := range years {
		f.schedules[y] = flatSchedule(y, 0.10)
	}
	return f
}

func TestGetOrComputeCachesResult(t *testing.T) {
	fetcher := newFetcher(2022)
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	res, hit, err := c.GetOrCompute(ctx, 50000, 2022)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if hit {
		t.Error("first call reported a cache hit")
	}
	if res.Tax != 5000 {
		t.Errorf("Tax = %v, want 5000", res.Tax)
	}

	res, hit, err = c.GetOrCompute(ctx, 50000, 2022)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if !hit {
		t.Error("second call missed the cache")
	}
	if res.Tax != 5000 {
		t.Errorf("Tax = %v, want 5000", res.Tax)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetcher calls = %d, want 1", got)
	}
}

func TestGetOrComputeSharesBracketsAcrossSalaries(t *testing.T) {
	fetcher := newFetcher(2022)
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	for _, salary := range []float64{10000, 20000, 30000} {
		if _, _, err := c.GetOrCompute(ctx, salary, 2022); err != nil {
			t.Fatalf("GetOrCompute(%v) error = %v", salary, err)
		}
	}

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetcher calls = %d, want 1", got)
	}
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	fetcher := newFetcher(2022)
	fetcher.err = errors.New("upstream down")
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	if _, _, err := c.GetOrCompute(ctx, 50000, 2022); err == nil {
		t.Fatal("GetOrCompute() succeeded with a failing fetcher")
	}

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	res, hit, err := c.GetOrCompute(ctx, 50000, 2022)
	if err != nil {
		t.Fatalf("GetOrCompute() after recovery error = %v", err)
	}
	if hit {
		t.Error("recovered call reported a cache hit")
	}
	if res.Tax != 5000 {
		t.Errorf("Tax = %v, want 5000", res.Tax)
	}
}

func TestGetOrComputeZeroSalarySkipsFetch(t *testing.T) {
	fetcher := newFetcher()
	c := cache.NewCalculationCache(fetcher)

	res, _, err := c.GetOrCompute(context.Background(), 0, 2022)
	if err != nil {
		t.Fatalf("GetOrCompute(0) error = %v", err)
	}
	if res.Tax != 0 || res.EffectiveRate != 0 {
		t.Errorf("result = %+v, want zero tax and rate", res)
	}
	if got := fetcher.callCount(); got != 0 {
		t.Errorf("fetcher calls = %d, want 0", got)
	}
}

func TestClearEvictsSingleYear(t *testing.T) {
	fetcher := newFetcher(2021, 2022)
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	if _, _, err := c.GetOrCompute(ctx, 50000, 2021); err != nil {
		t.Fatalf("GetOrCompute(2021) error = %v", err)
	}
	if _, _, err := c.GetOrCompute(ctx, 50000, 2022); err != nil {
		t.Fatalf("GetOrCompute(2022) error = %v", err)
	}

	c.Clear(2022)

	if _, hit, _ := c.GetOrCompute(ctx, 50000, 2021); !hit {
		t.Error("2021 entry was evicted by Clear(2022)")
	}
	if _, hit, _ := c.GetOrCompute(ctx, 50000, 2022); hit {
		t.Error("2022 entry survived Clear(2022)")
	}
	// Initial two fetches, plus a refetch for the cleared year.
	if got := fetcher.callCount(); got != 3 {
		t.Errorf("fetcher calls = %d, want 3", got)
	}
}

func TestClearAll(t *testing.T) {
	fetcher := newFetcher(2021, 2022)
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	if _, _, err := c.GetOrCompute(ctx, 50000, 2021); err != nil {
		t.Fatalf("GetOrCompute(2021) error = %v", err)
	}
	if _, _, err := c.GetOrCompute(ctx, 50000, 2022); err != nil {
		t.Fatalf("GetOrCompute(2022) error = %v", err)
	}

	c.ClearAll()

	if _, hit, _ := c.GetOrCompute(ctx, 50000, 2021); hit {
		t.Error("2021 entry survived ClearAll")
	}
	if _, hit, _ := c.GetOrCompute(ctx, 50000, 2022); hit {
		t.Error("2022 entry survived ClearAll")
	}
}

func TestGetOrComputeConcurrent(t *testing.T) {
	fetcher := newFetcher(2019, 2020, 2021, 2022, 2023)
	c := cache.NewCalculationCache(fetcher)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			year := 2019 + i%5
			salary := float64(10000 * (1 + i%4))
			res, _, err := c.GetOrCompute(ctx, salary, year)
			if err != nil {
				t.Errorf("GetOrCompute(%v, %d) error = %v", salary, year, err)
				return
			}
			if want := salary / 10; math.Abs(res.Tax-want) > 0.01 {
				t.Errorf("Tax = %v, want %v", res.Tax, want)
			}
		}(i)
	}
	wg.Wait()
}
