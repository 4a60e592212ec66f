package cache

import (
	"context"
	"sync"

	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/metrics"
	"github.com/arpitdalal/tax-calculator/internal/tax"
)

// ScheduleFetcher retrieves the bracket schedule for a tax year.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context, year int) (domain.BracketSchedule, error)
}

// CalculationCache resolves (salary, year) pairs to results, computing
// and caching on miss. Errors are never cached; the next request retries
// the upstream.
type CalculationCache struct {
	mu       sync.RWMutex
	results  map[domain.CalculationKey]domain.CalculationResult
	brackets *BracketCache
	fetcher  ScheduleFetcher
}

func NewCalculationCache(fetcher ScheduleFetcher) *CalculationCache {
	return &CalculationCache{
		results:  make(map[domain.CalculationKey]domain.CalculationResult),
		brackets: NewBracketCache(),
		fetcher:  fetcher,
	}
}

// GetOrCompute returns the result for a salary and year. The bool reports
// whether the result came from cache. The fetch and compute run outside
// the lock; a concurrent miss on the same key recomputes the same value.
func (c *CalculationCache) GetOrCompute(ctx context.Context, salary float64, year int) (domain.CalculationResult, bool, error) {
	key := domain.CalculationKey{Salary: salary, Year: year}

	c.mu.RLock()
	res, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		metrics.CacheHits.WithLabelValues("calculation").Inc()
		return res, true, nil
	}
	metrics.CacheMisses.WithLabelValues("calculation").Inc()

	if salary == 0 {
		res = tax.ZeroResult(year)
		c.store(key, res)
		return res, false, nil
	}

	schedule, ok := c.brackets.Get(year)
	if ok {
		metrics.CacheHits.WithLabelValues("bracket").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("bracket").Inc()
		var err error
		schedule, err = c.fetcher.FetchSchedule(ctx, year)
		if err != nil {
			return domain.CalculationResult{}, false, err
		}
		c.brackets.Put(schedule)
	}

	res, err := tax.Compute(salary, schedule)
	if err != nil {
		return domain.CalculationResult{}, false, err
	}
	c.store(key, res)
	return res, false, nil
}

func (c *CalculationCache) store(key domain.CalculationKey, res domain.CalculationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = res
}

// Clear drops every cached result for a tax year along with its bracket
// schedule, forcing a refetch on the next request.
func (c *CalculationCache) Clear(year int) {
	c.mu.Lock()
	for key := range c.results {
		if key.Year == year {
			delete(c.results, key)
		}
	}
	c.mu.Unlock()
	c.brackets.Clear(year)
}

// ClearAll drops every cached result and schedule.
func (c *CalculationCache) ClearAll() {
	c.mu.Lock()
	c.results = make(map[domain.CalculationKey]domain.CalculationResult)
	c.mu.Unlock()
	c.brackets.ClearAll()
}
