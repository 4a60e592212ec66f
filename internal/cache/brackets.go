// Package cache keeps fetched bracket schedules and computed results in
// memory so repeated requests skip the upstream API.
package cache

import (
	"sync"

	"github.com/arpitdalal/tax-calculator/internal/domain"
)

// BracketCache holds one schedule per tax year. Concurrent misses for the
// same year may each fetch; both writes carry identical data, so last
// write wins.
type BracketCache struct {
	mu        sync.RWMutex
	schedules map[int]domain.BracketSchedule
}

func NewBracketCache() *BracketCache {
	return &BracketCache{schedules: make(map[int]domain.BracketSchedule)}
}

func (c *BracketCache) Get(year int) (domain.BracketSchedule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schedules[year]
	return s, ok
}

func (c *BracketCache) Put(s domain.BracketSchedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules[s.Year] = s
}

func (c *BracketCache) Clear(year int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schedules, year)
}

func (c *BracketCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules = make(map[int]domain.BracketSchedule)
}
