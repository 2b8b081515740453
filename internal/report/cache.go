package report

import (
	"container/list"
	"sync"

	"commissioni/internal/core"
)

// statsCache is a small LRU over closed-month stats. Closed months never
// change, so entries have no expiry and only size bounds eviction.
type statsCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[core.MonthKey]*list.Element
	lru     *list.List
}

type cachedStats struct {
	month core.MonthKey
	stats MonthlyStats
}

func newStatsCache(maxSize int) *statsCache {
	return &statsCache{
		maxSize: maxSize,
		items:   make(map[core.MonthKey]*list.Element),
		lru:     list.New(),
	}
}

func (c *statsCache) get(month core.MonthKey) (MonthlyStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[month]
	if !ok {
		return MonthlyStats{}, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cachedStats).stats, true
}

func (c *statsCache) put(month core.MonthKey, stats MonthlyStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[month]; ok {
		elem.Value = &cachedStats{month: month, stats: stats}
		c.lru.MoveToFront(elem)
		return
	}

	c.items[month] = c.lru.PushFront(&cachedStats{month: month, stats: stats})
	if c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cachedStats).month)
		}
	}
}

// Reset empties the cache after a database wipe.
func (e *Engine) Reset() {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	e.cache.items = make(map[core.MonthKey]*list.Element)
	e.cache.lru = list.New()
}
