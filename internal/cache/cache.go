// Package cache provides a small in-process TTL cache with LRU eviction,
// used to keep report recomputation off the hot path.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// TTLCache caches values for a fixed duration and evicts least recently
// used entries once maxSize is exceeded. Expired entries are dropped
// lazily on Get and by the optional janitor.
type TTLCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	index   map[string]*list.Element
	order   *list.List

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

func New[T any](maxSize int, ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		index:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.index[key]
	if !ok {
		return zero, false
	}

	e := elem.Value.(*entry[T])
	if time.Now().After(e.expiresAt) {
		c.drop(elem)
		return zero, false
	}

	c.order.MoveToFront(elem)
	return e.value, true
}

func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, expiresAt: time.Now().Add(c.ttl)}

	if elem, ok := c.index[key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}

	c.index[key] = c.order.PushFront(e)

	if c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.drop(oldest)
		}
	}
}

func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.drop(elem)
	}
}

// Invalidate removes every entry whose key passes the filter. Used to
// evict a user's cached reports after a write.
func (c *TTLCache[T]) Invalidate(filter func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if filter(elem.Value.(*entry[T]).key) {
			matched = append(matched, elem)
		}
	}
	for _, elem := range matched {
		c.drop(elem)
	}
}

func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// CleanExpired removes expired entries and reports how many were dropped.
func (c *TTLCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*entry[T]).expiresAt) {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		c.drop(elem)
	}
	return len(expired)
}

// StartJanitor sweeps expired entries every interval until StopJanitor.
func (c *TTLCache[T]) StartJanitor(interval time.Duration) {
	c.stopJanitor = make(chan struct{})
	c.janitorDone = make(chan struct{})

	go func() {
		defer close(c.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CleanExpired()
			case <-c.stopJanitor:
				return
			}
		}
	}()
}

// StopJanitor stops the sweep goroutine and waits for it to exit.
func (c *TTLCache[T]) StopJanitor() {
	if c.stopJanitor == nil {
		return
	}
	close(c.stopJanitor)
	<-c.janitorDone
	c.stopJanitor = nil
}

// drop must be called with the lock held.
func (c *TTLCache[T]) drop(elem *list.Element) {
	delete(c.index, elem.Value.(*entry[T]).key)
	c.order.Remove(elem)
}
