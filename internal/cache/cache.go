// Package cache 提供带读时 TTL 与命中统计的并发安全缓存。
package cache

import (
	"strings"
	"sync"
	"time"
)

// Class 表示缓存数据类别，不同类别使用不同 TTL。
type Class string

const (
	ClassOrderBook    Class = "order_book"
	ClassTradeFlow    Class = "trade_flow"
	ClassBasis        Class = "basis"
	ClassFunding      Class = "funding"
	ClassOpenInterest Class = "open_interest"
	ClassCandles      Class = "candles"
	ClassStructure    Class = "structure"
)

// DefaultTTLs 返回各数据类别的默认 TTL。
func DefaultTTLs() map[Class]time.Duration {
	return map[Class]time.Duration{
		ClassOrderBook:    2 * time.Second,
		ClassTradeFlow:    2 * time.Second,
		ClassBasis:        5 * time.Second,
		ClassFunding:      300 * time.Second,
		ClassOpenInterest: 300 * time.Second,
		ClassCandles:      30 * time.Second,
		ClassStructure:    60 * time.Second,
	}
}

// Key 以冒号拼接缓存键。
func Key(class Class, parts ...string) string {
	return string(class) + ":" + strings.Join(parts, ":")
}

// Stats 为缓存统计快照。
type Stats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Sets          uint64  `json:"sets"`
	TotalRequests uint64  `json:"total_requests"`
	HitRatePct    float64 `json:"hit_rate_pct"`
	Entries       int     `json:"entries"`
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Option 调整缓存行为。
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache 是键到 (值, 写入时间) 的映射，TTL 在读取时给出。
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time

	hits   uint64
	misses uint64
	sets   uint64
}

// New 创建空缓存。
func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     o.now,
	}
}

// Get 读取未过期的值；过期条目在读取时被驱逐并计为未命中。
func (c *Cache[V]) Get(key string, ttl time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().Sub(e.insertedAt) >= ttl {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set 写入或覆盖值。
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
	c.sets++
}

// GetOrLoad 命中时直接返回，否则调用 load 并写入缓存；load 期间不持锁。
func (c *Cache[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key, ttl); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Invalidate 删除指定键，返回是否存在。
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear 清空所有条目，统计保持不变。
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry[V])
}

// CleanupExpired 删除所有超过 ttl 的条目，返回删除数量。
func (c *Cache[V]) CleanupExpired(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats 返回当前统计。
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Sets:          c.sets,
		TotalRequests: total,
		HitRatePct:    rate,
		Entries:       len(c.entries),
	}
}

// ResetStats 重置计数器。
func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits, c.misses, c.sets = 0, 0, 0
}
