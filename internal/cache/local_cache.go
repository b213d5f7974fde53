package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 支持 TTL 过期
// - 容量达到上限时先清理过期条目，仍然满时淘汰最早过期的条目
// - 清理协程随 ctx 结束
type LocalCache[V any] struct {
	mu      sync.Mutex
	data    map[string]cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数
//   - ttl: 默认过期时间
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LocalCache[V]{
		data:    make(map[string]cacheEntry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.data[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return zero, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLocked()
	}
	c.data[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len 返回条目数量（包含尚未清理的过期条目）
func (c *LocalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// StartCleanup 定期清理过期条目，直到 ctx 结束
func (c *LocalCache[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				c.removeExpiredLocked()
				c.mu.Unlock()
			}
		}
	}()
}

func (c *LocalCache[V]) removeExpiredLocked() int {
	now := c.now()
	removed := 0
	for key, entry := range c.data {
		if !now.Before(entry.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

func (c *LocalCache[V]) evictLocked() {
	if c.removeExpiredLocked() > 0 {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	delete(c.data, oldestKey)
}
