package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"expressmail/backend/internal/storage"
)

// entry 是一个键的值，字符串与哈希二选一
type entry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // 零值表示不过期
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store 内存 KV 存储（开发与测试使用）
//
// 特点：
//   - 单把互斥锁保证每个操作的原子性
//   - 读取时惰性过期，另可启动后台清理
//   - 时钟可替换，便于测试 TTL 行为
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

var _ storage.KV = (*Store)(nil)

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock 替换时钟
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// StartJanitor 定期清理过期条目，直到 ctx 结束
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := s.now()
				for key, e := range s.data {
					if e.expired(now) {
						delete(s.data, key)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

// lookupLocked 返回未过期的条目，过期条目顺便删除
func (s *Store) lookupLocked(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

// Get 获取键值
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok || e.hash != nil {
		return "", storage.ErrKeyNotFound
	}
	return e.value, nil
}

// Set 设置不过期的键值
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL 设置键值，ttl <= 0 表示不过期
func (s *Store) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

// Incr 自增计数器，键不存在时从 0 开始且不设置过期
func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	return s.incrBy(key, 1)
}

// Decr 自减计数器，保留原有过期时间
func (s *Store) Decr(_ context.Context, key string) (int64, error) {
	return s.incrBy(key, -1)
}

func (s *Store) incrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		e = &entry{value: "0"}
		s.data[key] = e
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire 设置过期时间
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	return true, nil
}

// ExpireNX 仅在没有过期时间时设置
func (s *Store) ExpireNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok || !e.expiresAt.IsZero() {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	return true, nil
}

// TTL 获取剩余生存时间
func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return storage.TTLKeyMissing, nil
	}
	if e.expiresAt.IsZero() {
		return storage.TTLNoExpiry, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Delete 删除键，返回实际删除数量
func (s *Store) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if _, ok := s.lookupLocked(key); ok {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteIfValue 比较后删除
func (s *Store) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok || e.hash != nil || e.value != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

// Exists 检查键是否存在
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookupLocked(key)
	return ok, nil
}

// KeysByPrefix 返回前缀匹配的键（按字典序）
func (s *Store) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0)
	for key := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.lookupLocked(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// HSet 设置哈希字段
func (s *Store) HSet(_ context.Context, key string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok || e.hash == nil {
		e = &entry{hash: make(map[string]string, len(values))}
		s.data[key] = e
	}
	for field, value := range values {
		e.hash[field] = value
	}
	return nil
}

// HGetAll 获取哈希全部字段，返回副本
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	e, ok := s.lookupLocked(key)
	if !ok {
		return out, nil
	}
	for field, value := range e.hash {
		out[field] = value
	}
	return out, nil
}

// Ping 内存存储始终可用
func (s *Store) Ping(context.Context) error { return nil }

// Close 清空数据
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*entry)
	return nil
}

// Len 返回未过期的键数量
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := s.now()
	for _, e := range s.data {
		if !e.expired(now) {
			count++
		}
	}
	return count
}
