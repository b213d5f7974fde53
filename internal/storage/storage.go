package storage

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound 键不存在（或已过期）
var ErrKeyNotFound = errors.New("key not found")

// TTL 的特殊返回值，与 Redis 语义一致
const (
	TTLNoExpiry   time.Duration = -1 // 键存在但没有过期时间
	TTLKeyMissing time.Duration = -2 // 键不存在
)

// KV 定义系统唯一的共享状态存储。
//
// 所有操作必须是原子的，过期由存储自身执行；
// 轮询任务之间只通过这里的 put/delete/TTL 协调。
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ExpireNX 仅当键存在且没有过期时间时设置过期
	ExpireNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete 返回实际删除的键数量
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeleteIfValue 仅当键的当前值等于 value 时删除
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}
