package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"expressmail/backend/internal/config"
	"expressmail/backend/internal/storage"
)

// scanBatch 每次 SCAN 建议返回的键数量
const scanBatch = 200

// deleteIfValueScript 比较后删除，保证检查与删除之间没有其他写入
var deleteIfValueScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client 封装 Redis 客户端，实现 storage.KV
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

var _ storage.KV = (*Client)(nil)

// New 创建新的 Redis 客户端并测试连接
func New(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Client{rdb: rdb, log: log}, nil
}

// NewFromClient 使用已有的 go-redis 客户端
func NewFromClient(rdb *goredis.Client, log *zap.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get 获取键值，键不存在时返回 storage.ErrKeyNotFound
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", storage.ErrKeyNotFound
	}
	return val, err
}

// Set 设置不过期的键值
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// SetWithTTL 设置键值（带过期时间）
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr 自增计数器
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// Decr 自减计数器
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Decr(ctx, key).Result()
}

// Expire 设置键的过期时间，键不存在时返回 false
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.Expire(ctx, key, ttl).Result()
}

// ExpireNX 仅在键没有过期时间时设置（需要 Redis 7.0+）
func (c *Client) ExpireNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.ExpireNX(ctx, key, ttl).Result()
}

// TTL 获取键的剩余生存时间
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis 对 -1/-2 原样返回纳秒值
	switch ttl {
	case -1:
		return storage.TTLNoExpiry, nil
	case -2:
		return storage.TTLKeyMissing, nil
	}
	return ttl, nil
}

// Delete 删除键，返回实际删除数量
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Del(ctx, keys...).Result()
}

// DeleteIfValue 比较后删除
func (c *Client) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, c.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Exists 检查键是否存在
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// KeysByPrefix 使用 SCAN 遍历前缀匹配的键，避免 KEYS 阻塞服务端
func (c *Client) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := c.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// HSet 设置哈希字段
func (c *Client) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return c.rdb.HSet(ctx, key, args...).Err()
}

// HGetAll 获取哈希的所有字段，键不存在时返回空 map
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// PoolStats 返回连接池统计，用于监控
func (c *Client) PoolStats() *goredis.PoolStats {
	return c.rdb.PoolStats()
}
