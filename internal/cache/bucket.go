package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🪣 Bucket
// =============================================================================

// Bucket 是某类值的类型化命名空间，值以 JSON 存储在
// "<KeyPrefix><namespace>:<key>" 下。
type Bucket[T any] struct {
	m      *Manager
	prefix string
	ttl    time.Duration
}

// NewBucket 在 m 上创建命名空间 namespace，ttl 为 0 时使用 Config.DefaultTTL。
func NewBucket[T any](m *Manager, namespace string, ttl time.Duration) *Bucket[T] {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	return &Bucket[T]{m: m, prefix: m.cfg.KeyPrefix + namespace + ":", ttl: ttl}
}

// TTL 返回写入时使用的过期时间
func (b *Bucket[T]) TTL() time.Duration { return b.ttl }

func (b *Bucket[T]) key(k string) string { return b.prefix + k }

// Load 读取并解码，未命中返回 ErrCacheMiss。
func (b *Bucket[T]) Load(ctx context.Context, key string) (T, error) {
	var zero T
	c, release, err := b.m.acquire()
	if err != nil {
		return zero, err
	}
	defer release()

	raw, err := c.Get(ctx, b.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return zero, ErrCacheMiss
	case err != nil:
		return zero, fmt.Errorf("cache load %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// 损坏的条目按未命中处理，下一次写入会覆盖
		b.m.logger.Warn("dropping undecodable cache entry", zap.String("key", b.key(key)), zap.Error(err))
		_ = c.Del(ctx, b.key(key)).Err()
		return zero, ErrCacheMiss
	}
	return v, nil
}

// Store 编码并写入
func (b *Bucket[T]) Store(ctx context.Context, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}

	c, release, err := b.m.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := c.Set(ctx, b.key(key), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("cache store %s: %w", key, err)
	}
	return nil
}

// Forget 删除若干键，不存在的键忽略。
func (b *Bucket[T]) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c, release, err := b.m.acquire()
	if err != nil {
		return err
	}
	defer release()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := c.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache forget: %w", err)
	}
	return nil
}

// Purge 用 SCAN 清空整个命名空间，返回删除的键数。
func (b *Bucket[T]) Purge(ctx context.Context) (int, error) {
	c, release, err := b.m.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var (
		removed int
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}

	iter := c.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("cache purge: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache purge scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("cache purge: %w", err)
	}
	return removed, nil
}
