package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/meetingflow/internal/cache"
	"github.com/BaSui01/meetingflow/meeting"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProfileNamespace 档案在 Redis 中的命名空间，结构变更时升版本号
const ProfileNamespace = "profile:v1"

// ProfileCache 是 CachedProfiles 需要的缓存能力，
// *cache.Bucket[meeting.Profile] 满足该接口。
type ProfileCache interface {
	Load(ctx context.Context, key string) (meeting.Profile, error)
	Store(ctx context.Context, key string, p meeting.Profile) error
	Forget(ctx context.Context, keys ...string) error
	Purge(ctx context.Context) (int, error)
}

// NewProfileBucket 在 m 上创建档案命名空间
func NewProfileBucket(m *cache.Manager, ttl time.Duration) *cache.Bucket[meeting.Profile] {
	return cache.NewBucket[meeting.Profile](m, ProfileNamespace, ttl)
}

// CacheObserver 记录缓存命中情况，metrics.Collector 满足该接口。
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type noopObserver struct{}

func (noopObserver) RecordCacheHit(string)  {}
func (noopObserver) RecordCacheMiss(string) {}

// CachedProfiles 在 ProfileStore 前加一层缓存，并合并同一身份的并发查询。
// 缓存不可用时直接回源，不影响查询结果。
type CachedProfiles struct {
	next     meeting.ProfileStore
	cache    ProfileCache
	group    singleflight.Group
	observer CacheObserver
	logger   *zap.Logger
}

// CachedOption 配置 CachedProfiles。
type CachedOption func(*CachedProfiles)

// WithCacheObserver 设置命中率观察者。
func WithCacheObserver(o CacheObserver) CachedOption {
	return func(c *CachedProfiles) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewCachedProfiles 创建带缓存的档案查询，过期时间由 c 决定。
func NewCachedProfiles(next meeting.ProfileStore, c ProfileCache, logger *zap.Logger, opts ...CachedOption) *CachedProfiles {
	if logger == nil {
		logger = zap.NewNop()
	}
	cp := &CachedProfiles{
		next:     next,
		cache:    c,
		observer: noopObserver{},
		logger:   logger.With(zap.String("component", "profile_cache")),
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

const profileCacheType = "profile"

// Profile 先查缓存，未命中时回源并回填。
func (c *CachedProfiles) Profile(ctx context.Context, id meeting.Identity) (meeting.Profile, error) {
	key := string(id)

	cached, err := c.cache.Load(ctx, key)
	switch {
	case err == nil:
		c.observer.RecordCacheHit(profileCacheType)
		return cached, nil
	case cache.IsCacheMiss(err):
		c.observer.RecordCacheMiss(profileCacheType)
	default:
		c.logger.Warn("profile cache read failed, falling back to store", zap.String("user_num", string(id)), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		p, err := c.next.Profile(ctx, id)
		if err != nil {
			return meeting.Profile{}, err
		}
		if err := c.cache.Store(ctx, key, p); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("profile cache write failed", zap.String("user_num", string(id)), zap.Error(err))
		}
		return p, nil
	})
	if err != nil {
		return meeting.Profile{}, err
	}
	return v.(meeting.Profile), nil
}

// Invalidate 删除某个身份的缓存。
func (c *CachedProfiles) Invalidate(ctx context.Context, id meeting.Identity) error {
	return c.cache.Forget(ctx, string(id))
}

// Reset 清空全部档案缓存，返回删除的条目数。
func (c *CachedProfiles) Reset(ctx context.Context) (int, error) {
	return c.cache.Purge(ctx)
}
