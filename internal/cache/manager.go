package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// dialTimeout 建连时首次 PING 的超时
const dialTimeout = 5 * time.Second

// Config Redis 连接参数
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	KeyPrefix    string `yaml:"key_prefix" json:"key_prefix"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`

	// DefaultTTL 是 Bucket 未指定 TTL 时的过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// ProbeInterval 后台 PING 间隔，0 表示不探活
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
}

// DefaultConfig 返回本地 Redis 的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		KeyPrefix:     "meetingflow:",
		DefaultTTL:    10 * time.Minute,
		MaxRetries:    3,
		PoolSize:      10,
		MinIdleConns:  2,
		ProbeInterval: 30 * time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 持有共享的 Redis 客户端。读写经由 Bucket 完成，
// 每个 Bucket 独占 KeyPrefix 下的一个命名空间。
type Manager struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewManager 连接 Redis 并确认可用，失败时不保留任何连接。
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	m := newManager(client, cfg, logger)
	m.logger.Info("redis cache connected",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

func newManager(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.ProbeInterval > 0 {
		go m.watch(cfg.ProbeInterval)
	} else {
		close(m.done)
	}
	return m
}

// acquire 在未关闭时返回客户端与释放读锁的函数
func (m *Manager) acquire() (redis.UniversalClient, func(), error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return m.client, m.mu.RUnlock, nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	c, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return c.Ping(ctx).Err()
}

// Close 停止探活并关闭客户端，可重复调用。
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	err := m.client.Close()
	m.mu.Unlock()

	<-m.done
	m.logger.Info("redis cache closed")
	return err
}

func (m *Manager) watch(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := m.Ping(ctx)
		cancel()
		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			if healthy {
				m.logger.Error("redis probe failed", zap.Error(err))
			}
			healthy = false
		case !healthy:
			m.logger.Info("redis probe recovered")
			healthy = true
		}
	}
}
