// Package circuitbreaker 为外部协作方调用提供熔断保护。
//
// 连续失败达到阈值后熔断器打开，期间所有调用直接返回 ErrOpen；
// 等待 ResetTimeout 后进入半开状态放行少量试探请求，成功则恢复。
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/types"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "Closed", StateOpen: "Open", StateHalfOpen: "HalfOpen"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Config 熔断器配置，零值字段取 DefaultConfig
type Config struct {
	// Threshold 连续失败多少次后打开
	Threshold int

	// ResetTimeout 打开后多久进入半开
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开状态同时放行的试探请求数
	HalfOpenMaxCalls int

	// IsFailure 判断错误是否计入失败，为空时使用 DefaultIsFailure
	IsFailure func(error) bool

	// OnStateChange 状态变更回调，在独立 goroutine 中执行
	OnStateChange func(name string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
	return c
}

var (
	ErrOpen                   = types.NewError(types.ErrServiceUnavailable, "circuit breaker is open")
	ErrTooManyCallsInHalfOpen = types.NewError(types.ErrServiceUnavailable, "too many calls in half-open state")
)

// DefaultIsFailure 客户端错误与调用方主动取消不计入失败。
func DefaultIsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrAuthentication, types.ErrUnauthorized,
		types.ErrNotFound, types.ErrProfileNotFound:
		return false
	}
	return true
}

// Breaker 熔断器，可并发使用。
//
// 每次状态变化都会递增 generation；调用结束时若 generation 已变，
// 结果属于上一个状态周期，直接丢弃。
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int       // Closed 下的连续失败数
	inFlight   int       // HalfOpen 下已放行的试探数
	openUntil  time.Time // Open 状态的截止时间
}

// New 创建熔断器
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("breaker", name)),
		now:    time.Now,
	}
}

// Do 在熔断保护下执行 fn。
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, !b.cfg.IsFailure(err))
	return err
}

// Execute 是 Do 的带返回值版本，失败时返回零值。
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// admit 决定是否放行，返回放行时的 generation
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.transition(StateHalfOpen)
		b.logger.Info("熔断器进入半开状态")
	}

	switch b.state {
	case StateOpen:
		return 0, ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMaxCalls {
			return 0, ErrTooManyCallsInHalfOpen
		}
		b.inFlight++
	}
	return b.generation, nil
}

// record 记录一次放行调用的结果
func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failures", b.failures),
				zap.Int("threshold", b.cfg.Threshold),
			)
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if success {
			b.logger.Info("熔断器恢复正常")
			b.transition(StateClosed)
			return
		}
		b.logger.Warn("熔断器半开状态失败，重新打开")
		b.transition(StateOpen)
	}
}

// transition 切换状态并开启新的 generation，调用方持有锁
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openUntil = b.now().Add(b.cfg.ResetTimeout)
	}
	if cb := b.cfg.OnStateChange; cb != nil && from != to {
		go cb(b.name, from, to)
	}
}

// Name 返回熔断器名称
func (b *Breaker) Name() string { return b.name }

// State 返回当前状态。Open 超时后首次调用前仍报告 Open。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	b.transition(StateClosed)
	b.logger.Info("熔断器已重置", zap.Stringer("from_state", from))
}
