// Package pool provides the bounded worker pool that runs meeting side effects.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName 副作用任务使用的 tracer 名称
const TracerName = "meetingflow/meeting"

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 是一个副作用任务
type Task func(ctx context.Context) error

// Config 协程池配置
type Config struct {
	Workers     int           `json:"workers" yaml:"workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Workers:     16,
		QueueSize:   1024,
		IdleTimeout: time.Minute,
	}
}

// Option 配置 TaskPool
type Option func(*TaskPool)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(p *TaskPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option {
	return func(p *TaskPool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// =============================================================================
// 🧵 TaskPool
// =============================================================================

// TaskPool 按需伸缩的有界协程池，实现 meeting.Dispatcher。
// 队列满时拒绝任务，不阻塞调用方。
type TaskPool struct {
	maxWorkers  int32
	idleTimeout time.Duration
	queue       chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	workers atomic.Int32
	active  atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64

	tracer trace.Tracer
	logger *zap.Logger
}

type job struct {
	ctx  context.Context
	name string
	task Task
}

// New 创建协程池
func New(cfg Config, opts ...Option) *TaskPool {
	d := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = d.IdleTimeout
	}

	p := &TaskPool{
		maxWorkers:  int32(cfg.Workers),
		idleTimeout: cfg.IdleTimeout,
		queue:       make(chan job, cfg.QueueSize),
		tracer:      otel.Tracer(TracerName),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "task_pool"))
	return p
}

// Dispatch 提交任务，立即返回。池已关闭返回 ErrPoolClosed，队列已满返回 ErrPoolFull。
func (p *TaskPool) Dispatch(ctx context.Context, name string, task func(ctx context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	j := job{ctx: ctx, name: name, task: task}

	select {
	case p.queue <- j:
		p.spawnIfNeeded()
		return nil
	default:
	}

	// 队列满时先尝试扩容再重试一次
	if p.spawn() {
		select {
		case p.queue <- j:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return fmt.Errorf("%w: %s", ErrPoolFull, name)
}

func (p *TaskPool) spawnIfNeeded() {
	if p.workers.Load() < p.maxWorkers {
		p.spawn()
	}
}

func (p *TaskPool) spawn() bool {
	for {
		n := p.workers.Load()
		if n >= p.maxWorkers {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *TaskPool) worker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.active.Add(1)
			err := p.run(j)
			p.active.Add(-1)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)

		case <-idle.C:
			// 空闲时至少保留一个 worker
			if p.workers.Load() > 1 {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *TaskPool) run(j job) (err error) {
	ctx, span := p.tracer.Start(j.ctx, "meeting."+j.name,
		trace.WithAttributes(attribute.String("meeting.side_effect", j.name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			err = fmt.Errorf("side effect %s panicked: %v", j.name, r)
			p.logger.Error("side effect panicked",
				zap.String("task", j.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	if err = j.task(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Close 停止接收新任务，等待已排队任务执行完毕或 ctx 结束。可重复调用。
func (p *TaskPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回统计信息
func (p *TaskPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats 协程池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}
