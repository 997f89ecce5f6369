package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 服务器配置，零值字段取 DefaultConfig 中的值
type Config struct {
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭（含会话排空）的总时长
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

// DrainFunc 在监听关闭后执行，负责结束被劫持的长连接（WebSocket 会话）
type DrainFunc func(ctx context.Context)

// Manager 管理一个 http.Server 的监听、排空与关闭。
// API 端口与 /metrics 端口各用一个 Manager。
type Manager struct {
	name   string
	srv    *http.Server
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    state
	ln       net.Listener
	drainers []DrainFunc
	serveErr chan error
}

// NewManager 创建服务器管理器，name 用于日志区分
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	return &Manager{
		name: name,
		srv: &http.Server{
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
			ErrorLog:          zap.NewStdLog(logger.Named(name)),
		},
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		serveErr: make(chan error, 1),
	}
}

// OnDrain 注册排空回调。回调按注册顺序、在 http.Server.Shutdown 之后同步执行，
// 共享同一个关闭超时。
func (m *Manager) OnDrain(fn DrainFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainers = append(m.drainers, fn)
}

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return fmt.Errorf("%s server already started", m.name)
	case stateStopped:
		return fmt.Errorf("%s server is closed", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.state = stateServing
	m.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("server stopped unexpectedly", zap.Error(err))
			m.serveErr <- err
		}
	}()
	return nil
}

// ListenAddr 返回实际监听地址，未运行时为空
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateServing {
		return ""
	}
	return m.ln.Addr().String()
}

// Running 报告是否正在提供服务
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateServing
}

// Wait 阻塞直到 SIGINT/SIGTERM、服务异常退出或 ctx 结束。
// 只有服务异常退出时返回非 nil。关闭由调用方负责。
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-m.serveErr:
		return err
	case <-sigCtx.Done():
		if ctx.Err() == nil {
			m.logger.Info("received shutdown signal")
		}
		return nil
	}
}

// Shutdown 停止接受新连接，等待进行中的请求，再执行排空回调。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateStopped {
		m.mu.Unlock()
		return nil
	}
	serving := m.state == stateServing
	m.state = stateStopped
	drainers := append([]DrainFunc(nil), m.drainers...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if serving {
		m.logger.Info("shutting down server")
		if err = m.srv.Shutdown(ctx); err != nil {
			m.logger.Error("server shutdown failed", zap.Error(err))
		}
	}

	for _, drain := range drainers {
		drain(ctx)
	}

	m.logger.Info("server stopped")
	return err
}
