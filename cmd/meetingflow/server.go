package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/api/handlers"
	"github.com/BaSui01/meetingflow/config"
	"github.com/BaSui01/meetingflow/intent"
	"github.com/BaSui01/meetingflow/internal/cache"
	"github.com/BaSui01/meetingflow/internal/circuitbreaker"
	"github.com/BaSui01/meetingflow/internal/database"
	"github.com/BaSui01/meetingflow/internal/metrics"
	"github.com/BaSui01/meetingflow/internal/migration"
	"github.com/BaSui01/meetingflow/internal/pool"
	"github.com/BaSui01/meetingflow/internal/server"
	"github.com/BaSui01/meetingflow/internal/telemetry"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/speech"
	"github.com/BaSui01/meetingflow/store"
)

// statsInterval 协程池指标的采样间隔
const statsInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MeetingFlow 的主服务器，持有所有组件的生命周期
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	// 指标
	registry  *prometheus.Registry
	collector *metrics.Collector

	// 存储（均可为 nil）
	db      *database.PoolManager
	repo    *store.Repository
	cache   *cache.Manager
	profile meeting.ProfileStore

	// 会议核心
	synth    meeting.Synthesizer
	tasks    *pool.TaskPool
	hub      *meeting.Hub
	sessions *meeting.Registry

	// Handlers
	healthHandler   *handlers.HealthHandler
	meetingHandler  *handlers.MeetingHandler
	ttsHandler      *handlers.TTSHandler
	sessionsHandler *handlers.SessionsHandler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台协程（限流清理、指标采样）
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	shutdownOnce sync.Once
}

// NewServer 按配置装配所有组件，不监听端口。
// 数据库或 Redis 不可用时降级运行：出勤只保存在内存中，档案不缓存。
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		registry:  prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegisterer("meetingflow", s.registry, logger)

	if err := s.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	s.initCache()
	s.initMeeting()
	s.initHandlers()

	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库并按需执行迁移。Driver 为空时跳过。
func (s *Server) initStorage() error {
	dbCfg := s.cfg.Database
	if dbCfg.Driver == "" {
		s.logger.Info("database driver not configured, attendance kept in memory only")
		return nil
	}

	if dbCfg.AutoMigrate {
		if err := s.runMigrations(dbCfg); err != nil {
			return err
		}
	}

	pm, err := database.Connect(dbCfg.Driver, dbCfg.ConnString(), database.PoolConfig{
		MaxIdleConns:        dbCfg.MaxIdleConns,
		MaxOpenConns:        dbCfg.MaxOpenConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		ConnMaxIdleTime:     dbCfg.ConnMaxIdleTime,
		HealthCheckInterval: dbCfg.HealthCheckInterval,
	}, s.logger, database.WithStatsRecorder(s.collector))
	if err != nil {
		return err
	}

	s.db = pm
	s.repo = store.NewRepository(pm, s.logger, store.WithLocation(s.cfg.Meeting.Location()))
	s.profile = s.repo
	return nil
}

func (s *Server) runMigrations(dbCfg config.DatabaseConfig) error {
	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, _, err := m.Version(ctx)
	if err == nil {
		s.logger.Info("database schema up to date", zap.Uint("version", version))
	}
	return nil
}

// initCache 连接 Redis 并在仓储前加档案缓存。连接失败只告警。
func (s *Server) initCache() {
	rc := s.cfg.Redis
	if rc.Addr == "" || s.repo == nil {
		return
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = rc.Addr
	cacheCfg.Password = rc.Password
	cacheCfg.DB = rc.DB
	cacheCfg.KeyPrefix = rc.KeyPrefix
	cacheCfg.DefaultTTL = rc.ProfileTTL
	if rc.PoolSize > 0 {
		cacheCfg.PoolSize = rc.PoolSize
	}
	cacheCfg.MinIdleConns = rc.MinIdleConns

	cm, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn("redis not available, profile cache disabled", zap.Error(err))
		return
	}
	s.cache = cm
	cp := store.NewCachedProfiles(s.repo, store.NewProfileBucket(cm, rc.ProfileTTL), s.logger,
		store.WithCacheObserver(s.collector))
	if rc.PurgeOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := cp.Reset(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("profile cache purge failed", zap.Error(err))
		} else {
			s.logger.Info("profile cache purged", zap.Int("entries", n))
		}
	}
	s.profile = cp
}

// initMeeting 创建协作方、副作用协程池、广播组与会话注册表
func (s *Server) initMeeting() {
	mc := s.cfg.Meeting

	s.tasks = pool.New(pool.Config{
		Workers:     mc.Workers,
		QueueSize:   mc.QueueSize,
		IdleTimeout: pool.DefaultConfig().IdleTimeout,
	},
		pool.WithLogger(s.logger),
		pool.WithTracer(s.providers.Tracer(pool.TracerName)),
	)

	recorder := s.recorder()
	s.hub = meeting.NewHub(
		meeting.WithSendTimeout(mc.SendTimeout),
		meeting.WithGroupLogger(s.logger),
		meeting.WithGroupRecorder(recorder),
	)

	deps := meeting.Dependencies{
		Transcriber: speech.NewStreamingTranscriber(speech.TranscriberConfig{
			URL:         s.cfg.Transcriber.URL,
			APIKey:      s.cfg.Transcriber.APIKey,
			Language:    s.cfg.Transcriber.Language,
			DialTimeout: s.cfg.Transcriber.DialTimeout,
		}, s.logger),
		Verifier: speech.NewRecognitionClient(speech.RecognitionConfig{
			BaseURL: s.cfg.Verifier.BaseURL,
			Timeout: s.cfg.Verifier.Timeout,
			Breaker: circuitbreaker.Config{
				Threshold:    s.cfg.Verifier.BreakerThreshold,
				ResetTimeout: s.cfg.Verifier.BreakerResetTimeout,
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					s.collector.RecordBreakerTransition(name, from.String(), to.String())
				},
			},
		}, s.logger),
		Dispatcher: s.tasks,
		Recorder:   recorder,
	}
	if s.profile != nil {
		deps.Profiles = s.profile
	}
	if s.repo != nil {
		deps.Attendance = s.repo
	}
	if tts := s.synthesizer(); tts != nil {
		s.synth = tts
		deps.Synthesizer = tts
	}
	deps.Intent = intent.NewClient(intent.Config{
		Endpoint:   s.cfg.Intent.Endpoint,
		APIKey:     s.cfg.Intent.APIKey,
		Model:      s.cfg.Intent.Model,
		APIVersion: s.cfg.Intent.APIVersion,
		Timeout:    s.cfg.Intent.Timeout,
	}, s.logger)

	s.sessions = meeting.NewRegistry(s.hub, meeting.Config{
		VerificationWindow:  mc.VerificationWindow,
		ConfidenceThreshold: mc.ConfidenceThreshold,
		ChunkSamples:        mc.ChunkSamples,
		InboxSize:           mc.InboxSize,
		OutboxSize:          mc.OutboxSize,
		SideEffectTimeout:   mc.SideEffectTimeout,
		SendTimeout:         mc.SendTimeout,
	}, deps, s.logger)
}

// recorder 遥测启用时会话指标同时写入 Prometheus 与 OTLP
func (s *Server) recorder() meeting.Recorder {
	if !s.providers.Enabled() {
		return s.collector
	}
	otelRec, err := telemetry.NewMeetingRecorder(s.providers.Meter(telemetry.MeterName))
	if err != nil {
		s.logger.Warn("failed to create otel meeting instruments", zap.Error(err))
		return s.collector
	}
	return meeting.TeeRecorder(s.collector, otelRec)
}

// synthesizer 未配置 API Key 时返回 nil，欢迎语与摘要播报随之关闭
func (s *Server) synthesizer() *speech.OpenAITTS {
	tc := s.cfg.TTS
	if tc.APIKey == "" {
		s.logger.Info("TTS API key not configured, speech synthesis disabled")
		return nil
	}
	return speech.NewOpenAITTS(speech.TTSConfig{
		APIKey:  tc.APIKey,
		BaseURL: tc.BaseURL,
		Model:   tc.Model,
		Voice:   tc.Voice,
		Format:  tc.Format,
		Timeout: tc.Timeout,
	})
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger, handlers.WithSessionCount(s.sessions.Len))
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	meetingCfg := handlers.DefaultMeetingHandlerConfig()
	meetingCfg.OriginPatterns = originPatterns(s.cfg.Server.CORSAllowedOrigins)
	s.meetingHandler = handlers.NewMeetingHandler(s.sessions, meetingCfg, s.logger)

	s.ttsHandler = handlers.NewTTSHandler(s.synth, s.hub, s.logger)
	s.sessionsHandler = handlers.NewSessionsHandler(s.sessions, s.logger)

	s.logger.Info("Handlers initialized",
		zap.Bool("database", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("tts", s.synth != nil),
	)
}

// originPatterns 把 CORS 来源（https://app.example.com）转换为 WebSocket Origin 主机模式
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		if o = strings.TrimSpace(o); o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务器及后台采样协程
func (s *Server) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.startHTTPServer(bgCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			cancel()
			_ = s.httpManager.Shutdown(context.Background())
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.wg.Add(1)
	go s.statsLoop(bgCtx)

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("telemetry", s.providers.Enabled()),
	)
	return nil
}

// routes 注册所有路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 会议
	mux.HandleFunc("GET /meeting", s.meetingHandler.HandleMeeting)
	mux.HandleFunc("/api/tts/summary", s.ttsHandler.HandleSummary)
	mux.HandleFunc("GET /api/v1/sessions", s.sessionsHandler.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.sessionsHandler.HandleGet)

	// 运行时配置（敏感字段已脱敏）
	mux.HandleFunc("GET /api/v1/config", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteSuccessWithRequest(w, r, s.cfg.Sanitized())
	})

	return mux
}

// handler 构建带中间件链的根 handler
func (s *Server) handler(ctx context.Context) http.Handler {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.JWT.Enabled() {
		skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version"}
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, true, s.logger))
		s.logger.Info("JWT authentication enabled")
	}
	return Chain(s.routes(), middlewares...)
}

// startHTTPServer 启动 API 服务器（非阻塞）
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("http", s.handler(ctx), serverConfig, s.logger)
	s.httpManager.OnDrain(s.drainSessions)

	return s.httpManager.Start()
}

// startMetricsServer 启动独立的 Prometheus 端口
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// statsLoop 定期采样副作用协程池，连接池由 PoolManager 探活时自行上报
func (s *Server) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recordStats()
		}
	}
}

func (s *Server) recordStats() {
	ps := s.tasks.Stats()
	s.collector.RecordTaskPool(ps.Workers, ps.Active, ps.Queued)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// drainSessions 关闭所有会话，每个会话向客户端发送关闭帧
func (s *Server) drainSessions(ctx context.Context) {
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Warn("sessions did not close in time", zap.Error(err))
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if d := s.cfg.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 15 * time.Second
}

// WaitForShutdown 等待关闭信号或服务器错误，然后优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		if err := s.httpManager.Wait(context.Background()); err != nil {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 按依赖逆序关闭：HTTP（含会话排空）→ Metrics → 副作用池 → 缓存 → 数据库 → 遥测。可重复调用。
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Starting graceful shutdown...")

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if s.bgCancel != nil {
			s.bgCancel()
		}

		// HTTP 关闭时排空会话；未启动时直接关闭
		if s.httpManager != nil {
			if err := s.httpManager.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", zap.Error(err))
			}
		} else {
			s.drainSessions(ctx)
		}

		if s.metricsManager != nil {
			if err := s.metricsManager.Shutdown(ctx); err != nil {
				s.logger.Error("Metrics server shutdown error", zap.Error(err))
			}
		}

		if err := s.tasks.Close(ctx); err != nil {
			s.logger.Warn("side effects still running at shutdown", zap.Error(err))
		}

		var errs []error
		if s.cache != nil {
			errs = append(errs, s.cache.Close())
		}
		if s.db != nil {
			errs = append(errs, s.db.Close())
		}
		errs = append(errs, s.providers.Shutdown(ctx))
		if err := errors.Join(errs...); err != nil {
			s.logger.Error("resource cleanup error", zap.Error(err))
		}

		s.wg.Wait()
		s.logger.Info("Graceful shutdown completed")
	})
}
