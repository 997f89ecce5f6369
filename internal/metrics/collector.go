// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 meeting.Recorder
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionLifetime  prometheus.Histogram
	transcriptsTotal *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	attendance       *prometheus.CounterVec
	bindingChanges   prometheus.Counter
	bindingSize      prometheus.Histogram

	// 广播与副作用
	broadcastDeliveries *prometheus.CounterVec
	sideEffectsTotal    *prometheus.CounterVec
	sideEffectDuration  *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	// 副作用协程池
	poolWorkers *prometheus.GaugeVec

	// 熔断器
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "sessions_active",
		Help:      "Number of live meeting sessions",
	})
	c.sessionsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "sessions_total",
		Help:      "Total number of meeting sessions opened",
	})
	c.sessionLifetime = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "session_lifetime_seconds",
		Help:      "Meeting session lifetime in seconds",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})
	c.transcriptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "transcripts_total",
			Help:      "Transcript events by speaker resolution outcome",
		},
		[]string{"resolution"}, // resolved, unresolved
	)
	c.verifications = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "verifications_total",
			Help:      "Voice verification results by outcome",
		},
		[]string{"outcome"},
	)
	c.attendance = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "attendance_evaluations_total",
			Help:      "Attendance gate evaluations",
		},
		[]string{"result"}, // first, repeat
	)
	c.bindingChanges = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "binding_changes_total",
		Help:      "Number of speaker binding table changes",
	})
	c.bindingSize = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "binding_table_size",
		Help:      "Binding table size observed after each change",
		Buckets:   []float64{1, 2, 4, 8, 16, 32},
	})

	c.broadcastDeliveries = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "broadcast_deliveries_total",
			Help:      "Per-recipient broadcast deliveries",
		},
		[]string{"event_type", "result"}, // sent, failed
	)
	c.sideEffectsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "side_effects_total",
			Help:      "Asynchronous side effects by kind and status",
		},
		[]string{"kind", "status"},
	)
	c.sideEffectDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "meeting",
			Name:      "side_effect_duration_seconds",
			Help:      "Asynchronous side effect duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"kind"},
	)

	// 缓存指标
	c.cacheHits = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)
	c.cacheMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.poolWorkers = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task_pool",
			Name:      "workers",
			Help:      "Side-effect pool workers and queue depth",
		},
		[]string{"state"}, // running, active, queued
	)

	c.breakerState = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "open",
			Help:      "1 when the named circuit breaker is not closed",
		},
		[]string{"name"},
	)
	c.breakerTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎙️ 会话指标（meeting.Recorder）
// =============================================================================

func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collector) SessionClosed(lifetime time.Duration) {
	c.sessionsActive.Dec()
	c.sessionLifetime.Observe(lifetime.Seconds())
}

func (c *Collector) TranscriptResolved(resolved bool) {
	label := "unresolved"
	if resolved {
		label = "resolved"
	}
	c.transcriptsTotal.WithLabelValues(label).Inc()
}

// VerificationOutcome outcome: accepted, rejected, suppressed, no_profile, error
func (c *Collector) VerificationOutcome(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) AttendanceEvaluated(first bool) {
	label := "repeat"
	if first {
		label = "first"
	}
	c.attendance.WithLabelValues(label).Inc()
}

func (c *Collector) BindingsChanged(size int) {
	c.bindingChanges.Inc()
	c.bindingSize.Observe(float64(size))
}

func (c *Collector) BroadcastDelivered(eventType string, sent, failed int) {
	if sent > 0 {
		c.broadcastDeliveries.WithLabelValues(eventType, "sent").Add(float64(sent))
	}
	if failed > 0 {
		c.broadcastDeliveries.WithLabelValues(eventType, "failed").Add(float64(failed))
	}
}

func (c *Collector) SideEffect(kind, status string, d time.Duration) {
	c.sideEffectsTotal.WithLabelValues(kind, status).Inc()
	if d > 0 {
		c.sideEffectDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// =============================================================================
// 💾 缓存与数据库
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordTaskPool 记录副作用协程池状态
func (c *Collector) RecordTaskPool(running, active, queued int) {
	c.poolWorkers.WithLabelValues("running").Set(float64(running))
	c.poolWorkers.WithLabelValues("active").Set(float64(active))
	c.poolWorkers.WithLabelValues("queued").Set(float64(queued))
}

// RecordBreakerTransition 记录熔断器状态变化，to 不为 Closed 时 open 置 1
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	c.breakerTransitions.WithLabelValues(name, from, to).Inc()
	v := 0.0
	if to != "Closed" {
		v = 1
	}
	c.breakerState.WithLabelValues(name).Set(v)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
