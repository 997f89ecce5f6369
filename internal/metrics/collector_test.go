package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/meeting"
)

var _ meeting.Recorder = (*Collector)(nil)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegisterer("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 HTTP 指标
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/health", 200, 10*time.Millisecond, 0, 64)
	c.RecordHTTPRequest("GET", "/health", 204, 5*time.Millisecond, 0, 0)
	c.RecordHTTPRequest("POST", "/api/tts/summary", 503, time.Second, 128, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/tts/summary", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{
		101: "101",
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		0:   "0",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}

// =============================================================================
// 🧪 会话指标
// =============================================================================

func TestCollector_SessionLifecycle(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed(90 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionLifetime))
}

func TestCollector_MeetingOutcomes(t *testing.T) {
	c, _ := newTestCollector(t)

	c.TranscriptResolved(true)
	c.TranscriptResolved(false)
	c.TranscriptResolved(false)
	c.VerificationOutcome("accepted")
	c.VerificationOutcome("suppressed")
	c.VerificationOutcome("suppressed")
	c.AttendanceEvaluated(true)
	c.AttendanceEvaluated(false)
	c.BindingsChanged(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transcriptsTotal.WithLabelValues("resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transcriptsTotal.WithLabelValues("unresolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.verifications.WithLabelValues("suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attendance.WithLabelValues("first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attendance.WithLabelValues("repeat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bindingChanges))
}

func TestCollector_BroadcastAndSideEffects(t *testing.T) {
	c, _ := newTestCollector(t)

	c.BroadcastDelivered("transcript", 3, 1)
	c.BroadcastDelivered("transcript", 2, 0)
	c.SideEffect("attendance", "ok", 20*time.Millisecond)
	c.SideEffect("tts", "rejected", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.broadcastDeliveries.WithLabelValues("transcript", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcastDeliveries.WithLabelValues("transcript", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sideEffectsTotal.WithLabelValues("tts", "rejected")))
	// 被拒绝的任务没有耗时样本
	assert.Equal(t, 1, testutil.CollectAndCount(c.sideEffectDuration))
}

func TestCollector_CacheAndDB(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheHit("profile")
	c.RecordCacheMiss("profile")
	c.RecordCacheMiss("profile")
	c.RecordDBConnections("primary", 4, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("profile")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("profile")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("primary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("primary")))
}

func TestCollector_RecordTaskPool(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTaskPool(8, 3, 12)
	c.RecordTaskPool(8, 1, 0)

	assert.Equal(t, 8.0, testutil.ToFloat64(c.poolWorkers.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolWorkers.WithLabelValues("active")))
	assert.Zero(t, testutil.ToFloat64(c.poolWorkers.WithLabelValues("queued")))
}

func TestCollector_RecordBreakerTransition(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordBreakerTransition("verifier", "Closed", "Open")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("verifier")))

	c.RecordBreakerTransition("verifier", "Open", "HalfOpen")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("verifier")))

	c.RecordBreakerTransition("verifier", "HalfOpen", "Closed")
	assert.Zero(t, testutil.ToFloat64(c.breakerState.WithLabelValues("verifier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerTransitions.WithLabelValues("verifier", "Closed", "Open")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.breakerTransitions))
}

func TestCollector_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWithRegisterer("dup", reg, nil)
	require.Panics(t, func() { NewCollectorWithRegisterer("dup", reg, nil) })
}
