package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName 会议指标使用的 meter 名
const MeterName = "meetingflow/meeting"

// MeetingRecorder 以 OTel 指标记录会话事件，和 Prometheus Collector 并行导出到 OTLP。
// 方法集与 meeting.Recorder 一致。
type MeetingRecorder struct {
	sessions      metric.Int64UpDownCounter
	lifetime      metric.Float64Histogram
	transcripts   metric.Int64Counter
	verifications metric.Int64Counter
	attendance    metric.Int64Counter
	bindings      metric.Int64Histogram
	deliveries    metric.Int64Counter
	sideEffects   metric.Float64Histogram
}

// NewMeetingRecorder 在 meter 上创建全部仪表
func NewMeetingRecorder(meter metric.Meter) (*MeetingRecorder, error) {
	var (
		r   MeetingRecorder
		err error
	)
	if r.sessions, err = meter.Int64UpDownCounter("meetingflow.sessions.active",
		metric.WithDescription("Live meeting sessions")); err != nil {
		return nil, err
	}
	if r.lifetime, err = meter.Float64Histogram("meetingflow.session.duration",
		metric.WithUnit("s"), metric.WithDescription("Session lifetime")); err != nil {
		return nil, err
	}
	if r.transcripts, err = meter.Int64Counter("meetingflow.transcripts",
		metric.WithDescription("Transcripts by speaker resolution")); err != nil {
		return nil, err
	}
	if r.verifications, err = meter.Int64Counter("meetingflow.verifications",
		metric.WithDescription("Voice verification outcomes")); err != nil {
		return nil, err
	}
	if r.attendance, err = meter.Int64Counter("meetingflow.attendance.evaluations",
		metric.WithDescription("Attendance gate evaluations")); err != nil {
		return nil, err
	}
	if r.bindings, err = meter.Int64Histogram("meetingflow.bindings.size",
		metric.WithDescription("Speaker binding table size after a change")); err != nil {
		return nil, err
	}
	if r.deliveries, err = meter.Int64Counter("meetingflow.broadcast.deliveries",
		metric.WithDescription("Broadcast deliveries per participant")); err != nil {
		return nil, err
	}
	if r.sideEffects, err = meter.Float64Histogram("meetingflow.side_effect.duration",
		metric.WithUnit("s"), metric.WithDescription("Side effect task duration")); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *MeetingRecorder) SessionOpened() {
	r.sessions.Add(context.Background(), 1)
}

func (r *MeetingRecorder) SessionClosed(lifetime time.Duration) {
	ctx := context.Background()
	r.sessions.Add(ctx, -1)
	r.lifetime.Record(ctx, lifetime.Seconds())
}

func (r *MeetingRecorder) TranscriptResolved(resolved bool) {
	r.transcripts.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("resolved", resolved)))
}

func (r *MeetingRecorder) VerificationOutcome(outcome string) {
	r.verifications.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *MeetingRecorder) AttendanceEvaluated(first bool) {
	r.attendance.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("first", first)))
}

func (r *MeetingRecorder) BindingsChanged(size int) {
	r.bindings.Record(context.Background(), int64(size))
}

func (r *MeetingRecorder) BroadcastDelivered(eventType string, sent, failed int) {
	ctx := context.Background()
	typ := attribute.String("event_type", eventType)
	if sent > 0 {
		r.deliveries.Add(ctx, int64(sent), metric.WithAttributes(typ, attribute.String("result", "sent")))
	}
	if failed > 0 {
		r.deliveries.Add(ctx, int64(failed), metric.WithAttributes(typ, attribute.String("result", "failed")))
	}
}

func (r *MeetingRecorder) SideEffect(kind, status string, d time.Duration) {
	r.sideEffects.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}
