package meeting

import (
	"context"
	"time"
)

// =============================================================================
// 🔌 外部协作方
// =============================================================================

// TranscriptEvent 是转写引擎产出的一条最终转写。
type TranscriptEvent struct {
	Tag  EphemeralTag
	Text string
}

// TranscriptStream 是一次已建立的转写会话。
type TranscriptStream interface {
	// Events 返回最终转写事件；通道关闭表示上游已断开。
	Events() <-chan TranscriptEvent
	// SendAudio 推送一段 16-bit PCM 音频。
	SendAudio(ctx context.Context, pcm []byte) error
	// Stop 结束转写，可重复调用。
	Stop() error
}

// TranscriptEngine 创建转写会话。
type TranscriptEngine interface {
	Start(ctx context.Context) (TranscriptStream, error)
}

// VerificationEngine 对一段 PCM 音频做声纹识别。
type VerificationEngine interface {
	Recognize(ctx context.Context, pcm []byte) (Candidate, error)
}

// ProfileStore 按身份查询展示信息。
// 身份不存在时返回的错误应匹配 types.ErrProfileMissing。
type ProfileStore interface {
	Profile(ctx context.Context, id Identity) (Profile, error)
}

// AttendanceRecorder 持久化出勤记录。
type AttendanceRecorder interface {
	MarkAttendance(ctx context.Context, id Identity, at time.Time) error
}

// Synthesizer 把文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// IntentKind 意图解析结果类型。
type IntentKind string

const (
	IntentFunctionCall IntentKind = "function_call"
	IntentAIResponse   IntentKind = "ai_response"
)

// IntentRequest 是一条需要解析意图的转写及其说话人。
type IntentRequest struct {
	Text        string
	Identity    Identity
	DisplayName string
	ImageRef    string
}

// IntentResult 是意图解析结果。
type IntentResult struct {
	Kind      IntentKind
	Name      string
	Arguments map[string]any
	Text      string
}

// IntentExtractor 从转写文本中解析命令意图。
// 未配置时返回的错误应匹配 types.ErrUnconfigured。
type IntentExtractor interface {
	Extract(ctx context.Context, req IntentRequest) (*IntentResult, error)
}

// Dispatcher 异步执行副作用任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task func(ctx context.Context) error) error
}

// goDispatcher 每个任务一个 goroutine，未注入 Dispatcher 时使用。
type goDispatcher struct{}

func (goDispatcher) Dispatch(ctx context.Context, _ string, task func(ctx context.Context) error) error {
	go func() { _ = task(ctx) }()
	return nil
}

// Clock 提供当前时间，测试中可替换。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder 接收会话指标。
type Recorder interface {
	SessionOpened()
	SessionClosed(lifetime time.Duration)
	TranscriptResolved(resolved bool)
	VerificationOutcome(outcome string)
	AttendanceEvaluated(first bool)
	BindingsChanged(size int)
	BroadcastDelivered(eventType string, sent, failed int)
	SideEffect(kind, status string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) SessionOpened() {}
func (noopRecorder) SessionClosed(time.Duration) {}
func (noopRecorder) TranscriptResolved(bool) {}
func (noopRecorder) VerificationOutcome(string) {}
func (noopRecorder) AttendanceEvaluated(bool) {}
func (noopRecorder) BindingsChanged(int) {}
func (noopRecorder) BroadcastDelivered(string, int, int) {}
func (noopRecorder) SideEffect(string, string, time.Duration) {}

// Recorders 把同一事件依次交给多个 Recorder，nil 项被忽略。
type Recorders []Recorder

// TeeRecorder 组合多个 Recorder，只剩一个时直接返回它。
func TeeRecorder(recs ...Recorder) Recorder {
	out := make(Recorders, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return noopRecorder{}
	case 1:
		return out[0]
	}
	return out
}

func (rs Recorders) SessionOpened() {
	for _, r := range rs {
		r.SessionOpened()
	}
}

func (rs Recorders) SessionClosed(lifetime time.Duration) {
	for _, r := range rs {
		r.SessionClosed(lifetime)
	}
}

func (rs Recorders) TranscriptResolved(resolved bool) {
	for _, r := range rs {
		r.TranscriptResolved(resolved)
	}
}

func (rs Recorders) VerificationOutcome(outcome string) {
	for _, r := range rs {
		r.VerificationOutcome(outcome)
	}
}

func (rs Recorders) AttendanceEvaluated(first bool) {
	for _, r := range rs {
		r.AttendanceEvaluated(first)
	}
}

func (rs Recorders) BindingsChanged(size int) {
	for _, r := range rs {
		r.BindingsChanged(size)
	}
}

func (rs Recorders) BroadcastDelivered(eventType string, sent, failed int) {
	for _, r := range rs {
		r.BroadcastDelivered(eventType, sent, failed)
	}
}

func (rs Recorders) SideEffect(kind, status string, d time.Duration) {
	for _, r := range rs {
		r.SideEffect(kind, status, d)
	}
}
