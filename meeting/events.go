package meeting

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// EventType 出站事件类型。
type EventType string

const (
	EventTranscript       EventType = "transcript"
	EventSpeakerVerified  EventType = "speaker_verified"
	EventAttendanceMarked EventType = "attendance_marked"
	EventTTSAudio         EventType = "tts_audio"
	EventSpeakerMapping   EventType = "speaker_mapping"
	EventFunctionCall     EventType = "function_call"
	EventAIResponse       EventType = "ai_response"
	EventStatus           EventType = "status"
	EventError            EventType = "error"
	EventTTSSummary       EventType = "tts_summary"
	EventPong             EventType = "pong"
)

// Event 是推送给参与者的一条消息。
// 序列化后为扁平 JSON 对象：{"type": ..., <payload 字段>..., "timestamp": <毫秒>}。
type Event struct {
	Type    EventType
	Payload map[string]any
	At      time.Time
}

// MarshalJSON 把 Payload 展开到顶层。
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = string(e.Type)
	out["timestamp"] = e.At.UnixMilli()
	return json.Marshal(out)
}

// =============================================================================
// 🏗️ 事件构造
// =============================================================================

// NewTranscriptEvent 构造转写事件。
func NewTranscriptEvent(info DisplayInfo, text string, at time.Time) Event {
	return Event{Type: EventTranscript, At: at, Payload: map[string]any{
		"speaker":  info.Label,
		"guestId":  string(info.Tag),
		"userNum":  info.Identity.WireValue(),
		"text":     text,
		"isFinal":  true,
		"isMapped": info.Mapped,
	}}
}

// NewSpeakerVerifiedEvent 构造首次验证事件，score 保留两位小数。
func NewSpeakerVerifiedEvent(p Profile, score float64, at time.Time) Event {
	return Event{Type: EventSpeakerVerified, At: at, Payload: map[string]any{
		"userNum":   p.Identity.WireValue(),
		"firstName": p.DisplayName,
		"imageURL":  p.ImageRef,
		"score":     fmt.Sprintf("%.2f", score),
	}}
}

// NewAttendanceMarkedEvent 构造出勤已记录事件。
func NewAttendanceMarkedEvent(p Profile, at time.Time) Event {
	return Event{Type: EventAttendanceMarked, At: at, Payload: map[string]any{
		"userNum":   p.Identity.WireValue(),
		"firstName": p.DisplayName,
		"imageURL":  p.ImageRef,
	}}
}

// NewTTSAudioEvent 构造欢迎语音事件，audio 以 base64 编码。
func NewTTSAudioEvent(p Profile, audio []byte, message string, at time.Time) Event {
	return Event{Type: EventTTSAudio, At: at, Payload: map[string]any{
		"userNum":   p.Identity.WireValue(),
		"firstName": p.DisplayName,
		"imageURL":  p.ImageRef,
		"audio":     base64.StdEncoding.EncodeToString(audio),
		"message":   message,
	}}
}

// NewSpeakerMappingEvent 构造绑定表快照事件。
func NewSpeakerMappingEvent(snapshot []SpeakerBinding, at time.Time) Event {
	mappings := make([]map[string]any, 0, len(snapshot))
	for _, b := range snapshot {
		mappings = append(mappings, map[string]any{
			"guestId":      string(b.Tag),
			"userNum":      b.Identity.WireValue(),
			"firstName":    b.DisplayName,
			"imageURL":     b.ImageRef,
			"lastVerified": b.LastRefreshedAt.UnixMilli(),
		})
	}
	return Event{Type: EventSpeakerMapping, At: at, Payload: map[string]any{
		"mappings": mappings,
	}}
}

// NewFunctionCallEvent 构造命令意图事件，附带发起者信息。
func NewFunctionCallEvent(res *IntentResult, speaker DisplayInfo, at time.Time) Event {
	return Event{Type: EventFunctionCall, At: at, Payload: map[string]any{
		"success":          true,
		"functionName":     res.Name,
		"arguments":        res.Arguments,
		"message":          res.Name + " detected - UI should update",
		"providerId":       speaker.Identity.WireValue(),
		"providerName":     speaker.Label,
		"providerImageURL": speaker.ImageRef,
	}}
}

// NewAIResponseEvent 构造纯文本回复事件。
func NewAIResponseEvent(res *IntentResult, speaker DisplayInfo, at time.Time) Event {
	return Event{Type: EventAIResponse, At: at, Payload: map[string]any{
		"text":         res.Text,
		"providerId":   speaker.Identity.WireValue(),
		"providerName": speaker.Label,
	}}
}

// NewTTSSummaryEvent 构造摘要播报事件，providerID 为空时不附带提供者信息。
func NewTTSSummaryEvent(audio []byte, summary string, providerID Identity, providerName string, at time.Time) Event {
	payload := map[string]any{
		"audio":   base64.StdEncoding.EncodeToString(audio),
		"summary": summary,
	}
	if providerID != "" {
		payload["providerId"] = providerID.WireValue()
	}
	if providerName != "" {
		payload["providerName"] = providerName
	}
	return Event{Type: EventTTSSummary, At: at, Payload: payload}
}

// NewStatusEvent 构造状态事件。
func NewStatusEvent(message string, at time.Time) Event {
	return Event{Type: EventStatus, At: at, Payload: map[string]any{"message": message}}
}

// NewErrorEvent 构造错误事件。
func NewErrorEvent(message string, at time.Time) Event {
	return Event{Type: EventError, At: at, Payload: map[string]any{"message": message}}
}

// NewPongEvent 构造心跳应答。
func NewPongEvent(at time.Time) Event {
	return Event{Type: EventPong, At: at}
}
