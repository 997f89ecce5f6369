package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
)

// =============================================================================
// 🔊 摘要播报 Handler
// =============================================================================

// GroupBroadcaster 向指定广播组推送事件，*meeting.Hub 实现了该接口
type GroupBroadcaster interface {
	Broadcast(ctx context.Context, group string, evt meeting.Event) meeting.Delivery
}

// TTSSummaryRequest 摘要播报请求
type TTSSummaryRequest struct {
	Summary      string `json:"summary" validate:"required,max=8000"`
	ProviderID   any    `json:"providerId,omitempty"`
	ProviderName string `json:"providerName,omitempty" validate:"max=128"`
	Room         string `json:"room,omitempty" validate:"omitempty,max=64"`
}

// TTSSummaryResponse 摘要播报响应
type TTSSummaryResponse struct {
	Message     string           `json:"message"`
	AudioBase64 string           `json:"audioBase64"`
	Delivery    meeting.Delivery `json:"delivery"`
}

// TTSHandler 合成摘要语音并广播给会议组
type TTSHandler struct {
	synth  meeting.Synthesizer
	groups GroupBroadcaster
	logger *zap.Logger
}

// NewTTSHandler 创建摘要播报处理器
func NewTTSHandler(synth meeting.Synthesizer, groups GroupBroadcaster, logger *zap.Logger) *TTSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TTSHandler{
		synth:  synth,
		groups: groups,
		logger: logger.With(zap.String("handler", "tts")),
	}
}

// HandleSummary 处理 POST /api/tts/summary
func (h *TTSHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req TTSSummaryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := ValidateStruct(w, &req, h.logger); err != nil {
		return
	}

	room, ok := roomName(req.Room)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid room name", h.logger)
		return
	}

	var provider meeting.Identity
	if req.ProviderID != nil {
		id, err := meeting.ParseIdentity(req.ProviderID)
		if err != nil {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid providerId").WithCause(err), h.logger)
			return
		}
		provider = id
	}

	if h.synth == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrNotConfigured, "tts is not configured", h.logger)
		return
	}

	h.logger.Info("generating summary speech",
		zap.Int("chars", len(req.Summary)),
		zap.String("room", room),
	)

	audio, err := h.synth.Synthesize(r.Context(), req.Summary)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	evt := meeting.NewTTSSummaryEvent(audio, req.Summary, provider, req.ProviderName, time.Now())
	delivery := h.groups.Broadcast(r.Context(), room, evt)

	WriteSuccessWithRequest(w, r, TTSSummaryResponse{
		Message:     "TTS generated and sent via WebSocket",
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Delivery:    delivery,
	})
}
