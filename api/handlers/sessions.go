package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
)

// snapshotTimeout 单个会话快照的等待上限
const snapshotTimeout = time.Second

// SessionSummary 会话列表项
type SessionSummary struct {
	ID        string    `json:"id"`
	Group     string    `json:"group"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Bindings  int       `json:"bindings"`
	Attendees int       `json:"attendees"`
}

// SessionsHandler 查询进程内活跃会话
type SessionsHandler struct {
	registry *meeting.Registry
	logger   *zap.Logger
}

// NewSessionsHandler 创建会话查询处理器
func NewSessionsHandler(registry *meeting.Registry, logger *zap.Logger) *SessionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionsHandler{registry: registry, logger: logger.With(zap.String("handler", "sessions"))}
}

func (h *SessionsHandler) snapshot(ctx context.Context, s *meeting.Session) (meeting.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return s.Snapshot(ctx)
}

// HandleList 处理 GET /api/v1/sessions；查询期间关闭的会话被跳过
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	summaries := lo.FilterMap(h.registry.List(), func(s *meeting.Session, _ int) (SessionSummary, bool) {
		snap, err := h.snapshot(r.Context(), s)
		if err != nil {
			h.logger.Debug("skipping session", zap.String("session_id", s.ID()), zap.Error(err))
			return SessionSummary{}, false
		}
		return SessionSummary{
			ID:        snap.ID,
			Group:     snap.Group,
			State:     snap.State,
			StartedAt: snap.StartedAt,
			Bindings:  len(snap.Bindings),
			Attendees: len(snap.Attendees),
		}, true
	})

	WriteSuccessWithRequest(w, r, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
		"groups":   h.registry.Hub().Groups(),
	})
}

// HandleGet 处理 GET /api/v1/sessions/{id}
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.registry.Get(id)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "session not found", h.logger)
		return
	}

	snap, err := h.snapshot(r.Context(), s)
	switch {
	case err == nil:
		WriteSuccessWithRequest(w, r, snap)
	case errors.Is(err, types.ErrClosed):
		WriteError(w, types.NewError(types.ErrSessionClosed, "session closed"), h.logger)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, types.NewError(types.ErrTimeout, "session did not respond").WithRetryable(true), h.logger)
	default:
		WriteErr(w, err, h.logger)
	}
}
