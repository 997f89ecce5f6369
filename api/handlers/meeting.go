package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/internal/ctxkeys"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
)

// =============================================================================
// 🎙️ 会议 WebSocket Handler
// =============================================================================

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// roomName 解析 room 参数，空值使用进程级默认组
func roomName(raw string) (string, bool) {
	if raw == "" {
		return meeting.DefaultGroup, true
	}
	return raw, roomPattern.MatchString(raw)
}

// MeetingHandlerConfig 会议连接参数
type MeetingHandlerConfig struct {
	// 允许的 Origin 模式，空表示只允许同源
	OriginPatterns []string
	// 单帧读取上限
	ReadLimit int64
	// WebSocket 层心跳间隔，0 关闭
	PingInterval time.Duration
}

// DefaultMeetingHandlerConfig 返回默认参数
func DefaultMeetingHandlerConfig() MeetingHandlerConfig {
	return MeetingHandlerConfig{
		ReadLimit:    1 << 20,
		PingInterval: 30 * time.Second,
	}
}

// MeetingHandler 处理 /meeting WebSocket 连接：每个连接一个会话
type MeetingHandler struct {
	registry *meeting.Registry
	cfg      MeetingHandlerConfig
	logger   *zap.Logger
}

// NewMeetingHandler 创建会议处理器
func NewMeetingHandler(registry *meeting.Registry, cfg MeetingHandlerConfig, logger *zap.Logger) *MeetingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultMeetingHandlerConfig().ReadLimit
	}
	return &MeetingHandler{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("handler", "meeting")),
	}
}

// controlMessage 客户端文本帧
type controlMessage struct {
	Type string `json:"type"`
}

// HandleMeeting 处理 GET /meeting[?room=<name>]
func (h *MeetingHandler) HandleMeeting(w http.ResponseWriter, r *http.Request) {
	room, ok := roomName(r.URL.Query().Get("room"))
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid room name", h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept 已写入错误响应
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	ctx := ctxkeys.WithRoom(r.Context(), room)
	p := newWSParticipant(conn, h.logger)
	sess := h.registry.Open(ctx, p, room)
	ctx = ctxkeys.WithSessionID(ctx, sess.ID())

	logger := h.logger.With(zap.String("session_id", sess.ID()), zap.String("room", room))
	if id, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}
	logger.Info("meeting client connected", zap.String("remote_addr", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.readLoop(ctx, conn, p, sess, logger)
	}()

	if h.cfg.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.keepalive(conn, sess, logger)
		}()
	}

	if err := sess.Run(); err != nil {
		logger.Error("session run failed", zap.Error(err))
	}

	_ = p.Close(websocket.StatusNormalClosure, "session closed")
	wg.Wait()
	logger.Info("meeting client disconnected")
}

// readLoop 读取客户端帧：二进制为 PCM 音频，文本为控制消息
func (h *MeetingHandler) readLoop(ctx context.Context, conn *websocket.Conn, p *wsParticipant, sess *meeting.Session, logger *zap.Logger) {
	defer sess.Close()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				logger.Debug("websocket closed", zap.Int("status", int(status)))
			} else {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			sess.PushAudio(data)
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Debug("ignoring malformed control message", zap.Error(err))
				continue
			}
			switch msg.Type {
			case "ping":
				h.pong(ctx, p, logger)
			case "stop":
				logger.Info("client requested stop")
				return
			default:
				logger.Debug("ignoring control message", zap.String("type", msg.Type))
			}
		}
	}
}

func (h *MeetingHandler) pong(ctx context.Context, p *wsParticipant, logger *zap.Logger) {
	data, err := json.Marshal(meeting.NewPongEvent(time.Now()))
	if err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Send(sendCtx, data); err != nil {
		logger.Debug("failed to send pong", zap.Error(err))
	}
}

// keepalive 周期性发送 WebSocket ping，对端无响应时关闭会话
func (h *MeetingHandler) keepalive(conn *websocket.Conn, sess *meeting.Session, logger *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PingInterval)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				logger.Info("keepalive failed, closing session", zap.Error(err))
				sess.Close()
				return
			}
		}
	}
}

// =============================================================================
// 🔌 wsParticipant
// =============================================================================

// wsParticipant 把 WebSocket 连接适配为 meeting.Participant。
type wsParticipant struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

func newWSParticipant(conn *websocket.Conn, logger *zap.Logger) *wsParticipant {
	id := uuid.NewString()
	return &wsParticipant{
		id:     id,
		conn:   conn,
		logger: logger.With(zap.String("participant_id", id)),
	}
}

func (p *wsParticipant) ID() string { return p.id }

// Send 发送一条 JSON 文本帧
func (p *wsParticipant) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("connection closed")
	}
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 关闭连接，可重复调用
func (p *wsParticipant) Close(code websocket.StatusCode, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.conn.Close(code, reason)
}
