package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/BaSui01/meetingflow/internal/tlsutil"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// StreamingTranscriber 通过 WebSocket 连接流式转写服务，实现 meeting.TranscriptEngine。
//
// 上行为二进制 PCM 帧；下行为 JSON 文本帧，只处理 type=transcribed 的最终结果。
type StreamingTranscriber struct {
	cfg    TranscriberConfig
	logger *zap.Logger
}

// NewStreamingTranscriber 创建转写客户端。
func NewStreamingTranscriber(cfg TranscriberConfig, logger *zap.Logger) *StreamingTranscriber {
	def := DefaultTranscriberConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingTranscriber{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "transcriber")),
	}
}

// transcriberFrame 是转写服务下行帧。
type transcriberFrame struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speakerId"`
	Text      string `json:"text"`
	Offset    int64  `json:"offset,omitempty"`
	Duration  int64  `json:"duration,omitempty"`
}

// Start 建立连接，握手成功即视为启动成功。ctx 取消时连接随之关闭。
func (t *StreamingTranscriber) Start(ctx context.Context) (meeting.TranscriptStream, error) {
	if t.cfg.URL == "" {
		return nil, types.NewError(types.ErrNotConfigured, "transcriber url not configured")
	}

	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid transcriber url").WithCause(err)
	}
	q := u.Query()
	q.Set("language", t.cfg.Language)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: tlsutil.WebSocketClient(),
		HTTPHeader: header,
	})
	if err != nil {
		return nil, types.NewError(types.ErrTranscriberFailed, "failed to connect transcriber").WithCause(err)
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	streamCtx, stop := context.WithCancel(ctx)
	s := &transcriptStream{
		conn:   conn,
		events: make(chan meeting.TranscriptEvent, 64),
		ctx:    streamCtx,
		cancel: stop,
		logger: t.logger,
	}
	go s.readLoop()

	t.logger.Info("transcriber connected", zap.String("language", t.cfg.Language))
	return s, nil
}

// transcriptStream 是一次转写连接。写操作通过 mutex 保护。
type transcriptStream struct {
	conn   *websocket.Conn
	events chan meeting.TranscriptEvent
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
}

func (s *transcriptStream) Events() <-chan meeting.TranscriptEvent { return s.events }

// SendAudio 以二进制帧推送音频。
func (s *transcriptStream) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Stop 关闭连接，可重复调用。
func (s *transcriptStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		err = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.cancel()
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

func (s *transcriptStream) readLoop() {
	defer close(s.events)
	defer s.cancel()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || s.ctx.Err() != nil {
				s.logger.Debug("transcriber stream closed")
			} else {
				s.logger.Warn("transcriber stream failed", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame transcriberFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("ignoring malformed transcriber frame", zap.Error(err))
			continue
		}
		if frame.Type != "transcribed" || strings.TrimSpace(frame.Text) == "" {
			continue
		}

		tag := meeting.EphemeralTag(frame.SpeakerID)
		if tag == "" {
			tag = meeting.DefaultTag
		}

		select {
		case s.events <- meeting.TranscriptEvent{Tag: tag, Text: frame.Text}:
		case <-s.ctx.Done():
			return
		}
	}
}
