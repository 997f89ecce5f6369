package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/BaSui01/meetingflow/internal/circuitbreaker"
	"github.com/BaSui01/meetingflow/internal/tlsutil"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
	"go.uber.org/zap"
)

// RecognitionClient 调用声纹识别服务的 /recognize 接口，实现 meeting.VerificationEngine.
type RecognitionClient struct {
	cfg     RecognitionConfig
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// NewRecognitionClient 创建识别客户端.
func NewRecognitionClient(cfg RecognitionConfig, logger *zap.Logger) *RecognitionClient {
	def := DefaultRecognitionConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "recognizer"))

	return &RecognitionClient{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(0),
		breaker: circuitbreaker.New("recognizer", cfg.Breaker, logger),
		logger:  logger,
	}
}

func (c *RecognitionClient) Name() string { return "recognizer" }

// Breaker 返回内部熔断器.
func (c *RecognitionClient) Breaker() *circuitbreaker.Breaker { return c.breaker }

type recognizeResponse struct {
	Speaker any     `json:"speaker"`
	Score   float64 `json:"score"`
}

// Recognize 识别一段 16-bit PCM 音频的说话人.
func (c *RecognitionClient) Recognize(ctx context.Context, pcm []byte) (meeting.Candidate, error) {
	return circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (meeting.Candidate, error) {
		return c.recognize(ctx, pcm)
	})
}

func (c *RecognitionClient) recognize(ctx context.Context, pcm []byte) (meeting.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio.pcm")
	if err != nil {
		return meeting.Candidate{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(pcm); err != nil {
		return meeting.Candidate{}, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := form.Close(); err != nil {
		return meeting.Candidate{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/recognize", &body)
	if err != nil {
		return meeting.Candidate{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return meeting.Candidate{}, classifyTransportError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return meeting.Candidate{}, statusError(c.Name(), resp.StatusCode, errBody)
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return meeting.Candidate{}, types.NewError(types.ErrUpstreamError, "invalid recognize response").
			WithCause(err).
			WithUpstream(c.Name())
	}

	if out.Speaker == nil {
		return meeting.Candidate{Identity: meeting.UnknownIdentity, Score: out.Score}, nil
	}
	id, err := meeting.ParseIdentity(out.Speaker)
	if err != nil {
		return meeting.Candidate{}, types.NewError(types.ErrUpstreamError, "invalid speaker in recognize response").
			WithCause(err).
			WithUpstream(c.Name())
	}
	return meeting.Candidate{Identity: id, Score: out.Score}, nil
}
