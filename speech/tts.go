package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/meetingflow/internal/tlsutil"
	"github.com/BaSui01/meetingflow/types"
)

// maxAudioBytes 单次合成音频的读取上限.
const maxAudioBytes = 16 << 20

// OpenAITTS implements meeting.Synthesizer using OpenAI's speech API.
type OpenAITTS struct {
	cfg    TTSConfig
	client *http.Client
}

// NewOpenAITTS creates a new OpenAI TTS provider.
func NewOpenAITTS(cfg TTSConfig) *OpenAITTS {
	def := DefaultTTSConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAITTS{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *OpenAITTS) Name() string { return "openai-tts" }

// Format 返回合成音频格式.
func (p *OpenAITTS) Format() string { return p.cfg.Format }

type openAITTSRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize converts text to speech and returns the encoded audio.
func (p *OpenAITTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if p.cfg.APIKey == "" {
		return nil, types.NewError(types.ErrNotConfigured, "tts api key not configured").WithUpstream(p.Name())
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty tts input").WithUpstream(p.Name())
	}

	payload, err := json.Marshal(openAITTSRequest{
		Model:          p.cfg.Model,
		Input:          text,
		Voice:          p.cfg.Voice,
		ResponseFormat: p.cfg.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/speech",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(p.Name(), resp.StatusCode, errBody)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty tts response").WithUpstream(p.Name())
	}
	return audio, nil
}
