package speech

import (
	"time"

	"github.com/BaSui01/meetingflow/internal/circuitbreaker"
)

// TranscriberConfig 配置流式转写客户端.
type TranscriberConfig struct {
	URL         string        `json:"url" yaml:"url"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Language    string        `json:"language,omitempty" yaml:"language,omitempty"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
	ReadLimit   int64         `json:"read_limit,omitempty" yaml:"read_limit,omitempty"`
}

// RecognitionConfig 配置声纹识别客户端.
type RecognitionConfig struct {
	BaseURL string                `json:"base_url" yaml:"base_url"`
	Timeout time.Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Breaker circuitbreaker.Config `json:"-" yaml:"-"`
}

// TTSConfig 配置 OpenAI TTS 供应商.
type TTSConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // tts-1, tts-1-hd
	Voice   string        `json:"voice,omitempty" yaml:"voice,omitempty"` // alloy, echo, fable, onyx, nova, shimmer
	Format  string        `json:"format,omitempty" yaml:"format,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultTranscriberConfig 返回默认转写配置.
func DefaultTranscriberConfig() TranscriberConfig {
	return TranscriberConfig{
		Language:    "en-US",
		DialTimeout: 10 * time.Second,
		ReadLimit:   1 << 20,
	}
}

// DefaultRecognitionConfig 返回默认识别配置.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		BaseURL: "http://localhost:8000",
		Timeout: time.Second,
		Breaker: circuitbreaker.Config{
			Threshold:    5,
			ResetTimeout: 30 * time.Second,
		},
	}
}

// DefaultTTSConfig 返回默认 TTS 配置.
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		BaseURL: "https://api.openai.com",
		Model:   "tts-1",
		Voice:   "nova",
		Format:  "mp3",
		Timeout: 30 * time.Second,
	}
}
