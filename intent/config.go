// Package intent 把会议中的一句转写解析为结构化命令。
//
// Client 调用 Azure OpenAI Responses API，携带一组固定的函数工具定义；
// 模型返回的第一个 function_call 即为命令，否则取助手文本作为普通回复。
package intent

import "time"

// DefaultAPIVersion Responses API 版本。
const DefaultAPIVersion = "2025-04-01-preview"

// Config 意图解析配置。Endpoint 为 Azure OpenAI 资源地址，APIKey 通过 api-key 头发送。
type Config struct {
	Endpoint   string        `json:"endpoint" yaml:"endpoint"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	APIVersion string        `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultConfig 返回默认配置，Endpoint 与 APIKey 为空即未启用。
func DefaultConfig() Config {
	return Config{
		Model:      "gpt-5.1-chat",
		APIVersion: DefaultAPIVersion,
		Timeout:    15 * time.Second,
	}
}

// Configured 是否已配置端点与密钥。
func (c Config) Configured() bool {
	return c.Endpoint != "" && c.APIKey != ""
}
