package config

import (
	"encoding/json"
	"strings"
)

// RedactedValue 替换敏感字段的占位符
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"password", "api_key", "apikey", "secret", "token", "credential", "public_key", "dsn"}

// Sanitized 返回脱敏后的配置视图，非空的敏感字符串字段被替换为 RedactedValue。
func (c *Config) Sanitized() map[string]any {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	redact(out)
	return out
}

func redact(data map[string]any) {
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			redact(nested)
			continue
		}
		if s, ok := value.(string); !ok || s == "" {
			continue
		}
		lower := strings.ToLower(key)
		for _, k := range sensitiveKeys {
			if strings.Contains(lower, k) {
				data[key] = RedactedValue
				break
			}
		}
	}
}
