package meeting

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EphemeralTag 是转写引擎为某个声音分配的临时标签（如 "Guest-1"）。
// 标签只在单个会话内有意义，上游重连后可能被重新分配。
type EphemeralTag string

// DefaultTag 上游事件未携带说话人标签时使用的标签。
const DefaultTag EphemeralTag = "Guest-1"

// Identity 是声纹验证得到的持久身份（即用户编号 UserNum）。
type Identity string

// UnknownIdentity 是识别引擎表示“未识别”的哨兵值，比较时忽略大小写。
const UnknownIdentity Identity = "Unknown"

// Valid 报告 id 是否是一个可用的身份（非空且不是 Unknown 哨兵）。
func (id Identity) Valid() bool {
	s := strings.TrimSpace(string(id))
	return s != "" && !strings.EqualFold(s, string(UnknownIdentity))
}

// WireValue 返回身份在出站事件中的表示：纯数字身份输出为数字，空身份输出为 null。
func (id Identity) WireValue() any {
	if id == "" {
		return nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return n
	}
	return string(id)
}

// ParseIdentity 将识别引擎返回的 speaker 字段（字符串或数字）规范化为 Identity。
func ParseIdentity(raw any) (Identity, error) {
	switch v := raw.(type) {
	case nil:
		return "", fmt.Errorf("identity is null")
	case string:
		return Identity(strings.TrimSpace(v)), nil
	case json.Number:
		return ParseIdentity(string(v))
	case float64:
		if v != math.Trunc(v) {
			return "", fmt.Errorf("identity %v is not an integer", v)
		}
		return Identity(strconv.FormatInt(int64(v), 10)), nil
	case int:
		return Identity(strconv.Itoa(v)), nil
	case int64:
		return Identity(strconv.FormatInt(v, 10)), nil
	default:
		return "", fmt.Errorf("unsupported identity type %T", raw)
	}
}

// Profile 是某个身份的展示信息，由持久化协作方提供。
type Profile struct {
	Identity    Identity `json:"userNum"`
	DisplayName string   `json:"firstName"`
	ImageRef    string   `json:"imageURL"`
}

// Name 返回展示名，缺失时回退到身份本身。
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return string(p.Identity)
}

// ConfidenceTier 绑定的置信等级。
type ConfidenceTier string

const (
	// TierHigh 由声纹验证信号直接建立的绑定。
	TierHigh ConfidenceTier = "high"
)
