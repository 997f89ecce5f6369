package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/meetingflow/internal/tlsutil"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
	"go.uber.org/zap"
)

// NoCommandText 模型既没有调用函数也没有给出文本时的回复。
const NoCommandText = "(no command detected)"

// Client 实现 meeting.IntentExtractor。
type Client struct {
	cfg    Config
	tools  []Tool
	client *http.Client
	logger *zap.Logger
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithTools 替换工具定义。
func WithTools(tools []Tool) Option {
	return func(cl *Client) { cl.tools = tools }
}

// NewClient 创建意图解析客户端。
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		tools:  DefaultTools(),
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "intent")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "azure-openai" }

// --- Responses API Types ---

type responsesRequest struct {
	Model      string           `json:"model"`
	Input      []responsesInput `json:"input"`
	Tools      []Tool           `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Output []responsesOutput `json:"output"`
}

type responsesOutput struct {
	Type      string             `json:"type"`
	ID        string             `json:"id,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
	Role      string             `json:"role,omitempty"`
	Content   []responsesContent `json:"content,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Extract 解析一句转写。未配置时返回 types.ErrNotConfigured。
func (c *Client) Extract(ctx context.Context, req meeting.IntentRequest) (*meeting.IntentResult, error) {
	if !c.cfg.Configured() {
		return nil, types.NewError(types.ErrNotConfigured, "intent endpoint not configured").WithUpstream(c.Name())
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty transcript").WithUpstream(c.Name())
	}

	speaker := speakerRef(req.Identity)
	body := responsesRequest{
		Model: c.cfg.Model,
		Input: []responsesInput{
			{Role: "system", Content: systemPrompt(speaker, req.DisplayName)},
			{Role: "user", Content: fmt.Sprintf("Speaker: %s (ID: %s)\nText: %s", req.DisplayName, speaker, req.Text)},
		},
		Tools:      c.tools,
		ToolChoice: "auto",
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal responses api request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/responses?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), url.QueryEscape(c.cfg.APIVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "invalid responses api payload").
			WithCause(err).
			WithUpstream(c.Name())
	}

	return c.interpret(out), nil
}

// interpret 第一个 function_call 胜出；否则取第一条 message 的文本。
func (c *Client) interpret(out responsesResponse) *meeting.IntentResult {
	for _, item := range out.Output {
		if item.Type != "function_call" {
			continue
		}
		args := map[string]any{}
		if strings.TrimSpace(item.Arguments) != "" {
			if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
				c.logger.Warn("function arguments are not valid json",
					zap.String("function", item.Name), zap.Error(err))
				args = map[string]any{}
			}
		}
		return &meeting.IntentResult{
			Kind:      meeting.IntentFunctionCall,
			Name:      item.Name,
			Arguments: args,
		}
	}

	text := NoCommandText
	for _, item := range out.Output {
		if item.Type != "message" {
			continue
		}
		if len(item.Content) > 0 && item.Content[0].Text != "" {
			text = item.Content[0].Text
		}
		break
	}
	return &meeting.IntentResult{Kind: meeting.IntentAIResponse, Text: text}
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "responses api timed out").
			WithCause(err).WithRetryable(true).WithUpstream(c.Name())
	}
	return types.NewError(types.ErrServiceUnavailable, "responses api unreachable").
		WithCause(err).WithRetryable(true).WithUpstream(c.Name())
}

func (c *Client) statusError(status int, msg string) error {
	var code types.ErrorCode
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = types.ErrAuthentication
	case status == http.StatusTooManyRequests:
		code, retryable = types.ErrRateLimited, true
	case status >= 500:
		code, retryable = types.ErrUpstreamError, status != http.StatusInternalServerError
	default:
		code = types.ErrInvalidRequest
	}
	return types.NewError(code, fmt.Sprintf("status=%d body=%s", status, msg)).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithUpstream(c.Name())
}

// speakerRef 未验证身份时使用 "unverified"。
func speakerRef(id meeting.Identity) string {
	if id == "" {
		return "unverified"
	}
	return string(id)
}

func systemPrompt(speakerID, displayName string) string {
	return fmt.Sprintf(`You are a healthcare meeting assistant. Extract function calls from user speech.
The speaker's verified ID is: %[1]s
The speaker's name is: %[2]s
Use the speaker ID (%[1]s) as the provider_id and the speaker's name as the provider_name in all function calls.

Available functions:
1. handle_care_unit_action - For add/update/delete operations on care-unit actions or CPT codes
2. update_ghs_score - For updating Global Health Score categories (body, mind, motivation, etc.)
3. ai_patient_document_search - For searching patient documents
4. start_scrum - For starting the scrum meeting
5. close_ui_element - For closing an open report, document, or modal
6. approve_action - For approving a pending action or decision

For GHS updates, map phrases like:
- "mind is good" -> category: "mind", code: 1
- "body poor" -> category: "body", code: 3
- "high motivation" -> category: "motivation", code: 1

Only extract function calls when the speaker clearly intends to perform an action.`, speakerID, displayName)
}
