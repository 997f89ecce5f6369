package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/meetingflow/internal/ctxkeys"
	"github.com/BaSui01/meetingflow/types"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// =============================================================================
// 🧪 响应写入
// =============================================================================

func TestWriteSuccessWithRequest_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-9"))

	WriteSuccessWithRequest(w, r, map[string]int{"count": 2})

	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-9", resp.RequestID)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())

	w = httptest.NewRecorder()
	WriteSuccess(w, "ok")
	assert.Empty(t, decodeResponse(t, w).RequestID)
}

func TestWriteError_StatusFromCode(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrAuthentication, http.StatusUnauthorized},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrProfileNotFound, http.StatusNotFound},
		{types.ErrSessionClosed, http.StatusGone},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrTranscriberFailed, http.StatusBadGateway},
		{types.ErrNotConfigured, http.StatusServiceUnavailable},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, types.NewError(tt.code, "boom").WithRetryable(true), nil)

			assert.Equal(t, tt.want, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.True(t, resp.Error.Retryable)
		})
	}
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "method not allowed", decodeResponse(t, w).Error.Message)
}

func TestWriteError_LogLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	WriteError(httptest.NewRecorder(), types.NewError(types.ErrInvalidRequest, "bad room"), logger)
	WriteError(httptest.NewRecorder(), types.NewError(types.ErrTranscriberFailed, "upstream closed"), logger)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, int64(http.StatusBadGateway), entries[1].ContextMap()["status"])
}

func TestWriteErr(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErr(w, fmt.Errorf("lookup: %w", types.NewError(types.ErrProfileNotFound, "no provider 7")), zap.NewNop())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	WriteErr(w, errors.New("disk on fire"), zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decodeResponse(t, w).Error.Message)
}

// =============================================================================
// 🛡️ 请求解码与校验
// =============================================================================

func TestDecodeJSONBody_SummaryRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "numeric provider", body: `{"summary":"standup done","providerId":7}`},
		{name: "string provider", body: `{"summary":"standup done","providerId":"7","providerName":"Dr. Ada"}`},
		{name: "trailing comma", body: `{"summary":"x",}`, wantErr: "invalid JSON body"},
		{name: "unknown field", body: `{"summary":"x","voice":"alloy"}`, wantErr: "invalid JSON body"},
		{name: "two values", body: `{"summary":"x"}{"summary":"y"}`, wantErr: "invalid JSON body"},
		{name: "trailing newline", body: "{\"summary\":\"standup done\",\"providerId\":1}\n"},
		{name: "too large", body: `{"summary":"` + strings.Repeat("x", maxBodyBytes) + `"}`, wantErr: "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/tts/summary", strings.NewReader(tt.body))

			var req TTSSummaryRequest
			err := DecodeJSONBody(w, r, &req, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "standup done", req.Summary)
				assert.NotNil(t, req.ProviderID)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantErr, decodeResponse(t, w).Error.Message)
		})
	}
}

func TestDecodeJSONBody_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/tts/summary", http.NoBody)

	var req TTSSummaryRequest
	require.Error(t, DecodeJSONBody(w, r, &req, nil))
	assert.Equal(t, "request body is empty", decodeResponse(t, w).Error.Message)
}

func TestValidateStruct_SummaryRequest(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NoError(t, ValidateStruct(w, &TTSSummaryRequest{Summary: "ok", Room: "ward-3"}, nil))

	w = httptest.NewRecorder()
	err := ValidateStruct(w, &TTSSummaryRequest{ProviderName: strings.Repeat("n", 129)}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	msg := decodeResponse(t, w).Error.Message
	assert.Contains(t, msg, "Summary (required)")
	assert.Contains(t, msg, "ProviderName (max)")
}

func TestValidateContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/json":                true,
		"application/json; charset=UTF-8": true,
		"Application/JSON ;charset=utf-8": true,
		"text/plain":                      false,
		"":                                false,
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/tts/summary", nil)
		r.Header.Set("Content-Type", ct)
		assert.Equal(t, want, ValidateContentType(w, r, nil), "content type %q", ct)
	}
}

// =============================================================================
// 📊 ResponseWriter
// =============================================================================

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriter_CapturesFirstStatus(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("pcm"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), rw.Bytes)
}

func TestResponseWriter_Hijack(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _, err := rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")

	under := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = NewResponseWriter(under)
	_, _, err = rw.Hijack()
	require.NoError(t, err)
	assert.True(t, under.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rw.StatusCode)
	assert.Same(t, under, rw.Unwrap())
}
