package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/meetingflow/api/handlers"
	"github.com/BaSui01/meetingflow/config"
	"github.com/BaSui01/meetingflow/types"
)

// =============================================================================
// 🔐 JWT 认证
// =============================================================================

// meetingClaims 是参会端与管理端 token 的声明。身份取 sub，缺省时取 user_id。
type meetingClaims struct {
	UserID string   `json:"user_id,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *meetingClaims) identity() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

var errNoVerificationKey = errors.New("no verification key for signing method")

// tokenVerifier 持有解析好的密钥与校验选项
type tokenVerifier struct {
	secret []byte
	rsaKey any
	opts   []jwt.ParserOption
}

func newTokenVerifier(cfg config.JWTConfig, logger *zap.Logger) *tokenVerifier {
	v := &tokenVerifier{
		opts: []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})},
	}
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
	}
	if cfg.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			logger.Warn("RS256 verification disabled: invalid public key", zap.Error(err))
		} else {
			v.rsaKey = key
		}
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v
}

func (v *tokenVerifier) key(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret != nil {
			return v.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if v.rsaKey != nil {
			return v.rsaKey, nil
		}
	}
	return nil, fmt.Errorf("%w %s", errNoVerificationKey, token.Method.Alg())
}

func (v *tokenVerifier) verify(raw string) (*meetingClaims, error) {
	claims := &meetingClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, v.key, v.opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken 读取 Authorization 头；浏览器无法为 WebSocket 握手设置请求头，
// allowQuery 为 true 时回退到 ?token= 参数。
func bearerToken(r *http.Request, allowQuery bool) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// JWTAuth 校验 HS256 / RS256 token，并把身份与角色写入请求上下文。
// skipPaths 中的探针路径不需要认证。
func JWTAuth(cfg config.JWTConfig, skipPaths []string, allowQueryToken bool, logger *zap.Logger) Middleware {
	verifier := newTokenVerifier(cfg, logger)
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	reject := func(w http.ResponseWriter, msg string) {
		handlers.WriteError(w, types.NewError(types.ErrAuthentication, msg), nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r, allowQueryToken)
			if raw == "" {
				reject(w, "missing bearer token")
				return
			}
			claims, err := verifier.verify(raw)
			if err != nil {
				logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				reject(w, "invalid or expired token")
				return
			}

			ctx := r.Context()
			if id := claims.identity(); id != "" {
				ctx = types.WithUserID(ctx, id)
			}
			if len(claims.Roles) > 0 {
				ctx = types.WithRoles(ctx, claims.Roles)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
