package types

import "context"

// ctxKey 私有键类型，避免与其他包的上下文键冲突
type ctxKey uint8

const (
	traceIDKey ctxKey = iota + 1
	userIDKey
	rolesKey
)

// lookup 取出 T 类型的值，零值视为不存在
func lookup[T comparable](ctx context.Context, k ctxKey) (T, bool) {
	var zero T
	v, ok := ctx.Value(k).(T)
	return v, ok && v != zero
}

// WithTraceID 写入 trace ID，日志与响应体据此关联
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceID(ctx context.Context) (string, bool) {
	return lookup[string](ctx, traceIDKey)
}

// WithUserID 写入 JWT 认证后的调用方身份
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) (string, bool) {
	return lookup[string](ctx, userIDKey)
}

// WithRoles 写入调用方角色
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// Roles 返回调用方角色，空列表视为不存在
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(rolesKey).([]string)
	return v, ok && len(v) > 0
}
