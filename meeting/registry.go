package meeting

import "time"

// AmbientSignal 是最近一次通过置信度门限的声纹验证结果（“环境身份”）。
type AmbientSignal struct {
	Profile
	Score      float64   `json:"score"`
	ObservedAt time.Time `json:"observedAt"`
}

// TagRegistry 记录会话当前的环境身份。
// 它只有一个槽位：新的信号总是整体替换旧信号，不做合并，也不做时序校验。
//
// TagRegistry 不是并发安全的，只能在会话的事件循环中使用。
type TagRegistry struct {
	ambient *AmbientSignal
}

// NewTagRegistry 创建空的注册表。
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{}
}

// Observe 用 sig 覆盖环境身份槽位（last-write-wins）。
func (r *TagRegistry) Observe(sig AmbientSignal) {
	s := sig
	r.ambient = &s
}

// Current 返回当前槽位中的信号，不考虑新鲜度。
func (r *TagRegistry) Current() (AmbientSignal, bool) {
	if r.ambient == nil {
		return AmbientSignal{}, false
	}
	return *r.ambient, true
}

// Fresh 返回在 now 时刻仍处于窗口内的环境身份。
// 窗口是左闭右开的：now - ObservedAt < window 才算新鲜。
func (r *TagRegistry) Fresh(now time.Time, window time.Duration) (AmbientSignal, bool) {
	if r.ambient == nil {
		return AmbientSignal{}, false
	}
	if now.Sub(r.ambient.ObservedAt) >= window {
		return AmbientSignal{}, false
	}
	return *r.ambient, true
}

// Clear 清空槽位。
func (r *TagRegistry) Clear() {
	r.ambient = nil
}
