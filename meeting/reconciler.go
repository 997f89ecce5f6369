package meeting

import (
	"time"

	"go.uber.org/zap"
)

// DefaultVerificationWindow 环境身份保持新鲜的时长。
const DefaultVerificationWindow = 3000 * time.Millisecond

// DisplayInfo 是一条转写在展示层的解析结果。
type DisplayInfo struct {
	Tag      EphemeralTag
	Label    string
	Identity Identity
	ImageRef string
	Mapped   bool
}

// Resolved 报告该条转写是否解析到了持久身份。
func (d DisplayInfo) Resolved() bool {
	return d.Identity != ""
}

// BindingListener 在绑定表发生变化后收到完整快照。
type BindingListener func(snapshot []SpeakerBinding)

// ReconcilerOption 配置 Reconciler。
type ReconcilerOption func(*Reconciler)

// WithBindingListener 设置绑定变化回调。
func WithBindingListener(fn BindingListener) ReconcilerOption {
	return func(r *Reconciler) { r.onChange = fn }
}

// WithReconcilerLogger 设置日志器。
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reconciler 把转写流的临时标签与声纹验证流的持久身份对齐。
//
// 规则：
//   - 已有绑定的标签直接使用绑定（绑定是粘性的，只在新信号到来时刷新时间）
//   - 没有绑定时，若环境身份仍在窗口内，则建立绑定
//   - 否则原样返回标签
//
// Reconciler 不是并发安全的，由会话事件循环串行驱动。
type Reconciler struct {
	tags     *TagRegistry
	bindings *BindingTable
	window   time.Duration
	onChange BindingListener
	logger   *zap.Logger
}

// NewReconciler 创建 Reconciler。window <= 0 时使用 DefaultVerificationWindow。
func NewReconciler(tags *TagRegistry, bindings *BindingTable, window time.Duration, opts ...ReconcilerOption) *Reconciler {
	if window <= 0 {
		window = DefaultVerificationWindow
	}
	r := &Reconciler{
		tags:     tags,
		bindings: bindings,
		window:   window,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window 返回新鲜度窗口。
func (r *Reconciler) Window() time.Duration {
	return r.window
}

// Resolve 解析 tag 在 now 时刻的展示信息。
// 已绑定的 tag 只刷新 LastRefreshedAt，不会因为另一个新鲜的环境身份而改绑。
// 新建绑定时会同步触发 BindingListener，因此快照先于调用方后续的广播。
func (r *Reconciler) Resolve(tag EphemeralTag, now time.Time) DisplayInfo {
	if tag == "" {
		tag = DefaultTag
	}

	if b, ok := r.bindings.Refresh(tag, now); ok {
		return DisplayInfo{
			Tag:      tag,
			Label:    labelOf(b.DisplayName, b.Identity),
			Identity: b.Identity,
			ImageRef: b.ImageRef,
			Mapped:   true,
		}
	}

	sig, ok := r.tags.Fresh(now, r.window)
	if !ok {
		return DisplayInfo{Tag: tag, Label: string(tag)}
	}

	r.bindings.Bind(tag, sig.Profile, now, TierHigh)
	r.logger.Info("speaker tag bound",
		zap.String("tag", string(tag)),
		zap.String("identity", string(sig.Identity)),
		zap.Duration("signal_age", now.Sub(sig.ObservedAt)),
	)
	r.notify()

	return DisplayInfo{
		Tag:      tag,
		Label:    labelOf(sig.DisplayName, sig.Identity),
		Identity: sig.Identity,
		ImageRef: sig.ImageRef,
		Mapped:   true,
	}
}

// OnVerification 用通过门限的验证信号覆盖环境身份槽（后写者胜）。
// 绑定表不受影响，绑定只在 Resolve 时按需建立。
func (r *Reconciler) OnVerification(sig AmbientSignal) {
	r.tags.Observe(sig)
}

// Bindings 返回当前绑定快照。
func (r *Reconciler) Bindings() []SpeakerBinding {
	return r.bindings.Snapshot()
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange(r.bindings.Snapshot())
	}
}

func labelOf(name string, id Identity) string {
	if name != "" {
		return name
	}
	return string(id)
}
