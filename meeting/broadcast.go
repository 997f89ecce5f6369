package meeting

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultGroup 未指定房间时使用的广播组名。
const DefaultGroup = "meeting"

const (
	defaultSendTimeout     = 5 * time.Second
	defaultSendConcurrency = 32
)

// Participant 是广播组中的一个接收端，通常对应一个 WebSocket 连接。
type Participant interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Delivery 是一次广播的投递统计。
type Delivery struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// GroupOption 配置 Group。
type GroupOption func(*Group)

// WithSendTimeout 设置单个参与者的发送超时。
func WithSendTimeout(d time.Duration) GroupOption {
	return func(g *Group) {
		if d > 0 {
			g.sendTimeout = d
		}
	}
}

// WithSendConcurrency 设置并发发送上限。
func WithSendConcurrency(n int) GroupOption {
	return func(g *Group) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithGroupLogger 设置日志器。
func WithGroupLogger(logger *zap.Logger) GroupOption {
	return func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGroupRecorder 设置指标接收方。
func WithGroupRecorder(rec Recorder) GroupOption {
	return func(g *Group) {
		if rec != nil {
			g.recorder = rec
		}
	}
}

// Group 是一组参与者，广播尽力投递：单个参与者失败不影响其它参与者。
type Group struct {
	name        string
	mu          sync.RWMutex
	members     map[string]Participant
	sendTimeout time.Duration
	concurrency int
	logger      *zap.Logger
	recorder    Recorder
}

// NewGroup 创建广播组。
func NewGroup(name string, opts ...GroupOption) *Group {
	if name == "" {
		name = DefaultGroup
	}
	g := &Group{
		name:        name,
		members:     make(map[string]Participant),
		sendTimeout: defaultSendTimeout,
		concurrency: defaultSendConcurrency,
		logger:      zap.NewNop(),
		recorder:    noopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("group", name))
	return g
}

// Name 返回组名。
func (g *Group) Name() string { return g.name }

// Join 加入参与者，同 ID 覆盖。
func (g *Group) Join(p Participant) {
	g.mu.Lock()
	g.members[p.ID()] = p
	g.mu.Unlock()
}

// Leave 移除参与者，返回是否确实移除。
func (g *Group) Leave(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[id]; !ok {
		return false
	}
	delete(g.members, id)
	return true
}

// Len 返回当前成员数。
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Members 返回成员快照。
func (g *Group) Members() []Participant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Participant, 0, len(g.members))
	for _, p := range g.members {
		out = append(out, p)
	}
	return out
}

// Broadcast 把事件序列化一次后并发发给所有成员。
// 成员列表在发送前快照，期间的加入或离开不影响本次广播。
func (g *Group) Broadcast(ctx context.Context, evt Event) Delivery {
	data, err := json.Marshal(evt)
	if err != nil {
		g.logger.Error("failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return Delivery{}
	}

	members := g.Members()
	var sent, failed atomic.Int64

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for _, p := range members {
		eg.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
			defer cancel()
			if err := p.Send(sendCtx, data); err != nil {
				failed.Add(1)
				g.logger.Debug("send to participant failed",
					zap.String("participant", p.ID()),
					zap.String("type", string(evt.Type)),
					zap.Error(err),
				)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	d := Delivery{Sent: int(sent.Load()), Failed: int(failed.Load())}
	if d.Failed > 0 {
		g.logger.Warn("broadcast partially failed",
			zap.String("type", string(evt.Type)),
			zap.Int("sent", d.Sent),
			zap.Int("failed", d.Failed),
		)
	}
	g.recorder.BroadcastDelivered(string(evt.Type), d.Sent, d.Failed)
	return d
}

// =============================================================================
// 🏠 Hub
// =============================================================================

// Hub 按房间名管理广播组。
type Hub struct {
	mu     sync.Mutex
	groups map[string]*Group
	opts   []GroupOption
}

// NewHub 创建 Hub，opts 作用于之后创建的每个组。
func NewHub(opts ...GroupOption) *Hub {
	return &Hub{groups: make(map[string]*Group), opts: opts}
}

// Group 返回指定房间的组，不存在则创建。name 为空时使用 DefaultGroup。
func (h *Hub) Group(name string) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groupLocked(name)
}

// Join 在同一把锁内取得房间的组并让 p 加入，与 Release 互斥，
// 保证 p 所在的组始终是 Hub 登记的那一个。
func (h *Hub) Join(name string, p Participant) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groupLocked(name)
	g.Join(p)
	return g
}

func (h *Hub) groupLocked(name string) *Group {
	if name == "" {
		name = DefaultGroup
	}
	g, ok := h.groups[name]
	if !ok {
		g = NewGroup(name, h.opts...)
		h.groups[name] = g
	}
	return g
}

// Release 在组为空时将其移除，与 Join 共用 h.mu。
func (h *Hub) Release(name string) {
	if name == "" {
		name = DefaultGroup
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[name]; ok && g.Len() == 0 {
		delete(h.groups, name)
	}
}

// Broadcast 向指定房间广播，房间不存在时返回零值。
func (h *Hub) Broadcast(ctx context.Context, name string, evt Event) Delivery {
	if name == "" {
		name = DefaultGroup
	}
	h.mu.Lock()
	g, ok := h.groups[name]
	h.mu.Unlock()
	if !ok {
		return Delivery{}
	}
	return g.Broadcast(ctx, evt)
}

// Groups 返回排序后的房间名。
func (h *Hub) Groups() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
