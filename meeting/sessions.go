package meeting

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 管理进程内所有活跃会话。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	hub      *Hub
	cfg      Config
	deps     Dependencies
	logger   *zap.Logger

	onOpen  []func(*Session)
	onClose []func(*Session)
}

// NewRegistry 创建会话注册表。hub 为 nil 时新建一个。
func NewRegistry(hub *Hub, cfg Config, deps Dependencies, logger *zap.Logger) *Registry {
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		hub:      hub,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
	}
}

// OnOpen 注册会话创建回调，需在 Open 之前调用。
func (r *Registry) OnOpen(fn func(*Session)) {
	r.mu.Lock()
	r.onOpen = append(r.onOpen, fn)
	r.mu.Unlock()
}

// OnClose 注册会话关闭回调，需在 Open 之前调用。
func (r *Registry) OnClose(fn func(*Session)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

// Hub 返回底层 Hub。
func (r *Registry) Hub() *Hub {
	return r.hub
}

// Open 为参与者创建会话并加入 room 对应的广播组。调用方负责调用 Run。
func (r *Registry) Open(ctx context.Context, self Participant, room string) *Session {
	var group *Group
	if self != nil {
		group = r.hub.Join(room, self)
	} else {
		group = r.hub.Group(room)
	}
	s := NewSession(ctx, group, self, r.cfg, r.deps, r.logger)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	openHooks := append([]func(*Session){}, r.onOpen...)
	closeHooks := append([]func(*Session){}, r.onClose...)
	r.mu.Unlock()

	s.addCloseHook(func(s *Session) {
		r.mu.Lock()
		delete(r.sessions, s.ID())
		r.mu.Unlock()
		r.hub.Release(s.GroupName())
		for _, fn := range closeHooks {
			fn(s)
		}
	})
	for _, fn := range openHooks {
		fn(s)
	}
	return s
}

// Get 按 ID 查找会话。
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List 返回按创建时间排序的会话列表。
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt().Before(out[j].StartedAt()) })
	return out
}

// Len 返回会话数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown 关闭所有会话，ctx 到期时返回 ctx.Err()。
func (r *Registry) Shutdown(ctx context.Context) error {
	sessions := r.List()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Close()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("all sessions closed", zap.Int("count", len(sessions)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
