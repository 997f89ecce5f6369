package meeting

import (
	"sort"
	"time"
)

// SpeakerBinding 把一个临时标签绑定到一个持久身份上，是展示层的稳定解析结果。
type SpeakerBinding struct {
	Tag             EphemeralTag   `json:"guestId"`
	Identity        Identity       `json:"userNum"`
	DisplayName     string         `json:"firstName"`
	ImageRef        string         `json:"imageURL"`
	LastRefreshedAt time.Time      `json:"lastVerified"`
	Tier            ConfidenceTier `json:"confidence"`
}

// BindingTable 是单个会话的 tag → binding 映射。每个标签至多一个绑定。
//
// BindingTable 不是并发安全的，只能在会话的事件循环中使用。
type BindingTable struct {
	entries map[EphemeralTag]*SpeakerBinding
}

// NewBindingTable 创建空的绑定表。
func NewBindingTable() *BindingTable {
	return &BindingTable{entries: make(map[EphemeralTag]*SpeakerBinding)}
}

// Lookup 返回 tag 当前的绑定。
func (t *BindingTable) Lookup(tag EphemeralTag) (SpeakerBinding, bool) {
	b, ok := t.entries[tag]
	if !ok {
		return SpeakerBinding{}, false
	}
	return *b, true
}

// Refresh 把 tag 的绑定刷新时间更新为 now 并返回刷新后的绑定。
func (t *BindingTable) Refresh(tag EphemeralTag, now time.Time) (SpeakerBinding, bool) {
	b, ok := t.entries[tag]
	if !ok {
		return SpeakerBinding{}, false
	}
	b.LastRefreshedAt = now
	return *b, true
}

// Bind 为 tag 创建或覆盖绑定。
func (t *BindingTable) Bind(tag EphemeralTag, p Profile, now time.Time, tier ConfidenceTier) {
	t.entries[tag] = &SpeakerBinding{
		Tag:             tag,
		Identity:        p.Identity,
		DisplayName:     p.DisplayName,
		ImageRef:        p.ImageRef,
		LastRefreshedAt: now,
		Tier:            tier,
	}
}

// Snapshot 返回按标签排序的全部绑定副本。
func (t *BindingTable) Snapshot() []SpeakerBinding {
	out := make([]SpeakerBinding, 0, len(t.entries))
	for _, b := range t.entries {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Len 返回绑定数量。
func (t *BindingTable) Len() int {
	return len(t.entries)
}

// Clear 删除全部绑定。
func (t *BindingTable) Clear() {
	clear(t.entries)
}
