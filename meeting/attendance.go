package meeting

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Verdict 是一次出勤判定的结果。
type Verdict struct {
	IsFirst     bool
	FirstSeenAt time.Time
}

// AttendanceGate 保证每个身份在一个会话内只触发一次“首次出勤”副作用。
// 成员集合只增不减，直到会话结束。
//
// AttendanceGate 不是并发安全的，只能在会话的事件循环中使用。
type AttendanceGate struct {
	members map[Identity]time.Time
}

// NewAttendanceGate 创建空的出勤门。
func NewAttendanceGate() *AttendanceGate {
	return &AttendanceGate{members: make(map[Identity]time.Time)}
}

// Evaluate 判定 id 是否首次出现；首次出现时原子地加入成员集合。
func (g *AttendanceGate) Evaluate(id Identity, now time.Time) Verdict {
	if seen, ok := g.members[id]; ok {
		return Verdict{IsFirst: false, FirstSeenAt: seen}
	}
	g.members[id] = now
	return Verdict{IsFirst: true, FirstSeenAt: now}
}

// Has 报告 id 是否已在成员集合中。
func (g *AttendanceGate) Has(id Identity) bool {
	_, ok := g.members[id]
	return ok
}

// Members 返回排序后的成员列表。
func (g *AttendanceGate) Members() []Identity {
	ids := lo.Keys(g.members)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 返回成员数量。
func (g *AttendanceGate) Len() int {
	return len(g.members)
}

// Clear 清空成员集合，仅在会话结束时调用。
func (g *AttendanceGate) Clear() {
	clear(g.members)
}
