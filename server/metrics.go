package server

import (
	"sync/atomic"
)

// Metrics 记录房间运行期的关键指标（用于监控与调试）
type Metrics struct {
	Joins      int64 // 入场次数
	Leaves     int64 // 离场次数
	Moves      int64 // 移动变更次数
	Renames    int64 // 昵称变更次数
	Chats      int64 // 聊天消息次数
	Broadcasts int64 // 广播事件总数
	Dropped    int64 // 因发送队列满被丢弃的帧数
}

func (m *Metrics) IncJoin()      { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncLeave()     { atomic.AddInt64(&m.Leaves, 1) }
func (m *Metrics) IncMove()      { atomic.AddInt64(&m.Moves, 1) }
func (m *Metrics) IncRename()    { atomic.AddInt64(&m.Renames, 1) }
func (m *Metrics) IncChat()      { atomic.AddInt64(&m.Chats, 1) }
func (m *Metrics) IncBroadcast() { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *Metrics) IncDropped()   { atomic.AddInt64(&m.Dropped, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"joins":      atomic.LoadInt64(&m.Joins),
		"leaves":     atomic.LoadInt64(&m.Leaves),
		"moves":      atomic.LoadInt64(&m.Moves),
		"renames":    atomic.LoadInt64(&m.Renames),
		"chats":      atomic.LoadInt64(&m.Chats),
		"broadcasts": atomic.LoadInt64(&m.Broadcasts),
		"dropped":    atomic.LoadInt64(&m.Dropped),
	}
}
