package server

import (
	"encoding/json"
	"sync"
	"time"

	"fori/shared"
)

const defaultWalkClear = 200 * time.Millisecond

// Sink 广播出口：非阻塞投递一条编码好的消息
// 由 ClientConn 实现；测试中可替换为内存记录器
type Sink interface {
	Enqueue(b []byte)
}

// Registry 房间权威状态：id -> PlayerState，唯一的服务端共享可变资源
// 五种变更（join/move/rename/chat/leave）在同一把锁下互斥；
// 广播只在锁内收集连接列表，实际投递在锁外进行，慢连接不会拖住别人
type Registry struct {
	mu      sync.Mutex
	players map[string]*shared.PlayerState
	sinks   map[string]Sink
	walkers map[string]*time.Timer // 每 id 一个行走清除定时器，离开时取消
	walkGen map[string]uint64      // 行走代次：已触发但尚未拿到锁的旧清除据此作废

	walkClear time.Duration
	metrics   *Metrics
}

// NewRegistry 创建空房间
func NewRegistry(m *Metrics) *Registry {
	if m == nil {
		m = &Metrics{}
	}
	return &Registry{
		players:   make(map[string]*shared.PlayerState),
		sinks:     make(map[string]Sink),
		walkers:   make(map[string]*time.Timer),
		walkGen:   make(map[string]uint64),
		walkClear: defaultWalkClear,
		metrics:   m,
	}
}

// Join 新连接入场：插入默认状态，私发全量快照，再向所有人广播 player_joined
// 必须先于该 id 的其他任何操作执行
func (r *Registry) Join(id string, sink Sink) {
	r.mu.Lock()
	r.players[id] = &shared.PlayerState{
		ID:        id,
		X:         0,
		Y:         0,
		Direction: shared.DirDown,
	}
	if sink != nil {
		r.sinks[id] = sink
	}
	snapshot := r.snapshotLocked()
	sinks := r.sinksLocked()
	r.mu.Unlock()

	// 先让新人拿到快照与自己的 id，再让所有人（含新人）看到入场广播
	if sink != nil {
		if b, err := encode(shared.Event{Type: shared.EvRoomSnapshot, You: id, Players: snapshot}); err == nil {
			sink.Enqueue(b)
		}
	}
	r.fanout(sinks, shared.Event{Type: shared.EvPlayerJoined, Players: snapshot})
	r.metrics.IncJoin()
	Log.Infof("player joined: %s (room size %d)", id, len(snapshot))
}

// Move 无条件覆盖位置与朝向（越界裁剪是客户端职责），并标记行走中
// id 不存在说明撞上了断线竞态，按良性竞态静默丢弃
func (r *Registry) Move(id string, x, y float64, dir shared.Direction) {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.X, p.Y, p.Direction = x, y, dir
	p.Walking = true
	state := *p
	// 连续移动时重置清除定时器，保证最后一次移动之后 ~200ms 才停止动画；
	// Stop 拦不住已经触发、正在等锁的旧定时器，代次不符的清除在锁内作废
	if t := r.walkers[id]; t != nil {
		t.Stop()
	}
	r.walkGen[id]++
	gen := r.walkGen[id]
	r.walkers[id] = time.AfterFunc(r.walkClear, func() { r.clearWalking(id, gen) })
	sinks := r.sinksLocked()
	r.mu.Unlock()

	r.fanout(sinks, shared.Event{Type: shared.EvPlayerMoved, Player: &state})
	r.metrics.IncMove()
}

// clearWalking 行走动画到期清除：仍以 player_moved 形式广播清除后的状态
func (r *Registry) clearWalking(id string, gen uint64) {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok || !p.Walking || r.walkGen[id] != gen {
		r.mu.Unlock()
		return
	}
	p.Walking = false
	state := *p
	sinks := r.sinksLocked()
	r.mu.Unlock()

	r.fanout(sinks, shared.Event{Type: shared.EvPlayerMoved, Player: &state})
}

// Rename 设置昵称并广播；空串合法（表示未设置）
func (r *Registry) Rename(id, nickname string) {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Nickname = nickname
	state := *p
	sinks := r.sinksLocked()
	r.mu.Unlock()

	r.fanout(sinks, shared.Event{Type: shared.EvPlayerRenamed, Player: &state})
	r.metrics.IncRename()
}

// Chat 记录气泡文本并发出两路事件：
// chat_broadcast 驱动头顶气泡（过期由各客户端本地计时），
// message_received 驱动聊天记录（携带昵称，与气泡通道互不影响）
func (r *Registry) Chat(id, text string) {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Bubble = text
	nickname := p.Nickname
	sinks := r.sinksLocked()
	r.mu.Unlock()

	r.fanout(sinks, shared.Event{Type: shared.EvChatBroadcast, ID: id, Text: text})
	r.fanout(sinks, shared.Event{Type: shared.EvMessageReceived, Nickname: nickname, Text: text})
	r.metrics.IncChat()
}

// Leave 移除玩家并广播 player_left；重复调用是无害的空操作
// （读错误与心跳超时可能同时触发关闭，网关靠这里保证只生效一次的语义）
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	if _, ok := r.players[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.players, id)
	delete(r.sinks, id)
	if t := r.walkers[id]; t != nil {
		t.Stop()
		delete(r.walkers, id)
	}
	delete(r.walkGen, id)
	sinks := r.sinksLocked()
	r.mu.Unlock()

	r.fanout(sinks, shared.Event{Type: shared.EvPlayerLeft, ID: id})
	r.metrics.IncLeave()
	Log.Infof("player left: %s", id)
}

// Snapshot 返回当前全量状态的副本（/admin 与测试用）
func (r *Registry) Snapshot() map[string]shared.PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// SetWalkClear 热更新行走清除延迟（/admin/config）
func (r *Registry) SetWalkClear(d time.Duration) {
	r.mu.Lock()
	r.walkClear = d
	r.mu.Unlock()
}

// WalkClear 当前行走清除延迟
func (r *Registry) WalkClear() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walkClear
}

func (r *Registry) snapshotLocked() map[string]shared.PlayerState {
	out := make(map[string]shared.PlayerState, len(r.players))
	for id, p := range r.players {
		out[id] = *p
	}
	return out
}

func (r *Registry) sinksLocked() []Sink {
	out := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s)
	}
	return out
}

// fanout 在锁外向每个连接的发送队列投递；Enqueue 不阻塞
func (r *Registry) fanout(sinks []Sink, ev shared.Event) {
	b, err := encode(ev)
	if err != nil {
		Log.Errorf("encode %s: %v", ev.Type, err)
		return
	}
	for _, s := range sinks {
		s.Enqueue(b)
	}
	r.metrics.IncBroadcast()
}

func encode(ev shared.Event) ([]byte, error) {
	return json.Marshal(ev)
}
