package client

import (
	"sync"
	"time"

	"fori/shared"
)

const (
	defaultWalkClear = 200 * time.Millisecond
	defaultBubbleTTL = 3 * time.Second
)

// State 本地会话状态机：Disconnected → Joining → Active，可反复进入
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateActive
)

// ChatLine 聊天记录的一行（与头顶气泡互不影响）
type ChatLine struct {
	Nickname string
	Text     string
}

// Reconciler 客户端状态调和器：
// 远端玩家字典完全由服务端广播驱动；气泡与行走动画在本地按定时器过期
type Reconciler struct {
	t        Transport
	view     Viewport
	nickname string

	walkClear time.Duration
	bubbleTTL time.Duration

	mu          sync.Mutex
	you         string
	state       State
	players     map[string]*shared.PlayerState
	walkTimers  map[string]*time.Timer
	bubbleTimer map[string]*time.Timer
	transcript  []ChatLine
	cancels     []func()
}

func NewReconciler(t Transport, nickname string, view Viewport) *Reconciler {
	return &Reconciler{
		t:           t,
		view:        view,
		nickname:    nickname,
		walkClear:   defaultWalkClear,
		bubbleTTL:   defaultBubbleTTL,
		players:     make(map[string]*shared.PlayerState),
		walkTimers:  make(map[string]*time.Timer),
		bubbleTimer: make(map[string]*time.Timer),
	}
}

// Start 挂接全部事件订阅；Session 保证重连后这些订阅原样生效
func (r *Reconciler) Start() {
	r.cancels = append(r.cancels,
		r.t.OnEvent(shared.EvRoomSnapshot, r.handleSnapshot),
		r.t.OnEvent(shared.EvPlayerJoined, r.handleJoined),
		r.t.OnEvent(shared.EvPlayerMoved, r.handleMoved),
		r.t.OnEvent(shared.EvPlayerRenamed, r.handleRenamed),
		r.t.OnEvent(shared.EvPlayerLeft, r.handleLeft),
		r.t.OnEvent(shared.EvChatBroadcast, r.handleChat),
		r.t.OnEvent(shared.EvMessageReceived, r.handleMessage),
	)
	r.t.OnConnect(func() { r.setState(StateJoining) })
	r.t.OnDisconnect(func() {
		r.setState(StateDisconnected)
		r.mu.Lock()
		r.stopTimersLocked()
		r.mu.Unlock()
	})
}

// Stop 注销订阅并取消所有本地定时器
func (r *Reconciler) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	r.mu.Lock()
	r.stopTimersLocked()
	r.mu.Unlock()
}

// handleSnapshot 整表替换远端字典，并立刻上报本地昵称与出生位置
// （出生位置 = 房间中心，压到保留的页眉带以下）
func (r *Reconciler) handleSnapshot(ev shared.Event) {
	r.mu.Lock()
	r.you = ev.You
	r.stopTimersLocked()
	r.players = make(map[string]*shared.PlayerState, len(ev.Players))
	for id, p := range ev.Players {
		cp := p
		r.players[id] = &cp
	}
	r.state = StateActive
	r.mu.Unlock()

	if r.nickname != "" {
		r.t.Send(shared.ClientMessage{Type: shared.MsgSetNickname, Nickname: r.nickname})
	}
	sx, sy := r.view.Start()
	r.t.Send(shared.ClientMessage{Type: shared.MsgMove, X: sx, Y: sy, Direction: string(shared.DirDown)})
}

// handleJoined 入场广播携带全量状态：逐条 upsert 而不是整表替换，
// 在场的客户端由此获得新人条目；两个并发入场的广播乱序到达也不会互相抹掉
func (r *Reconciler) handleJoined(ev shared.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range ev.Players {
		if cur, ok := r.players[id]; ok {
			cur.X, cur.Y, cur.Direction = p.X, p.Y, p.Direction
			cur.Nickname = p.Nickname
			cur.Walking = p.Walking
			// 气泡不回填：本地过期定时器可能已把它清掉
			continue
		}
		cp := p
		r.players[id] = &cp
	}
}

// handleMoved 位置/朝向 upsert；每条消息各自带一个 ~200ms 的行走清除定时器
// 服务端也会广播自己的清除，两边都只会把同一字段置 false，谁后到都一样
func (r *Reconciler) handleMoved(ev shared.Event) {
	if ev.Player == nil {
		return
	}
	id := ev.Player.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		cp := *ev.Player
		r.players[id] = &cp
		p = r.players[id]
	} else {
		p.X, p.Y, p.Direction = ev.Player.X, ev.Player.Y, ev.Player.Direction
		p.Walking = ev.Player.Walking
	}
	if !p.Walking {
		return
	}
	if t := r.walkTimers[id]; t != nil {
		t.Stop()
	}
	r.walkTimers[id] = time.AfterFunc(r.walkClear, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.players[id]; ok {
			p.Walking = false
		}
	})
}

func (r *Reconciler) handleRenamed(ev shared.Event) {
	if ev.Player == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[ev.Player.ID]; ok {
		p.Nickname = ev.Player.Nickname
	} else {
		cp := *ev.Player
		r.players[ev.Player.ID] = &cp
	}
}

// handleLeft 无条件移除，并连带取消该 id 的全部本地定时器
func (r *Reconciler) handleLeft(ev shared.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, ev.ID)
	if t := r.walkTimers[ev.ID]; t != nil {
		t.Stop()
		delete(r.walkTimers, ev.ID)
	}
	if t := r.bubbleTimer[ev.ID]; t != nil {
		t.Stop()
		delete(r.bubbleTimer, ev.ID)
	}
}

// handleChat 设置气泡并重置（不是叠加）3 秒过期定时器：
// 只显示最新一条，存活期从它自己到达时起算
func (r *Reconciler) handleChat(ev shared.Event) {
	id := ev.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return
	}
	p.Bubble = ev.Text
	if t := r.bubbleTimer[id]; t != nil {
		t.Stop()
	}
	r.bubbleTimer[id] = time.AfterFunc(r.bubbleTTL, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.players[id]; ok {
			p.Bubble = ""
		}
	})
}

func (r *Reconciler) handleMessage(ev shared.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, ChatLine{Nickname: ev.Nickname, Text: ev.Text})
}

// You 返回服务端分配给本连接的 id（快照到达前为空）
func (r *Reconciler) You() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.you
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Player 返回指定 id 当前状态的副本
func (r *Reconciler) Player(id string) (shared.PlayerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[id]; ok {
		return *p, true
	}
	return shared.PlayerState{}, false
}

// Players 返回远端字典的整表副本（渲染层按帧取用）
func (r *Reconciler) Players() map[string]shared.PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]shared.PlayerState, len(r.players))
	for id, p := range r.players {
		out[id] = *p
	}
	return out
}

// Transcript 返回聊天记录副本
func (r *Reconciler) Transcript() []ChatLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatLine{}, r.transcript...)
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reconciler) stopTimersLocked() {
	for id, t := range r.walkTimers {
		t.Stop()
		delete(r.walkTimers, id)
	}
	for id, t := range r.bubbleTimer {
		t.Stop()
		delete(r.bubbleTimer, id)
	}
}
