package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fori/shared"
)

// fakeTransport 进程内传输替身：记录上行消息，手动派发下行事件
type fakeTransport struct {
	mu       sync.Mutex
	sent     []shared.ClientMessage
	handlers map[string][]func(shared.Event)
	connect  []func()
	drop     []func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]func(shared.Event))}
}

func (f *fakeTransport) Send(msg shared.ClientMessage) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
}

func (f *fakeTransport) OnEvent(kind string, fn func(shared.Event)) func() {
	f.mu.Lock()
	f.handlers[kind] = append(f.handlers[kind], fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) OnConnect(fn func())    { f.connect = append(f.connect, fn) }
func (f *fakeTransport) OnDisconnect(fn func()) { f.drop = append(f.drop, fn) }

func (f *fakeTransport) emit(ev shared.Event) {
	f.mu.Lock()
	fns := append([]func(shared.Event){}, f.handlers[ev.Type]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeTransport) sentMessages() []shared.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shared.ClientMessage{}, f.sent...)
}

var testView = Viewport{Width: 800, Height: 600, Header: 60, Avatar: 50}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	r := NewReconciler(ft, "小明", testView)
	r.Start()
	return r, ft
}

// TestReconciler_SnapshotReplacesAndAnnounces 快照整表替换，
// 且立刻上报昵称与出生位置（房间中心、页眉带以下）
func TestReconciler_SnapshotReplacesAndAnnounces(t *testing.T) {
	r, ft := newTestReconciler(t)

	// 旧表里的残留必须被整表替换掉
	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "old", Players: map[string]shared.PlayerState{
		"stale": {ID: "stale"},
	}})
	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{
		"me":    {ID: "me", Direction: shared.DirDown},
		"other": {ID: "other", X: 100, Y: 200, Direction: shared.DirLeft, Nickname: "阿狸"},
	}})

	assert.Equal(t, "me", r.You())
	assert.Equal(t, StateActive, r.State())
	players := r.Players()
	require.Len(t, players, 2)
	assert.NotContains(t, players, "stale")
	assert.Equal(t, "阿狸", players["other"].Nickname)

	sent := ft.sentMessages()
	require.GreaterOrEqual(t, len(sent), 2)
	// 每次快照都带一次 set_nickname + move
	var nick, move *shared.ClientMessage
	for i := range sent {
		switch sent[i].Type {
		case shared.MsgSetNickname:
			nick = &sent[i]
		case shared.MsgMove:
			move = &sent[i]
		}
	}
	require.NotNil(t, nick)
	assert.Equal(t, "小明", nick.Nickname)
	require.NotNil(t, move)
	assert.Equal(t, (800.0-50)/2, move.X)
	assert.Equal(t, (600.0-50)/2, move.Y) // 中心已在页眉带以下，无需抬升
}

// TestReconciler_StartAnnouncesAboveHeader 房间中心落在页眉带内时压到带下
func TestReconciler_StartAnnouncesAboveHeader(t *testing.T) {
	ft := newFakeTransport()
	view := Viewport{Width: 400, Height: 160, Header: 80, Avatar: 50}
	r := NewReconciler(ft, "", view)
	r.Start()

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{}})
	assert.Equal(t, StateActive, r.State())

	sent := ft.sentMessages()
	require.Len(t, sent, 1) // 空昵称不上报 set_nickname
	assert.Equal(t, shared.MsgMove, sent[0].Type)
	assert.Equal(t, 80.0, sent[0].Y, "start position clamps below the header band")
}

// TestReconciler_JoinedGainsEntry 在场客户端通过入场广播获得新人条目；
// 逐条合并，不整表替换，也不抹掉本地已有状态
func TestReconciler_JoinedGainsEntry(t *testing.T) {
	r, ft := newTestReconciler(t)

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{
		"me": {ID: "me", Direction: shared.DirDown},
	}})
	ft.emit(shared.Event{Type: shared.EvPlayerJoined, Players: map[string]shared.PlayerState{
		"me":  {ID: "me", Direction: shared.DirDown},
		"new": {ID: "new", Direction: shared.DirDown},
	}})

	p, ok := r.Player("new")
	require.True(t, ok, "existing client must gain the newcomer's entry")
	assert.Equal(t, shared.DirDown, p.Direction)
	assert.Len(t, r.Players(), 2)

	// 并发入场的两路广播乱序到达：较早的全量图不会抹掉已知的新人
	ft.emit(shared.Event{Type: shared.EvPlayerJoined, Players: map[string]shared.PlayerState{
		"me": {ID: "me", Direction: shared.DirDown},
	}})
	_, ok = r.Player("new")
	assert.True(t, ok, "a racing join broadcast must not remove other entries")

	// 入场广播不回填气泡：本地已过期的气泡不能被复活
	r.bubbleTTL = 30 * time.Millisecond
	ft.emit(shared.Event{Type: shared.EvChatBroadcast, ID: "new", Text: "hi"})
	require.Eventually(t, func() bool {
		p, _ := r.Player("new")
		return p.Bubble == ""
	}, time.Second, 5*time.Millisecond)
	ft.emit(shared.Event{Type: shared.EvPlayerJoined, Players: map[string]shared.PlayerState{
		"new": {ID: "new", Bubble: "hi"},
	}})
	p, _ = r.Player("new")
	assert.Empty(t, p.Bubble)
}

// TestReconciler_MovedUpsertAndWalkingClear 移动 upsert + 本地 ~200ms 行走清除
func TestReconciler_MovedUpsertAndWalkingClear(t *testing.T) {
	r, ft := newTestReconciler(t)
	r.walkClear = 40 * time.Millisecond

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{}})
	ft.emit(shared.Event{Type: shared.EvPlayerMoved, Player: &shared.PlayerState{
		ID: "other", X: 50, Direction: shared.DirRight, Walking: true,
	}})

	p, ok := r.Player("other")
	require.True(t, ok, "moved event upserts unknown ids")
	assert.True(t, p.Walking)
	assert.Equal(t, 50.0, p.X)

	require.Eventually(t, func() bool {
		p, _ := r.Player("other")
		return !p.Walking
	}, time.Second, 5*time.Millisecond)

	// 服务端自己的清除广播与本地定时器谁后到都一样：只会再次置 false
	ft.emit(shared.Event{Type: shared.EvPlayerMoved, Player: &shared.PlayerState{
		ID: "other", X: 50, Direction: shared.DirRight, Walking: false,
	}})
	p, _ = r.Player("other")
	assert.False(t, p.Walking)
}

// TestReconciler_BubbleExpiry 连续两条气泡：只显示最新一条，
// 存活期从它自己到达时起算（重置而不是叠加）
func TestReconciler_BubbleExpiry(t *testing.T) {
	r, ft := newTestReconciler(t)
	r.bubbleTTL = 300 * time.Millisecond

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{
		"other": {ID: "other"},
	}})

	ft.emit(shared.Event{Type: shared.EvChatBroadcast, ID: "other", Text: "hello"})
	time.Sleep(100 * time.Millisecond)
	ft.emit(shared.Event{Type: shared.EvChatBroadcast, ID: "other", Text: "world"})

	// "hello" 的定时器此刻已被替换："world" 按自己的到达时间存活
	time.Sleep(200 * time.Millisecond)
	p, _ := r.Player("other")
	assert.Equal(t, "world", p.Bubble, "bubble must survive past the first message's deadline")

	require.Eventually(t, func() bool {
		p, _ := r.Player("other")
		return p.Bubble == ""
	}, time.Second, 5*time.Millisecond)
}

// TestReconciler_LeftRemovesUnconditionally player_left 移除条目并取消其定时器
func TestReconciler_LeftRemovesUnconditionally(t *testing.T) {
	r, ft := newTestReconciler(t)
	r.bubbleTTL = 50 * time.Millisecond

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{
		"other": {ID: "other"},
	}})
	ft.emit(shared.Event{Type: shared.EvChatBroadcast, ID: "other", Text: "bye"})
	ft.emit(shared.Event{Type: shared.EvPlayerLeft, ID: "other"})

	_, ok := r.Player("other")
	assert.False(t, ok)

	// 残留定时器触发也不会复活条目
	time.Sleep(80 * time.Millisecond)
	_, ok = r.Player("other")
	assert.False(t, ok)
}

// TestReconciler_Transcript message_received 与气泡通道互不影响
func TestReconciler_Transcript(t *testing.T) {
	r, ft := newTestReconciler(t)

	ft.emit(shared.Event{Type: shared.EvMessageReceived, Nickname: "阿狸", Text: "第一条"})
	ft.emit(shared.Event{Type: shared.EvMessageReceived, Nickname: "小红", Text: "第二条"})

	lines := r.Transcript()
	require.Len(t, lines, 2)
	assert.Equal(t, ChatLine{Nickname: "阿狸", Text: "第一条"}, lines[0])
	assert.Equal(t, ChatLine{Nickname: "小红", Text: "第二条"}, lines[1])
}

// TestReconciler_StateMachine Disconnected → Joining → Active，断线可重入
func TestReconciler_StateMachine(t *testing.T) {
	r, ft := newTestReconciler(t)
	assert.Equal(t, StateDisconnected, r.State())

	for _, fn := range ft.connect {
		fn()
	}
	assert.Equal(t, StateJoining, r.State())

	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me", Players: map[string]shared.PlayerState{}})
	assert.Equal(t, StateActive, r.State())

	for _, fn := range ft.drop {
		fn()
	}
	assert.Equal(t, StateDisconnected, r.State())

	// 重连后重新走一遍 Joining → Active
	for _, fn := range ft.connect {
		fn()
	}
	assert.Equal(t, StateJoining, r.State())
	ft.emit(shared.Event{Type: shared.EvRoomSnapshot, You: "me2", Players: map[string]shared.PlayerState{}})
	assert.Equal(t, StateActive, r.State())
	assert.Equal(t, "me2", r.You(), "a restarted server hands out a fresh id")
}
