package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fori/shared"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 5 * time.Second
)

// Transport Reconciler 看到的传输面：发一条、订一类
type Transport interface {
	Send(msg shared.ClientMessage)
	OnEvent(kind string, fn func(shared.Event)) (cancel func())
	OnConnect(fn func())
	OnDisconnect(fn func())
}

type registration struct {
	kind string
	fn   func(shared.Event)
}

// Session 持有到服务端的唯一逻辑连接，断线自动重连
// 事件订阅挂在 Session 上而不是底层 socket 上：
// 重连换掉 socket，订阅原样生效，不会重复注册也不会丢注册
type Session struct {
	url string
	log *zap.SugaredLogger

	mu        sync.Mutex
	wmu       sync.Mutex // 只串行化 socket 写，写阻塞不得拖住 mu 下的分发与订阅
	ws        *websocket.Conn
	handlers  map[string][]*registration
	onConnect []func()
	onDrop    []func()

	backoffMin time.Duration
	backoffMax time.Duration
}

func NewSession(url string, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		url:        url,
		log:        log,
		handlers:   make(map[string][]*registration),
		backoffMin: reconnectMin,
		backoffMax: reconnectMax,
	}
}

// OnEvent 注册事件处理器，返回取消函数；每个事件对每次注册至多投递一次
func (s *Session) OnEvent(kind string, fn func(shared.Event)) func() {
	reg := &registration{kind: kind, fn: fn}
	s.mu.Lock()
	s.handlers[kind] = append(s.handlers[kind], reg)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		regs := s.handlers[kind]
		for i, r := range regs {
			if r == reg {
				s.handlers[kind] = append(regs[:i], regs[i+1:]...)
				return
			}
		}
	}
}

// OnConnect 连接（含重连）就绪后回调
func (s *Session) OnConnect(fn func()) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.mu.Unlock()
}

// OnDisconnect 连接断开时回调
func (s *Session) OnDisconnect(fn func()) {
	s.mu.Lock()
	s.onDrop = append(s.onDrop, fn)
	s.mu.Unlock()
}

// Send 尽力投递：未连接时直接丢弃（最近写入胜出的模型不需要补发）
func (s *Session) Send(msg shared.ClientMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorf("encode %s: %v", msg.Type, err)
		return
	}
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}
	// 在 mu 之外落盘写：慢链路最多卡到写超时，不会卡住事件分发
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		s.log.Warnf("send %s: %v", msg.Type, err)
	}
}

// Run 连接循环：拨号失败按指数退避（1s 起，5s 封顶）；
// 服务端主动关闭立即重试；ctx 取消后退出
func (s *Session) Run(ctx context.Context) {
	backoff := s.backoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		ws, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.log.Warnf("dial %s: %v (retry in %v)", s.url, err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, s.backoffMax)
			continue
		}
		backoff = s.backoffMin

		s.mu.Lock()
		s.ws = ws
		connectFns := append([]func(){}, s.onConnect...)
		s.mu.Unlock()
		s.log.Infof("connected to %s", s.url)
		for _, fn := range connectFns {
			fn()
		}

		serverClosed := s.readLoop(ctx, ws)

		s.mu.Lock()
		s.ws = nil
		dropFns := append([]func(){}, s.onDrop...)
		s.mu.Unlock()
		_ = ws.Close()
		for _, fn := range dropFns {
			fn()
		}
		if ctx.Err() != nil {
			return
		}
		if serverClosed {
			// 服务端下线往往很快回来（如滚动重启），立即重连
			continue
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, s.backoffMax)
	}
}

// readLoop 读取并分发下行事件；返回是否由服务端发起关闭
func (s *Session) readLoop(ctx context.Context, ws *websocket.Conn) bool {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if _, ok := err.(*websocket.CloseError); ok {
				s.log.Infof("server closed connection: %v", err)
				return true
			}
			s.log.Warnf("read: %v", err)
			return false
		}
		var ev shared.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Warnf("bad event: %v", err)
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev shared.Event) {
	s.mu.Lock()
	regs := append([]*registration{}, s.handlers[ev.Type]...)
	s.mu.Unlock()
	for _, reg := range regs {
		reg.fn(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
