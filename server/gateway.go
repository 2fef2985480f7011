package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fori/shared"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMsgSize = 1 << 16 // 64KB，聊天与移动消息远小于此
)

// ClientConn 单个连接的发送端封装：独立写协程 + 有界队列
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	closed  bool
	once    sync.Once
	metrics *Metrics
}

func NewClientConn(ws *websocket.Conn, m *Metrics) *ClientConn {
	return &ClientConn{
		ws:      ws,
		send:    make(chan []byte, 64),
		metrics: m,
	}
}

// Enqueue 非阻塞投递；队列满则丢弃（宁可丢帧也不拖慢房间广播）
func (c *ClientConn) Enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		if c.metrics != nil {
			c.metrics.IncDropped()
		}
	}
}

// Close 幂等关闭：结束写协程并断开底层连接
func (c *ClientConn) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}

// writePump 独立写协程：队列消息 + 周期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Gateway 把传输连接绑定到唯一 id，并保证 join/leave 成对包住连接生命周期
// Registry 显式注入，不依赖包级单例
type Gateway struct {
	reg      *Registry
	metrics  *Metrics
	upgrader websocket.Upgrader
}

func NewGateway(reg *Registry, m *Metrics) *Gateway {
	return &Gateway{
		reg:     reg,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 房间无鉴权（见部署文档），来源校验交给前置代理
				return true
			},
		},
	}
}

// HandleWS WebSocket 接入点
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	// uuid 保证存活期内不与任何在线 id 冲突，也不会复用
	id := uuid.NewString()
	conn := NewClientConn(ws, g.metrics)

	go conn.writePump()
	g.reg.Join(id, conn)
	go g.readPump(conn, id)
}

// readPump 读取上行消息并分发到注册表；退出时完成一次性拆除
// 连接只能操作自己绑定的 id，不存在冒充面
func (g *Gateway) readPump(c *ClientConn, id string) {
	defer func() {
		// 读错误、对端关闭、心跳超时最终都汇到这里；Leave 自身幂等
		g.reg.Leave(id)
		c.Close()
	}()
	c.ws.SetReadLimit(maxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg shared.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			// 畸形消息不致命：忽略这一条，连接继续
			continue
		}
		switch msg.Type {
		case shared.MsgMove:
			dir, ok := shared.ParseDirection(msg.Direction)
			if !ok {
				continue
			}
			g.reg.Move(id, msg.X, msg.Y, dir)
		case shared.MsgSetNickname:
			g.reg.Rename(id, msg.Nickname)
		case shared.MsgSendMessage:
			g.reg.Chat(id, msg.Text)
		default:
			// 未知类型直接忽略，便于协议向前兼容
		}
	}
}
