package shared

// 出站事件类型（服务端 → 客户端）
const (
	EvRoomSnapshot    = "room_snapshot"    // 私发给新连接：你的 id + 当前全量状态
	EvPlayerJoined    = "player_joined"    // 广播：携带全量状态
	EvPlayerMoved     = "player_moved"     // 广播：仅携带变更的那一个 PlayerState
	EvPlayerRenamed   = "player_renamed"   // 广播：昵称变更后的 PlayerState
	EvPlayerLeft      = "player_left"      // 广播：仅携带离开者 id
	EvChatBroadcast   = "chat_broadcast"   // 广播：{id, text}，驱动头顶气泡
	EvMessageReceived = "message_received" // 广播：{nickname, text}，驱动聊天记录
)

// 入站消息类型（客户端 → 服务端）
const (
	MsgMove        = "move"
	MsgSetNickname = "set_nickname"
	MsgSendMessage = "send_message"
)

// Event 服务端下行事件的统一信封（WebSocket 文本 JSON）
// 按 Type 取对应字段，未用字段省略
type Event struct {
	Type     string                 `json:"type"`
	You      string                 `json:"you,omitempty"`      // room_snapshot 专用：接收方自己的 id
	Players  map[string]PlayerState `json:"players,omitempty"`  // room_snapshot / player_joined
	Player   *PlayerState           `json:"player,omitempty"`   // player_moved / player_renamed
	ID       string                 `json:"id,omitempty"`       // player_left / chat_broadcast
	Text     string                 `json:"text,omitempty"`     // chat_broadcast / message_received
	Nickname string                 `json:"nickname,omitempty"` // message_received
}

// ClientMessage 客户端上行消息
// 示例：{"type":"move","x":50,"y":0,"direction":"right"}
type ClientMessage struct {
	Type      string  `json:"type"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Nickname  string  `json:"nickname,omitempty"`
	Text      string  `json:"text,omitempty"`
}
