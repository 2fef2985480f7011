package shared

// PlayerState 单个在线身份的公开状态（服务端权威，广播给所有客户端）
type PlayerState struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Direction Direction `json:"direction"`
	Nickname  string    `json:"nickname"`
	Walking   bool      `json:"walking"`
	Bubble    string    `json:"bubble,omitempty"` // 最近一条聊天气泡，过期由客户端本地处理
}
