package shared

// Direction 朝向，线上格式直接使用字符串（与客户端约定一致）
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// ParseDirection 解析入站方向字符串；非法值返回 false
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirUp, DirDown, DirLeft, DirRight:
		return Direction(s), true
	default:
		return "", false
	}
}
