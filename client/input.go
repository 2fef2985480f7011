package client

import (
	"sync"
	"time"

	"fori/shared"
)

const defaultRepeat = 100 * time.Millisecond

// Viewport 客户端视口：移动裁剪与出生位置都以它为准
// Header 是页面顶部保留带的高度，角色不会进入该区域
type Viewport struct {
	Width  float64
	Height float64
	Header float64
	Avatar float64 // 角色占位尺寸，同时也是单步步长
}

// ClampX 把横坐标裁剪到 [0, Width-Avatar]
func (v Viewport) ClampX(x float64) float64 {
	if x < 0 {
		return 0
	}
	if max := v.Width - v.Avatar; x > max {
		return max
	}
	return x
}

// ClampY 把纵坐标裁剪到 [Header, Height-Avatar]
func (v Viewport) ClampY(y float64) float64 {
	if y < v.Header {
		return v.Header
	}
	if max := v.Height - v.Avatar; y > max {
		return max
	}
	return y
}

// Start 出生位置：房间中心，压到页眉带以下
func (v Viewport) Start() (float64, float64) {
	return v.ClampX((v.Width - v.Avatar) / 2), v.ClampY((v.Height - v.Avatar) / 2)
}

// Controller 本地输入：乐观更新自己的位置并上行 move 意图
//
// 两段式移动（保留线上观察到的行为，见 Chat 历史）：
// 按下与当前朝向不同的方向键只转向、不移动、不上行；
// 按下当前朝向的方向键移动一格并上行；按住则按固定节奏连续移动。
// step 是 0..3 的摆臂相位，按键按下沿推进一次，抬起归零，纯装饰
type Controller struct {
	view   Viewport
	send   func(x, y float64, dir shared.Direction)
	repeat time.Duration

	mu      sync.Mutex
	x, y    float64
	dir     shared.Direction
	walking bool
	step    int
	hold    chan struct{}
}

func NewController(view Viewport, send func(x, y float64, dir shared.Direction)) *Controller {
	x, y := view.Start()
	return &Controller{
		view:   view,
		send:   send,
		repeat: defaultRepeat,
		x:      x,
		y:      y,
		dir:    shared.DirDown,
	}
}

// KeyDown 方向键按下沿（调用方需自行过滤系统级 key-repeat）
func (c *Controller) KeyDown(dir shared.Direction) {
	c.mu.Lock()
	c.walking = true
	c.step = (c.step + 1) % 4
	if dir != c.dir {
		// 第一下只转向
		c.dir = dir
	} else {
		c.stepLocked()
	}
	if c.hold == nil {
		stop := make(chan struct{})
		c.hold = stop
		go c.holdLoop(stop)
	}
	c.mu.Unlock()
}

// KeyUp 抬起：停止连续移动，清走路标记，相位归零
func (c *Controller) KeyUp() {
	c.mu.Lock()
	c.walking = false
	c.step = 0
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
	c.mu.Unlock()
}

// holdLoop 按住期间按固定节奏连续移动
func (c *Controller) holdLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.repeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.walking {
				c.stepLocked()
			}
			c.mu.Unlock()
		}
	}
}

// stepLocked 沿当前朝向移动一格，裁剪到视口内，并上行结果坐标
func (c *Controller) stepLocked() {
	switch c.dir {
	case shared.DirUp:
		c.y = c.view.ClampY(c.y - c.view.Avatar)
	case shared.DirDown:
		c.y = c.view.ClampY(c.y + c.view.Avatar)
	case shared.DirLeft:
		c.x = c.view.ClampX(c.x - c.view.Avatar)
	case shared.DirRight:
		c.x = c.view.ClampX(c.x + c.view.Avatar)
	}
	if c.send != nil {
		c.send(c.x, c.y, c.dir)
	}
}

// Position 当前本地预测位置
func (c *Controller) Position() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

func (c *Controller) Direction() shared.Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

func (c *Controller) Walking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walking
}

// Step 当前摆臂相位（0..3）
func (c *Controller) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}
