package client

import (
	"math"
	"time"
)

const (
	TimeSyncInterval     = 5 * time.Second
	InitialTimeSyncDelay = time.Second

	// MaxClientTimeDifference 客户端与估计的服务器时间允许的偏差（秒）
	MaxClientTimeDifference = 0.01
	// MaxExpectedPing 单程延迟估计的上限（秒）
	MaxExpectedPing = 0.5
)

// WorldClock 客户端对服务器世界时间的估计。
// 只会向前走：落后时直接跳到估计值，超前时以半速前进直到追平
type WorldClock struct {
	now   float64
	ahead float64

	elapsed  float64
	nextSync float64
	synced   bool
}

// NewWorldClock 以服务器时间 start 初始化
func NewWorldClock(start float64) *WorldClock {
	return &WorldClock{now: start, nextSync: InitialTimeSyncDelay.Seconds()}
}

// Now 实现 replication.Clock
func (c *WorldClock) Now() float64 { return c.now }

// Synced 是否收到过对时响应
func (c *WorldClock) Synced() bool { return c.synced }

// Advance 每帧调用一次
func (c *WorldClock) Advance(dt float64) {
	step := dt
	if c.ahead > 0 {
		slow := math.Min(dt/2, c.ahead)
		step -= slow
		c.ahead -= slow
	}
	c.now += step
	c.elapsed += dt
}

// SyncDue 是否该发送对时请求
func (c *WorldClock) SyncDue() bool { return c.elapsed >= c.nextSync }

// MarkSyncSent 记录已发送对时请求
func (c *WorldClock) MarkSyncSent() {
	c.nextSync = c.elapsed + TimeSyncInterval.Seconds()
}

// OnPong 收到对时响应。rtt 为客户端测得的往返时间（秒）
func (c *WorldClock) OnPong(serverTime, rtt float64) {
	estimate := serverTime + math.Min(math.Max(rtt, 0)/2, MaxExpectedPing)
	diff := estimate - c.now
	switch {
	case diff > MaxClientTimeDifference:
		c.now = estimate
		c.ahead = 0
	case diff < -MaxClientTimeDifference:
		c.ahead = -diff
	default:
		c.ahead = 0
	}
	c.synced = true
}
