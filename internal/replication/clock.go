package replication

import (
	"movesync/pkg/core"
)

// ActorID 角色的稳定编号
type ActorID uint32

// Clock 世界时间来源（秒）。客户端为同步后的服务器时间，服务器为本地时间
type Clock interface {
	Now() float64
}

// ClockFunc 函数适配器
type ClockFunc func() float64

// Now 实现 Clock
func (f ClockFunc) Now() float64 { return f() }

// ManualClock 手动推进的时钟
type ManualClock struct {
	T float64
}

func (c *ManualClock) Now() float64 { return c.T }

// Advance 推进 dt 秒
func (c *ManualClock) Advance(dt float64) { c.T += dt }

// Pawn 宿主中的角色，引擎通过它读写当前运动学状态
type Pawn interface {
	PawnState() core.PawnState
	SetPawnState(core.PawnState)
}

// BasicPawn 只保存状态的 Pawn 实现
type BasicPawn struct {
	State core.PawnState
}

func (p *BasicPawn) PawnState() core.PawnState { return p.State.Clone() }

func (p *BasicPawn) SetPawnState(s core.PawnState) { p.State = s.Clone() }
