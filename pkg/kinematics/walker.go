package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// 行走角色绑定的输入标志与数据
const (
	FlagSprint uint8 = 0
	FlagCrouch uint8 = 1

	BoundStamina core.BoundID = 1
)

// Config 行走参数，单位：长度/秒
type Config struct {
	Speed            float64
	SprintMultiplier float64
	CrouchMultiplier float64
	Radius           float64

	MaxStamina   float64
	StaminaDrain float64 // 每秒
	StaminaRegen float64 // 每秒
}

// DefaultConfig 默认行走参数
func DefaultConfig() Config {
	return Config{
		Speed:            300,
		SprintMultiplier: 1.6,
		CrouchMultiplier: 0.5,
		Radius:           16,
		MaxStamina:       100,
		StaminaDrain:     25,
		StaminaRegen:     10,
	}
}

// Bindings 行走角色的绑定表：冲刺与下蹲标志复制给模拟代理，体力只复制给控制者
func Bindings() *core.Bindings {
	b := &core.Bindings{}
	_ = b.BindInputFlag(core.InputFlagBinding{Index: FlagSprint, Name: "sprint", ReplicateToSimulated: true})
	_ = b.BindInputFlag(core.InputFlagBinding{Index: FlagCrouch, Name: "crouch", ReplicateToSimulated: true, NoMoveCombine: true})
	_ = b.BindData(core.Binding{ID: BoundStamina, Name: "stamina", Kind: core.BoundFloat, ReplicateToAutonomous: true})
	return b
}

// SpawnState 出生时的状态：静止、满体力，输入相对控制朝向
func SpawnState(cfg Config, loc core.Vec3) core.PawnState {
	return core.PawnState{
		Location:  loc,
		InputMode: core.InputModeAbsoluteZ,
		Bound:     core.BoundData{BoundStamina: core.FloatValue(cfg.MaxStamina)},
	}
}

// Walker 平面行走的确定性模拟
type Walker struct {
	cfg   Config
	arena *Arena
}

// NewWalker arena 为 nil 时不做碰撞
func NewWalker(cfg Config, arena *Arena) *Walker {
	return &Walker{cfg: cfg, arena: arena}
}

// Simulate 实现 core.Simulator
func (w *Walker) Simulate(state core.PawnState, move *core.Move, dt float64) core.PawnState {
	out := state.Clone()
	if out.Bound == nil {
		out.Bound = core.BoundData{}
	}
	stamina := w.cfg.MaxStamina
	if v, ok := out.Bound[BoundStamina]; ok {
		stamina = v.Float()
	}

	dir := w.direction(state, move.InputVector)
	sprint := move.InputFlags&(1<<FlagSprint) != 0 && stamina > 0 && dir.Len() > 0
	speed := w.cfg.Speed
	switch {
	case move.InputFlags&(1<<FlagCrouch) != 0:
		speed *= w.cfg.CrouchMultiplier
	case sprint:
		speed *= w.cfg.SprintMultiplier
	}

	vel := dir.Mul(speed)
	loc := bitpack.ValidVector(state.Location, mgl64.Vec3{})
	loc, vel = w.slide(loc, vel, dt)
	out.Location = loc
	out.Velocity = vel

	// 朝向跟随移动方向
	if vel[0] != 0 || vel[1] != 0 {
		out.Rotation.Yaw = mgl64.RadToDeg(math.Atan2(vel[1], vel[0]))
	}

	if sprint {
		stamina = math.Max(0, stamina-w.cfg.StaminaDrain*dt)
	} else {
		stamina = math.Min(w.cfg.MaxStamina, stamina+w.cfg.StaminaRegen*dt)
	}
	out.Bound[BoundStamina] = core.FloatValue(stamina)
	return out
}

// direction 按输入模式把输入向量转到世界坐标，长度不超过 1
func (w *Walker) direction(state core.PawnState, input core.Vec3) core.Vec3 {
	in := mgl64.Vec3{bitpack.ValidOr(input[0], 0), bitpack.ValidOr(input[1], 0), 0}
	var dir core.Vec3
	switch state.InputMode {
	case core.InputModeNone:
		return core.Vec3{}
	case core.InputModeAllAbsolute:
		dir = in
	default:
		yaw := mgl64.DegToRad(bitpack.ValidOr(state.ControlRotation.Yaw, 0))
		sin, cos := math.Sincos(yaw)
		dir = core.Vec3{in[0]*cos - in[1]*sin, in[0]*sin + in[1]*cos, 0}
	}
	if l := dir.Len(); l > 1 {
		dir = dir.Mul(1 / l)
	}
	return dir
}

// slide 分轴移动，被墙挡住的轴速度清零
func (w *Walker) slide(loc, vel core.Vec3, dt float64) (core.Vec3, core.Vec3) {
	next := loc.Add(vel.Mul(dt))
	if w.arena == nil {
		return next, vel
	}
	if !w.arena.CanOccupy(next[0], loc[1], w.cfg.Radius) {
		next[0] = loc[0]
		vel[0] = 0
	}
	if !w.arena.CanOccupy(next[0], next[1], w.cfg.Radius) {
		next[1] = loc[1]
		vel[1] = 0
	}
	return next, vel
}
