package core

import (
	"movesync/pkg/bitpack"
)

// PawnState 角色的可复制运动学状态
type PawnState struct {
	Velocity        Vec3
	Location        Vec3
	Rotation        Rotator
	ControlRotation Rotator
	InputMode       InputMode
	Bound           BoundData
}

// InvalidPawnState 所有数值字段为哨兵
func InvalidPawnState() PawnState {
	return PawnState{
		Velocity:        bitpack.InvalidVector(),
		Location:        bitpack.InvalidVector(),
		Rotation:        InvalidRotator(),
		ControlRotation: InvalidRotator(),
		InputMode:       InputModeAbsoluteZ,
	}
}

// Clone 深拷贝（绑定数据是 map）
func (p PawnState) Clone() PawnState {
	p.Bound = p.Bound.Clone()
	return p
}

// Valid 哨兵字段用 fallback 对应字段替换
func (p PawnState) Valid(fallback PawnState) PawnState {
	out := p.Clone()
	out.Velocity = bitpack.ValidVector(p.Velocity, fallback.Velocity)
	out.Location = bitpack.ValidVector(p.Location, fallback.Location)
	out.Rotation = p.Rotation.Valid(fallback.Rotation)
	out.ControlRotation = p.ControlRotation.Valid(fallback.ControlRotation)
	if out.Bound == nil {
		out.Bound = fallback.Bound.Clone()
	} else {
		for id, v := range fallback.Bound {
			if _, ok := out.Bound[id]; !ok {
				out.Bound[id] = v
			}
		}
	}
	return out
}
