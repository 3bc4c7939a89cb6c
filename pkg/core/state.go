package core

import (
	"movesync/pkg/bitpack"
)

// State 某一时刻的权威快照，服务器到观察者复制的单位，也是插值缓冲的元素
type State struct {
	Timestamp float64
	PawnState
	InputFlags uint16

	// ContainsFullBatch 位置与旋转是否随本次状态一起发送。
	// 模拟代理恒为真；自主代理仅在移动被拒绝或始终重放时为真
	ContainsFullBatch bool

	// Received 本次反序列化实际读到新值的字段组
	Received StateField
}

// InvalidState 时间戳为负、数值为哨兵的状态
func InvalidState() State {
	return State{Timestamp: -1, PawnState: InvalidPawnState()}
}

// NewState 用角色当前状态构造快照
func NewState(timestamp float64, pawn PawnState, flags uint16) State {
	return State{Timestamp: timestamp, PawnState: pawn.Clone(), InputFlags: flags, ContainsFullBatch: true}
}

// IsValid 时间戳非负
func (s *State) IsValid() bool {
	return s.Timestamp >= 0
}

// Clone 深拷贝
func (s State) Clone() State {
	s.PawnState = s.PawnState.Clone()
	return s
}

// Quantize 按序列化配置量化，可重复调用
func (s *State) Quantize(schema *StateSchema) {
	s.Velocity = bitpack.QuantizeVector(s.Velocity, schema.VelocityQuantize)
	s.Location = bitpack.QuantizeVector(s.Location, schema.LocationQuantize)
	s.Rotation = s.Rotation.Quantize(schema.RotationQuantize)
	s.ControlRotation = s.ControlRotation.Quantize(schema.ControlRotationQuantize)
	for _, b := range schema.Bound {
		if v, ok := s.Bound[b.ID]; ok {
			s.Bound[b.ID] = v.Quantize()
		}
	}
}
