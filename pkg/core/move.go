package core

import (
	"movesync/pkg/bitpack"
)

// Move 一次模拟步的输入与结果，客户端到服务器复制的单位
type Move struct {
	Timestamp   float64 // 本地时钟时间戳，严格递增
	DeltaTime   float64 // 执行时使用的步长
	InputVector Vec3
	InputFlags  uint16

	In  PawnState // 执行前
	Out PawnState // 执行后

	// HasNew 线上携带新值的字段，其余字段沿用上一条移动
	HasNew MoveField
}

// NewMove 创建指定时间戳的空移动
func NewMove(timestamp float64) Move {
	return Move{
		Timestamp: timestamp,
		In:        PawnState{InputMode: InputModeAbsoluteZ},
		Out:       PawnState{InputMode: InputModeAbsoluteZ},
	}
}

// InvalidMove 时间戳为负的无效移动，输出全部为哨兵
func InvalidMove() Move {
	return Move{
		Timestamp:   -1,
		InputVector: bitpack.InvalidVector(),
		In:          InvalidPawnState(),
		Out:         InvalidPawnState(),
	}
}

// IsValid 时间戳非负
func (m *Move) IsValid() bool {
	return m.Timestamp >= 0
}

// Clone 深拷贝
func (m Move) Clone() Move {
	m.In = m.In.Clone()
	m.Out = m.Out.Clone()
	return m
}

// QuantizeInput 裁剪并量化输入向量，可重复调用
func (m *Move) QuantizeInput(s *MoveSchema) {
	m.InputVector = QuantizeInputVector(m.InputVector, s.InputQuantize)
}

// QuantizeOutput 按序列化配置量化输出，可重复调用
func (m *Move) QuantizeOutput(s *MoveSchema) {
	m.Out.Velocity = bitpack.QuantizeVector(m.Out.Velocity, s.OutVelocityQuantize)
	m.Out.Location = bitpack.QuantizeVector(m.Out.Location, s.OutLocationQuantize)
	m.Out.Rotation = m.Out.Rotation.Quantize(s.OutRotationQuantize)
	if s.OutControlRotation != 0 {
		m.Out.ControlRotation = m.Out.ControlRotation.Quantize(s.OutControlRotationQuantize)
	}
}
