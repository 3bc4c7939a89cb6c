package core

import (
	"fmt"

	"movesync/pkg/bitpack"
)

// AxisMask 旋转分量选择位
type AxisMask uint8

const (
	AxisRoll AxisMask = 1 << iota
	AxisPitch
	AxisYaw

	AllAxes = AxisRoll | AxisPitch | AxisYaw
)

// Has 是否包含第 i 个分量（0 Roll，1 Pitch，2 Yaw）
func (m AxisMask) Has(i int) bool {
	return m&(1<<uint(i)) != 0
}

// MoveField 移动记录的线上字段，顺序即线上顺序
type MoveField uint16

const (
	MoveInputX MoveField = 1 << iota
	MoveInputY
	MoveInputZ
	MoveInputFlags
	MoveOutVelocity
	MoveOutLocation
	MoveOutRotationRoll
	MoveOutRotationPitch
	MoveOutRotationYaw
	MoveOutControlRoll
	MoveOutControlPitch
	MoveOutControlYaw

	MoveAllFields MoveField = 1<<iota - 1
)

// MoveInputAxis 第 i 个输入轴对应的字段
func MoveInputAxis(i int) MoveField {
	return MoveInputX << uint(i)
}

// MoveOutRotationAxis 第 i 个旋转分量对应的字段
func MoveOutRotationAxis(i int) MoveField {
	return MoveOutRotationRoll << uint(i)
}

// MoveOutControlAxis 第 i 个控制旋转分量对应的字段
func MoveOutControlAxis(i int) MoveField {
	return MoveOutControlRoll << uint(i)
}

// MoveSchema 移动记录的序列化配置，客户端与服务器必须一致
type MoveSchema struct {
	InputQuantize bitpack.SizeLevel
	InputFlagMask uint16

	OutVelocity        bool
	OutLocation        bool
	OutRotation        AxisMask
	OutControlRotation AxisMask

	OutVelocityQuantize        bitpack.DecimalLevel
	OutLocationQuantize        bitpack.DecimalLevel
	OutRotationQuantize        bitpack.SizeLevel
	OutControlRotationQuantize bitpack.SizeLevel
}

// DefaultMoveSchema 默认移动序列化配置
func DefaultMoveSchema() MoveSchema {
	return MoveSchema{
		InputQuantize:              bitpack.SizeShort,
		InputFlagMask:              0xFFFF,
		OutVelocity:                false,
		OutLocation:                true,
		OutRotation:                AllAxes,
		OutControlRotation:         AllAxes,
		OutVelocityQuantize:        bitpack.RoundTwoDecimals,
		OutLocationQuantize:        bitpack.RoundTwoDecimals,
		OutRotationQuantize:        bitpack.SizeShort,
		OutControlRotationQuantize: bitpack.SizeShort,
	}
}

// StateField 状态的字段组，用于标记本次实际收到的字段
type StateField uint8

const (
	StateVelocity StateField = 1 << iota
	StateLocation
	StateRotation
	StateControlRotation
	StateInputMode
	StateInputFlags
	StateBound
)

// StateSchema 某一类观察者（自主代理 / 模拟代理）的状态序列化配置
type StateSchema struct {
	// Autonomous 为真时写入"完整批次"标记，
	// 且位置与旋转只在完整批次时发送
	Autonomous bool

	Velocity        bool
	Location        bool
	Rotation        AxisMask
	ControlRotation AxisMask
	InputMode       bool
	InputFlagMask   uint16
	Bound           []Binding

	VelocityQuantize        bitpack.DecimalLevel
	LocationQuantize        bitpack.DecimalLevel
	RotationQuantize        bitpack.SizeLevel
	ControlRotationQuantize bitpack.SizeLevel
}

// CheckSchemas 校验同一角色两份状态配置的量化精度一致，
// 不一致时以自主代理配置为准修正模拟代理配置并返回警告
func CheckSchemas(autonomous, simulated *StateSchema) []error {
	var warnings []error
	if autonomous.LocationQuantize != simulated.LocationQuantize {
		warnings = append(warnings, fmt.Errorf("%w: 位置量化不一致 (%s/%s)", ErrConfiguration,
			autonomous.LocationQuantize, simulated.LocationQuantize))
		simulated.LocationQuantize = autonomous.LocationQuantize
	}
	if autonomous.VelocityQuantize != simulated.VelocityQuantize {
		warnings = append(warnings, fmt.Errorf("%w: 速度量化不一致 (%s/%s)", ErrConfiguration,
			autonomous.VelocityQuantize, simulated.VelocityQuantize))
		simulated.VelocityQuantize = autonomous.VelocityQuantize
	}
	if autonomous.RotationQuantize != simulated.RotationQuantize {
		warnings = append(warnings, fmt.Errorf("%w: 旋转量化不一致 (%s/%s)", ErrConfiguration,
			autonomous.RotationQuantize, simulated.RotationQuantize))
		simulated.RotationQuantize = autonomous.RotationQuantize
	}
	return warnings
}
