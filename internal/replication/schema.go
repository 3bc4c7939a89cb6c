package replication

import (
	"movesync/internal/config"
	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// Schemas 一个角色的三份序列化配置，客户端与服务器必须用同一份配置构造
type Schemas struct {
	Move       core.MoveSchema
	Autonomous core.StateSchema
	Simulated  core.StateSchema
}

// BuildSchemas 由网络与复制配置生成序列化配置，返回的警告都包装 core.ErrConfiguration
func BuildSchemas(n config.NetworkConfig, r config.ReplicationConfig, b *core.Bindings) (Schemas, []error) {
	controlLevel := bitpack.SizeNone
	if r.QuantizeControlRotation {
		controlLevel = n.ControlRotationLevel()
	}

	move := core.MoveSchema{
		InputQuantize:              n.InputLevel(),
		InputFlagMask:              b.FlagMask(),
		OutVelocity:                false,
		OutLocation:                true,
		OutRotation:                core.AllAxes,
		OutControlRotation:         core.AllAxes,
		OutVelocityQuantize:        n.VelocityLevel(),
		OutLocationQuantize:        n.LocationLevel(),
		OutRotationQuantize:        n.RotationLevel(),
		OutControlRotationQuantize: controlLevel,
	}

	// 客户端自己的控制旋转由输入决定，不必回传
	apControl := core.AllAxes
	if r.UseClientControlRotation {
		apControl = 0
	}
	ap := core.StateSchema{
		Autonomous:              true,
		Velocity:                r.ReplicateVelocity,
		Location:                true,
		Rotation:                core.AllAxes,
		ControlRotation:         apControl,
		InputMode:               r.ReplicateInputMode,
		Bound:                   b.DataFor(true),
		VelocityQuantize:        n.VelocityLevel(),
		LocationQuantize:        n.LocationLevel(),
		RotationQuantize:        n.RotationLevel(),
		ControlRotationQuantize: controlLevel,
	}

	sp := core.StateSchema{
		Velocity:                r.ReplicateVelocity || n.InterpolationMethod() == config.InterpolationCubic,
		Location:                true,
		Rotation:                core.AllAxes,
		ControlRotation:         core.AllAxes,
		InputMode:               r.ReplicateInputMode,
		InputFlagMask:           b.SimulatedFlagMask(),
		Bound:                   b.DataFor(false),
		VelocityQuantize:        n.VelocityLevel(),
		LocationQuantize:        n.LocationLevel(),
		RotationQuantize:        n.RotationLevel(),
		ControlRotationQuantize: n.ControlRotationLevel(),
	}

	warnings := core.CheckSchemas(&ap, &sp)
	return Schemas{Move: move, Autonomous: ap, Simulated: sp}, warnings
}

// quantizePawn 按移动配置量化执行结果，客户端与服务器从同样的值开始下一次移动
func quantizePawn(s core.PawnState, schema *core.MoveSchema) core.PawnState {
	m := core.Move{Out: s.Clone()}
	m.QuantizeOutput(schema)
	for id, v := range m.Out.Bound {
		m.Out.Bound[id] = v.Quantize()
	}
	return m.Out
}
