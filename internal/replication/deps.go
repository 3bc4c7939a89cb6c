package replication

import (
	"movesync/internal/telemetry"
	"movesync/pkg/core"
)

// Deps 引擎组件依赖的宿主协作者
type Deps struct {
	Simulator core.Simulator
	Clock     Clock
	Pawn      Pawn
	Obs       *telemetry.Observability
	Metrics   *telemetry.Metrics

	// Rollback 返回当前可以回滚的其他角色，nil 表示不回滚
	Rollback func() []RollbackSource
}

func (d *Deps) fill() {
	if d.Obs == nil {
		d.Obs = telemetry.Discard()
	}
	if d.Metrics == nil {
		d.Metrics = &telemetry.Metrics{}
	}
}
