package replication

import (
	"movesync/pkg/core"
)

// PredictorHooks 客户端预测与重放的扩展点，nil 字段使用默认行为
type PredictorHooks struct {
	// ShouldEnqueueMove >0 强制新建队列项，<0 强制合并，0 交给内置规则
	ShouldEnqueueMove func(current, lastSignificant *core.Move) int

	PreReplay               func()
	PreReplayMoveExecution  func(move *core.Move)
	PostReplayMoveExecution func(move *core.Move)
	OnMovesReplayed         func()

	// IsAllowedToReplay 默认按 OnlyReplayWhenMoving 与速度阈值判断
	IsAllowedToReplay func() bool

	// OnServerStateAdopted 服务器状态被采纳为重放基准后调用
	OnServerStateAdopted func(source *core.Move, state *core.State)
}

// AuthorityHooks 服务器权威执行的扩展点
type AuthorityHooks struct {
	// ValidateRemoteMoves 返回 false 时整批丢弃
	ValidateRemoteMoves func(moves []core.Move) bool

	PreRemoteMovesProcessing func(moves []core.Move)
	PreRemoteMoveExecution   func(move *core.Move)
	PostRemoteMoveExecution  func(move *core.Move)
	OnRemoteMovesProcessed   func()

	// OnResolveClientDiscrepancy 服务器结果与客户端上报比较后调用，valid 为是否接受
	OnResolveClientDiscrepancy func(move *core.Move, server core.PawnState, valid bool)

	// HandleConspicuousClient strike 数超过上限时调用，通常由宿主断开或标记该客户端
	HandleConspicuousClient func(strikes int)
}

// SmootherHooks 模拟代理平滑的扩展点
type SmootherHooks struct {
	SimulatedTick          func(dt float64, smooth *core.State, startIdx, targetIdx int, skipped []int)
	OnSimulatedStateLoaded func(smooth *core.State)
}
