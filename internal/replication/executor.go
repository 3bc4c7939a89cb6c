package replication

import (
	"math"

	"github.com/charmbracelet/log"

	"movesync/pkg/core"
)

// subDeltaTime 第 iter 个子步的步长。
// 剩余时间超过 MaxTimeStep 时取 min(MaxTimeStep, remaining/2)，
// 因此最后两个子步平分余量，避免出现极短的尾步
func subDeltaTime(iter int, remaining float64) float64 {
	if remaining > core.MaxTimeStep && iter < core.MaxIterations-1 {
		return math.Min(core.MaxTimeStep, remaining/2)
	}
	return remaining
}

// executor 把一次移动拆成子步交给 Simulator，并防止重入
type executor struct {
	sim     core.Simulator
	logger  *log.Logger
	running bool
}

// execute 从 state 出发执行 move，dt 小于 MinDeltaTime 时原样返回
func (e *executor) execute(state core.PawnState, move *core.Move, dt float64) core.PawnState {
	if e.running {
		invariant(e.logger, "移动执行重入 (ts=%f)", move.Timestamp)
		return state
	}
	e.running = true
	defer func() { e.running = false }()

	remaining := dt
	for i := 0; i < core.MaxIterations && remaining > core.MinDeltaTime; i++ {
		step := subDeltaTime(i, remaining)
		state = e.sim.Simulate(state, move, step)
		remaining -= step
	}
	return state
}
