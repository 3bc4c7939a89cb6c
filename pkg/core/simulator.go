package core

// Simulator 外部运动学钩子，每个子步调用一次。
// 相同输入与起始状态必须得到逐位相同的结果，客户端与服务器才能一致
type Simulator interface {
	Simulate(state PawnState, move *Move, dt float64) PawnState
}

// SimulatorFunc 函数适配器
type SimulatorFunc func(state PawnState, move *Move, dt float64) PawnState

// Simulate 实现 Simulator
func (f SimulatorFunc) Simulate(state PawnState, move *Move, dt float64) PawnState {
	return f(state, move, dt)
}
