package replication

import (
	"github.com/charmbracelet/log"

	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

// RollbackSource 可以被临时回滚到过去位置的角色
type RollbackSource interface {
	ID() ActorID
	StateQueue() StateView
	InterpolationMethod() config.InterpolationMethod
	Pawn() Pawn
}

// RollbackState 计算 view 在时刻 t 的状态。
// conn 非 nil 时只使用已发给该连接的状态；回滚不做外推
func RollbackState(view StateView, method config.InterpolationMethod, t float64, conn *protocol.ConnectionID) (core.State, bool) {
	st, _, ok := rollbackState(view, method, t, conn)
	return st, ok
}

func rollbackState(view StateView, method config.InterpolationMethod, t float64, conn *protocol.ConnectionID) (core.State, bracket, bool) {
	var include func(i int) bool
	if conn != nil {
		id := *conn
		include = func(i int) bool { return view.ReplicatedTo(i, id) }
	}
	b, ok := findBracket(view, t, false, include)
	if !ok {
		return core.InvalidState(), b, false
	}
	start, target := view.At(b.start), view.At(b.target)
	if b.start == b.target {
		return target.Clone(), b, true
	}
	fn := LinearInterpolation
	if method == config.InterpolationCubic {
		fn = CubicInterpolation
	}
	return fn(&start, &target, b.ratio), b, true
}

type savedPose struct {
	pawn  Pawn
	state core.PawnState
}

// rollbacker 在执行一批移动期间把其他角色放回过去，结束后恢复
type rollbacker struct {
	self    ActorID
	logger  *log.Logger
	metrics *telemetry.Metrics
	role    string
	saved   map[ActorID]savedPose
	order   []ActorID
}

func newRollbacker(self ActorID, logger *log.Logger, metrics *telemetry.Metrics, role string) *rollbacker {
	return &rollbacker{self: self, logger: logger, metrics: metrics, role: role, saved: make(map[ActorID]savedPose)}
}

// rollTo 把每个来源放到时刻 t 的状态，首次触碰时保存当前状态
func (r *rollbacker) rollTo(sources []RollbackSource, t float64, conn *protocol.ConnectionID) {
	for _, src := range sources {
		if src.ID() == r.self {
			invariant(r.logger, "回滚了正在执行移动的角色 %d", r.self)
			continue
		}
		if src.InterpolationMethod() == config.InterpolationNone {
			continue
		}
		st, b, ok := rollbackState(src.StateQueue(), src.InterpolationMethod(), t, conn)
		if !ok {
			continue
		}
		if b.underrun {
			r.metrics.Underrun(r.role)
			r.logger.Debug("回滚缓冲不足", "err", core.ErrBufferUnderrun, "actor", src.ID(), "t", t)
		}
		pawn := src.Pawn()
		if _, done := r.saved[src.ID()]; !done {
			r.saved[src.ID()] = savedPose{pawn: pawn, state: pawn.PawnState()}
			r.order = append(r.order, src.ID())
		}
		pawn.SetPawnState(st.PawnState.Valid(pawn.PawnState()))
	}
}

// restore 恢复所有被回滚的角色
func (r *rollbacker) restore() {
	for _, id := range r.order {
		p := r.saved[id]
		p.pawn.SetPawnState(p.state)
		delete(r.saved, id)
	}
	r.order = r.order[:0]
}
