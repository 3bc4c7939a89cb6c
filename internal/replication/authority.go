package replication

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"movesync/internal/config"
	"movesync/pkg/bitpack"
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

const (
	timerStrikeReset       = "strike-reset"
	timerFullSerialization = "full-serialization"
)

// Authority 服务器端的权威角色：校验并执行客户端移动，为每个观察者生成状态
type Authority struct {
	id     ActorID
	owner  protocol.ConnectionID
	net    config.NetworkConfig
	rep    config.ReplicationConfig
	schema Schemas
	hooks  AuthorityHooks
	deps   Deps
	logger *log.Logger

	exec    executor
	decoder *protocol.MoveDecoder

	lastExecutedTs float64
	lastMoveValid  bool
	strikes        int
	timers         *timerSet

	apState       core.State
	spState       core.State
	apFullPending bool

	history   *StateQueue
	apRec     *protocol.ConnectionRecord
	observers *protocol.DeltaTracker
	rollback  *rollbacker
}

// NewAuthority 创建由 owner 连接控制的权威角色，并以角色当前状态作为初始快照
func NewAuthority(id ActorID, owner protocol.ConnectionID, cfg *config.Config, schemas Schemas,
	hooks AuthorityHooks, deps Deps) *Authority {
	deps.fill()
	logger := deps.Obs.Log.With("actor", id)
	a := &Authority{
		id:             id,
		owner:          owner,
		net:            cfg.Network,
		rep:            cfg.Replication,
		schema:         schemas,
		hooks:          hooks,
		deps:           deps,
		logger:         logger,
		exec:           executor{sim: deps.Simulator, logger: logger},
		lastMoveValid:  true,
		timers:         newTimerSet(),
		history:        NewStateQueue(cfg.Network.StateQueueMaxSize),
		apRec:          protocol.NewConnectionRecord(),
		observers:      protocol.NewDeltaTracker(),
		rollback:       newRollbacker(id, logger, deps.Metrics, "authority"),
	}
	a.decoder = protocol.NewMoveDecoder(&a.schema.Move)

	now := deps.Clock.Now()
	a.timers.every(timerStrikeReset, cfg.Replication.StrikeResetInterval.Seconds(), now, func(float64) {
		if a.strikes > 0 {
			a.logger.Debug("strike 清零", "strikes", a.strikes)
		}
		a.strikes = 0
	})
	a.timers.every(timerFullSerialization, cfg.Replication.FullSerializationInterval.Seconds(), now, func(float64) {
		a.observers.ForceFullAll()
		a.apRec.ForceFull = true
	})

	pawn := deps.Pawn.PawnState()
	// 出生快照充当第一条移动的前一条，客户端以同一个时间戳计算首个步长
	a.lastExecutedTs = now
	a.apState = core.NewState(now, pawn, 0)
	a.spState = core.NewState(now, pawn, 0)
	a.history.Push(a.spState)
	return a
}

// ID 实现 RollbackSource
func (a *Authority) ID() ActorID { return a.id }

// StateQueue 实现 RollbackSource：服务器保存的模拟代理状态历史
func (a *Authority) StateQueue() StateView { return a.history }

// InterpolationMethod 实现 RollbackSource
func (a *Authority) InterpolationMethod() config.InterpolationMethod {
	return a.net.InterpolationMethod()
}

// Pawn 实现 RollbackSource
func (a *Authority) Pawn() Pawn { return a.deps.Pawn }

// Owner 控制该角色的连接
func (a *Authority) Owner() protocol.ConnectionID { return a.owner }

// Strikes 当前 strike 数
func (a *Authority) Strikes() int { return a.strikes }

// LastMoveValid 最近一条移动的客户端结果是否被接受
func (a *Authority) LastMoveValid() bool { return a.lastMoveValid }

// LastExecutedTimestamp 最近执行的移动时间戳，未执行过时为出生快照的时间戳
func (a *Authority) LastExecutedTimestamp() float64 { return a.lastExecutedTs }

// AutonomousState 发给控制者的最新状态
func (a *Authority) AutonomousState() core.State { return a.apState.Clone() }

// SimulatedState 发给其他观察者的最新状态
func (a *Authority) SimulatedState() core.State { return a.spState.Clone() }

// Rebind 断线重连后换成新的连接：丢弃移动差量基准并强制全量同步
func (a *Authority) Rebind(owner protocol.ConnectionID) {
	a.observers.Remove(owner)
	a.owner = owner
	a.decoder = protocol.NewMoveDecoder(&a.schema.Move)
	a.apRec.Reset()
	a.apFullPending = true
	a.apState.ContainsFullBatch = true
}

// SetRelevant 更新观察者的相关性，返回是否发生变化
func (a *Authority) SetRelevant(conn protocol.ConnectionID, relevant bool) bool {
	if conn == a.owner {
		return false
	}
	changed := a.observers.SetRelevant(conn, relevant)
	if changed && !relevant {
		a.history.ForgetConnection(conn)
	}
	return changed
}

// ForceFull 连接没有收到上一次序列化的状态，下一次对它全量发送
func (a *Authority) ForceFull(conn protocol.ConnectionID) {
	if conn == a.owner {
		a.apRec.ForceFull = true
		return
	}
	a.observers.ForceFull(conn)
}

// IsRelevantTo 观察者当前是否相关
func (a *Authority) IsRelevantTo(conn protocol.ConnectionID) bool {
	return conn == a.owner || a.observers.Record(conn) != nil
}

// RemoveConnection 观察者断开
func (a *Authority) RemoveConnection(conn protocol.ConnectionID) {
	a.observers.Remove(conn)
	a.history.ForgetConnection(conn)
}

// Tick 推进定时器
func (a *Authority) Tick(now float64) {
	a.timers.advance(now)
}

// Close 取消所有定时器
func (a *Authority) Close() {
	a.timers.close()
}

// ProcessMoves 处理一批客户端移动。rtt 为控制连接的往返时间（秒）。
// 被拒绝的批次仍然完整解包，保证差量基准与客户端一致
func (a *Authority) ProcessMoves(payload []byte, rtt float64) error {
	moves, err := a.decoder.Decode(payload)
	if err != nil {
		a.addStrike(err)
		return fmt.Errorf("角色 %d 移动批次: %w", a.id, err)
	}

	if a.strikes > a.rep.MaxStrikeCount {
		a.deps.Metrics.RejectedBatch()
		a.conspicuous()
		return fmt.Errorf("%w: 角色 %d strike 超限 (%d)，批次不执行", core.ErrProtocolViolation, a.id, a.strikes)
	}
	if h := a.hooks.ValidateRemoteMoves; h != nil && !h(moves) {
		a.logger.Debug("移动批次被宿主否决", "count", len(moves))
		return nil
	}
	if a.rep.VerifyClientTimestamps {
		if err := a.verifyTimestamps(moves, rtt); err != nil {
			a.deps.Metrics.RejectedBatch()
			a.addStrike(err)
			return fmt.Errorf("角色 %d 移动批次: %w", a.id, err)
		}
	}

	if h := a.hooks.PreRemoteMovesProcessing; h != nil {
		h(moves)
	}

	var sources []RollbackSource
	if a.net.RollbackEnabled && a.deps.Rollback != nil {
		sources = a.deps.Rollback()
	}
	owner := a.owner
	executed := 0
	for i := range moves {
		m := &moves[i]
		if m.Timestamp <= a.lastExecutedTs {
			a.logger.Debug("跳过过期移动", "ts", m.Timestamp, "last", a.lastExecutedTs)
			continue
		}
		if len(sources) > 0 {
			a.rollback.rollTo(sources, m.Timestamp-a.net.SimulationDelay, &owner)
		}
		a.executeRemoteMove(m)
		executed++
	}
	a.rollback.restore()

	if executed > 0 {
		a.history.Push(a.spState)
	}
	if h := a.hooks.OnRemoteMovesProcessed; h != nil {
		h()
	}
	return nil
}

// DiscardMoves 只解包不执行。移动批次是差量编码的，丢弃前必须解包，差量基准才能与客户端一致
func (a *Authority) DiscardMoves(payload []byte) error {
	a.deps.Metrics.RejectedBatch()
	if _, err := a.decoder.Decode(payload); err != nil {
		a.addStrike(err)
		return fmt.Errorf("角色 %d 移动批次: %w", a.id, err)
	}
	return nil
}

// executeRemoteMove 以服务器自己的状态为起点执行一条移动并与客户端结果比较
func (a *Authority) executeRemoteMove(m *core.Move) {
	s := &a.schema.Move
	m.QuantizeInput(s)
	m.InputFlags &= s.InputFlagMask
	claimed := m.Out.Clone()

	in := a.deps.Pawn.PawnState()
	if a.rep.UseClientControlRotation {
		in.ControlRotation = claimed.ControlRotation.Valid(in.ControlRotation)
	}
	if s.OutControlRotation != 0 {
		in.ControlRotation = in.ControlRotation.Quantize(s.OutControlRotationQuantize)
	}
	m.In = in

	dt := math.Min(m.Timestamp-a.lastExecutedTs, a.net.MaxServerDeltaTime)
	m.DeltaTime = dt

	if h := a.hooks.PreRemoteMoveExecution; h != nil {
		h(m)
	}
	out := quantizePawn(a.exec.execute(in, m, dt), s)

	if a.rep.EnsureValidMoveData {
		claimed = claimed.Valid(out)
	}
	valid := a.resolveDiscrepancy(&out, &claimed)
	m.Out = out
	a.deps.Pawn.SetPawnState(out)
	if h := a.hooks.OnResolveClientDiscrepancy; h != nil {
		h(m, out.Clone(), valid)
	}

	a.lastExecutedTs = m.Timestamp
	a.lastMoveValid = valid
	if !valid {
		a.deps.Metrics.Correction()
		if a.deps.Obs.Moves() {
			a.logger.Debug("客户端结果超出容差", "err", core.ErrTrustViolation, "ts", m.Timestamp,
				"server", out.Location, "client", claimed.Location)
		}
	}
	a.saveStates(m.Timestamp, out, m.InputFlags, valid)

	if h := a.hooks.PostRemoteMoveExecution; h != nil {
		h(m)
	}
}

// resolveDiscrepancy 客户端结果在容差内（或该项由客户端权威）时采纳客户端的值，否则保留服务器结果并判为无效
func (a *Authority) resolveDiscrepancy(out, claimed *core.PawnState) bool {
	valid := true

	switch {
	case !bitpack.IsValidVector(claimed.Location):
		valid = false
	case a.rep.UseClientLocation || claimed.Location.Sub(out.Location).Len() <= a.net.MaxLocationError:
		out.Location = claimed.Location
	default:
		valid = false
	}

	switch {
	case !claimed.Rotation.IsValid():
		valid = false
	case a.rep.UseClientRotation || claimed.Rotation.Equals(out.Rotation, a.net.MaxRotationError):
		out.Rotation = claimed.Rotation
	default:
		valid = false
	}

	// 客户端权威的控制朝向在执行前已经作为输入使用
	if !a.rep.UseClientControlRotation {
		switch {
		case !claimed.ControlRotation.IsValid():
			valid = false
		case claimed.ControlRotation.Equals(out.ControlRotation, a.net.MaxControlRotationError):
			out.ControlRotation = claimed.ControlRotation
		default:
			valid = false
		}
	}
	return valid
}

// saveStates 同一次执行生成两份状态。自主代理的完整批次标记保持到发送为止
func (a *Authority) saveStates(ts float64, out core.PawnState, flags uint16, valid bool) {
	a.apFullPending = a.apFullPending || !valid || a.rep.AlwaysReplay
	a.apState = core.NewState(ts, out, flags)
	a.apState.ContainsFullBatch = a.apFullPending
	a.spState = core.NewState(ts, out, flags&a.schema.Simulated.InputFlagMask)
}

// SerializeFor 为连接序列化本角色的状态。
// 控制者收到自主代理状态，其他相关观察者收到模拟代理状态；没有新状态时返回 false
func (a *Authority) SerializeFor(conn protocol.ConnectionID) ([]byte, protocol.Role, bool) {
	if conn == a.owner {
		if !a.apRec.ForceFull && a.apState.Timestamp <= a.apRec.LastTimestamp {
			return nil, protocol.RoleNone, false
		}
		st := a.apState
		if a.apRec.ForceFull {
			st.ContainsFullBatch = true
		}
		payload := protocol.EncodeState(&st, &a.schema.Autonomous, a.apRec)
		a.apFullPending = false
		a.apState.ContainsFullBatch = false
		return payload, protocol.RoleAutonomous, true
	}

	rec := a.observers.Record(conn)
	if rec == nil {
		return nil, protocol.RoleNone, false
	}
	if !rec.ForceFull && a.spState.Timestamp <= rec.LastTimestamp {
		return nil, protocol.RoleNone, false
	}
	payload := protocol.EncodeState(&a.spState, &a.schema.Simulated, rec)
	a.history.MarkReplicated(a.spState.Timestamp, conn)
	return payload, protocol.RoleSimulated, true
}
