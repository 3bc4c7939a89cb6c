package replication

import (
	"fmt"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

// OnServerState 处理服务器发回的自主代理状态
func (p *Predictor) OnServerState(payload []byte) error {
	st, err := protocol.DecodeState(payload, &p.schema.Autonomous, p.stateRec)
	if err != nil {
		return fmt.Errorf("解码自主代理状态失败: %w", err)
	}
	p.Reconcile(st)
	return nil
}

// Reconcile 丢弃已确认的移动，必要时从服务器状态出发重放剩余移动。返回是否发生重放
func (p *Predictor) Reconcile(st core.State) bool {
	if p.lastServerState.IsValid() && st.Timestamp <= p.lastServerState.Timestamp {
		p.deps.Obs.Log.Debug("忽略过期的服务器状态", "actor", p.id, "ts", st.Timestamp)
		return false
	}
	p.lastServerState = st.Clone()

	source := p.clearAcknowledged(st.Timestamp)
	if len(p.queue) == 0 {
		p.deps.Obs.Log.Warn("确认后移动队列为空，客户端与服务器时间戳不一致", "actor", p.id, "ts", st.Timestamp)
	}

	if !p.shouldReplay(&st, &source) {
		return false
	}
	p.replay(&st, &source)
	return true
}

// clearAcknowledged 弹出时间戳不大于 ts 的移动，返回时间戳恰好相等的那条
func (p *Predictor) clearAcknowledged(ts float64) core.Move {
	source := core.InvalidMove()
	k := 0
	for k < len(p.queue) && p.queue[k].Timestamp <= ts {
		if p.queue[k].Timestamp == ts {
			source = p.queue[k].Move.Clone()
		}
		k++
	}
	p.queue = append(p.queue[:0], p.queue[k:]...)

	kept := p.pending[:0]
	for _, pts := range p.pending {
		if pts > ts {
			kept = append(kept, pts)
		}
	}
	p.pending = kept
	return source
}

// shouldReplay 服务器接受移动时只检查服务器不校验的字段，拒绝时检查位姿
func (p *Predictor) shouldReplay(st *core.State, source *core.Move) bool {
	if p.rep.AlwaysReplay || !source.IsValid() {
		return true
	}
	schema := &p.schema.Autonomous
	out := &source.Out

	if !st.ContainsFullBatch {
		if schema.InputMode && st.InputMode != out.InputMode {
			return true
		}
		for _, b := range schema.Bound {
			sv, ok := st.Bound[b.ID]
			if !ok {
				continue
			}
			if cv, ok := out.Bound[b.ID]; !ok || !sv.Equal(cv) {
				return true
			}
		}
		return schema.Velocity && p.velocityDiffers(st.Velocity, out.Velocity)
	}

	differs := schema.Velocity && p.velocityDiffers(st.Velocity, out.Velocity)
	if !p.rep.UseClientLocation && bitpack.IsValidVector(st.Location) &&
		st.Location.Sub(out.Location).Len() > p.net.MaxLocationError {
		differs = true
	}
	if !p.rep.UseClientRotation && !st.Rotation.Valid(out.Rotation).Equals(out.Rotation, p.net.MaxRotationError) {
		differs = true
	}
	if !p.rep.UseClientControlRotation &&
		!st.ControlRotation.Valid(out.ControlRotation).Equals(out.ControlRotation, p.net.MaxControlRotationError) {
		differs = true
	}
	return differs && p.allowedToReplay()
}

func (p *Predictor) velocityDiffers(server, client core.Vec3) bool {
	if !bitpack.IsValidVector(server) || !bitpack.IsValidVector(client) {
		return false
	}
	return server.Sub(client).Len() > p.net.MaxVelocityError
}

func (p *Predictor) allowedToReplay() bool {
	if h := p.hooks.IsAllowedToReplay; h != nil {
		return h()
	}
	if !p.rep.OnlyReplayWhenMoving {
		return true
	}
	v := p.deps.Pawn.PawnState().Velocity
	return bitpack.IsValidVector(v) && v.Len() > p.rep.ReplaySpeedThreshold
}

// replay 采纳服务器状态后按顺序重新执行队列中的所有移动
func (p *Predictor) replay(st *core.State, source *core.Move) {
	if h := p.hooks.PreReplay; h != nil {
		h()
	}

	fallback := p.deps.Pawn.PawnState()
	if source.IsValid() {
		fallback = source.Out.Valid(fallback)
	}
	base := st.PawnState.Valid(fallback)
	if !p.schema.Autonomous.InputMode {
		base.InputMode = fallback.InputMode
	}
	base = quantizePawn(base, &p.schema.Move)
	p.deps.Pawn.SetPawnState(base)
	if h := p.hooks.OnServerStateAdopted; h != nil {
		h(source, st)
	}

	var sources []RollbackSource
	if p.net.RollbackEnabled && p.deps.Rollback != nil {
		sources = p.deps.Rollback()
	}

	for i := range p.queue {
		m := &p.queue[i].Move
		if h := p.hooks.PreReplayMoveExecution; h != nil {
			h(m)
		}
		if len(sources) > 0 {
			p.rollback.rollTo(sources, m.Timestamp-p.net.SimulationDelay, nil)
		}
		in := p.deps.Pawn.PawnState()
		in.ControlRotation = m.In.ControlRotation.Valid(in.ControlRotation)
		m.In = in
		m.Out = p.run(in, m, m.DeltaTime)
		if h := p.hooks.PostReplayMoveExecution; h != nil {
			h(m)
		}
	}
	p.rollback.restore()

	if h := p.hooks.OnMovesReplayed; h != nil {
		h()
	}
	p.deps.Metrics.Replay()
	if p.deps.Obs.Replays() {
		p.deps.Obs.Log.Info("重放移动", "actor", p.id, "ts", st.Timestamp, "moves", len(p.queue),
			"full", st.ContainsFullBatch, "loc", p.deps.Pawn.PawnState().Location)
	}
}
