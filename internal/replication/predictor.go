package replication

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"movesync/internal/config"
	"movesync/pkg/bitpack"
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

// combineEpsilon 合并判断的时间容差，吸收帧间隔的浮点误差
const combineEpsilon = 1e-4

// Input 一帧的本地输入
type Input struct {
	Vector core.Vec3
	Flags  uint16
	// ControlRotation 本帧的控制朝向，哨兵表示沿用角色当前值
	ControlRotation core.Rotator
}

type queuedMove struct {
	core.Move
	sent bool
}

// Predictor 自主代理：本地预测、移动队列、限速发送与服务器纠正后的重放
type Predictor struct {
	id     ActorID
	net    config.NetworkConfig
	rep    config.ReplicationConfig
	schema Schemas
	hooks  PredictorHooks
	deps   Deps

	noCombine uint16
	exec      executor

	queue           []queuedMove
	pending         []float64
	lastSignificant core.Move

	encoder *protocol.MoveEncoder
	limiter *rate.Limiter

	stateRec        *protocol.ConnectionRecord
	lastServerState core.State
	rollback        *rollbacker
}

// NewPredictor 创建本地控制角色的预测器
func NewPredictor(id ActorID, cfg *config.Config, schemas Schemas, bindings *core.Bindings,
	hooks PredictorHooks, deps Deps) *Predictor {
	deps.fill()
	logger := deps.Obs.Log.With("actor", id)
	p := &Predictor{
		id:              id,
		net:             cfg.Network,
		rep:             cfg.Replication,
		schema:          schemas,
		hooks:           hooks,
		deps:            deps,
		noCombine:       bindings.NoCombineMask(),
		exec:            executor{sim: deps.Simulator, logger: logger},
		queue:           make([]queuedMove, 0, cfg.Network.MoveQueueMaxSize),
		lastSignificant: core.InvalidMove(),
		limiter:         rate.NewLimiter(rate.Limit(cfg.Network.ClientSendRate), 1),
		stateRec:        protocol.NewConnectionRecord(),
		lastServerState: core.InvalidState(),
		rollback:        newRollbacker(id, logger, deps.Metrics, "autonomous"),
	}
	p.encoder = protocol.NewMoveEncoder(&p.schema.Move)
	return p
}

// ID 角色编号
func (p *Predictor) ID() ActorID { return p.id }

// QueueLen 移动队列长度
func (p *Predictor) QueueLen() int { return len(p.queue) }

// Queued 第 i 条排队移动的副本（0 最旧）
func (p *Predictor) Queued(i int) core.Move { return p.queue[i].Move.Clone() }

// PendingLen 等待发送的移动数
func (p *Predictor) PendingLen() int { return len(p.pending) }

// Reset 重连后丢弃队列与差量基准
func (p *Predictor) Reset() {
	p.queue = p.queue[:0]
	p.pending = p.pending[:0]
	p.lastSignificant = core.InvalidMove()
	p.encoder.Reset()
	p.stateRec.Reset()
	p.lastServerState = core.InvalidState()
}

// Tick 每帧调用一次：采样输入、入队或合并、执行，到达发送时机时返回要发送的移动批次
func (p *Predictor) Tick(dt float64, in Input) ([]byte, error) {
	now := p.deps.Clock.Now()
	local := p.refreshLocalMove(now, in)

	if n := len(p.queue); n > 0 && now <= p.queue[n-1].Timestamp {
		p.deps.Obs.Log.Warn("本地时间戳未递增，移动不入队", "actor", p.id, "ts", now, "newest", p.queue[n-1].Timestamp)
		p.executeUnqueued(&local, dt)
		return nil, nil
	}

	if !p.shouldEnqueue(&local) {
		p.combine(&local)
		return p.flush(now)
	}

	if !p.enqueue(local) {
		p.deps.Obs.Log.Warn("移动队列已满且最旧的移动尚未发送，移动不入队", "actor", p.id, "size", len(p.queue))
		p.executeUnqueued(&local, dt)
		return p.flush(now)
	}

	n := len(p.queue)
	if n == 1 {
		p.executeQueued(0, p.firstDelta(dt))
	} else {
		p.executeQueued(n-1, p.deltaFor(n-1))
		p.pending = append(p.pending, p.queue[n-2].Timestamp)
	}
	p.lastSignificant = p.queue[n-1].Move.Clone()
	return p.flush(now)
}

// refreshLocalMove 用本帧输入与角色当前状态构造移动
func (p *Predictor) refreshLocalMove(now float64, in Input) core.Move {
	s := &p.schema.Move
	m := core.NewMove(now)
	m.InputVector = in.Vector
	m.QuantizeInput(s)
	m.InputFlags = in.Flags & s.InputFlagMask
	m.In = p.deps.Pawn.PawnState()
	m.In.ControlRotation = in.ControlRotation.Valid(m.In.ControlRotation)
	if s.OutControlRotation != 0 {
		m.In.ControlRotation = m.In.ControlRotation.Quantize(s.OutControlRotationQuantize)
	}
	return m
}

// shouldEnqueue 是否新建队列项，否则合并到最新一项
func (p *Predictor) shouldEnqueue(m *core.Move) bool {
	n := len(p.queue)
	if n < 2 {
		return true
	}
	if h := p.hooks.ShouldEnqueueMove; h != nil {
		if r := h(m, &p.lastSignificant); r > 0 {
			return true
		} else if r < 0 {
			return false
		}
	}

	if p.queue[n-1].DeltaTime > p.net.MaxClientDeltaTime+combineEpsilon {
		return true
	}

	last := &p.lastSignificant
	if bitpack.ChangedVector(m.InputVector, last.InputVector, p.schema.Move.InputQuantize.AxisTolerance()) {
		return true
	}
	if m.In.InputMode != last.In.InputMode {
		return true
	}
	if m.InputFlags != last.InputFlags || m.InputFlags&p.noCombine != 0 {
		return true
	}
	if p.rep.UseClientLocation &&
		m.In.Location.Sub(last.Out.Location).Len() > p.net.LocationNetTolerance {
		return true
	}
	if p.rep.UseClientRotation && !m.In.Rotation.Equals(last.Out.Rotation, p.net.RotationNetTolerance) {
		return true
	}
	if p.rep.UseClientControlRotation &&
		!m.In.ControlRotation.Equals(last.In.ControlRotation, p.net.ControlRotationNetTolerance) {
		return true
	}
	return false
}

// enqueue 追加队列项。队列满时淘汰最旧的已发送项，最旧项未发送则失败
func (p *Predictor) enqueue(m core.Move) bool {
	if len(p.queue) >= p.net.MoveQueueMaxSize {
		if !p.queue[0].sent {
			return false
		}
		p.queue = append(p.queue[:0], p.queue[1:]...)
	}
	p.queue = append(p.queue, queuedMove{Move: m})
	return true
}

// combine 把本帧并入最新一项：更新时间戳与控制朝向，从该项的起始状态重新执行整段
func (p *Predictor) combine(m *core.Move) {
	n := len(p.queue)
	newest := &p.queue[n-1].Move
	newest.Timestamp = m.Timestamp
	newest.In.ControlRotation = m.In.ControlRotation
	p.executeQueued(n-1, p.deltaFor(n-1))
	if p.deps.Obs.Moves() {
		p.deps.Obs.Log.Debug("合并移动", "actor", p.id, "ts", newest.Timestamp, "dt", newest.DeltaTime)
	}
}

// deltaFor 与服务器一致的步长：min(时间戳间隔, MaxServerDeltaTime)
func (p *Predictor) deltaFor(i int) float64 {
	return math.Min(p.queue[i].Timestamp-p.queue[i-1].Timestamp, p.net.MaxServerDeltaTime)
}

// firstDelta 队列里唯一的移动以上一个服务器状态为前驱，与服务器的步长一致。
// 还没有收到服务器状态时使用帧间隔
func (p *Predictor) firstDelta(frame float64) float64 {
	if !p.lastServerState.IsValid() {
		return frame
	}
	d := p.queue[0].Timestamp - p.lastServerState.Timestamp
	if d <= 0 {
		return frame
	}
	return math.Min(d, p.net.MaxServerDeltaTime)
}

func (p *Predictor) executeQueued(i int, dt float64) {
	m := &p.queue[i].Move
	m.DeltaTime = dt
	m.Out = p.run(m.In, m, dt)
	if p.deps.Obs.Moves() {
		p.deps.Obs.Log.Debug("执行移动", "actor", p.id, "ts", m.Timestamp, "dt", dt, "loc", m.Out.Location)
	}
}

// executeUnqueued 不入队的移动只在本地执行，服务器永远看不到它
func (p *Predictor) executeUnqueued(m *core.Move, dt float64) {
	p.deps.Metrics.DiscardedMove()
	m.DeltaTime = dt
	m.Out = p.run(m.In, m, dt)
}

func (p *Predictor) run(in core.PawnState, m *core.Move, dt float64) core.PawnState {
	out := p.exec.execute(in, m, dt)
	out = quantizePawn(out, &p.schema.Move)
	p.deps.Pawn.SetPawnState(out)
	return out
}

// flush 到达发送时机时编码所有待发送移动
func (p *Predictor) flush(now float64) ([]byte, error) {
	if len(p.pending) == 0 || !p.limiter.AllowN(engineTime(now), 1) {
		return nil, nil
	}

	batch := make([]core.Move, 0, len(p.pending))
	idx := make([]int, 0, len(p.pending))
	for _, ts := range p.pending {
		if i := p.find(ts); i >= 0 {
			batch = append(batch, p.queue[i].Move.Clone())
			idx = append(idx, i)
		}
	}
	p.pending = p.pending[:0]
	if len(batch) == 0 {
		return nil, nil
	}

	payload, err := p.encoder.Encode(batch)
	if err != nil {
		return nil, fmt.Errorf("编码移动批次失败: %w", err)
	}
	for _, i := range idx {
		p.queue[i].sent = true
	}
	if p.deps.Obs.Moves() {
		p.deps.Obs.Log.Debug("发送移动批次", "actor", p.id, "count", len(batch), "bytes", len(payload))
	}
	return payload, nil
}

func (p *Predictor) find(ts float64) int {
	for i := len(p.queue) - 1; i >= 0; i-- {
		if p.queue[i].Timestamp == ts {
			return i
		}
	}
	return -1
}

var engineEpoch = time.Unix(0, 0)

// engineTime 把引擎时钟（秒）换算成限速器使用的 time.Time
func engineTime(seconds float64) time.Time {
	return engineEpoch.Add(time.Duration(seconds * float64(time.Second)))
}
