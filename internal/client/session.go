package client

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"movesync/internal/config"
	"movesync/internal/replication"
	"movesync/internal/telemetry"
	"movesync/pkg/core"
	"movesync/pkg/kinematics"
	"movesync/pkg/protocol"
)

// Link 会话需要的网络能力，由 NetworkClient 实现
type Link interface {
	SendMoves(payload []byte) error
	SendPing(sentAt int64) error
	// ReceiveEvent 状态包与角色离开通知，保持服务器发送顺序
	ReceiveEvent() *protocol.Packet
	ReceivePong() *protocol.Packet
}

type remoteActor struct {
	smoother *replication.Smoother
	pawn     *replication.BasicPawn
	rec      *protocol.ConnectionRecord
	last     replication.Presentation
}

// Session 客户端一侧的复制会话：本地角色的预测与其他角色的平滑。
// 只能在一个 goroutine 中使用
type Session struct {
	cfg     *config.Config
	obs     *telemetry.Observability
	metrics *telemetry.Metrics
	link    Link
	schemas replication.Schemas
	sim     core.Simulator
	walk    kinematics.Config
	clock   *WorldClock
	wall    func() time.Time

	id        replication.ActorID
	pawn      *replication.BasicPawn
	predictor *replication.Predictor
	remotes   map[replication.ActorID]*remoteActor
	graph     *replication.TickGraph

	input replication.Input
	errs  []error
}

// NewSession 用欢迎消息创建会话
func NewSession(cfg *config.Config, obs *telemetry.Observability, link Link, welcome *protocol.Packet) (*Session, error) {
	if welcome == nil || welcome.Type != protocol.PacketWelcome {
		return nil, fmt.Errorf("%w: 需要欢迎消息", core.ErrProtocolViolation)
	}

	bindings := kinematics.Bindings()
	schemas, warnings := replication.BuildSchemas(cfg.Network, cfg.Replication, bindings)
	for _, w := range warnings {
		obs.Log.Warn("复制配置已自动修正", "err", w)
	}

	walk := kinematics.DefaultConfig()
	s := &Session{
		cfg:     cfg,
		obs:     obs,
		metrics: telemetry.MustMetrics(),
		link:    link,
		schemas: schemas,
		sim:     kinematics.NewWalker(walk, kinematics.DefaultArena()),
		walk:    walk,
		clock:   NewWorldClock(welcome.ServerTime),
		wall:    time.Now,
		id:      replication.ActorID(welcome.ActorID),
		remotes: make(map[replication.ActorID]*remoteActor),
		input:   replication.Input{ControlRotation: core.InvalidRotator()},
	}
	s.pawn = &replication.BasicPawn{State: kinematics.SpawnState(walk, welcome.Spawn)}
	s.predictor = replication.NewPredictor(s.id, cfg, schemas, bindings, replication.PredictorHooks{}, replication.Deps{
		Simulator: s.sim,
		Clock:     s.clock,
		Pawn:      s.pawn,
		Obs:       obs,
		Metrics:   s.metrics,
		Rollback:  s.rollbackSources,
	})

	s.graph = replication.NewTickGraph()
	s.graph.Add(replication.StageClock, s.tickClock)
	s.graph.Add(replication.StageSimulated, s.tickSimulated, replication.StageClock)
	s.graph.Add(replication.StageAutonomous, s.tickAutonomous, replication.StageSimulated)
	if err := s.graph.Build(); err != nil {
		return nil, fmt.Errorf("构建 tick 顺序失败: %w", err)
	}

	obs.Log.Info("会话已建立", "actor", s.id, "spawn", welcome.Spawn, "server_time", welcome.ServerTime)
	return s, nil
}

// ID 本地角色编号
func (s *Session) ID() replication.ActorID { return s.id }

func (s *Session) Clock() *WorldClock { return s.clock }

func (s *Session) Predictor() *replication.Predictor { return s.predictor }

// PawnState 本地角色当前状态
func (s *Session) PawnState() core.PawnState { return s.pawn.PawnState() }

// RemoteIDs 已知的其他角色，升序
func (s *Session) RemoteIDs() []replication.ActorID {
	ids := make([]replication.ActorID, 0, len(s.remotes))
	for id := range s.remotes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Remote 其他角色平滑后的状态
func (s *Session) Remote(id replication.ActorID) (core.PawnState, bool) {
	r, ok := s.remotes[id]
	if !ok {
		return core.PawnState{}, false
	}
	return r.pawn.PawnState(), true
}

// Presentation 其他角色最近一帧的平滑结果
func (s *Session) Presentation(id replication.ActorID) (replication.Presentation, bool) {
	r, ok := s.remotes[id]
	if !ok {
		return replication.Presentation{}, false
	}
	return r.last, true
}

// Tick 处理收到的消息，然后按 clock → simulated → autonomous 推进一帧
func (s *Session) Tick(dt float64, in replication.Input) error {
	s.input = in
	s.errs = s.errs[:0]

	s.drain()
	if err := s.graph.Run(dt); err != nil {
		return err
	}
	return errors.Join(s.errs...)
}

// Resume 断线重连后换用新的连接，并用新的欢迎消息继续
func (s *Session) Resume(link Link, welcome *protocol.Packet) error {
	if welcome == nil || replication.ActorID(welcome.ActorID) != s.id {
		return fmt.Errorf("%w: 重连后的角色编号不一致", core.ErrProtocolViolation)
	}
	s.link = link
	s.predictor.Reset()
	for _, r := range s.remotes {
		r.rec.Reset()
	}
	s.clock.OnPong(welcome.ServerTime, 0)
	s.obs.Log.Info("会话已恢复", "actor", s.id, "server_time", welcome.ServerTime)
	return nil
}

func (s *Session) drain() {
	for pong := s.link.ReceivePong(); pong != nil; pong = s.link.ReceivePong() {
		rtt := float64(s.wall().UnixMicro()-pong.SentAt) / 1e6
		before := s.clock.Now()
		s.clock.OnPong(pong.ServerTime, rtt)
		if s.obs.Timestamps() {
			s.obs.Log.Debug("对时", "rtt", rtt, "server", pong.ServerTime, "before", before, "after", s.clock.Now())
		}
	}

	for pkt := s.link.ReceiveEvent(); pkt != nil; pkt = s.link.ReceiveEvent() {
		switch pkt.Type {
		case protocol.PacketActorLeave:
			s.forget(replication.ActorID(pkt.ActorID))
		case protocol.PacketState:
			if err := s.route(pkt); err != nil {
				s.errs = append(s.errs, err)
			}
		default:
			s.errs = append(s.errs, fmt.Errorf("%w: 意外的消息类型 %s", core.ErrProtocolViolation, pkt.Type))
		}
	}
}

// forget 角色离开或不再相关，之后的状态会重新创建它
func (s *Session) forget(id replication.ActorID) {
	if _, known := s.remotes[id]; known {
		delete(s.remotes, id)
		s.obs.Log.Debug("角色离开", "actor", id)
	}
}

// route 按角色编号与角色类型分发状态
func (s *Session) route(pkt *protocol.Packet) error {
	id := replication.ActorID(pkt.ActorID)
	switch {
	case pkt.Role == protocol.RoleAutonomous && id == s.id:
		return s.predictor.OnServerState(pkt.Payload)

	case pkt.Role == protocol.RoleSimulated && id != s.id:
		r, created := s.remote(id)
		st, err := protocol.DecodeState(pkt.Payload, &s.schemas.Simulated, r.rec)
		if err != nil {
			return fmt.Errorf("角色 %d 模拟代理状态: %w", id, err)
		}
		if created {
			r.pawn.SetPawnState(st.PawnState)
		}
		r.smoother.AddState(st)
		return nil

	default:
		return fmt.Errorf("%w: 角色 %d 的状态类型 %d 与本地角色 %d 不符", core.ErrProtocolViolation, id, pkt.Role, s.id)
	}
}

func (s *Session) remote(id replication.ActorID) (*remoteActor, bool) {
	if r, ok := s.remotes[id]; ok {
		return r, false
	}
	pawn := &replication.BasicPawn{State: kinematics.SpawnState(s.walk, core.Vec3{})}
	r := &remoteActor{
		pawn: pawn,
		rec:  protocol.NewConnectionRecord(),
		smoother: replication.NewSmoother(id, replication.SmootherConfigFrom(s.cfg), s.clock, pawn,
			replication.SmootherHooks{}, s.obs.With("actor", id), s.metrics),
	}
	s.remotes[id] = r
	s.obs.Log.Debug("发现角色", "actor", id)
	return r, true
}

func (s *Session) rollbackSources() []replication.RollbackSource {
	out := make([]replication.RollbackSource, 0, len(s.remotes))
	for _, id := range s.RemoteIDs() {
		out = append(out, s.remotes[id].smoother)
	}
	return out
}

func (s *Session) tickClock(dt float64) {
	s.clock.Advance(dt)
	if !s.clock.SyncDue() {
		return
	}
	if err := s.link.SendPing(s.wall().UnixMicro()); err != nil {
		s.errs = append(s.errs, fmt.Errorf("发送对时请求失败: %w", err))
	}
	s.clock.MarkSyncSent()
}

func (s *Session) tickSimulated(dt float64) {
	for _, r := range s.remotes {
		if pres, ok := r.smoother.Tick(dt); ok {
			r.last = pres
		}
	}
}

func (s *Session) tickAutonomous(dt float64) {
	payload, err := s.predictor.Tick(dt, s.input)
	if err != nil {
		s.errs = append(s.errs, err)
		return
	}
	if payload == nil {
		return
	}
	if err := s.link.SendMoves(payload); err != nil {
		s.errs = append(s.errs, fmt.Errorf("发送移动失败: %w", err))
	}
}
