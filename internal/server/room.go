package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"movesync/internal/config"
	"movesync/internal/replication"
	"movesync/internal/telemetry"
	"movesync/pkg/core"
	"movesync/pkg/kinematics"
	"movesync/pkg/protocol"
)

// reconnectGrace 掉线角色保留多久等待重连（秒）
const reconnectGrace = 10.0

// maxQueuedBatches 每个角色在两次 tick 之间最多缓存的移动批次
const maxQueuedBatches = 32

// Relevancy 判断 target 是否需要复制给 viewer
type Relevancy func(viewer, target core.PawnState) bool

// DistanceRelevancy 距离不超过 radius 时相关，radius <= 0 表示总是相关
func DistanceRelevancy(radius float64) Relevancy {
	return func(viewer, target core.PawnState) bool {
		if radius <= 0 {
			return true
		}
		return viewer.Location.Sub(target.Location).Len() <= radius
	}
}

type actor struct {
	id   replication.ActorID
	name string
	pawn *replication.BasicPawn
	auth *replication.Authority

	// session 为 nil 表示掉线等待重连
	session Session
	leftAt  float64
	moves   [][]byte
	kick    bool
}

type Room struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg      *config.Config
	obs      *telemetry.Observability
	metrics  *telemetry.Metrics
	schemas  replication.Schemas
	sim      core.Simulator
	arena    *kinematics.Arena
	walk     kinematics.Config
	tokens   *TokenSigner
	relevant Relevancy

	start time.Time
	clock func() float64

	actors      map[replication.ActorID]*actor
	order       []replication.ActorID
	byConn      map[protocol.ConnectionID]replication.ActorID
	nextActorID replication.ActorID

	joinCh      chan joinRequest
	reconnectCh chan reconnectRequest
	movesCh     chan movesEvent
	leaveCh     chan protocol.ConnectionID
}

type joinRequest struct {
	sess   Session
	name   string
	respCh chan error
}

type reconnectRequest struct {
	sess   Session
	token  string
	respCh chan error
}

type movesEvent struct {
	conn    protocol.ConnectionID
	payload []byte
}

// NewRoom 创建房间。配置中的可修正问题记录为警告
func NewRoom(parent context.Context, cfg *config.Config, obs *telemetry.Observability,
	metrics *telemetry.Metrics, tokens *TokenSigner) *Room {
	ctx, cancel := context.WithCancel(parent)

	bindings := kinematics.Bindings()
	schemas, warnings := replication.BuildSchemas(cfg.Network, cfg.Replication, bindings)
	for _, w := range warnings {
		obs.Log.Warn("复制配置已自动修正", "err", w)
	}

	walk := kinematics.DefaultConfig()
	arena := kinematics.DefaultArena()
	r := &Room{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		obs:         obs,
		metrics:     metrics,
		schemas:     schemas,
		sim:         kinematics.NewWalker(walk, arena),
		arena:       arena,
		walk:        walk,
		tokens:      tokens,
		relevant:    DistanceRelevancy(cfg.Server.RelevancyRadius),
		start:       time.Now(),
		actors:      make(map[replication.ActorID]*actor),
		byConn:      make(map[protocol.ConnectionID]replication.ActorID),
		nextActorID: 1,
		joinCh:      make(chan joinRequest),
		reconnectCh: make(chan reconnectRequest),
		movesCh:     make(chan movesEvent, 256),
		leaveCh:     make(chan protocol.ConnectionID, 256),
	}
	r.clock = func() float64 { return time.Since(r.start).Seconds() }
	return r
}

// Now 服务器世界时间（秒），可在任意 goroutine 调用
func (r *Room) Now() float64 { return r.clock() }

func (r *Room) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	tps := r.cfg.Server.TPS
	if tps <= 0 {
		tps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tps))
	defer ticker.Stop()

	r.obs.Log.Info("房间循环启动", "tps", tps)

	for {
		select {
		case <-r.ctx.Done():
			r.closeAll()
			r.obs.Log.Info("房间循环停止")
			return

		case req := <-r.joinCh:
			req.respCh <- r.handleJoin(req.sess, req.name)

		case req := <-r.reconnectCh:
			req.respCh <- r.handleReconnect(req.sess, req.token)

		case ev := <-r.movesCh:
			r.handleMoves(ev)

		case conn := <-r.leaveCh:
			r.handleLeave(conn)

		case <-ticker.C:
			r.tick(r.Now())
		}
	}
}

func (r *Room) Shutdown() {
	r.cancel()
}

// Join 阻塞直到房间处理完加入请求
func (r *Room) Join(sess Session, name string) error {
	respCh := make(chan error, 1)
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case r.joinCh <- joinRequest{sess: sess, name: name, respCh: respCh}:
	}
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case err := <-respCh:
		return err
	}
}

// Reconnect 用会话 Token 把掉线的角色绑定到新连接
func (r *Room) Reconnect(sess Session, token string) error {
	respCh := make(chan error, 1)
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case r.reconnectCh <- reconnectRequest{sess: sess, token: token, respCh: respCh}:
	}
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("房间已关闭")
	case err := <-respCh:
		return err
	}
}

// SubmitMoves 缓存一批移动，下一次 tick 时执行
func (r *Room) SubmitMoves(conn protocol.ConnectionID, payload []byte) {
	select {
	case <-r.ctx.Done():
	case r.movesCh <- movesEvent{conn: conn, payload: payload}:
	}
}

func (r *Room) Leave(conn protocol.ConnectionID) {
	select {
	case <-r.ctx.Done():
	case r.leaveCh <- conn:
	}
}

func (r *Room) handleJoin(sess Session, name string) error {
	if max := r.cfg.Server.MaxPlayers; max > 0 && len(r.actors) >= max {
		return fmt.Errorf("服务器已满 (%d/%d)", len(r.actors), max)
	}

	id := r.nextActorID
	spawn := r.spawnFor(id)
	pawn := &replication.BasicPawn{State: kinematics.SpawnState(r.walk, spawn)}
	a := &actor{id: id, name: name, pawn: pawn, session: sess}
	a.auth = replication.NewAuthority(id, sess.ID(), r.cfg, r.schemas, r.authorityHooks(a), replication.Deps{
		Simulator: r.sim,
		Clock:     replication.ClockFunc(r.Now),
		Pawn:      pawn,
		Obs:       r.obs,
		Metrics:   r.metrics,
		Rollback:  func() []replication.RollbackSource { return r.rollbackSources(id) },
	})

	token, err := r.tokens.GenerateSessionToken(uint32(id))
	if err != nil {
		a.auth.Close()
		return fmt.Errorf("生成会话 token 失败: %w", err)
	}
	if err := sess.Send(protocol.NewWelcomePacket(uint32(id), token, r.Now(), spawn)); err != nil {
		a.auth.Close()
		return fmt.Errorf("发送欢迎消息失败: %w", err)
	}

	r.nextActorID++
	r.actors[id] = a
	r.order = append(r.order, id)
	r.byConn[sess.ID()] = id
	r.obs.Log.Info("角色加入", "actor", id, "name", name, "conn", sess.ID(), "spawn", spawn)
	return nil
}

func (r *Room) handleReconnect(sess Session, token string) error {
	raw, err := r.tokens.VerifySessionToken(token)
	if err != nil {
		return fmt.Errorf("会话 token 无效: %w", err)
	}
	id := replication.ActorID(raw)
	a, ok := r.actors[id]
	if !ok {
		return fmt.Errorf("角色 %d 不存在或已超时", id)
	}

	if a.session != nil {
		old := a.session
		r.detach(a)
		old.CloseWithoutNotify()
	}

	newToken, err := r.tokens.GenerateSessionToken(uint32(id))
	if err != nil {
		return fmt.Errorf("生成会话 token 失败: %w", err)
	}
	loc := a.pawn.State.Location
	if err := sess.Send(protocol.NewWelcomePacket(uint32(id), newToken, r.Now(), loc)); err != nil {
		return fmt.Errorf("发送欢迎消息失败: %w", err)
	}

	a.session = sess
	a.moves = nil
	a.kick = false
	a.auth.Rebind(sess.ID())
	r.byConn[sess.ID()] = id
	r.obs.Log.Info("角色重连", "actor", id, "conn", sess.ID())
	return nil
}

func (r *Room) handleMoves(ev movesEvent) {
	id, ok := r.byConn[ev.conn]
	if !ok {
		return
	}
	a := r.actors[id]
	if len(a.moves) >= maxQueuedBatches {
		r.obs.Log.Warn("移动批次积压，丢弃最旧的一批", "actor", id)
		if err := a.auth.DiscardMoves(a.moves[0]); err != nil {
			r.obs.Log.Debug("丢弃的移动批次无法解包", "actor", id, "err", err)
		}
		a.moves = a.moves[1:]
	}
	a.moves = append(a.moves, ev.payload)
}

func (r *Room) handleLeave(conn protocol.ConnectionID) {
	id, ok := r.byConn[conn]
	if !ok {
		return
	}
	r.detach(r.actors[id])
	r.obs.Log.Info("角色掉线，等待重连", "actor", id, "conn", conn)
}

// detach 解除角色与当前连接的绑定，角色本身保留
func (r *Room) detach(a *actor) {
	conn := a.session.ID()
	delete(r.byConn, conn)
	a.session = nil
	a.leftAt = r.Now()
	a.moves = nil
	for _, other := range r.actors {
		other.auth.RemoveConnection(conn)
	}
}

func (r *Room) tick(now float64) {
	for _, id := range r.order {
		a := r.actors[id]
		for _, payload := range a.moves {
			rtt := 0.0
			if a.session != nil {
				rtt = a.session.RTT()
			}
			if err := a.auth.ProcessMoves(payload, rtt); err != nil {
				r.obs.Log.Debug("移动批次被拒绝", "actor", id, "err", err)
			}
		}
		a.moves = a.moves[:0]
		if a.kick && a.session != nil {
			sess := a.session
			r.detach(a)
			sess.CloseWithoutNotify()
		}
		a.kick = false
		a.auth.Tick(now)
	}

	r.expire(now)
	r.updateRelevancy()
	r.replicate()
}

// expire 移除超过重连等待时间的角色
func (r *Room) expire(now float64) {
	kept := r.order[:0]
	var gone []replication.ActorID
	for _, id := range r.order {
		a := r.actors[id]
		if a.session == nil && now-a.leftAt > reconnectGrace {
			a.auth.Close()
			delete(r.actors, id)
			gone = append(gone, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	for _, id := range gone {
		r.obs.Log.Info("角色离开", "actor", id, "remaining", len(r.actors))
		r.broadcast(protocol.NewActorLeavePacket(uint32(id)))
	}
}

func (r *Room) updateRelevancy() {
	for _, tid := range r.order {
		target := r.actors[tid]
		for _, vid := range r.order {
			viewer := r.actors[vid]
			if vid == tid || viewer.session == nil {
				continue
			}
			rel := r.relevant(viewer.pawn.State, target.pawn.State)
			if target.auth.SetRelevant(viewer.session.ID(), rel) && !rel {
				_ = viewer.session.Send(protocol.NewActorLeavePacket(uint32(tid)))
			}
		}
	}
}

func (r *Room) replicate() {
	for _, vid := range r.order {
		viewer := r.actors[vid]
		if viewer.session == nil {
			continue
		}
		conn := viewer.session.ID()
		for _, tid := range r.order {
			auth := r.actors[tid].auth
			payload, role, ok := auth.SerializeFor(conn)
			if !ok {
				continue
			}
			if err := viewer.session.Send(protocol.NewStatePacket(uint32(tid), role, payload)); err != nil {
				// 差量基准已经前移，只能靠下一次全量恢复
				auth.ForceFull(conn)
				r.obs.Log.Warn("发送状态失败，下次全量发送", "actor", tid, "conn", conn, "err", err)
			}
		}
	}
}

func (r *Room) broadcast(pkt *protocol.Packet) {
	for _, a := range r.actors {
		if a.session != nil {
			_ = a.session.Send(pkt)
		}
	}
}

func (r *Room) closeAll() {
	for _, a := range r.actors {
		if a.session != nil {
			a.session.CloseWithoutNotify()
		}
		a.auth.Close()
	}
}

// rollbackSources 除 self 以外的所有角色
func (r *Room) rollbackSources(self replication.ActorID) []replication.RollbackSource {
	out := make([]replication.RollbackSource, 0, len(r.order))
	for _, id := range r.order {
		if id != self {
			out = append(out, r.actors[id].auth)
		}
	}
	return out
}

func (r *Room) authorityHooks(a *actor) replication.AuthorityHooks {
	return replication.AuthorityHooks{
		HandleConspicuousClient: func(strikes int) {
			r.obs.Log.Warn("可疑客户端，断开连接", "actor", a.id, "strikes", strikes)
			a.kick = true
		},
	}
}

// spawnFor 按编号在空地中错开分配出生点
func (r *Room) spawnFor(id replication.ActorID) core.Vec3 {
	points := r.arena.SpawnPoints()
	if len(points) == 0 {
		return core.Vec3{}
	}
	p := points[(int(id-1)*37)%len(points)]
	return core.Vec3{p[0], p[1], 0}
}
