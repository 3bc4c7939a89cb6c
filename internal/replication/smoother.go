package replication

import (
	"fmt"

	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// SmootherConfig 模拟代理的平滑参数
type SmootherConfig struct {
	QueueSize               int
	Delay                   float64
	Method                  config.InterpolationMethod
	Extrapolate             bool
	SmoothCollisionLocation bool
	SmoothCollisionRotation bool
}

// SmootherConfigFrom 从完整配置提取
func SmootherConfigFrom(cfg *config.Config) SmootherConfig {
	return SmootherConfig{
		QueueSize:               cfg.Network.StateQueueMaxSize,
		Delay:                   cfg.Network.SimulationDelay,
		Method:                  cfg.Network.InterpolationMethod(),
		Extrapolate:             cfg.Network.ExtrapolationAllowed,
		SmoothCollisionLocation: cfg.Replication.SmoothCollisionLocation,
		SmoothCollisionRotation: cfg.Replication.SmoothCollisionRotation,
	}
}

// Presentation 一帧的平滑结果
type Presentation struct {
	Smooth core.State

	// 碰撞根按配置取平滑值或目标原始值，视觉根始终取平滑值
	CollisionLocation core.Vec3
	CollisionRotation core.Rotator
	VisualLocation    core.Vec3
	VisualRotation    core.Rotator

	StartIndex  int
	TargetIndex int
	Ratio       float64
	Skipped     []int

	Underrun bool
	// UsingExtrapolated 正在使用外推或冻结的数据
	UsingExtrapolated bool
}

// Smoother 模拟代理：缓存收到的状态，按延迟后的时间插值
type Smoother struct {
	id      ActorID
	cfg     SmootherConfig
	queue   *StateQueue
	methods [config.InterpolationMethodCount]InterpolationFunc
	warned  [config.InterpolationMethodCount]bool

	clock   Clock
	pawn    Pawn
	hooks   SmootherHooks
	obs     *telemetry.Observability
	metrics *telemetry.Metrics

	standIn           core.State
	hasStandIn        bool
	usingExtrapolated bool
	prevTargetTs      float64
}

// NewSmoother 创建模拟代理平滑器
func NewSmoother(id ActorID, cfg SmootherConfig, clock Clock, pawn Pawn, hooks SmootherHooks,
	obs *telemetry.Observability, metrics *telemetry.Metrics) *Smoother {
	if obs == nil {
		obs = telemetry.Discard()
	}
	if metrics == nil {
		metrics = &telemetry.Metrics{}
	}
	s := &Smoother{
		id:           id,
		cfg:          cfg,
		queue:        NewStateQueue(cfg.QueueSize),
		clock:        clock,
		pawn:         pawn,
		hooks:        hooks,
		obs:          obs,
		metrics:      metrics,
		prevTargetTs: -1,
	}
	s.methods[config.InterpolationLinear] = LinearInterpolation
	s.methods[config.InterpolationCubic] = CubicInterpolation
	return s
}

// RegisterInterpolation 绑定自定义插值槽位 Custom1..Custom4
func (s *Smoother) RegisterInterpolation(slot config.InterpolationMethod, fn InterpolationFunc) error {
	if slot < config.InterpolationCustom1 || slot >= config.InterpolationMethodCount {
		return fmt.Errorf("%w: %s 不是自定义插值槽位", core.ErrConfiguration, slot)
	}
	s.methods[slot] = fn
	s.warned[slot] = false
	return nil
}

// SetInterpolationMethod 切换插值方法
func (s *Smoother) SetInterpolationMethod(m config.InterpolationMethod) {
	if m >= config.InterpolationMethodCount {
		m = config.InterpolationLinear
	}
	s.cfg.Method = m
}

// InterpolationMethod 当前插值方法
func (s *Smoother) InterpolationMethod() config.InterpolationMethod { return s.cfg.Method }

// SetInterpolationDelay 设置模拟延迟（秒）
func (s *Smoother) SetInterpolationDelay(d float64) {
	if d < 0 {
		d = 0
	}
	s.cfg.Delay = d
}

// SetExtrapolationAllowed 允许或禁止外推
func (s *Smoother) SetExtrapolationAllowed(v bool) { s.cfg.Extrapolate = v }

// SetSmoothCollision 碰撞根是否跟随平滑值
func (s *Smoother) SetSmoothCollision(location, rotation bool) {
	s.cfg.SmoothCollisionLocation = location
	s.cfg.SmoothCollisionRotation = rotation
}

// ID 角色编号
func (s *Smoother) ID() ActorID { return s.id }

// StateQueue 只读视图，供回滚使用
func (s *Smoother) StateQueue() StateView { return s.queue }

// Pawn 被平滑的角色
func (s *Smoother) Pawn() Pawn { return s.pawn }

// AddState 收到新状态。乱序或重复的状态被丢弃
func (s *Smoother) AddState(st core.State) bool {
	if !s.queue.Push(st) {
		if s.obs.Smoothing() {
			s.obs.Log.Debug("丢弃过期状态", "ts", st.Timestamp)
		}
		return false
	}
	return true
}

// interpolator 当前方法对应的插值函数，未注册的自定义槽位退回 Linear
func (s *Smoother) interpolator(m config.InterpolationMethod) InterpolationFunc {
	if m < config.InterpolationMethodCount {
		if fn := s.methods[m]; fn != nil {
			return fn
		}
		if !s.warned[m] {
			s.obs.Log.Warn("插值槽位未注册，改用 linear", "method", m)
			s.warned[m] = true
		}
	}
	return LinearInterpolation
}

// Tick 每帧调用：计算插值时刻的平滑状态并写回角色。队列为空时返回 false
func (s *Smoother) Tick(dt float64) (Presentation, bool) {
	if s.queue.Len() == 0 {
		return Presentation{}, false
	}
	t := s.clock.Now() - s.cfg.Delay
	newest, _ := s.queue.Newest()

	var b bracket
	if s.cfg.Method == config.InterpolationNone {
		last := s.queue.Len() - 1
		b = bracket{start: last, target: last}
	} else {
		b, _ = findBracket(s.queue, t, s.cfg.Extrapolate, nil)
	}

	start := s.queue.At(b.start)
	target := s.queue.At(b.target)
	ratio := b.ratio

	// 外推结束后，第一段插值从外推出的替身状态出发
	if s.hasStandIn && !b.stalled {
		if start.Timestamp > s.standIn.Timestamp {
			s.hasStandIn = false
		} else if target.Timestamp > s.standIn.Timestamp && t >= s.standIn.Timestamp {
			start = s.standIn
			ratio = (t - start.Timestamp) / (target.Timestamp - start.Timestamp)
		}
	}

	var smooth core.State
	if b.start == b.target && start.Timestamp == target.Timestamp {
		smooth = target.Clone()
	} else {
		smooth = s.interpolator(s.cfg.Method)(&start, &target, ratio)
	}

	if b.extrapolating {
		s.standIn = smooth.Clone()
		s.hasStandIn = true
	}
	s.usingExtrapolated = b.stalled || (s.hasStandIn && newest.Timestamp <= s.standIn.Timestamp)

	if b.underrun {
		s.metrics.Underrun("simulated")
		if s.obs.Smoothing() {
			s.obs.Log.Debug("状态缓冲不足", "err", core.ErrBufferUnderrun, "t", t, "oldest", s.queue.At(0).Timestamp)
		}
	}

	skipped := s.skippedStates(start.Timestamp, b)
	s.prevTargetTs = target.Timestamp
	if len(skipped) > 0 {
		s.metrics.SkippedStates(len(skipped))
	}

	p := Presentation{
		Smooth:            smooth,
		CollisionLocation: target.Location,
		CollisionRotation: target.Rotation,
		VisualLocation:    smooth.Location,
		VisualRotation:    smooth.Rotation,
		StartIndex:        b.start,
		TargetIndex:       b.target,
		Ratio:             ratio,
		Skipped:           skipped,
		Underrun:          b.underrun,
		UsingExtrapolated: s.usingExtrapolated,
	}
	if s.cfg.SmoothCollisionLocation {
		p.CollisionLocation = smooth.Location
	}
	if s.cfg.SmoothCollisionRotation {
		p.CollisionRotation = smooth.Rotation
	}

	if s.hooks.SimulatedTick != nil {
		s.hooks.SimulatedTick(dt, &p.Smooth, b.start, b.target, skipped)
	}
	s.apply(&p)
	if s.hooks.OnSimulatedStateLoaded != nil {
		s.hooks.OnSimulatedStateLoaded(&p.Smooth)
	}
	if s.obs.Smoothing() {
		s.obs.Log.Debug("平滑", "t", t, "start", b.start, "target", b.target, "ratio", ratio,
			"extrapolated", s.usingExtrapolated)
	}
	return p, true
}

// skippedStates 上一帧目标与本帧起点之间从未被用作端点的状态
func (s *Smoother) skippedStates(startTs float64, b bracket) []int {
	if s.prevTargetTs < 0 || b.underrun {
		return nil
	}
	var out []int
	for i := 0; i < s.queue.Len(); i++ {
		ts := s.queue.At(i).Timestamp
		if ts > s.prevTargetTs && ts < startTs {
			out = append(out, i)
		}
	}
	return out
}

// apply 把平滑结果写回角色，哨兵字段保留角色当前值
func (s *Smoother) apply(p *Presentation) {
	cur := s.pawn.PawnState()
	next := p.Smooth.PawnState.Valid(cur)
	next.Location = bitpack.ValidVector(p.CollisionLocation, cur.Location)
	next.Rotation = p.CollisionRotation.Valid(cur.Rotation)
	s.pawn.SetPawnState(next)
}

// Reset 清空缓冲，例如角色重新变为相关时
func (s *Smoother) Reset() {
	s.queue.Clear()
	s.hasStandIn = false
	s.usingExtrapolated = false
	s.prevTargetTs = -1
}
