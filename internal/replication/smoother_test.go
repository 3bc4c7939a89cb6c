package replication

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/pkg/core"
)

func newTestSmoother(clock Clock, pawn Pawn, cfg SmootherConfig, hooks SmootherHooks, xs ...[2]float64) *Smoother {
	s := NewSmoother(7, cfg, clock, pawn, hooks, nil, nil)
	for _, p := range xs {
		s.AddState(stateAt(p[0], core.Vec3{p[1], 0, 0}, core.Vec3{}))
	}
	return s
}

func linearConfig() SmootherConfig {
	return SmootherConfig{QueueSize: 16, Delay: 0.15, Method: config.InterpolationLinear}
}

var threeStates = [][2]float64{{10.0, 0}, {10.1, 10}, {10.2, 20}}

func TestSmootherExactTimestampMatch(t *testing.T) {
	clock := &ManualClock{T: 10.25}
	s := newTestSmoother(clock, spawnPawn(0, 0), linearConfig(), SmootherHooks{}, threeStates...)

	p, ok := s.Tick(0.016)
	require.True(t, ok)
	assert.Equal(t, 1, p.StartIndex)
	assert.Equal(t, 1, p.TargetIndex)
	assert.Equal(t, 0.0, p.Ratio)
	assert.Equal(t, 10.0, p.Smooth.Location[0])
}

func TestSmootherInterpolatesBetweenStates(t *testing.T) {
	clock := &ManualClock{T: 10.2}
	pawn := spawnPawn(0, 0)
	s := newTestSmoother(clock, pawn, linearConfig(), SmootherHooks{}, threeStates...)

	p, ok := s.Tick(0.016)
	require.True(t, ok)
	assert.Equal(t, 0, p.StartIndex)
	assert.Equal(t, 1, p.TargetIndex)
	assert.InDelta(t, 0.5, p.Ratio, 1e-9)
	assert.InDelta(t, 5, p.VisualLocation[0], 1e-6)
	assert.False(t, p.UsingExtrapolated)

	// 碰撞根默认取目标原始值
	assert.Equal(t, 10.0, p.CollisionLocation[0])
	assert.Equal(t, 10.0, pawn.State.Location[0])

	s.SetSmoothCollision(true, true)
	p, _ = s.Tick(0.016)
	assert.InDelta(t, 5, p.CollisionLocation[0], 1e-6)
	assert.InDelta(t, 5, pawn.State.Location[0], 1e-6)
}

func TestSmootherUnderrunUsesOldestPair(t *testing.T) {
	clock := &ManualClock{T: 10.1}
	s := newTestSmoother(clock, spawnPawn(0, 0), linearConfig(), SmootherHooks{}, threeStates...)

	p, ok := s.Tick(0.016)
	require.True(t, ok)
	assert.True(t, p.Underrun)
	assert.Equal(t, 0, p.StartIndex)
	assert.Equal(t, 1, p.TargetIndex)
	assert.Equal(t, 0.0, p.Ratio)
	assert.Equal(t, 0.0, p.Smooth.Location[0])
}

func TestSmootherFreezesWithoutExtrapolation(t *testing.T) {
	clock := &ManualClock{T: 10.5}
	s := newTestSmoother(clock, spawnPawn(0, 0), linearConfig(), SmootherHooks{}, threeStates...)

	p, ok := s.Tick(0.016)
	require.True(t, ok)
	assert.Equal(t, 2, p.StartIndex)
	assert.Equal(t, 2, p.TargetIndex)
	assert.Equal(t, 20.0, p.Smooth.Location[0])
	assert.True(t, p.UsingExtrapolated)
}

func TestSmootherExtrapolatesThenResumesFromStandIn(t *testing.T) {
	cfg := linearConfig()
	cfg.Extrapolate = true
	clock := &ManualClock{T: 10.4}
	s := newTestSmoother(clock, spawnPawn(0, 0), cfg, SmootherHooks{}, threeStates...)

	p, ok := s.Tick(0.016)
	require.True(t, ok)
	assert.Equal(t, 1, p.StartIndex)
	assert.Equal(t, 2, p.TargetIndex)
	assert.InDelta(t, 1.5, p.Ratio, 1e-9)
	assert.InDelta(t, 25, p.Smooth.Location[0], 1e-6)
	assert.True(t, p.UsingExtrapolated)

	require.True(t, s.AddState(stateAt(10.35, core.Vec3{35, 0, 0}, core.Vec3{})))
	clock.T = 10.42
	p, ok = s.Tick(0.016)
	require.True(t, ok)
	assert.False(t, p.UsingExtrapolated)
	assert.InDelta(t, 0.2, p.Ratio, 1e-6)
	assert.InDelta(t, 27, p.Smooth.Location[0], 1e-4, "segment starts at the extrapolated stand-in")
}

func TestSmootherReportsSkippedStates(t *testing.T) {
	var hookSkipped []int
	hooks := SmootherHooks{
		SimulatedTick: func(_ float64, _ *core.State, _, _ int, skipped []int) { hookSkipped = skipped },
	}
	clock := &ManualClock{T: 10.2}
	s := newTestSmoother(clock, spawnPawn(0, 0), linearConfig(), hooks,
		[2]float64{10.0, 0}, [2]float64{10.1, 1}, [2]float64{10.2, 2},
		[2]float64{10.3, 3}, [2]float64{10.4, 4}, [2]float64{10.5, 5})

	p, _ := s.Tick(0.016)
	assert.Empty(t, p.Skipped)

	clock.T = 10.5
	p, _ = s.Tick(0.3)
	assert.Equal(t, 3, p.StartIndex)
	assert.Equal(t, []int{2}, p.Skipped)
	assert.Equal(t, []int{2}, hookSkipped)
}

func TestSmootherInterpolationDispatch(t *testing.T) {
	clock := &ManualClock{T: 10.2}
	s := newTestSmoother(clock, spawnPawn(0, 0), linearConfig(), SmootherHooks{}, threeStates...)

	s.SetInterpolationMethod(config.InterpolationCustom2)
	p, _ := s.Tick(0.016)
	assert.InDelta(t, 5, p.Smooth.Location[0], 1e-6, "unregistered slot falls back to linear")

	require.NoError(t, s.RegisterInterpolation(config.InterpolationCustom2,
		func(start, _ *core.State, _ float64) core.State { return start.Clone() }))
	p, _ = s.Tick(0.016)
	assert.Equal(t, 0.0, p.Smooth.Location[0])

	assert.ErrorIs(t, s.RegisterInterpolation(config.InterpolationCubic, LinearInterpolation), core.ErrConfiguration)

	s.SetInterpolationMethod(config.InterpolationNone)
	p, _ = s.Tick(0.016)
	assert.Equal(t, 20.0, p.Smooth.Location[0], "none snaps to the newest state")
}

func TestSmootherIgnoresStaleStates(t *testing.T) {
	s := newTestSmoother(&ManualClock{}, spawnPawn(0, 0), linearConfig(), SmootherHooks{}, threeStates...)
	assert.False(t, s.AddState(stateAt(10.1, core.Vec3{}, core.Vec3{})))
	assert.Equal(t, 3, s.StateQueue().Len())

	s.Reset()
	_, ok := s.Tick(0.016)
	assert.False(t, ok)
}

func TestCubicInterpolationFollowsVelocity(t *testing.T) {
	start := stateAt(0, core.Vec3{0, 0, 0}, core.Vec3{10, 0, 0})
	target := stateAt(0.1, core.Vec3{1, 0, 0}, core.Vec3{10, 0, 0})

	mid := CubicInterpolation(&start, &target, 0.5)
	assert.InDelta(t, 0.5, mid.Location[0], 1e-9)
	assert.InDelta(t, 10, mid.Velocity[0], 1e-9)
	assert.InDelta(t, 0.05, mid.Timestamp, 1e-12)

	// 缺少速度退化为线性
	start.Velocity = core.Vec3{math.NaN(), 0, 0}
	mid = CubicInterpolation(&start, &target, 0.25)
	assert.InDelta(t, 0.25, mid.Location[0], 1e-9)
}

func TestLinearInterpolationFields(t *testing.T) {
	start := stateAt(0, core.Vec3{0, 0, 0}, core.Vec3{})
	target := stateAt(1, core.Vec3{math.NaN(), 10, 0}, core.Vec3{})
	start.InputFlags, target.InputFlags = 1, 2
	start.Rotation = core.Rotator{Yaw: 0}
	target.Rotation = core.Rotator{Yaw: 90}

	s := LinearInterpolation(&start, &target, 0.4)
	assert.True(t, math.IsNaN(s.Location[0]), "sentinel propagates")
	assert.InDelta(t, 4, s.Location[1], 1e-9)
	assert.Equal(t, uint16(1), s.InputFlags)
	assert.InDelta(t, 36, s.Rotation.Yaw, 1e-6)

	s = LinearInterpolation(&start, &target, 0.6)
	assert.Equal(t, uint16(2), s.InputFlags, "non-interpolated fields come from the nearer endpoint")
}
