package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/pkg/core"
)

func spawnState(x, y float64) core.PawnState {
	return core.PawnState{
		Location:  core.Vec3{x, y, 0},
		InputMode: core.InputModeAllAbsolute,
		Bound:     core.BoundData{},
	}
}

func TestWalkerIsDeterministic(t *testing.T) {
	w := NewWalker(DefaultConfig(), NewArena(20, 20, 64))
	m := core.NewMove(1)
	m.InputVector = core.Vec3{0.7, -0.3, 0}
	m.InputFlags = 1 << FlagSprint

	a := spawnState(300, 300)
	b := spawnState(300, 300)
	for i := 0; i < 50; i++ {
		a = w.Simulate(a, &m, 1.0/60)
		b = w.Simulate(b, &m, 1.0/60)
	}
	assert.Equal(t, a.Location, b.Location)
	assert.Equal(t, a.Bound[BoundStamina], b.Bound[BoundStamina])
}

func TestWalkerBlockedByWalls(t *testing.T) {
	arena := NewArena(5, 5, 64)
	w := NewWalker(DefaultConfig(), arena)
	m := core.NewMove(1)
	m.InputVector = core.Vec3{-1, 0, 0}

	x, y := arena.CellCenter(1, 2)
	s := spawnState(x, y)
	for i := 0; i < 60; i++ {
		s = w.Simulate(s, &m, 1.0/60)
	}
	// 左侧是外墙，角色贴墙停下
	assert.InDelta(t, 64+DefaultConfig().Radius, s.Location[0], 5.0+1e-9)
	assert.GreaterOrEqual(t, s.Location[0], 64+DefaultConfig().Radius)
	assert.Equal(t, 0.0, s.Velocity[0])
}

func TestWalkerSprintDrainsStamina(t *testing.T) {
	cfg := DefaultConfig()
	w := NewWalker(cfg, nil)
	m := core.NewMove(1)
	m.InputVector = core.Vec3{1, 0, 0}
	m.InputFlags = 1 << FlagSprint

	s := w.Simulate(spawnState(0, 0), &m, 1)
	assert.InDelta(t, cfg.Speed*cfg.SprintMultiplier, s.Velocity[0], 1e-9)
	assert.InDelta(t, cfg.MaxStamina-cfg.StaminaDrain, s.Bound[BoundStamina].Float(), 1e-9)

	m.InputFlags = 0
	s = w.Simulate(s, &m, 1)
	assert.InDelta(t, cfg.Speed, s.Velocity[0], 1e-9)
	assert.InDelta(t, cfg.MaxStamina-cfg.StaminaDrain+cfg.StaminaRegen, s.Bound[BoundStamina].Float(), 1e-9)
}

func TestWalkerInputRelativeToControlYaw(t *testing.T) {
	w := NewWalker(DefaultConfig(), nil)
	m := core.NewMove(1)
	m.InputVector = core.Vec3{1, 0, 0}

	s := spawnState(0, 0)
	s.InputMode = core.InputModeAbsoluteZ
	s.ControlRotation = core.Rotator{Yaw: 90}
	s = w.Simulate(s, &m, 0.5)
	assert.InDelta(t, 0, s.Location[0], 1e-9)
	assert.InDelta(t, 150, s.Location[1], 1e-9)
	assert.InDelta(t, 90, s.Rotation.Yaw, 1e-9)

	s.InputMode = core.InputModeNone
	before := s.Location
	s = w.Simulate(s, &m, 0.5)
	assert.Equal(t, before, s.Location)
}

func TestParseArena(t *testing.T) {
	a, err := ParseArena([]string{
		"#####",
		"#..##",
		"#####",
	}, 32)
	require.NoError(t, err)
	assert.True(t, a.IsWall(3, 1))
	assert.False(t, a.IsWall(1, 1))
	assert.True(t, a.IsWall(-1, 0))
	assert.Len(t, a.SpawnPoints(), 2)

	_, err = ParseArena([]string{"##", "#"}, 32)
	assert.Error(t, err)
}

func TestBindings(t *testing.T) {
	b := Bindings()
	assert.Equal(t, uint16(0b11), b.FlagMask())
	assert.Equal(t, uint16(0b10), b.NoCombineMask())
	assert.Len(t, b.DataFor(true), 1)
	assert.Empty(t, b.DataFor(false))
}
