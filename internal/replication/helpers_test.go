package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/pkg/core"
	"movesync/pkg/kinematics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	n, ok := config.PresetNetwork(config.PresetCustom)
	require.True(t, ok)
	cfg.Preset = config.PresetCustom
	cfg.Network = n
	return cfg
}

func testSchemas(t *testing.T, cfg *config.Config) Schemas {
	t.Helper()
	s, warnings := BuildSchemas(cfg.Network, cfg.Replication, kinematics.Bindings())
	require.Empty(t, warnings)
	return s
}

func spawnPawn(x, y float64) *BasicPawn {
	return &BasicPawn{State: kinematics.SpawnState(kinematics.DefaultConfig(), core.Vec3{x, y, 0})}
}

func walkerDeps(clock Clock, pawn Pawn) Deps {
	return Deps{
		Simulator: kinematics.NewWalker(kinematics.DefaultConfig(), nil),
		Clock:     clock,
		Pawn:      pawn,
	}
}

func noInput() Input {
	return Input{ControlRotation: core.InvalidRotator()}
}

func moveRight() Input {
	return Input{Vector: core.Vec3{1, 0, 0}, ControlRotation: core.InvalidRotator()}
}

// stateAt 只有位置与速度的状态
func stateAt(ts float64, loc, vel core.Vec3) core.State {
	return core.NewState(ts, core.PawnState{
		Location:        loc,
		Velocity:        vel,
		Rotation:        core.Rotator{},
		ControlRotation: core.Rotator{},
		InputMode:       core.InputModeAbsoluteZ,
	}, 0)
}
