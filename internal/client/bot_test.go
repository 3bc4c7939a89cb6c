package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/ai"
	"movesync/pkg/kinematics"
	"movesync/pkg/protocol"
)

func TestWanderScript(t *testing.T) {
	w := Wander(4, 0)

	in := w(0)
	assert.InDelta(t, 1, in.Vector.X(), 1e-9)
	assert.InDelta(t, 0, in.Vector.Y(), 1e-9)
	assert.NotZero(t, in.Flags&(1<<kinematics.FlagSprint))

	in = w(1)
	assert.InDelta(t, 0, in.Vector.X(), 1e-9)
	assert.InDelta(t, 1, in.Vector.Y(), 1e-9)
	assert.Zero(t, in.Flags)

	assert.InDelta(t, 1, w(3).Vector.Len(), 1e-9)
}

func TestRunBot(t *testing.T) {
	_, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := RunBot(ctx, config.Default(), telemetry.Discard(), BotOptions{Addr: addr, Transport: "tcp", Name: "bot"})
	require.NoError(t, err)
}

func TestRunBotWithBrain(t *testing.T) {
	_, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := RunBot(ctx, config.Default(), telemetry.Discard(), BotOptions{
		Addr: addr, Transport: "tcp", Name: "brainy", Brain: &ai.ConfigRestless, Seed: 3,
	})
	require.NoError(t, err)
}

func TestBrainInputSeesRemoteActors(t *testing.T) {
	s, link := newTestSession(t)
	rec := protocol.NewConnectionRecord()
	// 另一个角色紧贴在左边
	link.events = append(link.events, simulatedPacket(s, rec, 2, 1.0, spawn.X()-20))
	require.NoError(t, s.Tick(0.02, idle()))

	c := ai.NewController(kinematics.DefaultArena(), &ai.ConfigRestless, 1)
	in := brainInput(c, s)
	assert.Greater(t, in.Vector.X(), 0.0, "moves away from the neighbour")
	assert.NotZero(t, in.Flags&(1<<kinematics.FlagSprint))
}

func TestRunBotConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := RunBot(ctx, config.Default(), telemetry.Discard(), BotOptions{Addr: "127.0.0.1:1", Transport: "tcp"})
	assert.Error(t, err)
}
