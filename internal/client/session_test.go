package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/internal/replication"
	"movesync/internal/telemetry"
	"movesync/pkg/core"
	"movesync/pkg/kinematics"
	"movesync/pkg/protocol"
)

type fakeLink struct {
	moves  [][]byte
	pings  []int64
	events []*protocol.Packet
	pongs  []*protocol.Packet
}

func (l *fakeLink) SendMoves(payload []byte) error {
	l.moves = append(l.moves, payload)
	return nil
}

func (l *fakeLink) SendPing(sentAt int64) error {
	l.pings = append(l.pings, sentAt)
	return nil
}

func (l *fakeLink) ReceiveEvent() *protocol.Packet {
	if len(l.events) == 0 {
		return nil
	}
	p := l.events[0]
	l.events = l.events[1:]
	return p
}

func (l *fakeLink) ReceivePong() *protocol.Packet {
	if len(l.pongs) == 0 {
		return nil
	}
	p := l.pongs[0]
	l.pongs = l.pongs[1:]
	return p
}

var spawn = core.Vec3{96, 96, 0}

func newTestSession(t *testing.T) (*Session, *fakeLink) {
	t.Helper()
	cfg := config.Default()
	cfg.Network.ExtrapolationAllowed = false
	link := &fakeLink{}
	s, err := NewSession(cfg, telemetry.Discard(), link, protocol.NewWelcomePacket(1, "token", 1, spawn))
	require.NoError(t, err)
	return s, link
}

func idle() replication.Input {
	return replication.Input{ControlRotation: core.InvalidRotator()}
}

func right() replication.Input {
	return replication.Input{Vector: core.Vec3{1, 0, 0}, ControlRotation: core.InvalidRotator()}
}

// simulatedPacket 服务器发给观察者的模拟代理状态
func simulatedPacket(s *Session, rec *protocol.ConnectionRecord, id uint32, ts, x float64) *protocol.Packet {
	st := core.NewState(ts, kinematics.SpawnState(kinematics.DefaultConfig(), core.Vec3{x, 96, 0}), 0)
	return protocol.NewStatePacket(id, protocol.RoleSimulated, protocol.EncodeState(&st, &s.schemas.Simulated, rec))
}

func TestNewSessionRequiresWelcome(t *testing.T) {
	_, err := NewSession(config.Default(), telemetry.Discard(), &fakeLink{}, nil)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)

	_, err = NewSession(config.Default(), telemetry.Discard(), &fakeLink{}, protocol.NewPingPacket(1))
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
}

func TestSessionTickOrder(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, []string{replication.StageClock, replication.StageSimulated, replication.StageAutonomous}, s.graph.Order())
}

func TestSessionPredictsAndSendsMoves(t *testing.T) {
	s, link := newTestSession(t)
	assert.Equal(t, replication.ActorID(1), s.ID())
	assert.Equal(t, spawn, s.PawnState().Location)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(0.02, right()))
	}
	assert.NotEmpty(t, link.moves)
	assert.Greater(t, s.PawnState().Location.X(), spawn.X())
	assert.InDelta(t, 1.1, s.Clock().Now(), 1e-9)
}

func TestSessionSmoothsRemoteActors(t *testing.T) {
	s, link := newTestSession(t)
	rec := protocol.NewConnectionRecord()
	link.events = append(link.events,
		simulatedPacket(s, rec, 2, 0.9, 100),
		simulatedPacket(s, rec, 2, 1.0, 200),
	)

	require.NoError(t, s.Tick(0.05, idle()))
	assert.Equal(t, []replication.ActorID{2}, s.RemoteIDs())

	st, ok := s.Remote(2)
	require.True(t, ok)
	assert.GreaterOrEqual(t, st.Location.X(), 100.0)
	assert.LessOrEqual(t, st.Location.X(), 200.0)

	_, ok = s.Presentation(2)
	assert.True(t, ok)
	_, ok = s.Remote(3)
	assert.False(t, ok)
}

func TestSessionDropsLeavingActors(t *testing.T) {
	s, link := newTestSession(t)
	rec := protocol.NewConnectionRecord()
	link.events = append(link.events, simulatedPacket(s, rec, 2, 1.0, 100))
	require.NoError(t, s.Tick(0.02, idle()))
	require.Len(t, s.RemoteIDs(), 1)

	link.events = append(link.events, protocol.NewActorLeavePacket(2), protocol.NewActorLeavePacket(9))
	require.NoError(t, s.Tick(0.02, idle()))
	assert.Empty(t, s.RemoteIDs())
}

func TestSessionAppliesLeaveAfterEarlierState(t *testing.T) {
	s, link := newTestSession(t)
	rec := protocol.NewConnectionRecord()
	link.events = append(link.events, simulatedPacket(s, rec, 2, 1.0, 100), protocol.NewActorLeavePacket(2))

	require.NoError(t, s.Tick(0.02, idle()))
	assert.Empty(t, s.RemoteIDs())
	require.NoError(t, s.Tick(0.02, idle()))
	assert.Empty(t, s.RemoteIDs())
}

func TestSessionRecreatesActorAfterLeave(t *testing.T) {
	s, link := newTestSession(t)
	link.events = append(link.events,
		simulatedPacket(s, protocol.NewConnectionRecord(), 2, 1.0, 100),
		protocol.NewActorLeavePacket(2),
		simulatedPacket(s, protocol.NewConnectionRecord(), 2, 1.05, 150),
	)

	require.NoError(t, s.Tick(0.02, idle()))
	require.Equal(t, []replication.ActorID{2}, s.RemoteIDs())
	st, ok := s.Remote(2)
	require.True(t, ok)
	assert.InDelta(t, 150, st.Location.X(), 1e-6)
}

func TestSessionRejectsMismatchedRole(t *testing.T) {
	s, link := newTestSession(t)
	rec := protocol.NewConnectionRecord()
	link.events = append(link.events, simulatedPacket(s, rec, 1, 1.0, 100))

	err := s.Tick(0.02, idle())
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
	assert.Empty(t, s.RemoteIDs())

	link.events = append(link.events, protocol.NewStatePacket(5, protocol.RoleAutonomous, []byte{0}))
	assert.ErrorIs(t, s.Tick(0.02, idle()), core.ErrProtocolViolation)
}

func TestSessionTimeSync(t *testing.T) {
	s, link := newTestSession(t)
	now := time.Unix(1000, 0)
	s.wall = func() time.Time { return now }

	require.NoError(t, s.Tick(0.5, idle()))
	assert.Empty(t, link.pings)
	require.NoError(t, s.Tick(0.5, idle()))
	require.Len(t, link.pings, 1)
	assert.Equal(t, now.UnixMicro(), link.pings[0])

	link.pongs = append(link.pongs, protocol.NewPongPacket(now.UnixMicro()-200_000, 10))
	require.NoError(t, s.Tick(0.05, idle()))
	assert.True(t, s.Clock().Synced())
	assert.InDelta(t, 10.15, s.Clock().Now(), 1e-9)
}

func TestSessionResume(t *testing.T) {
	s, link := newTestSession(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(0.02, right()))
	}
	require.Positive(t, s.Predictor().QueueLen())

	assert.ErrorIs(t, s.Resume(link, protocol.NewWelcomePacket(7, "t", 5, spawn)), core.ErrProtocolViolation)

	require.NoError(t, s.Resume(link, protocol.NewWelcomePacket(1, "t", 5, spawn)))
	assert.Zero(t, s.Predictor().QueueLen())
	assert.InDelta(t, 5, s.Clock().Now(), 1e-9)
}
