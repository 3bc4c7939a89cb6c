package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/internal/replication"
	"movesync/internal/telemetry"
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

type fakeSession struct {
	id protocol.ConnectionID

	mu       sync.Mutex
	sent     []*protocol.Packet
	rtt      float64
	closed   bool
	notified bool
	// failSends 接下来这么多次发送返回队列满
	failSends int
}

func newFakeSession(id protocol.ConnectionID) *fakeSession { return &fakeSession{id: id} }

func (f *fakeSession) ID() protocol.ConnectionID { return f.id }
func (f *fakeSession) RTT() float64              { return f.rtt }

func (f *fakeSession) Send(pkt *protocol.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return ErrSendQueueFull
	}
	f.sent = append(f.sent, pkt)
	return nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed, f.notified = true, true
}

func (f *fakeSession) CloseWithoutNotify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// take 取出并清空已发送的消息
func (f *fakeSession) take() []*protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func ofType(pkts []*protocol.Packet, typ protocol.PacketType) []*protocol.Packet {
	var out []*protocol.Packet
	for _, p := range pkts {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

type roomRig struct {
	room  *Room
	clock *replication.ManualClock
}

func newRoomRig(t *testing.T, mutate func(*config.Config)) *roomRig {
	t.Helper()
	cfg := config.Default()
	n, ok := config.PresetNetwork(config.PresetCustom)
	require.True(t, ok)
	cfg.Preset = config.PresetCustom
	cfg.Network = n
	if mutate != nil {
		mutate(cfg)
	}
	clock := &replication.ManualClock{T: 1}
	r := NewRoom(context.Background(), cfg, telemetry.Discard(), telemetry.MustMetrics(),
		NewTokenSigner("room-test-secret", time.Hour))
	r.clock = clock.Now
	t.Cleanup(r.Shutdown)
	return &roomRig{room: r, clock: clock}
}

func (r *roomRig) join(t *testing.T, sess *fakeSession) *protocol.Packet {
	t.Helper()
	require.NoError(t, r.room.handleJoin(sess, "p"))
	welcome := ofType(sess.take(), protocol.PacketWelcome)
	require.Len(t, welcome, 1)
	return welcome[0]
}

// standStill 客户端原地不动并声称停在 loc
func (r *roomRig) standStill(t *testing.T, enc *protocol.MoveEncoder, conn protocol.ConnectionID, loc core.Vec3, ts ...float64) {
	t.Helper()
	moves := make([]core.Move, 0, len(ts))
	for _, v := range ts {
		m := core.NewMove(v)
		m.Out.Location = loc
		moves = append(moves, m)
	}
	payload, err := enc.Encode(moves)
	require.NoError(t, err)
	r.room.handleMoves(movesEvent{conn: conn, payload: payload})
}

func TestRoomJoinSendsWelcome(t *testing.T) {
	r := newRoomRig(t, nil)
	a, b := newFakeSession(1), newFakeSession(2)

	wa := r.join(t, a)
	wb := r.join(t, b)

	assert.EqualValues(t, 1, wa.ActorID)
	assert.EqualValues(t, 2, wb.ActorID)
	assert.NotEmpty(t, wa.Token)
	assert.Equal(t, 1.0, wa.ServerTime)
	assert.NotEqual(t, wa.Spawn, wb.Spawn, "spawn points are spread out")
	assert.Len(t, r.room.actors, 2)
}

func TestRoomRejectsJoinWhenFull(t *testing.T) {
	r := newRoomRig(t, func(c *config.Config) { c.Server.MaxPlayers = 1 })
	r.join(t, newFakeSession(1))

	err := r.room.handleJoin(newFakeSession(2), "late")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "服务器已满")
	assert.Len(t, r.room.actors, 1)
}

func TestRoomReplicatesRoles(t *testing.T) {
	r := newRoomRig(t, nil)
	owner, observer := newFakeSession(1), newFakeSession(2)
	w := r.join(t, owner)
	r.join(t, observer)

	r.room.tick(r.clock.Now())

	mine := ofType(owner.take(), protocol.PacketState)
	theirs := ofType(observer.take(), protocol.PacketState)
	require.Len(t, mine, 2)
	require.Len(t, theirs, 2)

	roles := map[uint32]protocol.Role{}
	for _, p := range mine {
		roles[p.ActorID] = p.Role
	}
	assert.Equal(t, protocol.RoleAutonomous, roles[w.ActorID])
	assert.Equal(t, protocol.RoleSimulated, roles[2])

	// 没有新状态时不重复发送
	r.room.tick(r.clock.Now())
	assert.Empty(t, ofType(owner.take(), protocol.PacketState))
}

func TestRoomProcessesSubmittedMoves(t *testing.T) {
	r := newRoomRig(t, nil)
	owner, observer := newFakeSession(1), newFakeSession(2)
	w := r.join(t, owner)
	r.join(t, observer)
	r.room.tick(r.clock.Now())
	owner.take()
	observer.take()

	enc := protocol.NewMoveEncoder(&r.room.schemas.Move)
	r.standStill(t, enc, owner.ID(), w.Spawn, 1.05, 1.1)
	r.clock.Advance(0.1)
	r.room.tick(r.clock.Now())

	auth := r.room.actors[replication.ActorID(w.ActorID)].auth
	assert.Equal(t, 1.1, auth.LastExecutedTimestamp())
	assert.True(t, auth.LastMoveValid())
	assert.Empty(t, r.room.actors[replication.ActorID(w.ActorID)].moves)

	ap := ofType(owner.take(), protocol.PacketState)
	require.Len(t, ap, 1)
	assert.Equal(t, protocol.RoleAutonomous, ap[0].Role)

	sp := ofType(observer.take(), protocol.PacketState)
	require.Len(t, sp, 1)
	assert.Equal(t, w.ActorID, sp[0].ActorID)

	st, err := protocol.DecodeState(sp[0].Payload, &r.room.schemas.Simulated, protocol.NewConnectionRecord())
	require.NoError(t, err)
	assert.Equal(t, 1.1, st.Timestamp)
}

func TestRoomResendsFullStateAfterFailedSend(t *testing.T) {
	r := newRoomRig(t, nil)
	owner, observer := newFakeSession(1), newFakeSession(2)
	w := r.join(t, owner)
	r.join(t, observer)
	r.room.tick(r.clock.Now())
	owner.take()

	rec := protocol.NewConnectionRecord()
	decode := func() core.State {
		t.Helper()
		var states []*protocol.Packet
		for _, p := range ofType(observer.take(), protocol.PacketState) {
			if p.ActorID == w.ActorID {
				states = append(states, p)
			}
		}
		require.Len(t, states, 1)
		st, err := protocol.DecodeState(states[0].Payload, &r.room.schemas.Simulated, rec)
		require.NoError(t, err)
		return st
	}
	assert.Equal(t, w.Spawn.X(), decode().Location.X())

	// 服务器采纳新位置，但这个状态没能发出去
	shifted := w.Spawn.Add(core.Vec3{0.5, 0, 0})
	enc := protocol.NewMoveEncoder(&r.room.schemas.Move)
	r.standStill(t, enc, owner.ID(), shifted, 1.05)
	observer.failSends = 1
	r.clock.Advance(0.05)
	r.room.tick(r.clock.Now())
	for _, p := range ofType(observer.take(), protocol.PacketState) {
		assert.NotEqual(t, w.ActorID, p.ActorID)
	}

	r.standStill(t, enc, owner.ID(), shifted, 1.1)
	r.clock.Advance(0.05)
	r.room.tick(r.clock.Now())
	st := decode()
	assert.Equal(t, 1.1, st.Timestamp)
	assert.InDelta(t, shifted.X(), st.Location.X(), 1e-9)
}

func TestRoomIgnoresMovesFromUnknownConnection(t *testing.T) {
	r := newRoomRig(t, nil)
	r.join(t, newFakeSession(1))
	r.room.handleMoves(movesEvent{conn: 99, payload: []byte{1}})
	assert.Empty(t, r.room.actors[1].moves)
}

func TestRoomReconnectRebindsActor(t *testing.T) {
	r := newRoomRig(t, nil)
	first, observer := newFakeSession(1), newFakeSession(2)
	w := r.join(t, first)
	r.join(t, observer)
	r.room.tick(r.clock.Now())
	observer.take()

	r.room.handleLeave(first.ID())
	a := r.room.actors[1]
	assert.Nil(t, a.session)
	_, bound := r.room.byConn[first.ID()]
	assert.False(t, bound)
	assert.False(t, r.room.actors[2].auth.IsRelevantTo(first.ID()))

	second := newFakeSession(3)
	require.NoError(t, r.room.handleReconnect(second, w.Token))
	welcome := ofType(second.take(), protocol.PacketWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, w.ActorID, welcome[0].ActorID)
	assert.Equal(t, a.pawn.State.Location, welcome[0].Spawn)
	assert.Equal(t, protocol.ConnectionID(3), a.auth.Owner())

	r.room.tick(r.clock.Now())
	states := ofType(second.take(), protocol.PacketState)
	require.Len(t, states, 2, "own autonomous state plus the observer")
}

func TestRoomReconnectReplacesLiveSession(t *testing.T) {
	r := newRoomRig(t, nil)
	first := newFakeSession(1)
	w := r.join(t, first)

	second := newFakeSession(2)
	require.NoError(t, r.room.handleReconnect(second, w.Token))
	assert.True(t, first.closed)
	assert.False(t, first.notified)
	assert.Equal(t, replication.ActorID(1), r.room.byConn[2])
}

func TestRoomReconnectRejectsBadToken(t *testing.T) {
	r := newRoomRig(t, nil)
	r.join(t, newFakeSession(1))

	assert.Error(t, r.room.handleReconnect(newFakeSession(2), "not-a-token"))

	other := NewTokenSigner("another-secret", time.Hour)
	forged, err := other.GenerateSessionToken(1)
	require.NoError(t, err)
	assert.Error(t, r.room.handleReconnect(newFakeSession(2), forged))

	unknown, err := r.room.tokens.GenerateSessionToken(42)
	require.NoError(t, err)
	assert.Error(t, r.room.handleReconnect(newFakeSession(2), unknown))
}

func TestRoomExpiresDisconnectedActors(t *testing.T) {
	r := newRoomRig(t, nil)
	gone, stay := newFakeSession(1), newFakeSession(2)
	r.join(t, gone)
	r.join(t, stay)
	r.room.handleLeave(gone.ID())

	r.clock.Advance(reconnectGrace / 2)
	r.room.tick(r.clock.Now())
	assert.Len(t, r.room.actors, 2)
	stay.take()

	r.clock.Advance(reconnectGrace)
	r.room.tick(r.clock.Now())
	assert.Len(t, r.room.actors, 1)
	assert.Equal(t, []replication.ActorID{2}, r.room.order)

	leave := ofType(stay.take(), protocol.PacketActorLeave)
	require.Len(t, leave, 1)
	assert.EqualValues(t, 1, leave[0].ActorID)
}

func TestRoomRelevancy(t *testing.T) {
	r := newRoomRig(t, nil)
	owner, observer := newFakeSession(1), newFakeSession(2)
	r.join(t, owner)
	r.join(t, observer)

	near := true
	r.room.relevant = func(_, _ core.PawnState) bool { return near }
	r.room.tick(r.clock.Now())
	observer.take()

	near = false
	r.room.tick(r.clock.Now())
	pkts := observer.take()
	assert.Empty(t, ofType(pkts, protocol.PacketState))
	leave := ofType(pkts, protocol.PacketActorLeave)
	require.Len(t, leave, 1)
	assert.EqualValues(t, 1, leave[0].ActorID)
	assert.False(t, r.room.actors[1].auth.IsRelevantTo(observer.ID()))

	// 重新相关时收到全量状态
	near = true
	r.room.tick(r.clock.Now())
	states := ofType(observer.take(), protocol.PacketState)
	require.Len(t, states, 1)
	assert.EqualValues(t, 1, states[0].ActorID)
}

func TestDistanceRelevancy(t *testing.T) {
	at := func(x float64) core.PawnState { return core.PawnState{Location: core.Vec3{x, 0, 0}} }

	rel := DistanceRelevancy(100)
	assert.True(t, rel(at(0), at(100)))
	assert.False(t, rel(at(0), at(100.5)))
	assert.True(t, DistanceRelevancy(0)(at(0), at(1e9)))
}

func TestRoomKicksConspicuousClient(t *testing.T) {
	r := newRoomRig(t, nil)
	cheater := newFakeSession(1)
	r.join(t, cheater)

	strikes := r.room.cfg.Replication.MaxStrikeCount + 1
	for i := 0; i < strikes; i++ {
		r.room.handleMoves(movesEvent{conn: cheater.ID(), payload: nil})
	}
	r.room.tick(r.clock.Now())

	assert.True(t, cheater.closed)
	assert.False(t, cheater.notified)
	assert.Nil(t, r.room.actors[1].session)
	_, bound := r.room.byConn[cheater.ID()]
	assert.False(t, bound)
}

func TestRoomDropsOldestBatchWhenBacklogged(t *testing.T) {
	r := newRoomRig(t, nil)
	w := r.join(t, newFakeSession(1))
	enc := protocol.NewMoveEncoder(&r.room.schemas.Move)

	// 位置只在被丢弃的批次里出现过，之后的批次按差量省略它
	shifted := w.Spawn.Add(core.Vec3{0.5, 0, 0})
	r.standStill(t, enc, 1, w.Spawn, 1.01)
	last := 0.0
	for i := 1; i < maxQueuedBatches+3; i++ {
		last = 1.01 + 0.01*float64(i)
		r.standStill(t, enc, 1, shifted, last)
	}
	a := r.room.actors[1]
	require.Len(t, a.moves, maxQueuedBatches)

	r.clock.Advance(0.5)
	r.room.tick(r.clock.Now())
	assert.Equal(t, last, a.auth.LastExecutedTimestamp())
	assert.True(t, a.auth.LastMoveValid())
	assert.Zero(t, a.auth.Strikes())
	assert.InDelta(t, shifted.X(), a.pawn.State.Location.X(), 1e-9)
}

func TestRoomRunLoop(t *testing.T) {
	r := newRoomRig(t, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go r.room.Run(&wg)

	owner := newFakeSession(1)
	require.NoError(t, r.room.Join(owner, "loop"))
	assert.Eventually(t, func() bool {
		return len(ofType(owner.take(), protocol.PacketState)) > 0
	}, time.Second, 5*time.Millisecond)

	r.room.Shutdown()
	wg.Wait()
	assert.True(t, owner.closed)
	assert.Error(t, r.room.Join(newFakeSession(2), "after"))
}
