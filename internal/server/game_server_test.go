package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/protocol"
	"movesync/pkg/transport"
)

func startServer(t *testing.T, proto string) *GameServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Transport = proto
	s := NewGameServer(cfg, telemetry.Discard())
	require.NoError(t, s.Listen())
	t.Cleanup(s.Shutdown)
	return s
}

func dialServer(t *testing.T, s *GameServer, proto string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, proto, s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writePacket(t *testing.T, conn net.Conn, pkt *protocol.Packet) {
	t.Helper()
	data, err := protocol.MarshalPacket(pkt)
	require.NoError(t, err)
	require.NoError(t, transport.WriteFrame(conn, data))
}

// readUntil 读取消息直到出现指定类型
func readUntil(t *testing.T, conn net.Conn, typ protocol.PacketType) *protocol.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		data, err := transport.ReadFrame(conn)
		require.NoError(t, err)
		pkt, err := protocol.UnmarshalPacket(data)
		require.NoError(t, err)
		if pkt.Type == typ {
			return pkt
		}
	}
}

func TestGameServerJoinAndReplicate(t *testing.T) {
	s := startServer(t, "tcp")
	conn := dialServer(t, s, "tcp")

	writePacket(t, conn, protocol.NewJoinPacket("tester"))
	welcome := readUntil(t, conn, protocol.PacketWelcome)
	assert.EqualValues(t, 1, welcome.ActorID)
	assert.NotEmpty(t, welcome.Token)

	state := readUntil(t, conn, protocol.PacketState)
	assert.Equal(t, welcome.ActorID, state.ActorID)
	assert.Equal(t, protocol.RoleAutonomous, state.Role)
}

func TestGameServerPing(t *testing.T) {
	s := startServer(t, "tcp")
	conn := dialServer(t, s, "tcp")

	writePacket(t, conn, protocol.NewPingPacket(12345))
	pong := readUntil(t, conn, protocol.PacketPong)
	assert.EqualValues(t, 12345, pong.SentAt)
	assert.Greater(t, pong.ServerTime, 0.0)
}

func TestGameServerRejectsMovesBeforeJoin(t *testing.T) {
	s := startServer(t, "tcp")
	conn := dialServer(t, s, "tcp")

	writePacket(t, conn, protocol.NewMovesPacket([]byte{1, 2, 3}))
	writePacket(t, conn, protocol.NewJoinPacket("late"))
	welcome := readUntil(t, conn, protocol.PacketWelcome)
	assert.EqualValues(t, 1, welcome.ActorID)
}

func TestGameServerReconnectOverWebSocket(t *testing.T) {
	s := startServer(t, "ws")
	first := dialServer(t, s, "ws")
	writePacket(t, first, protocol.NewJoinPacket("ws"))
	welcome := readUntil(t, first, protocol.PacketWelcome)

	second := dialServer(t, s, "ws")
	writePacket(t, second, protocol.NewReconnectPacket(welcome.Token))
	again := readUntil(t, second, protocol.PacketWelcome)
	assert.Equal(t, welcome.ActorID, again.ActorID)
}

func TestGameServerReconnectWithBadToken(t *testing.T) {
	s := startServer(t, "tcp")
	conn := dialServer(t, s, "tcp")

	writePacket(t, conn, protocol.NewReconnectPacket("bogus"))
	pkt := readUntil(t, conn, protocol.PacketError)
	assert.Contains(t, pkt.Name, "token")
}

func TestGameServerShutdownIsIdempotent(t *testing.T) {
	s := startServer(t, "tcp")
	s.Shutdown()
	s.Shutdown()
}
