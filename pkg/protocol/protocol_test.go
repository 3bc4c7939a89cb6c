package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

func testMoveSchema() core.MoveSchema {
	s := core.DefaultMoveSchema()
	s.InputFlagMask = 0b11
	return s
}

func makeMove(ts float64, input core.Vec3, loc core.Vec3, yaw float64, flags uint16) core.Move {
	m := core.NewMove(ts)
	m.InputVector = input
	m.InputFlags = flags
	m.Out.Location = loc
	m.Out.Rotation = core.Rotator{Yaw: yaw}
	m.Out.ControlRotation = core.Rotator{Pitch: -10, Yaw: yaw}
	return m
}

func TestMoveBatchRoundTrip(t *testing.T) {
	schema := testMoveSchema()
	moves := []core.Move{
		makeMove(1.0, core.Vec3{0.5, -0.25, 0}, core.Vec3{1.25, 2.5, 100}, 90, 0b01),
		makeMove(1.1, core.Vec3{0.5, -0.25, 0}, core.Vec3{1.254, 2.5, 100}, 90, 0b01),
		makeMove(1.2, core.Vec3{1, 0, 0}, core.Vec3{3, 2.5, 100}, 91, 0b10),
	}
	for i := range moves {
		moves[i].QuantizeInput(&schema)
	}

	enc := NewMoveEncoder(&schema)
	data, err := enc.Encode(moves)
	require.NoError(t, err)

	assert.Equal(t, EnabledMoveFields(&schema), moves[0].HasNew)
	assert.Zero(t, moves[1].HasNew, "second move only differs below tolerance")
	assert.NotZero(t, moves[2].HasNew&core.MoveInputFlags)
	assert.NotZero(t, moves[2].HasNew&core.MoveOutLocation)
	assert.Zero(t, moves[2].HasNew&core.MoveInputZ)

	dec := NewMoveDecoder(&schema)
	got, err := dec.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, m := range got {
		assert.Equal(t, moves[i].Timestamp, m.Timestamp)
		assert.Equal(t, moves[i].HasNew, m.HasNew)
		assert.False(t, bitpack.IsValidVector(m.Out.Velocity), "velocity is not serialized")
		assert.False(t, m.In.Rotation.IsValid(), "in state never travels")
	}

	assert.Equal(t, core.Vec3{0.5, -0.25, 0}, got[1].InputVector)
	assert.InDelta(t, 1.25, got[1].Out.Location[0], 1e-9)
	assert.Equal(t, uint16(0b01), got[1].InputFlags)
	assert.Equal(t, uint16(0b10), got[2].InputFlags)
	assert.InDelta(t, 3, got[2].Out.Location[0], 1e-9)
	assert.InDelta(t, 91, got[2].Out.Rotation.Yaw, schema.OutRotationQuantize.AngleStep())
	assert.InDelta(t, 0, bitpack.AngleDelta(got[0].Out.ControlRotation.Pitch, -10), schema.OutControlRotationQuantize.AngleStep())
}

func TestMoveDeltaBaseSpansBatches(t *testing.T) {
	schema := testMoveSchema()
	enc := NewMoveEncoder(&schema)
	dec := NewMoveDecoder(&schema)

	first := []core.Move{makeMove(1, core.Vec3{0.3, 0, 0}, core.Vec3{5, 5, 0}, 45, 0)}
	data, err := enc.Encode(first)
	require.NoError(t, err)
	_, err = dec.Decode(data)
	require.NoError(t, err)

	second := []core.Move{makeMove(2, core.Vec3{0.3, 0, 0}, core.Vec3{5, 5, 0}, 45, 0)}
	data2, err := enc.Encode(second)
	require.NoError(t, err)
	assert.Less(t, len(data2), len(data))

	got, err := dec.Decode(data2)
	require.NoError(t, err)
	assert.Zero(t, got[0].HasNew)
	assert.InDelta(t, 0.3, got[0].InputVector[0], 1e-9)
	assert.Equal(t, core.Vec3{5, 5, 0}, got[0].Out.Location)

	// 重置后重新全量
	enc.Reset()
	third := []core.Move{makeMove(3, core.Vec3{0.3, 0, 0}, core.Vec3{5, 5, 0}, 45, 0)}
	_, err = enc.Encode(third)
	require.NoError(t, err)
	assert.Equal(t, EnabledMoveFields(&schema), third[0].HasNew)
}

func TestMoveBatchLimits(t *testing.T) {
	schema := testMoveSchema()
	enc := NewMoveEncoder(&schema)

	_, err := enc.Encode(nil)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)

	tooMany := make([]core.Move, MaxMovesPerBatch+1)
	for i := range tooMany {
		tooMany[i] = core.NewMove(float64(i))
	}
	_, err = enc.Encode(tooMany)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)

	data, err := enc.Encode([]core.Move{makeMove(1, core.Vec3{}, core.Vec3{1, 2, 3}, 0, 0)})
	require.NoError(t, err)

	_, err = NewMoveDecoder(&schema).Decode(data[:len(data)/2])
	assert.ErrorIs(t, err, core.ErrProtocolViolation)

	_, err = NewMoveDecoder(&schema).Decode([]byte{0})
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
}

func simulatedSchema() core.StateSchema {
	return core.StateSchema{
		Velocity:                true,
		Location:                true,
		Rotation:                core.AllAxes,
		InputMode:               true,
		InputFlagMask:           0b1,
		Bound:                   []core.Binding{{ID: 1, Kind: core.BoundFloat, ReplicateToSimulated: true}},
		VelocityQuantize:        bitpack.RoundTwoDecimals,
		LocationQuantize:        bitpack.RoundTwoDecimals,
		RotationQuantize:        bitpack.SizeShort,
		ControlRotationQuantize: bitpack.SizeShort,
	}
}

func sampleState(ts float64) core.State {
	pawn := core.PawnState{
		Velocity:  core.Vec3{1.5, 0, -2},
		Location:  core.Vec3{10.25, -3.5, 7},
		Rotation:  core.Rotator{Yaw: 90},
		InputMode: core.InputModeAllRelative,
		Bound:     core.BoundData{1: core.FloatValue(3.25)},
	}
	return core.NewState(ts, pawn, 0b1)
}

func TestStateDeltaPerConnection(t *testing.T) {
	schema := simulatedSchema()
	sendRec := NewConnectionRecord()
	recvRec := NewConnectionRecord()

	s := sampleState(1)
	first := EncodeState(&s, &schema, sendRec)
	assert.False(t, sendRec.ForceFull)
	assert.Equal(t, 1.0, sendRec.LastTimestamp)

	got, err := DecodeState(first, &schema, recvRec)
	require.NoError(t, err)
	assert.Equal(t, core.StateVelocity|core.StateLocation|core.StateRotation|core.StateInputMode|core.StateInputFlags|core.StateBound, got.Received)
	assert.Equal(t, s.Location, got.Location)
	assert.Equal(t, s.Velocity, got.Velocity)
	assert.InDelta(t, 90, got.Rotation.Yaw, 1e-9)
	assert.Equal(t, core.InputModeAllRelative, got.InputMode)
	assert.Equal(t, uint16(0b1), got.InputFlags)
	assert.Equal(t, 3.25, got.Bound[1].Float())
	assert.True(t, got.ContainsFullBatch)
	assert.False(t, got.ControlRotation.IsValid(), "control rotation is not replicated")

	// 变化小于量化步长：只写时间戳和 0 位
	s2 := sampleState(1.1)
	s2.Location[0] = 10.252
	second := EncodeState(&s2, &schema, sendRec)
	assert.Less(t, len(second), len(first))

	got2, err := DecodeState(second, &schema, recvRec)
	require.NoError(t, err)
	assert.Zero(t, got2.Received)
	assert.Equal(t, 1.1, got2.Timestamp)
	assert.Equal(t, got.Location, got2.Location)
	assert.Equal(t, 3.25, got2.Bound[1].Float())

	// 强制全量
	sendRec.ForceFull = true
	s3 := sampleState(1.2)
	third := EncodeState(&s3, &schema, sendRec)
	got3, err := DecodeState(third, &schema, recvRec)
	require.NoError(t, err)
	assert.Equal(t, got.Received, got3.Received)
	assert.False(t, sendRec.ForceFull)
}

func TestAutonomousStateOmitsPoseWithoutFullBatch(t *testing.T) {
	schema := simulatedSchema()
	schema.Autonomous = true
	schema.ControlRotation = core.AllAxes
	sendRec := NewConnectionRecord()
	recvRec := NewConnectionRecord()

	s := sampleState(2)
	s.ContainsFullBatch = false
	got, err := DecodeState(EncodeState(&s, &schema, sendRec), &schema, recvRec)
	require.NoError(t, err)

	assert.False(t, got.ContainsFullBatch)
	assert.False(t, bitpack.IsValidVector(got.Location))
	assert.False(t, got.Rotation.IsValid())
	assert.Equal(t, s.Velocity, got.Velocity)
	assert.Zero(t, got.Received&core.StateLocation)

	s.Timestamp = 2.1
	s.ContainsFullBatch = true
	got, err = DecodeState(EncodeState(&s, &schema, sendRec), &schema, recvRec)
	require.NoError(t, err)
	assert.True(t, got.ContainsFullBatch)
	assert.Equal(t, s.Location, got.Location)
	assert.NotZero(t, got.Received&core.StateLocation)
}

func TestDecodeStateRejectsTruncatedData(t *testing.T) {
	schema := simulatedSchema()
	s := sampleState(3)
	data := EncodeState(&s, &schema, NewConnectionRecord())

	_, err := DecodeState(data[:4], &schema, NewConnectionRecord())
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
}

func TestDeltaTrackerRelevance(t *testing.T) {
	tr := NewDeltaTracker()

	assert.True(t, tr.SetRelevant(7, true))
	assert.False(t, tr.SetRelevant(7, true))
	assert.True(t, tr.SetRelevant(3, true))
	assert.Equal(t, []ConnectionID{3, 7}, tr.Connections())

	rec := tr.Record(7)
	require.NotNil(t, rec)
	assert.True(t, rec.ForceFull)
	rec.ForceFull = false

	tr.ForceFullAll()
	assert.True(t, tr.Record(7).ForceFull)

	assert.True(t, tr.SetRelevant(7, false))
	assert.Nil(t, tr.Record(7))

	tr.Remove(3)
	assert.Zero(t, tr.Len())
}

func TestPacketRoundTrip(t *testing.T) {
	pkt := NewWelcomePacket(42, "tok", 12.5, core.Vec3{1, -2, 0})
	data, err := MarshalPacket(pkt)
	require.NoError(t, err)

	got, err := UnmarshalPacket(data)
	require.NoError(t, err)
	assert.Equal(t, pkt, got)

	st := NewStatePacket(9, RoleSimulated, []byte{0xAB, 0xCD})
	data, err = MarshalPacket(st)
	require.NoError(t, err)
	got, err = UnmarshalPacket(data)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestUnmarshalPacketSkipsUnknownFields(t *testing.T) {
	data, err := MarshalPacket(NewPingPacket(1234))
	require.NoError(t, err)
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	got, err := UnmarshalPacket(data)
	require.NoError(t, err)
	assert.Equal(t, PacketPing, got.Type)
	assert.Equal(t, int64(1234), got.SentAt)
}

func TestUnmarshalPacketErrors(t *testing.T) {
	_, err := UnmarshalPacket([]byte{0xFF})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = UnmarshalPacket(nil)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = MarshalPacket(&Packet{})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
