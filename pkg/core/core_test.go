package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/pkg/bitpack"
)

func TestRotatorQuatRoundTrip(t *testing.T) {
	cases := []Rotator{
		{Roll: 0, Pitch: 0, Yaw: 0},
		{Roll: 10, Pitch: 20, Yaw: 30},
		{Roll: -45, Pitch: 60, Yaw: 170},
		{Roll: 5, Pitch: -80, Yaw: -120},
	}
	for _, r := range cases {
		got := RotatorFromQuat(r.Quat())
		assert.True(t, got.Equals(r, 1e-6), "want %+v got %+v", r, got)
	}
}

func TestSlerpRotatorTakesShortestPath(t *testing.T) {
	a := Rotator{Yaw: 170}
	b := Rotator{Yaw: -170}

	mid := SlerpRotator(a, b, 0.5)
	assert.InDelta(t, 0, math.Abs(bitpack.AngleDelta(mid.Yaw, 180)), 1e-6)

	// 外推继续沿同一方向
	ext := SlerpRotator(Rotator{Yaw: 0}, Rotator{Yaw: 10}, 1.5)
	assert.InDelta(t, 15, ext.Yaw, 1e-6)

	assert.False(t, SlerpRotator(InvalidRotator(), b, 0.5).IsValid())
}

func TestRotatorNormalize(t *testing.T) {
	r := Rotator{Roll: 540, Pitch: -190, Yaw: 180}.Normalize()
	assert.InDelta(t, 180, r.Roll, 1e-9)
	assert.InDelta(t, 170, r.Pitch, 1e-9)
	assert.InDelta(t, 180, r.Yaw, 1e-9)
}

func TestPackFlagsUsesOnlyMaskedBits(t *testing.T) {
	mask := uint16(0b1010_0101)
	flags := uint16(0b1111_0001)

	v, n := PackFlags(flags, mask)
	assert.Equal(t, 4, n)
	assert.Equal(t, flags&mask, UnpackFlags(v, mask))
}

func TestBindingsLimits(t *testing.T) {
	var b Bindings
	for i := 0; i < MaxBindingsPerKind; i++ {
		require.NoError(t, b.BindData(Binding{ID: BoundID(i), Kind: BoundFloat}))
	}
	assert.Error(t, b.BindData(Binding{ID: 200, Kind: BoundFloat}))
	assert.Error(t, b.BindData(Binding{ID: 3, Kind: BoundBool}))
	require.NoError(t, b.BindData(Binding{ID: 100, Kind: BoundBool, ReplicateToSimulated: true}))

	assert.Len(t, b.DataFor(false), 1)

	require.NoError(t, b.BindInputFlag(InputFlagBinding{Index: 2, NoMoveCombine: true}))
	require.NoError(t, b.BindInputFlag(InputFlagBinding{Index: 0, ReplicateToSimulated: true}))
	assert.Error(t, b.BindInputFlag(InputFlagBinding{Index: 16}))
	assert.Error(t, b.BindInputFlag(InputFlagBinding{Index: 2}))

	assert.Equal(t, uint16(0b101), b.FlagMask())
	assert.Equal(t, uint16(0b100), b.NoCombineMask())
	assert.Equal(t, uint16(0b001), b.SimulatedFlagMask())
}

func TestBoundValueWireRoundTrip(t *testing.T) {
	values := []BoundValue{
		BoolValue(true),
		HalfByteValue(0x1F),
		ByteValue(200),
		IntValue(-123456),
		FloatValue(3.25),
		VectorValue(Vec3{1.234, -9.876, 100}),
		NormalValue(Vec3{0.6, 0.8, 0}),
		RotatorValue(Rotator{Roll: 1, Pitch: 2, Yaw: 359}),
	}
	for _, v := range values {
		w := bitpack.NewWriter(16)
		WriteBoundValue(w, v)
		got := ReadBoundValue(bitpack.NewReader(w.Bytes()), v.Kind)
		assert.True(t, got.Equal(v.Quantize()), "kind=%s", v.Kind)
		assert.Equal(t, got, got.Quantize(), "kind=%s", v.Kind)
	}
}

func TestMoveQuantizeIsIdempotent(t *testing.T) {
	schema := DefaultMoveSchema()
	m := NewMove(1.5)
	m.InputVector = Vec3{0.123456, -2, 0.5}
	m.Out.Location = Vec3{100.4567, -3.14159, 0}
	m.Out.Rotation = Rotator{Yaw: 91.2345}
	m.Out.ControlRotation = Rotator{Pitch: -10.001}

	m.QuantizeInput(&schema)
	m.QuantizeOutput(&schema)
	once := m.Clone()
	m.QuantizeInput(&schema)
	m.QuantizeOutput(&schema)

	assert.Equal(t, once, m)
	assert.Equal(t, -1.0, m.InputVector[1])
	assert.True(t, m.IsValid())
	invalid := InvalidMove()
	assert.False(t, invalid.IsValid())
}

func TestCheckSchemasCorrectsSimulated(t *testing.T) {
	auto := StateSchema{Autonomous: true, LocationQuantize: bitpack.RoundTwoDecimals, RotationQuantize: bitpack.SizeShort}
	sim := StateSchema{LocationQuantize: bitpack.RoundOneDecimal, RotationQuantize: bitpack.SizeShort}

	warnings := CheckSchemas(&auto, &sim)
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], ErrConfiguration)
	assert.Equal(t, bitpack.RoundTwoDecimals, sim.LocationQuantize)
}

func TestPawnStateValidFillsSentinels(t *testing.T) {
	fallback := PawnState{
		Location: Vec3{1, 2, 3},
		Rotation: Rotator{Yaw: 90},
		Bound:    BoundData{1: FloatValue(5)},
	}
	p := InvalidPawnState()
	p.Location[2] = 7

	got := p.Valid(fallback)
	assert.Equal(t, Vec3{1, 2, 7}, got.Location)
	assert.Equal(t, 90.0, got.Rotation.Yaw)
	assert.Equal(t, 5.0, got.Bound[1].Float())

	got.Bound[1] = FloatValue(6)
	assert.Equal(t, 5.0, fallback.Bound[1].Float())
}
