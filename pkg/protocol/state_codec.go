package protocol

import (
	"fmt"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// EncodeState 针对一个连接序列化状态。
// 与 rec.Last 相比在量化容差内的字段只写 0 位；rec.ForceFull 时所有字段都写值体，
// 序列化完成后清除 ForceFull 并更新基准
func EncodeState(s *core.State, schema *core.StateSchema, rec *ConnectionRecord) []byte {
	q := s.Clone()
	q.Quantize(schema)

	force := rec.ForceFull || !rec.Last.IsValid()
	last := &rec.Last
	w := bitpack.NewWriter(32)

	w.WriteFloat64(q.Timestamp)
	full := true
	if schema.Autonomous {
		full = q.ContainsFullBatch
		w.WriteBool(full)
	}

	if schema.Velocity {
		has := force || bitpack.ChangedVector(q.Velocity, last.Velocity, schema.VelocityQuantize.Tolerance())
		w.WriteBool(has)
		if has {
			bitpack.WritePackedVector(w, q.Velocity, schema.VelocityQuantize)
			last.Velocity = q.Velocity
		}
	}

	if schema.Location && full {
		has := force || bitpack.ChangedVector(q.Location, last.Location, schema.LocationQuantize.Tolerance())
		w.WriteBool(has)
		if has {
			bitpack.WritePackedVector(w, q.Location, schema.LocationQuantize)
			last.Location = q.Location
		}
	}

	if full {
		writeRotatorDelta(w, q.Rotation, &last.Rotation, schema.Rotation, schema.RotationQuantize, force)
		writeRotatorDelta(w, q.ControlRotation, &last.ControlRotation, schema.ControlRotation, schema.ControlRotationQuantize, force)
	}

	if schema.InputMode {
		has := force || q.InputMode != last.InputMode
		w.WriteBool(has)
		if has {
			w.WriteBits(uint64(q.InputMode), core.InputModeBits)
			last.InputMode = q.InputMode
		}
	}

	if packed, n := core.PackFlags(q.InputFlags, schema.InputFlagMask); n > 0 {
		has := force || q.InputFlags&schema.InputFlagMask != last.InputFlags&schema.InputFlagMask
		w.WriteBool(has)
		if has {
			w.WriteBits(packed, n)
			last.InputFlags = q.InputFlags & schema.InputFlagMask
		}
	}

	if len(schema.Bound) > 0 && last.Bound == nil {
		last.Bound = make(core.BoundData, len(schema.Bound))
	}
	for _, b := range schema.Bound {
		v := boundOrZero(q.Bound, b)
		prev, ok := last.Bound[b.ID]
		has := force || !ok || prev != v
		w.WriteBool(has)
		if has {
			core.WriteBoundValue(w, v)
			last.Bound[b.ID] = v
		}
	}

	last.Timestamp = q.Timestamp
	rec.LastTimestamp = q.Timestamp
	rec.ForceFull = false

	out := make([]byte, len(w.Bytes()))
	copy(out, w.Bytes())
	return out
}

func writeRotatorDelta(w *bitpack.Writer, cur core.Rotator, last *core.Rotator, mask core.AxisMask, l bitpack.SizeLevel, force bool) {
	tol := l.AngleTolerance()
	for i := 0; i < 3; i++ {
		if !mask.Has(i) {
			continue
		}
		has := force || bitpack.ChangedAngle(cur.Axis(i), last.Axis(i), tol)
		w.WriteBool(has)
		if has {
			bitpack.WriteAngle(w, cur.Axis(i), l)
			last.SetAxis(i, cur.Axis(i))
		}
	}
}

func boundOrZero(d core.BoundData, b core.Binding) core.BoundValue {
	if v, ok := d[b.ID]; ok && v.Kind == b.Kind {
		return v.Quantize()
	}
	return core.BoundValue{Kind: b.Kind}.Quantize()
}

// DecodeState 解析状态。
// 未携带新值的字段沿用 rec.Last；自主代理非完整批次时位置与旋转为哨兵。
// Received 标记本次实际读到的字段组
func DecodeState(data []byte, schema *core.StateSchema, rec *ConnectionRecord) (core.State, error) {
	r := bitpack.NewReader(data)
	last := &rec.Last
	s := core.InvalidState()
	s.ContainsFullBatch = true

	s.Timestamp = r.ReadFloat64()
	if schema.Autonomous {
		s.ContainsFullBatch = r.ReadBool()
	}
	full := s.ContainsFullBatch

	if schema.Velocity {
		if r.ReadBool() {
			last.Velocity = bitpack.ReadPackedVector(r, schema.VelocityQuantize)
			s.Received |= core.StateVelocity
		}
		s.Velocity = last.Velocity
	}

	if schema.Location && full {
		if r.ReadBool() {
			last.Location = bitpack.ReadPackedVector(r, schema.LocationQuantize)
			s.Received |= core.StateLocation
		}
		s.Location = last.Location
	}

	if full {
		if readRotatorDelta(r, &last.Rotation, schema.Rotation, schema.RotationQuantize) {
			s.Received |= core.StateRotation
		}
		if readRotatorDelta(r, &last.ControlRotation, schema.ControlRotation, schema.ControlRotationQuantize) {
			s.Received |= core.StateControlRotation
		}
		s.Rotation = maskedRotator(last.Rotation, schema.Rotation)
		s.ControlRotation = maskedRotator(last.ControlRotation, schema.ControlRotation)
	}

	if schema.InputMode {
		if r.ReadBool() {
			last.InputMode = core.InputMode(r.ReadBits(core.InputModeBits))
			s.Received |= core.StateInputMode
		}
		s.InputMode = last.InputMode
	}

	if _, n := core.PackFlags(0, schema.InputFlagMask); n > 0 {
		if r.ReadBool() {
			last.InputFlags = core.UnpackFlags(r.ReadBits(n), schema.InputFlagMask)
			s.Received |= core.StateInputFlags
		}
		s.InputFlags = last.InputFlags
	}

	if len(schema.Bound) > 0 {
		if last.Bound == nil {
			last.Bound = make(core.BoundData, len(schema.Bound))
		}
		s.Bound = make(core.BoundData, len(schema.Bound))
		for _, b := range schema.Bound {
			if r.ReadBool() {
				last.Bound[b.ID] = core.ReadBoundValue(r, b.Kind)
				s.Received |= core.StateBound
			}
			if v, ok := last.Bound[b.ID]; ok {
				s.Bound[b.ID] = v
			}
		}
	}

	if err := r.Err(); err != nil {
		return core.InvalidState(), fmt.Errorf("%w: 状态解码失败: %v", core.ErrProtocolViolation, err)
	}
	if s.Timestamp < 0 {
		return core.InvalidState(), fmt.Errorf("%w: 状态时间戳为负 (%f)", core.ErrProtocolViolation, s.Timestamp)
	}
	last.Timestamp = s.Timestamp
	rec.LastTimestamp = s.Timestamp
	return s, nil
}

func readRotatorDelta(r *bitpack.Reader, last *core.Rotator, mask core.AxisMask, l bitpack.SizeLevel) bool {
	got := false
	for i := 0; i < 3; i++ {
		if mask.Has(i) && r.ReadBool() {
			last.SetAxis(i, bitpack.ReadAngle(r, l))
			got = true
		}
	}
	return got
}

// maskedRotator 未复制的分量保持哨兵
func maskedRotator(src core.Rotator, mask core.AxisMask) core.Rotator {
	out := core.InvalidRotator()
	for i := 0; i < 3; i++ {
		if mask.Has(i) {
			out.SetAxis(i, src.Axis(i))
		}
	}
	return out
}
