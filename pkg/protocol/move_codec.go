package protocol

import (
	"fmt"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// MaxMovesPerBatch 单个移动批次的最大条数（8 位计数）
const MaxMovesPerBatch = 255

const moveCountBits = 8

// MoveEncoder 客户端移动批次编码器，记住上一次发送的值用于差量抑制
type MoveEncoder struct {
	schema  *core.MoveSchema
	last    core.Move
	hasLast bool
	w       *bitpack.Writer
}

// NewMoveEncoder 创建编码器
func NewMoveEncoder(schema *core.MoveSchema) *MoveEncoder {
	return &MoveEncoder{schema: schema, w: bitpack.NewWriter(64)}
}

// Reset 丢弃差量基准，下一批所有字段都携带新值
func (e *MoveEncoder) Reset() {
	e.hasLast = false
}

// Encode 编码一批移动，并把每条移动的 HasNew 写回 moves
func (e *MoveEncoder) Encode(moves []core.Move) ([]byte, error) {
	if len(moves) == 0 {
		return nil, fmt.Errorf("%w: 空移动批次", core.ErrProtocolViolation)
	}
	if len(moves) > MaxMovesPerBatch {
		return nil, fmt.Errorf("%w: 移动批次过大 (%d)", core.ErrProtocolViolation, len(moves))
	}

	w := e.w
	w.Reset()
	w.WriteBits(uint64(len(moves)), moveCountBits)

	enabled := EnabledMoveFields(e.schema)
	for i := range moves {
		m := &moves[i]
		m.HasNew = e.changedFields(m) & enabled
		writeMove(w, m, e.schema)
		e.remember(m)
	}

	out := make([]byte, len(w.Bytes()))
	copy(out, w.Bytes())
	return out, nil
}

func (e *MoveEncoder) changedFields(m *core.Move) core.MoveField {
	s := e.schema
	if !e.hasLast {
		return core.MoveAllFields
	}
	last := &e.last
	var f core.MoveField

	axisTol := s.InputQuantize.AxisTolerance()
	for i := 0; i < 3; i++ {
		if bitpack.Changed(m.InputVector[i], last.InputVector[i], axisTol) {
			f |= core.MoveInputAxis(i)
		}
	}
	if m.InputFlags&s.InputFlagMask != last.InputFlags&s.InputFlagMask {
		f |= core.MoveInputFlags
	}
	if bitpack.ChangedVector(m.Out.Velocity, last.Out.Velocity, s.OutVelocityQuantize.Tolerance()) {
		f |= core.MoveOutVelocity
	}
	if bitpack.ChangedVector(m.Out.Location, last.Out.Location, s.OutLocationQuantize.Tolerance()) {
		f |= core.MoveOutLocation
	}
	rotTol := s.OutRotationQuantize.AngleTolerance()
	ctrlTol := s.OutControlRotationQuantize.AngleTolerance()
	for i := 0; i < 3; i++ {
		if bitpack.ChangedAngle(m.Out.Rotation.Axis(i), last.Out.Rotation.Axis(i), rotTol) {
			f |= core.MoveOutRotationAxis(i)
		}
		if bitpack.ChangedAngle(m.Out.ControlRotation.Axis(i), last.Out.ControlRotation.Axis(i), ctrlTol) {
			f |= core.MoveOutControlAxis(i)
		}
	}
	return f
}

// remember 记录实际发送的值；未发送的字段保持旧值，与解码端的重建保持一致
func (e *MoveEncoder) remember(m *core.Move) {
	if !e.hasLast {
		e.last = m.Clone()
		e.hasLast = true
		return
	}
	applyNewFields(&e.last, m, m.HasNew)
	e.last.Timestamp = m.Timestamp
}

// EnabledMoveFields 配置中实际上线的字段
func EnabledMoveFields(s *core.MoveSchema) core.MoveField {
	f := core.MoveInputX | core.MoveInputY | core.MoveInputZ
	if _, n := core.PackFlags(0, s.InputFlagMask); n > 0 {
		f |= core.MoveInputFlags
	}
	if s.OutVelocity {
		f |= core.MoveOutVelocity
	}
	if s.OutLocation {
		f |= core.MoveOutLocation
	}
	for i := 0; i < 3; i++ {
		if s.OutRotation.Has(i) {
			f |= core.MoveOutRotationAxis(i)
		}
		if s.OutControlRotation.Has(i) {
			f |= core.MoveOutControlAxis(i)
		}
	}
	return f
}

func writeMove(w *bitpack.Writer, m *core.Move, s *core.MoveSchema) {
	w.WriteFloat64(m.Timestamp)

	for i := 0; i < 3; i++ {
		has := m.HasNew&core.MoveInputAxis(i) != 0
		w.WriteBool(has)
		if has {
			bitpack.WriteAxis(w, m.InputVector[i], s.InputQuantize)
		}
	}

	if packed, n := core.PackFlags(m.InputFlags, s.InputFlagMask); n > 0 {
		has := m.HasNew&core.MoveInputFlags != 0
		w.WriteBool(has)
		if has {
			w.WriteBits(packed, n)
		}
	}

	if s.OutVelocity {
		has := m.HasNew&core.MoveOutVelocity != 0
		w.WriteBool(has)
		if has {
			bitpack.WritePackedVector(w, m.Out.Velocity, s.OutVelocityQuantize)
		}
	}

	if s.OutLocation {
		has := m.HasNew&core.MoveOutLocation != 0
		w.WriteBool(has)
		if has {
			bitpack.WritePackedVector(w, m.Out.Location, s.OutLocationQuantize)
		}
	}

	for i := 0; i < 3; i++ {
		if !s.OutRotation.Has(i) {
			continue
		}
		has := m.HasNew&core.MoveOutRotationAxis(i) != 0
		w.WriteBool(has)
		if has {
			bitpack.WriteAngle(w, m.Out.Rotation.Axis(i), s.OutRotationQuantize)
		}
	}

	for i := 0; i < 3; i++ {
		if !s.OutControlRotation.Has(i) {
			continue
		}
		has := m.HasNew&core.MoveOutControlAxis(i) != 0
		w.WriteBool(has)
		if has {
			bitpack.WriteAngle(w, m.Out.ControlRotation.Axis(i), s.OutControlRotationQuantize)
		}
	}
}

// MoveDecoder 服务器端移动批次解码器，用上一条解包的移动重建未变化字段
type MoveDecoder struct {
	schema  *core.MoveSchema
	last    core.Move
	hasLast bool
}

// NewMoveDecoder 创建解码器
func NewMoveDecoder(schema *core.MoveSchema) *MoveDecoder {
	return &MoveDecoder{schema: schema}
}

// Decode 解码一批移动。未序列化的输出字段为哨兵，In 全部为哨兵
func (d *MoveDecoder) Decode(data []byte) ([]core.Move, error) {
	r := bitpack.NewReader(data)
	count := int(r.ReadBits(moveCountBits))
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: 读取移动数量失败: %v", core.ErrProtocolViolation, r.Err())
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: 空移动批次", core.ErrProtocolViolation)
	}

	moves := make([]core.Move, 0, count)
	for i := 0; i < count; i++ {
		m := d.readMove(r)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%w: 移动 %d 解码失败: %v", core.ErrProtocolViolation, i, err)
		}
		d.reconstruct(&m)
		moves = append(moves, m)
	}
	return moves, nil
}

func (d *MoveDecoder) readMove(r *bitpack.Reader) core.Move {
	s := d.schema
	m := core.InvalidMove()
	m.Timestamp = r.ReadFloat64()

	for i := 0; i < 3; i++ {
		if r.ReadBool() {
			m.HasNew |= core.MoveInputAxis(i)
			m.InputVector[i] = bitpack.ReadAxis(r, s.InputQuantize)
		}
	}

	if _, n := core.PackFlags(0, s.InputFlagMask); n > 0 {
		m.InputFlags = 0
		if r.ReadBool() {
			m.HasNew |= core.MoveInputFlags
			m.InputFlags = core.UnpackFlags(r.ReadBits(n), s.InputFlagMask)
		}
	}

	if s.OutVelocity && r.ReadBool() {
		m.HasNew |= core.MoveOutVelocity
		m.Out.Velocity = bitpack.ReadPackedVector(r, s.OutVelocityQuantize)
	}

	if s.OutLocation && r.ReadBool() {
		m.HasNew |= core.MoveOutLocation
		m.Out.Location = bitpack.ReadPackedVector(r, s.OutLocationQuantize)
	}

	for i := 0; i < 3; i++ {
		if s.OutRotation.Has(i) && r.ReadBool() {
			m.HasNew |= core.MoveOutRotationAxis(i)
			m.Out.Rotation.SetAxis(i, bitpack.ReadAngle(r, s.OutRotationQuantize))
		}
	}

	for i := 0; i < 3; i++ {
		if s.OutControlRotation.Has(i) && r.ReadBool() {
			m.HasNew |= core.MoveOutControlAxis(i)
			m.Out.ControlRotation.SetAxis(i, bitpack.ReadAngle(r, s.OutControlRotationQuantize))
		}
	}
	return m
}

// reconstruct 未携带新值的字段沿用上一条移动
func (d *MoveDecoder) reconstruct(m *core.Move) {
	if d.hasLast {
		fillUnchanged(m, &d.last, d.schema)
	}
	d.last = m.Clone()
	d.hasLast = true
}

func fillUnchanged(m, last *core.Move, s *core.MoveSchema) {
	for i := 0; i < 3; i++ {
		if m.HasNew&core.MoveInputAxis(i) == 0 {
			m.InputVector[i] = last.InputVector[i]
		}
	}
	if m.HasNew&core.MoveInputFlags == 0 {
		m.InputFlags = last.InputFlags
	}
	if s.OutVelocity && m.HasNew&core.MoveOutVelocity == 0 {
		m.Out.Velocity = last.Out.Velocity
	}
	if s.OutLocation && m.HasNew&core.MoveOutLocation == 0 {
		m.Out.Location = last.Out.Location
	}
	for i := 0; i < 3; i++ {
		if s.OutRotation.Has(i) && m.HasNew&core.MoveOutRotationAxis(i) == 0 {
			m.Out.Rotation.SetAxis(i, last.Out.Rotation.Axis(i))
		}
		if s.OutControlRotation.Has(i) && m.HasNew&core.MoveOutControlAxis(i) == 0 {
			m.Out.ControlRotation.SetAxis(i, last.Out.ControlRotation.Axis(i))
		}
	}
}

// applyNewFields 把 src 中 fields 标记的字段拷到 dst
func applyNewFields(dst, src *core.Move, fields core.MoveField) {
	for i := 0; i < 3; i++ {
		if fields&core.MoveInputAxis(i) != 0 {
			dst.InputVector[i] = src.InputVector[i]
		}
		if fields&core.MoveOutRotationAxis(i) != 0 {
			dst.Out.Rotation.SetAxis(i, src.Out.Rotation.Axis(i))
		}
		if fields&core.MoveOutControlAxis(i) != 0 {
			dst.Out.ControlRotation.SetAxis(i, src.Out.ControlRotation.Axis(i))
		}
	}
	if fields&core.MoveInputFlags != 0 {
		dst.InputFlags = src.InputFlags
	}
	if fields&core.MoveOutVelocity != 0 {
		dst.Out.Velocity = src.Out.Velocity
	}
	if fields&core.MoveOutLocation != 0 {
		dst.Out.Location = src.Out.Location
	}
}
