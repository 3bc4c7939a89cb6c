package core

import (
	"fmt"
	"math"
	"sort"

	"movesync/pkg/bitpack"
)

// BoundID 绑定数据的稳定键
type BoundID uint8

// BoundKind 绑定数据类型
type BoundKind uint8

const (
	BoundBool BoundKind = iota
	BoundHalfByte
	BoundByte
	BoundInt
	BoundFloat
	BoundVector
	BoundNormal
	BoundRotator
)

// MaxBindingsPerKind 每种类型最多绑定的数量
const MaxBindingsPerKind = 16

var boundKindNames = [...]string{"bool", "half_byte", "byte", "int", "float", "vector", "normal", "rotator"}

func (k BoundKind) String() string {
	if int(k) < len(boundKindNames) {
		return boundKindNames[k]
	}
	return fmt.Sprintf("BoundKind(%d)", uint8(k))
}

// BoundValue 绑定数据的值
// 标量类型使用 Scalar，向量类型使用 Vector，旋转使用 Rotator
type BoundValue struct {
	Kind    BoundKind
	Scalar  float64
	Vector  Vec3
	Rotator Rotator
}

func BoolValue(b bool) BoundValue {
	if b {
		return BoundValue{Kind: BoundBool, Scalar: 1}
	}
	return BoundValue{Kind: BoundBool}
}

func HalfByteValue(v uint8) BoundValue {
	return BoundValue{Kind: BoundHalfByte, Scalar: float64(v & 0x0F)}
}

func ByteValue(v uint8) BoundValue {
	return BoundValue{Kind: BoundByte, Scalar: float64(v)}
}

func IntValue(v int32) BoundValue {
	return BoundValue{Kind: BoundInt, Scalar: float64(v)}
}

func FloatValue(v float64) BoundValue {
	return BoundValue{Kind: BoundFloat, Scalar: v}
}

func VectorValue(v Vec3) BoundValue {
	return BoundValue{Kind: BoundVector, Vector: v}
}

func NormalValue(v Vec3) BoundValue {
	return BoundValue{Kind: BoundNormal, Vector: v}
}

func RotatorValue(r Rotator) BoundValue {
	return BoundValue{Kind: BoundRotator, Rotator: r}
}

// Bool 布尔值
func (v BoundValue) Bool() bool { return v.Scalar != 0 }

// Int 整数值
func (v BoundValue) Int() int64 { return int64(v.Scalar) }

// Float 浮点值
func (v BoundValue) Float() float64 { return v.Scalar }

// Quantize 转成线上可表示的值，收发两端据此得到相同结果
func (v BoundValue) Quantize() BoundValue {
	switch v.Kind {
	case BoundBool:
		return BoolValue(v.Bool())
	case BoundHalfByte:
		return HalfByteValue(uint8(v.Int()))
	case BoundByte:
		return ByteValue(uint8(v.Int()))
	case BoundInt:
		return IntValue(int32(v.Int()))
	case BoundFloat:
		return FloatValue(float64(float32(v.Scalar)))
	case BoundVector:
		return VectorValue(bitpack.QuantizeVector(v.Vector, bitpack.RoundTwoDecimals))
	case BoundNormal:
		return NormalValue(QuantizeInputVector(v.Vector, bitpack.SizeShort))
	case BoundRotator:
		return RotatorValue(v.Rotator.Quantize(bitpack.SizeShort))
	}
	return v
}

// Equal 在该类型的量化容差内相等
func (v BoundValue) Equal(o BoundValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case BoundFloat:
		return !bitpack.Changed(v.Scalar, o.Scalar, 1e-3)
	case BoundVector:
		return !bitpack.ChangedVector(v.Vector, o.Vector, bitpack.RoundTwoDecimals.Tolerance())
	case BoundNormal:
		return !bitpack.ChangedVector(v.Vector, o.Vector, bitpack.SizeShort.AxisTolerance())
	case BoundRotator:
		return v.Rotator.Equals(o.Rotator, bitpack.SizeShort.AngleTolerance())
	default:
		return v.Scalar == o.Scalar
	}
}

// WriteBoundValue 写入值体
func WriteBoundValue(w *bitpack.Writer, v BoundValue) {
	switch v.Kind {
	case BoundBool:
		w.WriteBool(v.Bool())
	case BoundHalfByte:
		w.WriteBits(uint64(v.Int())&0x0F, 4)
	case BoundByte:
		w.WriteBits(uint64(v.Int())&0xFF, 8)
	case BoundInt:
		w.WriteBits(uint64(uint32(int32(v.Int()))), 32)
	case BoundFloat:
		w.WriteFloat32(float32(v.Scalar))
	case BoundVector:
		bitpack.WritePackedVector(w, v.Vector, bitpack.RoundTwoDecimals)
	case BoundNormal:
		bitpack.WriteNormal(w, v.Vector)
	case BoundRotator:
		for i := 0; i < 3; i++ {
			bitpack.WriteAngle(w, v.Rotator.Axis(i), bitpack.SizeShort)
		}
	}
}

// ReadBoundValue 按类型读取值体
func ReadBoundValue(r *bitpack.Reader, kind BoundKind) BoundValue {
	switch kind {
	case BoundBool:
		return BoolValue(r.ReadBool())
	case BoundHalfByte:
		return HalfByteValue(uint8(r.ReadBits(4)))
	case BoundByte:
		return ByteValue(uint8(r.ReadBits(8)))
	case BoundInt:
		return IntValue(int32(uint32(r.ReadBits(32))))
	case BoundFloat:
		return FloatValue(float64(r.ReadFloat32()))
	case BoundVector:
		return VectorValue(bitpack.ReadPackedVector(r, bitpack.RoundTwoDecimals))
	case BoundNormal:
		return NormalValue(bitpack.ReadNormal(r))
	case BoundRotator:
		var rot Rotator
		for i := 0; i < 3; i++ {
			rot.SetAxis(i, bitpack.ReadAngle(r, bitpack.SizeShort))
		}
		return RotatorValue(rot)
	}
	return BoundValue{Kind: kind, Scalar: math.NaN()}
}

// BoundData 稀疏属性包，只保存已绑定的键
type BoundData map[BoundID]BoundValue

// Clone 深拷贝
func (d BoundData) Clone() BoundData {
	if d == nil {
		return nil
	}
	out := make(BoundData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Get 读取绑定值
func (d BoundData) Get(id BoundID) (BoundValue, bool) {
	v, ok := d[id]
	return v, ok
}

// Binding 一条绑定数据的声明
type Binding struct {
	ID                    BoundID
	Name                  string
	Kind                  BoundKind
	ReplicateToAutonomous bool
	ReplicateToSimulated  bool
}

// InputFlagBinding 一个输入标志位的声明
type InputFlagBinding struct {
	Index                uint8
	Name                 string
	ReplicateToSimulated bool
	NoMoveCombine        bool // 该标志为真时不合并移动
}

// Bindings 一个角色的绑定表，按键有序
type Bindings struct {
	data  []Binding
	flags []InputFlagBinding
}

// BindData 声明一条绑定数据
func (b *Bindings) BindData(bd Binding) error {
	count := 0
	for _, existing := range b.data {
		if existing.ID == bd.ID {
			return fmt.Errorf("绑定键重复: %d (%s)", bd.ID, existing.Name)
		}
		if existing.Kind == bd.Kind {
			count++
		}
	}
	if count >= MaxBindingsPerKind {
		return fmt.Errorf("%s 类型绑定数量超过 %d", bd.Kind, MaxBindingsPerKind)
	}
	b.data = append(b.data, bd)
	sort.Slice(b.data, func(i, j int) bool { return b.data[i].ID < b.data[j].ID })
	return nil
}

// BindInputFlag 声明一个输入标志位
func (b *Bindings) BindInputFlag(f InputFlagBinding) error {
	if f.Index >= MaxInputFlags {
		return fmt.Errorf("输入标志索引越界: %d", f.Index)
	}
	for _, existing := range b.flags {
		if existing.Index == f.Index {
			return fmt.Errorf("输入标志重复: %d (%s)", f.Index, existing.Name)
		}
	}
	b.flags = append(b.flags, f)
	sort.Slice(b.flags, func(i, j int) bool { return b.flags[i].Index < b.flags[j].Index })
	return nil
}

// Data 所有绑定数据
func (b *Bindings) Data() []Binding {
	if b == nil {
		return nil
	}
	return b.data
}

// DataFor 按观察者类别过滤
func (b *Bindings) DataFor(autonomous bool) []Binding {
	if b == nil {
		return nil
	}
	out := make([]Binding, 0, len(b.data))
	for _, bd := range b.data {
		if (autonomous && bd.ReplicateToAutonomous) || (!autonomous && bd.ReplicateToSimulated) {
			out = append(out, bd)
		}
	}
	return out
}

// InputFlags 所有输入标志声明
func (b *Bindings) InputFlags() []InputFlagBinding {
	if b == nil {
		return nil
	}
	return b.flags
}

// FlagMask 已绑定标志的位掩码
func (b *Bindings) FlagMask() uint16 {
	return b.maskWhere(func(InputFlagBinding) bool { return true })
}

// NoCombineMask 不允许合并的标志位掩码
func (b *Bindings) NoCombineMask() uint16 {
	return b.maskWhere(func(f InputFlagBinding) bool { return f.NoMoveCombine })
}

// SimulatedFlagMask 复制给模拟代理的标志位掩码
func (b *Bindings) SimulatedFlagMask() uint16 {
	return b.maskWhere(func(f InputFlagBinding) bool { return f.ReplicateToSimulated })
}

func (b *Bindings) maskWhere(pred func(InputFlagBinding) bool) uint16 {
	if b == nil {
		return 0
	}
	var m uint16
	for _, f := range b.flags {
		if pred(f) {
			m |= 1 << f.Index
		}
	}
	return m
}

// PackFlags 把 mask 中的标志按索引顺序压成连续位，返回值与位数
func PackFlags(flags, mask uint16) (uint64, int) {
	var v uint64
	n := 0
	for i := 0; i < MaxInputFlags; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		v <<= 1
		if flags&(1<<uint(i)) != 0 {
			v |= 1
		}
		n++
	}
	return v, n
}

// UnpackFlags PackFlags 的逆操作
func UnpackFlags(v uint64, mask uint16) uint16 {
	n := 0
	for i := 0; i < MaxInputFlags; i++ {
		if mask&(1<<uint(i)) != 0 {
			n++
		}
	}
	var flags uint16
	for i := 0; i < MaxInputFlags; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		n--
		if v&(1<<uint(n)) != 0 {
			flags |= 1 << uint(i)
		}
	}
	return flags
}
