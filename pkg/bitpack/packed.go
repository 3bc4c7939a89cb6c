package bitpack

import (
	"math"
	"math/bits"

	"github.com/go-gl/mathgl/mgl64"
)

// 压缩向量每个分量的最大位数（含符号位）
const (
	wholeNumberBits = 24
	oneDecimalBits  = 27
	twoDecimalsBits = 30

	// 位数头占用 5 位，存储 n-1（n 最大 30）
	packedHeaderBits = 5
)

// MaxComponentBits 给定精度下压缩向量分量的位数上限
func MaxComponentBits(l DecimalLevel) int {
	switch l {
	case RoundWholeNumber:
		return wholeNumberBits
	case RoundOneDecimal:
		return oneDecimalBits
	case RoundTwoDecimals:
		return twoDecimalsBits
	default:
		return 32
	}
}

// QuantizeVector 按精度量化向量各分量
func QuantizeVector(v mgl64.Vec3, l DecimalLevel) mgl64.Vec3 {
	return mgl64.Vec3{QuantizeDecimal(v[0], l), QuantizeDecimal(v[1], l), QuantizeDecimal(v[2], l)}
}

// InvalidVector 三个分量都是哨兵的向量
func InvalidVector() mgl64.Vec3 {
	n := math.NaN()
	return mgl64.Vec3{n, n, n}
}

// IsValidVector 所有分量均有效
func IsValidVector(v mgl64.Vec3) bool {
	return IsValid(v[0]) && IsValid(v[1]) && IsValid(v[2])
}

// ValidVector 逐分量把哨兵替换为 fallback 的对应分量
func ValidVector(v, fallback mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{ValidOr(v[0], fallback[0]), ValidOr(v[1], fallback[1]), ValidOr(v[2], fallback[2])}
}

// ChangedVector 任一分量超出容差
func ChangedVector(cur, last mgl64.Vec3, tol float64) bool {
	return Changed(cur[0], last[0], tol) || Changed(cur[1], last[1], tol) || Changed(cur[2], last[2], tol)
}

// WritePackedVector 写入压缩向量
//
// 格式：1 位溢出标记；未溢出时 5 位分量位数 n-1，随后三个 n 位偏移整数；
// 溢出（超过该精度的位数预算）或 None 精度时写入三个 float32。
func WritePackedVector(w *Writer, v mgl64.Vec3, l DecimalLevel) {
	scale := l.Scale()
	if scale == 0 {
		writeRawVector(w, v)
		return
	}
	if !IsValidVector(v) {
		w.WriteBool(true)
		writeRawVector(w, v)
		return
	}

	var ints [3]int64
	n := 1
	for i := 0; i < 3; i++ {
		ints[i] = int64(math.Round(v[i] * scale))
		if need := bits.Len64(uint64(abs64(ints[i]))) + 1; need > n {
			n = need
		}
	}

	if n > MaxComponentBits(l) {
		w.WriteBool(true)
		writeRawVector(w, v)
		return
	}

	w.WriteBool(false)
	w.WriteBits(uint64(n-1), packedHeaderBits)
	bias := int64(1) << uint(n-1)
	for i := 0; i < 3; i++ {
		w.WriteBits(uint64(ints[i]+bias), n)
	}
}

// ReadPackedVector 读取压缩向量
func ReadPackedVector(r *Reader, l DecimalLevel) mgl64.Vec3 {
	scale := l.Scale()
	if scale == 0 {
		return readRawVector(r)
	}
	if r.ReadBool() {
		return readRawVector(r)
	}

	n := int(r.ReadBits(packedHeaderBits)) + 1
	bias := int64(1) << uint(n-1)
	var v mgl64.Vec3
	for i := 0; i < 3; i++ {
		v[i] = float64(int64(r.ReadBits(n))-bias) / scale
	}
	return v
}

func writeRawVector(w *Writer, v mgl64.Vec3) {
	for i := 0; i < 3; i++ {
		w.WriteFloat32(float32(v[i]))
	}
}

func readRawVector(r *Reader) mgl64.Vec3 {
	var v mgl64.Vec3
	for i := 0; i < 3; i++ {
		v[i] = float64(r.ReadFloat32())
	}
	return v
}

// WriteAngle 写入单个角度分量
func WriteAngle(w *Writer, deg float64, l SizeLevel) {
	switch l {
	case SizeByte:
		w.WriteBits(uint64(CompressAngleByte(deg)), 8)
	case SizeShort:
		w.WriteBits(uint64(CompressAngleShort(deg)), 16)
	default:
		w.WriteFloat32(float32(deg))
	}
}

// ReadAngle 读取单个角度分量
func ReadAngle(r *Reader, l SizeLevel) float64 {
	switch l {
	case SizeByte:
		return DecompressAngleByte(uint8(r.ReadBits(8)))
	case SizeShort:
		return DecompressAngleShort(uint16(r.ReadBits(16)))
	default:
		return float64(r.ReadFloat32())
	}
}

// WriteAxis 写入输入轴分量（定点，带偏移）
func WriteAxis(w *Writer, v float64, l SizeLevel) {
	scale := l.AxisScale()
	if scale == 0 {
		w.WriteFloat32(float32(ClampAxis(v)))
		return
	}
	width := axisBits(l)
	bias := int64(1) << uint(width-1)
	q := int64(math.Round(ClampAxis(v) * scale))
	w.WriteBits(uint64(q+bias), width)
}

// ReadAxis 读取输入轴分量
func ReadAxis(r *Reader, l SizeLevel) float64 {
	scale := l.AxisScale()
	if scale == 0 {
		return float64(r.ReadFloat32())
	}
	width := axisBits(l)
	bias := int64(1) << uint(width-1)
	q := int64(r.ReadBits(width)) - bias
	return float64(q) / scale
}

func axisBits(l SizeLevel) int {
	if l == SizeByte {
		return 8
	}
	return 16
}

// WriteNormal 写入单位向量（每个分量 16 位定点）
func WriteNormal(w *Writer, v mgl64.Vec3) {
	for i := 0; i < 3; i++ {
		WriteAxis(w, v[i], SizeShort)
	}
}

// ReadNormal 读取单位向量
func ReadNormal(r *Reader) mgl64.Vec3 {
	var v mgl64.Vec3
	for i := 0; i < 3; i++ {
		v[i] = ReadAxis(r, SizeShort)
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
