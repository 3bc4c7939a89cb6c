package bitpack

import (
	"fmt"
	"math"
	"strings"
)

// DecimalLevel 线性量（位置、速度）的量化精度
type DecimalLevel uint8

const (
	RoundWholeNumber DecimalLevel = iota // 取整
	RoundOneDecimal                      // 保留一位小数
	RoundTwoDecimals                     // 保留两位小数
	DecimalNone                          // 不量化，按 float32 发送
)

// SizeLevel 角度与输入轴的量化位宽
type SizeLevel uint8

const (
	SizeByte  SizeLevel = iota // 8 位
	SizeShort                  // 16 位
	SizeNone                   // 不量化，按 float32 发送
)

// 未量化的数值按精确值比较
const rawTolerance = 0

var decimalNames = map[DecimalLevel]string{
	RoundWholeNumber: "whole",
	RoundOneDecimal:  "one",
	RoundTwoDecimals: "two",
	DecimalNone:      "none",
}

var sizeNames = map[SizeLevel]string{
	SizeByte:  "byte",
	SizeShort: "short",
	SizeNone:  "none",
}

func (l DecimalLevel) String() string {
	if s, ok := decimalNames[l]; ok {
		return s
	}
	return fmt.Sprintf("DecimalLevel(%d)", uint8(l))
}

func (l SizeLevel) String() string {
	if s, ok := sizeNames[l]; ok {
		return s
	}
	return fmt.Sprintf("SizeLevel(%d)", uint8(l))
}

// ParseDecimalLevel 解析配置中的精度名称
func ParseDecimalLevel(s string) (DecimalLevel, error) {
	for l, name := range decimalNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return DecimalNone, fmt.Errorf("未知的小数精度: %q", s)
}

// ParseSizeLevel 解析配置中的位宽名称
func ParseSizeLevel(s string) (SizeLevel, error) {
	for l, name := range sizeNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return SizeNone, fmt.Errorf("未知的量化位宽: %q", s)
}

// Scale 量化倍率（None 返回 0）
func (l DecimalLevel) Scale() float64 {
	switch l {
	case RoundWholeNumber:
		return 1
	case RoundOneDecimal:
		return 10
	case RoundTwoDecimals:
		return 100
	default:
		return 0
	}
}

// Step 量化步长
func (l DecimalLevel) Step() float64 {
	if s := l.Scale(); s > 0 {
		return 1 / s
	}
	return 0
}

// Tolerance 判断"未变化"的容差：小于一个量化步长即视为相同
func (l DecimalLevel) Tolerance() float64 {
	return toleranceFor(l.Step())
}

// AngleStep 角度量化步长（度）
func (l SizeLevel) AngleStep() float64 {
	switch l {
	case SizeByte:
		return 360.0 / 256
	case SizeShort:
		return 360.0 / 65536
	default:
		return 0
	}
}

// AngleTolerance 角度比较容差
func (l SizeLevel) AngleTolerance() float64 {
	return toleranceFor(l.AngleStep())
}

// AxisScale 输入轴定点倍率：Byte 为一位小数，Short 为四位小数
func (l SizeLevel) AxisScale() float64 {
	switch l {
	case SizeByte:
		return 10
	case SizeShort:
		return 10000
	default:
		return 0
	}
}

// AxisTolerance 输入轴比较容差
func (l SizeLevel) AxisTolerance() float64 {
	if s := l.AxisScale(); s > 0 {
		return toleranceFor(1 / s)
	}
	return rawTolerance
}

func toleranceFor(step float64) float64 {
	if step <= 0 {
		return rawTolerance
	}
	return step * 0.99
}

// Invalid 返回"未提供"哨兵值
func Invalid() float64 {
	return math.NaN()
}

// IsValid 判断数值是否为有效值（非哨兵）
func IsValid(v float64) bool {
	return !math.IsNaN(v)
}

// ValidOr 哨兵值替换为 fallback
func ValidOr(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}

// QuantizeDecimal 按小数精度量化，哨兵值原样返回
func QuantizeDecimal(v float64, l DecimalLevel) float64 {
	if math.IsNaN(v) {
		return v
	}
	s := l.Scale()
	if s == 0 {
		return float64(float32(v))
	}
	return math.Round(v*s) / s
}

// QuantizeAxis 按输入轴定点精度量化，先裁剪到 [-1, 1]
func QuantizeAxis(v float64, l SizeLevel) float64 {
	if math.IsNaN(v) {
		return v
	}
	v = ClampAxis(v)
	s := l.AxisScale()
	if s == 0 {
		return float64(float32(v))
	}
	return math.Round(v*s) / s
}

// ClampAxis 把输入轴裁剪到 [-1, 1]
func ClampAxis(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// QuantizeAngle 按位宽量化角度，结果落在 [0, 360)
func QuantizeAngle(deg float64, l SizeLevel) float64 {
	if math.IsNaN(deg) {
		return deg
	}
	switch l {
	case SizeByte:
		return DecompressAngleByte(CompressAngleByte(deg))
	case SizeShort:
		return DecompressAngleShort(CompressAngleShort(deg))
	default:
		return float64(float32(deg))
	}
}

// CompressAngleByte 角度压缩为 8 位，哨兵值压成 0
func CompressAngleByte(deg float64) uint8 {
	if math.IsNaN(deg) {
		return 0
	}
	return uint8(int64(math.Round(deg*256/360)) & 0xFF)
}

// DecompressAngleByte 8 位还原为角度
func DecompressAngleByte(c uint8) float64 {
	return float64(c) * 360 / 256
}

// CompressAngleShort 角度压缩为 16 位，哨兵值压成 0
func CompressAngleShort(deg float64) uint16 {
	if math.IsNaN(deg) {
		return 0
	}
	return uint16(int64(math.Round(deg*65536/360)) & 0xFFFF)
}

// DecompressAngleShort 16 位还原为角度
func DecompressAngleShort(c uint16) float64 {
	return float64(c) * 360 / 65536
}

// AngleDelta 两个角度之间的最短差值，范围 (-180, 180]
func AngleDelta(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// Changed 数值是否超出容差（哨兵值参与比较：一侧为哨兵即视为变化）
func Changed(cur, last, tol float64) bool {
	curNaN, lastNaN := math.IsNaN(cur), math.IsNaN(last)
	if curNaN || lastNaN {
		return curNaN != lastNaN
	}
	return math.Abs(cur-last) > tol
}

// ChangedAngle 角度是否超出容差，按最短角差计算
func ChangedAngle(cur, last, tol float64) bool {
	curNaN, lastNaN := math.IsNaN(cur), math.IsNaN(last)
	if curNaN || lastNaN {
		return curNaN != lastNaN
	}
	return math.Abs(AngleDelta(cur, last)) > tol
}
