package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"movesync/pkg/bitpack"
)

// Vec3 三维向量（位置、速度、输入）
type Vec3 = mgl64.Vec3

// Rotator 欧拉角（度），分量顺序与线上格式一致：Roll、Pitch、Yaw
type Rotator struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// InvalidRotator 三个分量都是哨兵
func InvalidRotator() Rotator {
	n := math.NaN()
	return Rotator{Roll: n, Pitch: n, Yaw: n}
}

// IsValid 所有分量有效
func (r Rotator) IsValid() bool {
	return bitpack.IsValid(r.Roll) && bitpack.IsValid(r.Pitch) && bitpack.IsValid(r.Yaw)
}

// Axis 按线上顺序取分量：0 Roll，1 Pitch，2 Yaw
func (r Rotator) Axis(i int) float64 {
	switch i {
	case 0:
		return r.Roll
	case 1:
		return r.Pitch
	default:
		return r.Yaw
	}
}

// SetAxis 按线上顺序设置分量
func (r *Rotator) SetAxis(i int, v float64) {
	switch i {
	case 0:
		r.Roll = v
	case 1:
		r.Pitch = v
	default:
		r.Yaw = v
	}
}

// Valid 逐分量用 fallback 替换哨兵
func (r Rotator) Valid(fallback Rotator) Rotator {
	return Rotator{
		Roll:  bitpack.ValidOr(r.Roll, fallback.Roll),
		Pitch: bitpack.ValidOr(r.Pitch, fallback.Pitch),
		Yaw:   bitpack.ValidOr(r.Yaw, fallback.Yaw),
	}
}

// Quantize 逐分量按位宽量化
func (r Rotator) Quantize(l bitpack.SizeLevel) Rotator {
	return Rotator{
		Roll:  bitpack.QuantizeAngle(r.Roll, l),
		Pitch: bitpack.QuantizeAngle(r.Pitch, l),
		Yaw:   bitpack.QuantizeAngle(r.Yaw, l),
	}
}

// Normalize 各分量归一到 (-180, 180]
func (r Rotator) Normalize() Rotator {
	return Rotator{Roll: normalizeAxis(r.Roll), Pitch: normalizeAxis(r.Pitch), Yaw: normalizeAxis(r.Yaw)}
}

// Equals 逐分量在容差内相等（按最短角差）
func (r Rotator) Equals(o Rotator, tol float64) bool {
	for i := 0; i < 3; i++ {
		if bitpack.ChangedAngle(r.Axis(i), o.Axis(i), tol) {
			return false
		}
	}
	return true
}

// Quat 转为四元数，旋转顺序 Yaw(Z) → Pitch(Y) → Roll(X)
func (r Rotator) Quat() mgl64.Quat {
	yaw := mgl64.QuatRotate(mgl64.DegToRad(r.Yaw), mgl64.Vec3{0, 0, 1})
	pitch := mgl64.QuatRotate(mgl64.DegToRad(r.Pitch), mgl64.Vec3{0, 1, 0})
	roll := mgl64.QuatRotate(mgl64.DegToRad(r.Roll), mgl64.Vec3{1, 0, 0})
	return yaw.Mul(pitch).Mul(roll)
}

// RotatorFromQuat 四元数转欧拉角，与 Quat 互逆
func RotatorFromQuat(q mgl64.Quat) Rotator {
	q = q.Normalize()
	w, x, y, z := q.W, q.V[0], q.V[1], q.V[2]

	sinPitch := 2 * (w*y - z*x)
	sinPitch = math.Max(-1, math.Min(1, sinPitch))

	return Rotator{
		Roll:  mgl64.RadToDeg(math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))),
		Pitch: mgl64.RadToDeg(math.Asin(sinPitch)),
		Yaw:   mgl64.RadToDeg(math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))),
	}
}

// SlerpRotator 球面插值，ratio 可大于 1（外推）
func SlerpRotator(a, b Rotator, ratio float64) Rotator {
	if !a.IsValid() || !b.IsValid() {
		return InvalidRotator()
	}
	qa, qb := a.Quat(), b.Quat()
	// 取最短路径
	if qa.Dot(qb) < 0 {
		qb = qb.Scale(-1)
	}
	return RotatorFromQuat(mgl64.QuatSlerp(qa, qb, ratio))
}

// LerpVector 线性插值，任一端无效则结果无效
func LerpVector(a, b Vec3, ratio float64) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = a[i] + (b[i]-a[i])*ratio
	}
	return out
}

func normalizeAxis(deg float64) float64 {
	if math.IsNaN(deg) {
		return deg
	}
	d := math.Mod(deg, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
