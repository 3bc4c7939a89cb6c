package replication

import (
	"math"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

// timestampEpsilon 时间戳视为相等的容差
const timestampEpsilon = 1e-9

// InterpolationFunc 在 start 与 target 之间按 ratio 取值。
// ratio 大于 1 表示外推；任一端为哨兵的分量结果也是哨兵
type InterpolationFunc func(start, target *core.State, ratio float64) core.State

// nearer 不可插值的字段取时间上更近的一端
func nearer(start, target *core.State, ratio float64) *core.State {
	if ratio < 0.5 {
		return start
	}
	return target
}

func baseInterpolated(start, target *core.State, ratio float64) core.State {
	src := nearer(start, target, ratio)
	out := core.State{
		Timestamp:         start.Timestamp + (target.Timestamp-start.Timestamp)*ratio,
		InputFlags:        src.InputFlags,
		ContainsFullBatch: true,
	}
	out.InputMode = src.InputMode
	out.Bound = src.Bound.Clone()
	out.Rotation = core.SlerpRotator(start.Rotation, target.Rotation, ratio)
	out.ControlRotation = core.SlerpRotator(start.ControlRotation, target.ControlRotation, ratio)
	return out
}

// LinearInterpolation 位置与速度线性插值，旋转球面插值
func LinearInterpolation(start, target *core.State, ratio float64) core.State {
	out := baseInterpolated(start, target, ratio)
	out.Location = core.LerpVector(start.Location, target.Location, ratio)
	out.Velocity = core.LerpVector(start.Velocity, target.Velocity, ratio)
	return out
}

// CubicInterpolation 以两端速度为切线的 Hermite 插值。
// 缺少速度或时间间隔为零时退化为线性插值
func CubicInterpolation(start, target *core.State, ratio float64) core.State {
	span := target.Timestamp - start.Timestamp
	if span <= 0 || !bitpack.IsValidVector(start.Velocity) || !bitpack.IsValidVector(target.Velocity) ||
		!bitpack.IsValidVector(start.Location) || !bitpack.IsValidVector(target.Location) {
		return LinearInterpolation(start, target, ratio)
	}

	out := baseInterpolated(start, target, ratio)
	r, r2, r3 := ratio, ratio*ratio, ratio*ratio*ratio
	h00 := 2*r3 - 3*r2 + 1
	h10 := r3 - 2*r2 + r
	h01 := -2*r3 + 3*r2
	h11 := r3 - r2

	d00 := 6*r2 - 6*r
	d10 := 3*r2 - 4*r + 1
	d01 := -6*r2 + 6*r
	d11 := 3*r2 - 2*r

	p0, p1 := start.Location, target.Location
	m0, m1 := start.Velocity.Mul(span), target.Velocity.Mul(span)
	for i := 0; i < 3; i++ {
		out.Location[i] = h00*p0[i] + h10*m0[i] + h01*p1[i] + h11*m1[i]
		out.Velocity[i] = (d00*p0[i] + d10*m0[i] + d01*p1[i] + d11*m1[i]) / span
	}
	return out
}

// bracket 一次插值查找的结果，下标指向 StateView
type bracket struct {
	start, target int
	ratio         float64
	// underrun 没有足够旧的状态
	underrun bool
	// stalled 没有足够新的状态，extrapolating 表示按两端外推
	stalled       bool
	extrapolating bool
}

// findBracket 为时刻 t 找到插值区间。include 为 nil 时考虑所有状态。
// 队列为空（或过滤后为空）时返回 false
func findBracket(view StateView, t float64, extrapolate bool, include func(i int) bool) (bracket, bool) {
	idx := make([]int, 0, view.Len())
	for i := 0; i < view.Len(); i++ {
		if include == nil || include(i) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return bracket{}, false
	}
	ts := func(k int) float64 { return view.At(idx[k]).Timestamp }

	if n == 1 {
		b := bracket{start: idx[0], target: idx[0]}
		b.underrun = ts(0) > t+timestampEpsilon
		b.stalled = ts(0) < t-timestampEpsilon
		return b, true
	}

	newest := n - 1
	if ts(newest) > t+timestampEpsilon {
		for k := newest; k >= 0; k-- {
			if ts(k) > t+timestampEpsilon {
				continue
			}
			if math.Abs(ts(k)-t) <= timestampEpsilon {
				return bracket{start: idx[k], target: idx[k]}, true
			}
			return bracket{
				start:  idx[k],
				target: idx[k+1],
				ratio:  (t - ts(k)) / (ts(k+1) - ts(k)),
			}, true
		}
		return bracket{start: idx[0], target: idx[1], underrun: true}, true
	}

	if math.Abs(ts(newest)-t) <= timestampEpsilon {
		return bracket{start: idx[newest], target: idx[newest]}, true
	}
	if extrapolate {
		return bracket{
			start:         idx[newest-1],
			target:        idx[newest],
			ratio:         (t - ts(newest-1)) / (ts(newest) - ts(newest-1)),
			stalled:       true,
			extrapolating: true,
		}, true
	}
	return bracket{start: idx[newest], target: idx[newest], stalled: true}, true
}
