package core

import (
	"fmt"
	"strings"

	"movesync/pkg/bitpack"
)

// InputMode 输入向量的参照系
type InputMode uint8

const (
	InputModeNone        InputMode = iota // 忽略输入
	InputModeAllRelative                  // 三轴都相对控制朝向
	InputModeAbsoluteZ                    // X/Y 相对控制朝向的 Yaw，Z 为世界坐标
	InputModeAllAbsolute                  // 世界坐标
)

// 线上占用位数
const InputModeBits = 2

// MaxInputFlags 可绑定的输入标志位上限
const MaxInputFlags = 16

var inputModeNames = [...]string{"none", "all_relative", "absolute_z", "all_absolute"}

func (m InputMode) String() string {
	if int(m) < len(inputModeNames) {
		return inputModeNames[m]
	}
	return fmt.Sprintf("InputMode(%d)", uint8(m))
}

// ParseInputMode 解析配置中的输入模式
func ParseInputMode(s string) (InputMode, error) {
	for i, name := range inputModeNames {
		if strings.EqualFold(s, name) {
			return InputMode(i), nil
		}
	}
	return InputModeNone, fmt.Errorf("未知的输入模式: %q", s)
}

// ClampInputVector 每个轴裁剪到 [-1, 1]
func ClampInputVector(v Vec3) Vec3 {
	return Vec3{bitpack.ClampAxis(v[0]), bitpack.ClampAxis(v[1]), bitpack.ClampAxis(v[2])}
}

// QuantizeInputVector 裁剪并按输入轴精度量化
func QuantizeInputVector(v Vec3, l bitpack.SizeLevel) Vec3 {
	return Vec3{bitpack.QuantizeAxis(v[0], l), bitpack.QuantizeAxis(v[1], l), bitpack.QuantizeAxis(v[2], l)}
}
