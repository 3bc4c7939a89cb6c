package config

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset 网络预设
type Preset string

const (
	PresetLAN         Preset = "lan"
	PresetCompetitive Preset = "competitive"
	PresetRegular     Preset = "regular"
	PresetLowEnd      Preset = "low_end"
	PresetCustom      Preset = "custom"
)

//go:embed presets.yaml
var presetsYAML []byte

var presets map[Preset]NetworkConfig

func init() {
	if err := yaml.Unmarshal(presetsYAML, &presets); err != nil {
		panic(fmt.Sprintf("内置网络预设解析失败: %v", err))
	}
}

// ParsePreset 解析预设名称，大小写不敏感
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := presets[p]; !ok {
		return "", fmt.Errorf("未知的网络预设: %q", s)
	}
	return p, nil
}

// PresetNetwork 返回预设对应的网络参数
func PresetNetwork(p Preset) (NetworkConfig, bool) {
	n, ok := presets[p]
	return n, ok
}

// Presets 所有预设名称
func Presets() []Preset {
	return []Preset{PresetLAN, PresetCompetitive, PresetRegular, PresetLowEnd, PresetCustom}
}
