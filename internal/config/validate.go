package config

import (
	"fmt"
	"math"
	"strings"

	"movesync/pkg/bitpack"
	"movesync/pkg/core"
)

const (
	minQueueSize     = 2
	maxMoveQueueSize = 255
)

// Validate 检查并就地修正配置，返回的每条警告都包装 core.ErrConfiguration
func (c *Config) Validate() []error {
	var warnings []error
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Errorf("%w: "+format, append([]any{core.ErrConfiguration}, args...)...))
	}

	n := &c.Network
	def, _ := PresetNetwork(PresetCustom)

	if _, err := ParseInterpolationMethod(n.Interpolation); err != nil {
		warn("%v，改用 linear", err)
		n.Interpolation = InterpolationLinear.String()
	}
	checkDecimal := func(name string, v *string) {
		if _, err := bitpack.ParseDecimalLevel(*v); err != nil {
			warn("%s: %v，改用 two", name, err)
			*v = bitpack.RoundTwoDecimals.String()
		}
	}
	checkSize := func(name string, v *string) {
		if _, err := bitpack.ParseSizeLevel(*v); err != nil {
			warn("%s: %v，改用 short", name, err)
			*v = bitpack.SizeShort.String()
		}
	}
	checkDecimal("location_quantize", &n.LocationQuantize)
	checkDecimal("velocity_quantize", &n.VelocityQuantize)
	checkSize("rotation_quantize", &n.RotationQuantize)
	checkSize("control_rotation_quantize", &n.ControlRotationQuantize)
	checkSize("input_quantize", &n.InputQuantize)

	if n.MaxServerDeltaTime <= 0 {
		warn("max_server_delta_time 必须为正 (%g)，改用 %g", n.MaxServerDeltaTime, def.MaxServerDeltaTime)
		n.MaxServerDeltaTime = def.MaxServerDeltaTime
	}
	if n.MaxClientDeltaTime <= 0 {
		warn("max_client_delta_time 必须为正 (%g)，改用 %g", n.MaxClientDeltaTime, def.MaxClientDeltaTime)
		n.MaxClientDeltaTime = def.MaxClientDeltaTime
	}
	if n.MaxClientDeltaTime > n.MaxServerDeltaTime {
		warn("max_client_delta_time (%g) 大于 max_server_delta_time (%g)，已截断", n.MaxClientDeltaTime, n.MaxServerDeltaTime)
		n.MaxClientDeltaTime = n.MaxServerDeltaTime
	}

	if n.ClientSendRate <= 0 {
		warn("client_send_rate 必须为正 (%g)，改用 %g", n.ClientSendRate, def.ClientSendRate)
		n.ClientSendRate = def.ClientSendRate
	}
	// 发送间隔不得超过服务器允许的最大步长
	if 1/n.ClientSendRate > n.MaxServerDeltaTime {
		rate := math.Ceil(1 / n.MaxServerDeltaTime)
		warn("发送间隔 %gs 超过 max_server_delta_time %gs，client_send_rate 提高到 %g",
			1/n.ClientSendRate, n.MaxServerDeltaTime, rate)
		n.ClientSendRate = rate
	}

	if n.MoveQueueMaxSize < minQueueSize {
		warn("move_queue_max_size 过小 (%d)，改为 %d", n.MoveQueueMaxSize, minQueueSize)
		n.MoveQueueMaxSize = minQueueSize
	}
	if n.MoveQueueMaxSize > maxMoveQueueSize {
		warn("move_queue_max_size 过大 (%d)，改为 %d", n.MoveQueueMaxSize, maxMoveQueueSize)
		n.MoveQueueMaxSize = maxMoveQueueSize
	}
	if n.StateQueueMaxSize < minQueueSize {
		warn("state_queue_max_size 过小 (%d)，改为 %d", n.StateQueueMaxSize, minQueueSize)
		n.StateQueueMaxSize = minQueueSize
	}
	if n.SimulationDelay < 0 {
		warn("simulation_delay 不能为负 (%g)，改为 0", n.SimulationDelay)
		n.SimulationDelay = 0
	}

	// 容差不得小于量化步长
	if step := n.LocationLevel().Step(); n.MaxLocationError < step {
		warn("max_location_error (%g) 小于位置量化步长 %g，已提高", n.MaxLocationError, step)
		n.MaxLocationError = step
	}
	if step := n.VelocityLevel().Step(); n.MaxVelocityError < step {
		warn("max_velocity_error (%g) 小于速度量化步长 %g，已提高", n.MaxVelocityError, step)
		n.MaxVelocityError = step
	}
	if step := n.RotationLevel().AngleStep(); n.MaxRotationError < step {
		warn("max_rotation_error (%g) 小于旋转量化步长 %g，已提高", n.MaxRotationError, step)
		n.MaxRotationError = step
	}
	if step := n.ControlRotationLevel().AngleStep(); n.MaxControlRotationError < step {
		warn("max_control_rotation_error (%g) 小于控制旋转量化步长 %g，已提高", n.MaxControlRotationError, step)
		n.MaxControlRotationError = step
	}

	r := &c.Replication
	if r.MaxStrikeCount < 0 {
		warn("max_strike_count 不能为负 (%d)，改为 0", r.MaxStrikeCount)
		r.MaxStrikeCount = 0
	}
	if r.MaxAllowedTimestampDeviation <= 0 {
		warn("max_allowed_timestamp_deviation 必须为正，改为 0.08")
		r.MaxAllowedTimestampDeviation = 0.08
	}
	if r.FullSerializationInterval < 0 {
		warn("full_serialization_interval 不能为负，已关闭")
		r.FullSerializationInterval = 0
	}

	s := &c.Server
	switch strings.ToLower(s.Transport) {
	case "tcp", "kcp", "ws":
		s.Transport = strings.ToLower(s.Transport)
	default:
		warn("未知的传输方式 %q，改用 tcp", s.Transport)
		s.Transport = "tcp"
	}
	if s.TPS <= 0 {
		warn("tps 必须为正 (%d)，改为 60", s.TPS)
		s.TPS = 60
	}
	if s.MaxPlayers <= 0 {
		warn("max_players 必须为正 (%d)，改为 16", s.MaxPlayers)
		s.MaxPlayers = 16
	}

	return warnings
}
