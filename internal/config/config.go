package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"movesync/pkg/bitpack"
)

// EnvPrefix 环境变量前缀，例如 MOVESYNC_SERVER_ADDR
const EnvPrefix = "MOVESYNC"

// InterpolationMethod 插值方法，同时是插值函数表的下标
type InterpolationMethod uint8

const (
	InterpolationNone InterpolationMethod = iota
	InterpolationLinear
	InterpolationCubic
	InterpolationCustom1
	InterpolationCustom2
	InterpolationCustom3
	InterpolationCustom4

	InterpolationMethodCount
)

var interpolationNames = [...]string{"none", "linear", "cubic", "custom1", "custom2", "custom3", "custom4"}

func (m InterpolationMethod) String() string {
	if int(m) < len(interpolationNames) {
		return interpolationNames[m]
	}
	return fmt.Sprintf("InterpolationMethod(%d)", uint8(m))
}

// ParseInterpolationMethod 解析插值方法名称
func ParseInterpolationMethod(s string) (InterpolationMethod, error) {
	for i, name := range interpolationNames {
		if strings.EqualFold(s, name) {
			return InterpolationMethod(i), nil
		}
	}
	return InterpolationLinear, fmt.Errorf("未知的插值方法: %q", s)
}

// NetworkConfig 受网络预设控制的参数
type NetworkConfig struct {
	ClientSendRate     float64 `yaml:"client_send_rate" mapstructure:"client_send_rate"`
	MoveQueueMaxSize   int     `yaml:"move_queue_max_size" mapstructure:"move_queue_max_size"`
	StateQueueMaxSize  int     `yaml:"state_queue_max_size" mapstructure:"state_queue_max_size"`
	MaxServerDeltaTime float64 `yaml:"max_server_delta_time" mapstructure:"max_server_delta_time"`
	MaxClientDeltaTime float64 `yaml:"max_client_delta_time" mapstructure:"max_client_delta_time"`
	SimulationDelay    float64 `yaml:"simulation_delay" mapstructure:"simulation_delay"`

	Interpolation        string `yaml:"interpolation" mapstructure:"interpolation"`
	ExtrapolationAllowed bool   `yaml:"extrapolation_allowed" mapstructure:"extrapolation_allowed"`
	RollbackEnabled      bool   `yaml:"rollback_enabled" mapstructure:"rollback_enabled"`

	LocationNetTolerance        float64 `yaml:"location_net_tolerance" mapstructure:"location_net_tolerance"`
	RotationNetTolerance        float64 `yaml:"rotation_net_tolerance" mapstructure:"rotation_net_tolerance"`
	ControlRotationNetTolerance float64 `yaml:"control_rotation_net_tolerance" mapstructure:"control_rotation_net_tolerance"`

	MaxVelocityError        float64 `yaml:"max_velocity_error" mapstructure:"max_velocity_error"`
	MaxLocationError        float64 `yaml:"max_location_error" mapstructure:"max_location_error"`
	MaxRotationError        float64 `yaml:"max_rotation_error" mapstructure:"max_rotation_error"`
	MaxControlRotationError float64 `yaml:"max_control_rotation_error" mapstructure:"max_control_rotation_error"`

	LocationQuantize        string `yaml:"location_quantize" mapstructure:"location_quantize"`
	VelocityQuantize        string `yaml:"velocity_quantize" mapstructure:"velocity_quantize"`
	RotationQuantize        string `yaml:"rotation_quantize" mapstructure:"rotation_quantize"`
	ControlRotationQuantize string `yaml:"control_rotation_quantize" mapstructure:"control_rotation_quantize"`
	InputQuantize           string `yaml:"input_quantize" mapstructure:"input_quantize"`
}

// InterpolationMethod 解析后的插值方法，非法值按 Linear 处理
func (n NetworkConfig) InterpolationMethod() InterpolationMethod {
	m, _ := ParseInterpolationMethod(n.Interpolation)
	return m
}

// LocationLevel 位置量化精度
func (n NetworkConfig) LocationLevel() bitpack.DecimalLevel {
	return decimalOr(n.LocationQuantize, bitpack.RoundTwoDecimals)
}

// VelocityLevel 速度量化精度
func (n NetworkConfig) VelocityLevel() bitpack.DecimalLevel {
	return decimalOr(n.VelocityQuantize, bitpack.RoundTwoDecimals)
}

// RotationLevel 旋转量化位宽
func (n NetworkConfig) RotationLevel() bitpack.SizeLevel {
	return sizeOr(n.RotationQuantize, bitpack.SizeShort)
}

// ControlRotationLevel 控制旋转量化位宽
func (n NetworkConfig) ControlRotationLevel() bitpack.SizeLevel {
	return sizeOr(n.ControlRotationQuantize, bitpack.SizeShort)
}

// InputLevel 输入轴量化位宽
func (n NetworkConfig) InputLevel() bitpack.SizeLevel {
	return sizeOr(n.InputQuantize, bitpack.SizeShort)
}

func decimalOr(s string, def bitpack.DecimalLevel) bitpack.DecimalLevel {
	if l, err := bitpack.ParseDecimalLevel(s); err == nil {
		return l
	}
	return def
}

func sizeOr(s string, def bitpack.SizeLevel) bitpack.SizeLevel {
	if l, err := bitpack.ParseSizeLevel(s); err == nil {
		return l
	}
	return def
}

// ReplicationConfig 不受预设影响的复制行为开关
type ReplicationConfig struct {
	AlwaysReplay         bool    `mapstructure:"always_replay"`
	OnlyReplayWhenMoving bool    `mapstructure:"only_replay_when_moving"`
	ReplaySpeedThreshold float64 `mapstructure:"replay_speed_threshold"`

	VerifyClientTimestamps       bool          `mapstructure:"verify_client_timestamps"`
	MaxAllowedTimestampDeviation float64       `mapstructure:"max_allowed_timestamp_deviation"`
	MaxStrikeCount               int           `mapstructure:"max_strike_count"`
	StrikeResetInterval          time.Duration `mapstructure:"strike_reset_interval"`
	FullSerializationInterval    time.Duration `mapstructure:"full_serialization_interval"`

	UseClientLocation        bool `mapstructure:"use_client_location"`
	UseClientRotation        bool `mapstructure:"use_client_rotation"`
	UseClientControlRotation bool `mapstructure:"use_client_control_rotation"`
	QuantizeControlRotation  bool `mapstructure:"quantize_control_rotation"`
	EnsureValidMoveData      bool `mapstructure:"ensure_valid_move_data"`

	ReplicateVelocity  bool `mapstructure:"replicate_velocity"`
	ReplicateInputMode bool `mapstructure:"replicate_input_mode"`

	SmoothCollisionLocation bool `mapstructure:"smooth_collision_location"`
	SmoothCollisionRotation bool `mapstructure:"smooth_collision_rotation"`
}

// ServerConfig 服务器宿主参数
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	Transport         string        `mapstructure:"transport"`
	TPS               int           `mapstructure:"tps"`
	MaxPlayers        int           `mapstructure:"max_players"`
	RelevancyRadius   float64       `mapstructure:"relevancy_radius"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ObservabilityConfig 日志与调试开关，进程启动时构造并注入各组件
type ObservabilityConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	LogMoves      bool   `mapstructure:"log_moves"`
	LogReplays    bool   `mapstructure:"log_replays"`
	LogSmoothing  bool   `mapstructure:"log_smoothing"`
	LogTimestamps bool   `mapstructure:"log_timestamps"`
}

// Config 完整配置
type Config struct {
	Preset        Preset              `mapstructure:"preset"`
	Network       NetworkConfig       `mapstructure:"network"`
	Replication   ReplicationConfig   `mapstructure:"replication"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// networkKeys 可单独覆盖的网络参数，只在 custom 预设下生效
var networkKeys = []string{
	"client_send_rate", "move_queue_max_size", "state_queue_max_size",
	"max_server_delta_time", "max_client_delta_time", "simulation_delay",
	"interpolation", "extrapolation_allowed", "rollback_enabled",
	"location_net_tolerance", "rotation_net_tolerance", "control_rotation_net_tolerance",
	"max_velocity_error", "max_location_error", "max_rotation_error", "max_control_rotation_error",
	"location_quantize", "velocity_quantize", "rotation_quantize", "control_rotation_quantize", "input_quantize",
}

func setDefaults() {
	viper.SetDefault("preset", string(PresetLAN))

	viper.SetDefault("replication.always_replay", false)
	viper.SetDefault("replication.only_replay_when_moving", false)
	viper.SetDefault("replication.replay_speed_threshold", 10.0)
	viper.SetDefault("replication.verify_client_timestamps", false)
	viper.SetDefault("replication.max_allowed_timestamp_deviation", 0.08)
	viper.SetDefault("replication.max_strike_count", 2)
	viper.SetDefault("replication.strike_reset_interval", "10s")
	viper.SetDefault("replication.full_serialization_interval", "5s")
	viper.SetDefault("replication.use_client_location", false)
	viper.SetDefault("replication.use_client_rotation", false)
	viper.SetDefault("replication.use_client_control_rotation", true)
	viper.SetDefault("replication.quantize_control_rotation", false)
	viper.SetDefault("replication.ensure_valid_move_data", true)
	viper.SetDefault("replication.replicate_velocity", true)
	viper.SetDefault("replication.replicate_input_mode", true)
	viper.SetDefault("replication.smooth_collision_location", false)
	viper.SetDefault("replication.smooth_collision_rotation", false)

	viper.SetDefault("server.addr", ":9527")
	viper.SetDefault("server.transport", "tcp")
	viper.SetDefault("server.tps", 60)
	viper.SetDefault("server.max_players", 16)
	viper.SetDefault("server.relevancy_radius", 5000.0)
	viper.SetDefault("server.session_ttl", "24h")
	viper.SetDefault("server.heartbeat_interval", "5s")

	viper.SetDefault("observability.log_level", "info")
	viper.SetDefault("observability.log_moves", false)
	viper.SetDefault("observability.log_replays", false)
	viper.SetDefault("observability.log_smoothing", false)
	viper.SetDefault("observability.log_timestamps", false)
}

// Default 不读文件与环境变量的默认配置
func Default() *Config {
	n, _ := PresetNetwork(PresetLAN)
	return &Config{
		Preset:  PresetLAN,
		Network: n,
		Replication: ReplicationConfig{
			ReplaySpeedThreshold:         10,
			MaxAllowedTimestampDeviation: 0.08,
			MaxStrikeCount:               2,
			StrikeResetInterval:          10 * time.Second,
			FullSerializationInterval:    5 * time.Second,
			UseClientControlRotation:     true,
			EnsureValidMoveData:          true,
			ReplicateVelocity:            true,
			ReplicateInputMode:           true,
		},
		Server: ServerConfig{
			Addr:              ":9527",
			Transport:         "tcp",
			TPS:               60,
			MaxPlayers:        16,
			RelevancyRadius:   5000,
			SessionTTL:        24 * time.Hour,
			HeartbeatInterval: 5 * time.Second,
		},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

// Load 读取配置：默认值 → 配置文件（path 为空时跳过）→ MOVESYNC_* 环境变量。
// 网络参数先取预设，只有 preset 为 custom 时才叠加单项覆盖。
// 返回的 warnings 是已自动修正的配置问题
func Load(path string) (*Config, []error, error) {
	setDefaults()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, k := range networkKeys {
		if err := viper.BindEnv("network." + k); err != nil {
			return nil, nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	preset, err := ParsePreset(viper.GetString("preset"))
	if err != nil {
		return nil, nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Preset = preset

	var warnings []error
	network, _ := PresetNetwork(preset)
	overridden := overriddenNetworkKeys()
	if preset == PresetCustom {
		for _, k := range overridden {
			applyNetworkOverride(&network, k)
		}
	} else if len(overridden) > 0 {
		warnings = append(warnings, fmt.Errorf("预设 %s 下忽略网络参数覆盖 %v，需要 preset: custom", preset, overridden))
	}
	cfg.Network = network

	warnings = append(warnings, cfg.Validate()...)
	return cfg, warnings, nil
}

func overriddenNetworkKeys() []string {
	var keys []string
	for _, k := range networkKeys {
		if viper.IsSet("network." + k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func applyNetworkOverride(n *NetworkConfig, key string) {
	full := "network." + key
	switch key {
	case "client_send_rate":
		n.ClientSendRate = viper.GetFloat64(full)
	case "move_queue_max_size":
		n.MoveQueueMaxSize = viper.GetInt(full)
	case "state_queue_max_size":
		n.StateQueueMaxSize = viper.GetInt(full)
	case "max_server_delta_time":
		n.MaxServerDeltaTime = viper.GetFloat64(full)
	case "max_client_delta_time":
		n.MaxClientDeltaTime = viper.GetFloat64(full)
	case "simulation_delay":
		n.SimulationDelay = viper.GetFloat64(full)
	case "interpolation":
		n.Interpolation = viper.GetString(full)
	case "extrapolation_allowed":
		n.ExtrapolationAllowed = viper.GetBool(full)
	case "rollback_enabled":
		n.RollbackEnabled = viper.GetBool(full)
	case "location_net_tolerance":
		n.LocationNetTolerance = viper.GetFloat64(full)
	case "rotation_net_tolerance":
		n.RotationNetTolerance = viper.GetFloat64(full)
	case "control_rotation_net_tolerance":
		n.ControlRotationNetTolerance = viper.GetFloat64(full)
	case "max_velocity_error":
		n.MaxVelocityError = viper.GetFloat64(full)
	case "max_location_error":
		n.MaxLocationError = viper.GetFloat64(full)
	case "max_rotation_error":
		n.MaxRotationError = viper.GetFloat64(full)
	case "max_control_rotation_error":
		n.MaxControlRotationError = viper.GetFloat64(full)
	case "location_quantize":
		n.LocationQuantize = viper.GetString(full)
	case "velocity_quantize":
		n.VelocityQuantize = viper.GetString(full)
	case "rotation_quantize":
		n.RotationQuantize = viper.GetString(full)
	case "control_rotation_quantize":
		n.ControlRotationQuantize = viper.GetString(full)
	case "input_quantize":
		n.InputQuantize = viper.GetString(full)
	}
}
