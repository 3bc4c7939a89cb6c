package ai

// Config 机器人的行为参数
type Config struct {
	// ThinkIntervalFrames 思考间隔（帧），两次思考之间沿用上次的输入
	ThinkIntervalFrames int

	// MistakeRate 随机失误率 (0.0-1.0)
	MistakeRate float64

	// AvoidRadius 其他角色进入此距离时躲开，0 表示不躲
	AvoidRadius float64

	// Roam 是否选远处的格子作为目的地，否则只在附近游荡
	Roam bool

	// SprintWhenFleeing 躲避时是否冲刺
	SprintWhenFleeing bool
}

// 预设配置：悠闲，走向随机目的地，偶尔犯错
var ConfigCalm = Config{
	ThinkIntervalFrames: 12,
	MistakeRate:         0.05,
	AvoidRadius:         96,
	Roam:                true,
}

// 预设配置：躁动，频繁换向并冲刺躲开其他角色
var ConfigRestless = Config{
	ThinkIntervalFrames: 4,
	MistakeRate:         0,
	AvoidRadius:         192,
	SprintWhenFleeing:   true,
}
