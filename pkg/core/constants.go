package core

// ===== 运动复制常量 =====
const (
	// 最小步长，低于此值的移动不执行
	MinDeltaTime = 1e-6

	// 输入轴绝对值上限
	MaxInput = 1.0

	// 单次移动最多拆分的子步数
	MaxIterations = 10

	// 子步最大时长（秒）
	MaxTimeStep = 0.033334
)
