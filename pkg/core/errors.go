package core

import "errors"

// 复制引擎的错误分类，用 errors.Is 判断
var (
	// ErrProtocolViolation 移动批次时间戳异常或数据格式错误，拒绝并记录 strike
	ErrProtocolViolation = errors.New("协议违规")

	// ErrTrustViolation 客户端上报状态超出服务器容差，本地纠正
	ErrTrustViolation = errors.New("信任违规")

	// ErrBufferUnderrun 插值或回滚找不到足够旧/新的状态，退化为最近数据
	ErrBufferUnderrun = errors.New("状态缓冲不足")

	// ErrConfiguration 配置不一致，启动时自动修正并警告
	ErrConfiguration = errors.New("配置错误")

	// ErrInvariantViolation 程序错误（重入执行、回滚正在模拟的角色等）
	ErrInvariantViolation = errors.New("不变量被破坏")
)
