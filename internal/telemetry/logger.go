package telemetry

import (
	"io"
	"os"

	"github.com/charmbracelet/log"

	"movesync/internal/config"
)

// NewLogger 创建带时间戳的结构化日志器，非法级别按 info 处理
func NewLogger(level, prefix string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           lvl,
	})
}

// Observability 注入到各组件的日志器与详细日志开关
type Observability struct {
	Log *log.Logger
	cfg config.ObservabilityConfig
}

// New 按配置构造
func New(cfg config.ObservabilityConfig, prefix string) *Observability {
	return &Observability{Log: NewLogger(cfg.LogLevel, prefix), cfg: cfg}
}

// Discard 丢弃所有输出，测试用
func Discard() *Observability {
	return &Observability{Log: log.New(io.Discard)}
}

// With 派生带固定字段的子实例，开关共享
func (o *Observability) With(keyvals ...any) *Observability {
	return &Observability{Log: o.Log.With(keyvals...), cfg: o.cfg}
}

// Moves 是否记录每条移动
func (o *Observability) Moves() bool { return o.cfg.LogMoves }

// Replays 是否记录重放
func (o *Observability) Replays() bool { return o.cfg.LogReplays }

// Smoothing 是否记录平滑
func (o *Observability) Smoothing() bool { return o.cfg.LogSmoothing }

// Timestamps 是否记录时间戳校验
func (o *Observability) Timestamps() bool { return o.cfg.LogTimestamps }
