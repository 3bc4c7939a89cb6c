package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "movesync/internal/replication"

// Metrics 复制层计数器。使用全局 MeterProvider，未安装时为 no-op
type Metrics struct {
	replays         metric.Int64Counter
	rejectedBatches metric.Int64Counter
	strikes         metric.Int64Counter
	discardedMoves  metric.Int64Counter
	corrections     metric.Int64Counter
	underruns       metric.Int64Counter
	skippedStates   metric.Int64Counter
}

// NewMetrics 创建计数器
func NewMetrics() (*Metrics, error) {
	m := otel.Meter(instrumentationName)
	mt := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&mt.replays, "replication.replays", "服务器纠正后客户端的重放次数"},
		{&mt.rejectedBatches, "replication.batches.rejected", "被拒绝或丢弃的移动批次"},
		{&mt.strikes, "replication.strikes", "对客户端记录的 strike 次数"},
		{&mt.discardedMoves, "replication.moves.discarded", "未入队、只在本地执行的客户端移动"},
		{&mt.corrections, "replication.corrections", "客户端结果被服务器否决的移动"},
		{&mt.underruns, "smoothing.underruns", "插值或回滚时缺少足够旧的状态"},
		{&mt.skippedStates, "smoothing.skipped_states", "从未作为插值端点使用的状态"},
	}
	for _, c := range counters {
		var err error
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("创建计数器 %s 失败: %w", c.name, err)
		}
	}
	return mt, nil
}

// MustMetrics 创建失败时退回 no-op 计数器
func MustMetrics() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		return &Metrics{}
	}
	return m
}

func add(c metric.Int64Counter, n int64, role string) {
	if c == nil || n == 0 {
		return
	}
	c.Add(context.Background(), n, metric.WithAttributes(attribute.String("role", role)))
}

// Replay 客户端重放一次
func (m *Metrics) Replay() { add(m.replays, 1, "autonomous") }
func (m *Metrics) RejectedBatch() { add(m.rejectedBatches, 1, "authority") }
func (m *Metrics) Strike() { add(m.strikes, 1, "authority") }
func (m *Metrics) DiscardedMove() { add(m.discardedMoves, 1, "autonomous") }
func (m *Metrics) Correction() { add(m.corrections, 1, "authority") }
func (m *Metrics) Underrun(role string) { add(m.underruns, 1, role) }
func (m *Metrics) SkippedStates(n int) { add(m.skippedStates, int64(n), "simulated") }
