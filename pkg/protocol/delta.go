package protocol

import (
	"sort"

	"movesync/pkg/core"
)

// ConnectionID 观察者连接的稳定句柄
type ConnectionID uint64

// ConnectionRecord 某个状态对某个连接的序列化记录
type ConnectionRecord struct {
	// Last 最近一次写入（或读到）的值，差量比较的基准
	Last core.State
	// ForceFull 下一次序列化强制所有字段携带新值
	ForceFull bool
	// LastTimestamp 最近一次发送的状态时间戳，未发送过为 -1
	LastTimestamp float64
}

// NewConnectionRecord 新记录默认强制全量
func NewConnectionRecord() *ConnectionRecord {
	return &ConnectionRecord{
		Last:          core.InvalidState(),
		ForceFull:     true,
		LastTimestamp: -1,
	}
}

// Reset 丢弃基准并强制全量
func (r *ConnectionRecord) Reset() {
	*r = *NewConnectionRecord()
}

// DeltaTracker 按连接维护序列化记录
type DeltaTracker struct {
	records map[ConnectionID]*ConnectionRecord
}

// NewDeltaTracker 创建空的跟踪器
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{records: make(map[ConnectionID]*ConnectionRecord)}
}

// SetRelevant 更新连接的相关性。
// 变为相关时创建强制全量的新记录，变为不相关时删除记录。返回相关性是否发生变化
func (t *DeltaTracker) SetRelevant(id ConnectionID, relevant bool) bool {
	_, ok := t.records[id]
	switch {
	case relevant && !ok:
		t.records[id] = NewConnectionRecord()
		return true
	case !relevant && ok:
		delete(t.records, id)
		return true
	}
	return false
}

// Record 获取连接的记录，不存在返回 nil
func (t *DeltaTracker) Record(id ConnectionID) *ConnectionRecord {
	return t.records[id]
}

// Remove 连接断开时删除记录
func (t *DeltaTracker) Remove(id ConnectionID) {
	delete(t.records, id)
}

// ForceFull 强制某个连接下一次全量
func (t *DeltaTracker) ForceFull(id ConnectionID) {
	if rec, ok := t.records[id]; ok {
		rec.ForceFull = true
	}
}

// ForceFullAll 周期全量同步：所有连接下一次全量
func (t *DeltaTracker) ForceFullAll() {
	for _, rec := range t.records {
		rec.ForceFull = true
	}
}

// Connections 当前相关的连接，按 ID 升序
func (t *DeltaTracker) Connections() []ConnectionID {
	ids := make([]ConnectionID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 记录数
func (t *DeltaTracker) Len() int {
	return len(t.records)
}
