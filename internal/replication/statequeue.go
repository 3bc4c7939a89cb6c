package replication

import (
	"movesync/pkg/core"
	"movesync/pkg/protocol"
)

// StateView 状态队列的只读视图，下标 0 为最旧
type StateView interface {
	Len() int
	At(i int) core.State
	// ReplicatedTo 第 i 个状态是否已发给该连接
	ReplicatedTo(i int, conn protocol.ConnectionID) bool
}

type queuedState struct {
	state core.State
	sent  map[protocol.ConnectionID]struct{}
}

// StateQueue 按时间戳严格递增的环形缓冲，满时覆盖最旧的状态
type StateQueue struct {
	buf  []queuedState
	head int
	size int
}

// NewStateQueue capacity 至少为 2
func NewStateQueue(capacity int) *StateQueue {
	if capacity < 2 {
		capacity = 2
	}
	return &StateQueue{buf: make([]queuedState, capacity)}
}

func (q *StateQueue) index(i int) int {
	return (q.head + i) % len(q.buf)
}

// Len 当前状态数
func (q *StateQueue) Len() int { return q.size }

// Cap 容量
func (q *StateQueue) Cap() int { return len(q.buf) }

// At 第 i 个状态（0 最旧）。返回值的绑定数据与队列共享，只读
func (q *StateQueue) At(i int) core.State {
	return q.buf[q.index(i)].state
}

// Newest 最新状态
func (q *StateQueue) Newest() (core.State, bool) {
	if q.size == 0 {
		return core.InvalidState(), false
	}
	return q.At(q.size - 1), true
}

// Push 追加状态。时间戳不大于最新状态的视为乱序或重复，丢弃并返回 false
func (q *StateQueue) Push(s core.State) bool {
	if !s.IsValid() {
		return false
	}
	if newest, ok := q.Newest(); ok && s.Timestamp <= newest.Timestamp {
		return false
	}
	entry := queuedState{state: s.Clone()}
	if q.size == len(q.buf) {
		q.buf[q.head] = entry
		q.head = (q.head + 1) % len(q.buf)
		return true
	}
	q.buf[q.index(q.size)] = entry
	q.size++
	return true
}

// MarkReplicated 标记时间戳为 ts 的状态已发给 conn
func (q *StateQueue) MarkReplicated(ts float64, conn protocol.ConnectionID) bool {
	for i := q.size - 1; i >= 0; i-- {
		e := &q.buf[q.index(i)]
		if e.state.Timestamp == ts {
			if e.sent == nil {
				e.sent = make(map[protocol.ConnectionID]struct{})
			}
			e.sent[conn] = struct{}{}
			return true
		}
		if e.state.Timestamp < ts {
			break
		}
	}
	return false
}

// ReplicatedTo 实现 StateView
func (q *StateQueue) ReplicatedTo(i int, conn protocol.ConnectionID) bool {
	_, ok := q.buf[q.index(i)].sent[conn]
	return ok
}

// ForgetConnection 连接断开后清除标记
func (q *StateQueue) ForgetConnection(conn protocol.ConnectionID) {
	for i := 0; i < q.size; i++ {
		delete(q.buf[q.index(i)].sent, conn)
	}
}

// Clear 清空
func (q *StateQueue) Clear() {
	for i := range q.buf {
		q.buf[i] = queuedState{}
	}
	q.head, q.size = 0, 0
}
