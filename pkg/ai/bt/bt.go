// Package bt 最小的行为树：组合节点按子节点状态决定自身状态，黑板类型由使用方指定
package bt

type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
)

// Node 行为树节点
type Node[B any] interface {
	Tick(bb B) Status
}

// Selector 依次尝试子节点，第一个不失败的子节点决定结果
type Selector[B any] struct {
	Children []Node[B]
}

func (s *Selector[B]) Tick(bb B) Status {
	for _, child := range s.Children {
		if st := child.Tick(bb); st != StatusFailure {
			return st
		}
	}
	return StatusFailure
}

// Sequence 依次执行子节点，遇到失败或运行中即返回
type Sequence[B any] struct {
	Children []Node[B]
}

func (s *Sequence[B]) Tick(bb B) Status {
	for _, child := range s.Children {
		if st := child.Tick(bb); st != StatusSuccess {
			return st
		}
	}
	return StatusSuccess
}

type Condition[B any] struct {
	Check func(bb B) bool
}

func (c *Condition[B]) Tick(bb B) Status {
	if c.Check == nil || !c.Check(bb) {
		return StatusFailure
	}
	return StatusSuccess
}

type Action[B any] struct {
	Do func(bb B) Status
}

func (a *Action[B]) Tick(bb B) Status {
	if a.Do == nil {
		return StatusFailure
	}
	return a.Do(bb)
}
