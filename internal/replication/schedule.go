package replication

import (
	"fmt"
	"sort"
	"strings"
)

// 客户端每帧的标准阶段
const (
	StageClock      = "clock"
	StageSimulated  = "simulated"
	StageAutonomous = "autonomous"
)

// TickGraph 宿主的帧内执行顺序：节点加前置依赖边
type TickGraph struct {
	nodes map[string]func(dt float64)
	deps  map[string][]string
	order []string
}

// NewTickGraph 创建空图
func NewTickGraph() *TickGraph {
	return &TickGraph{
		nodes: make(map[string]func(dt float64)),
		deps:  make(map[string][]string),
	}
}

// Add 注册节点及其前置节点，需在 Build 之前调用
func (g *TickGraph) Add(name string, run func(dt float64), after ...string) {
	g.nodes[name] = run
	g.deps[name] = append(g.deps[name], after...)
	g.order = nil
}

// Build 计算稳定的拓扑序：同层按名称排序。存在环或缺失依赖时返回错误
func (g *TickGraph) Build() error {
	indeg := make(map[string]int, len(g.nodes))
	next := make(map[string][]string)
	for name := range g.nodes {
		indeg[name] += 0
		for _, d := range g.deps[name] {
			if _, ok := g.nodes[d]; !ok {
				return fmt.Errorf("节点 %s 依赖不存在的节点 %s", name, d)
			}
			indeg[name]++
			next[d] = append(next[d], name)
		}
	}

	var ready []string
	for name, n := range indeg {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, n := range next[cur] {
			indeg[n]--
			if indeg[n] == 0 {
				ready = append(ready, n)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var cyclic []string
		for name, n := range indeg {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return fmt.Errorf("执行顺序存在环: %s", strings.Join(cyclic, ", "))
	}
	g.order = order
	return nil
}

// Order 最近一次 Build 的结果
func (g *TickGraph) Order() []string {
	return g.order
}

// Run 按拓扑序执行一帧，未 Build 时先 Build
func (g *TickGraph) Run(dt float64) error {
	if g.order == nil {
		if err := g.Build(); err != nil {
			return err
		}
	}
	for _, name := range g.order {
		g.nodes[name](dt)
	}
	return nil
}
