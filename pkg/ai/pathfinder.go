package ai

import (
	"container/list"
	"math"

	"movesync/pkg/core"
	"movesync/pkg/kinematics"
)

// GridPos 格子坐标
type GridPos struct {
	GridX, GridY int
}

const (
	DirNone = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

var dirDeltas = [...]GridPos{
	DirUp:    {GridX: 0, GridY: -1},
	DirDown:  {GridX: 0, GridY: 1},
	DirLeft:  {GridX: -1, GridY: 0},
	DirRight: {GridX: 1, GridY: 0},
}

type stepNode struct {
	Pos  GridPos
	Prev *stepNode
}

func gridOf(arena *kinematics.Arena, loc core.Vec3) GridPos {
	return GridPos{
		GridX: int(math.Floor(loc.X() / arena.TileSize)),
		GridY: int(math.Floor(loc.Y() / arena.TileSize)),
	}
}

func cellCenter(arena *kinematics.Arena, p GridPos) core.Vec3 {
	x, y := arena.CellCenter(p.GridX, p.GridY)
	return core.Vec3{x, y, 0}
}

func isWalkable(arena *kinematics.Arena, p GridPos) bool {
	return !arena.IsWall(p.GridX, p.GridY)
}

func directionToVector(dir int) core.Vec3 {
	if dir <= DirNone || dir >= len(dirDeltas) {
		return core.Vec3{}
	}
	d := dirDeltas[dir]
	return core.Vec3{float64(d.GridX), float64(d.GridY), 0}
}

// nextStepToward 广度优先搜索 start 到 target 的下一格
func nextStepToward(arena *kinematics.Arena, start, target GridPos) (GridPos, bool) {
	if start == target {
		return start, true
	}
	queue := list.New()
	visited := map[GridPos]bool{start: true}
	queue.PushBack(&stepNode{Pos: start})

	var targetNode *stepNode
	for queue.Len() > 0 {
		n := queue.Remove(queue.Front()).(*stepNode)
		if n.Pos == target {
			targetNode = n
			break
		}
		for _, d := range dirDeltas[DirUp:] {
			npos := GridPos{GridX: n.Pos.GridX + d.GridX, GridY: n.Pos.GridY + d.GridY}
			if visited[npos] || !isWalkable(arena, npos) {
				continue
			}
			visited[npos] = true
			queue.PushBack(&stepNode{Pos: npos, Prev: n})
		}
	}

	if targetNode == nil {
		return GridPos{}, false
	}
	for targetNode.Prev != nil && targetNode.Prev.Pos != start {
		targetNode = targetNode.Prev
	}
	return targetNode.Pos, true
}

// walkableDirections 当前格子四周可走的方向
func walkableDirections(arena *kinematics.Arena, pos GridPos) []int {
	result := make([]int, 0, 4)
	for dir := DirUp; dir <= DirRight; dir++ {
		d := dirDeltas[dir]
		if isWalkable(arena, GridPos{GridX: pos.GridX + d.GridX, GridY: pos.GridY + d.GridY}) {
			result = append(result, dir)
		}
	}
	return result
}
