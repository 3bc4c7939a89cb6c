package ai

import "movesync/pkg/core"

// 离目的地格子中心这么近时视为到达
const arriveRadius = 8.0

func condRoams(bb *Blackboard) bool { return bb.Config.Roam }

// actPickWaypoint 没有目的地或已到达时随机选一个空地格子
func actPickWaypoint(bb *Blackboard) Status {
	if bb.Waypoint != nil {
		if cellCenter(bb.Arena, *bb.Waypoint).Sub(bb.View.Self.Location).Len() > arriveRadius {
			return StatusSuccess
		}
		bb.Waypoint = nil
	}

	points := bb.Arena.SpawnPoints()
	if len(points) == 0 || bb.RNG == nil {
		return StatusFailure
	}
	p := points[bb.RNG.Intn(len(points))]
	wp := gridOf(bb.Arena, core.Vec3{p[0], p[1], 0})
	bb.Waypoint = &wp
	return StatusSuccess
}

// actMoveToWaypoint 沿最短路径走向目的地；到下一格中心的方向作为输入
func actMoveToWaypoint(bb *Blackboard) Status {
	self := bb.View.Self.Location
	start := gridOf(bb.Arena, self)
	next, ok := nextStepToward(bb.Arena, start, *bb.Waypoint)
	if !ok {
		bb.Waypoint = nil
		return StatusFailure
	}

	dir := cellCenter(bb.Arena, next).Sub(self)
	dir[2] = 0
	if dir.Len() < 1e-6 {
		return StatusSuccess
	}
	bb.NextInput.Vector = dir.Normalize()
	return StatusRunning
}
