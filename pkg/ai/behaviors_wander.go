package ai

import "movesync/pkg/kinematics"

// 游荡方向持续的思考次数
const wanderDirectionThinks = 6

func actWander(bb *Blackboard) Status {
	if bb.RNG == nil {
		return StatusFailure
	}
	pos := gridOf(bb.Arena, bb.View.Self.Location)

	// 当前方向仍然可行且未超时，继续保持
	if bb.WanderFrames > 0 && bb.WanderDirection != DirNone {
		bb.WanderFrames--
		if canWanderInDirection(bb.Arena, pos, bb.WanderDirection) {
			bb.NextInput.Vector = directionToVector(bb.WanderDirection)
			return StatusRunning
		}
		bb.WanderDirection = DirNone
		bb.WanderFrames = 0
	}

	walkable := walkableDirections(bb.Arena, pos)
	if len(walkable) == 0 {
		// 完全被困，不动
		return StatusRunning
	}
	bb.WanderDirection = walkable[bb.RNG.Intn(len(walkable))]
	bb.WanderFrames = wanderDirectionThinks
	bb.NextInput.Vector = directionToVector(bb.WanderDirection)
	return StatusRunning
}

func canWanderInDirection(arena *kinematics.Arena, pos GridPos, dir int) bool {
	if dir <= DirNone || dir >= len(dirDeltas) {
		return false
	}
	d := dirDeltas[dir]
	return isWalkable(arena, GridPos{GridX: pos.GridX + d.GridX, GridY: pos.GridY + d.GridY})
}
