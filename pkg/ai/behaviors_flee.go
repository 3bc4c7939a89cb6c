package ai

import (
	"math"

	"movesync/pkg/core"
)

// condThreatened 最近的其他角色在 AvoidRadius 内，记入 Threat
func condThreatened(bb *Blackboard) bool {
	radius := bb.Config.AvoidRadius
	if radius <= 0 {
		return false
	}
	self := bb.View.Self.Location
	best := math.Inf(1)
	for i := range bb.View.Others {
		if d := bb.View.Others[i].Sub(self).Len(); d <= radius && d < best {
			best = d
			bb.Threat = &bb.View.Others[i]
		}
	}
	return bb.Threat != nil
}

// actFlee 朝远离威胁的可走方向移动。正后方是墙时改走侧面
func actFlee(bb *Blackboard) Status {
	self := bb.View.Self.Location
	away := self.Sub(*bb.Threat)
	away[2] = 0
	if away.Len() < 1e-6 {
		away = core.Vec3{1, 0, 0}
	}
	away = away.Normalize()

	pos := gridOf(bb.Arena, self)
	bestDir, bestScore := DirNone, math.Inf(-1)
	for _, dir := range walkableDirections(bb.Arena, pos) {
		if score := directionToVector(dir).Dot(away); score > bestScore {
			bestDir, bestScore = dir, score
		}
	}
	if bestDir == DirNone {
		return StatusFailure
	}

	bb.NextInput.Vector = directionToVector(bestDir)
	bb.NextInput.Sprint = bb.Config.SprintWhenFleeing
	// 躲避打断当前路线
	bb.Waypoint = nil
	bb.WanderFrames = 0
	return StatusRunning
}
