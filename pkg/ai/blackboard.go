package ai

import (
	"math/rand"

	"movesync/pkg/core"
	"movesync/pkg/kinematics"
)

// View 一次思考能看到的世界
type View struct {
	Self   core.PawnState
	Others []core.Vec3
}

// Input 思考结果
type Input struct {
	Vector core.Vec3
	Sprint bool
}

type Blackboard struct {
	Arena  *kinematics.Arena
	View   View
	RNG    *rand.Rand
	Config *Config

	Threat    *core.Vec3
	Waypoint  *GridPos
	NextInput Input

	// 游荡方向
	WanderDirection int
	WanderFrames    int
}

func (bb *Blackboard) ResetFrame(view View) {
	bb.View = view
	bb.Threat = nil
	bb.NextInput = Input{}
	// Waypoint 与游荡状态跨帧保留
}
