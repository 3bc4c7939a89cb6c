// Package ai 无界面机器人的行为树大脑：游荡、走向随机目的地、躲开靠近的其他角色
package ai

import (
	"math/rand"

	"movesync/pkg/ai/bt"
	"movesync/pkg/kinematics"
)

type (
	Status = bt.Status
	node   = bt.Node[*Blackboard]
)

const (
	StatusSuccess = bt.StatusSuccess
	StatusFailure = bt.StatusFailure
	StatusRunning = bt.StatusRunning
)

type Controller struct {
	rnd    *rand.Rand
	config *Config

	thinkCounter int
	cachedInput  Input
	lastThreat   bool

	blackboard Blackboard
	tree       node
}

// NewController 创建控制器，config 为 nil 时使用 ConfigCalm
func NewController(arena *kinematics.Arena, config *Config, seed int64) *Controller {
	if config == nil {
		config = &ConfigCalm
	}
	rnd := rand.New(rand.NewSource(seed))

	// 第一帧就思考
	c := &Controller{rnd: rnd, config: config, thinkCounter: config.ThinkIntervalFrames}
	c.blackboard = Blackboard{Arena: arena, RNG: rnd, Config: config}
	c.tree = &bt.Selector[*Blackboard]{Children: []node{
		&bt.Sequence[*Blackboard]{Children: []node{
			&bt.Condition[*Blackboard]{Check: condThreatened},
			&bt.Action[*Blackboard]{Do: actFlee},
		}},
		&bt.Sequence[*Blackboard]{Children: []node{
			&bt.Condition[*Blackboard]{Check: condRoams},
			&bt.Action[*Blackboard]{Do: actPickWaypoint},
			&bt.Action[*Blackboard]{Do: actMoveToWaypoint},
		}},
		&bt.Action[*Blackboard]{Do: actWander},
	}}
	return c
}

// Decide 每帧调用一次。两次思考之间沿用上次结果，威胁出现或消失时立即重新思考
func (c *Controller) Decide(view View) Input {
	c.blackboard.ResetFrame(view)
	threatened := condThreatened(&c.blackboard)
	force := threatened != c.lastThreat
	c.lastThreat = threatened

	c.thinkCounter++
	if !force && c.thinkCounter < c.config.ThinkIntervalFrames {
		return c.cachedInput
	}
	c.thinkCounter = 0

	c.blackboard.ResetFrame(view)
	_ = c.tree.Tick(&c.blackboard)

	// 随机失误
	if c.config.MistakeRate > 0 && c.rnd.Float64() < c.config.MistakeRate {
		switch c.rnd.Intn(3) {
		case 0:
			c.blackboard.NextInput = Input{}
		case 1:
			c.blackboard.NextInput = Input{Vector: directionToVector(DirUp + c.rnd.Intn(4))}
		case 2:
			// 保持原输入
		}
	}

	c.cachedInput = c.blackboard.NextInput
	return c.cachedInput
}

// Config 当前配置
func (c *Controller) Config() *Config {
	return c.config
}

// SetConfig 设置新配置
func (c *Controller) SetConfig(config *Config) {
	if config == nil {
		return
	}
	c.config = config
	c.blackboard.Config = config
}
