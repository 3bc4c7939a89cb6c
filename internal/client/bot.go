package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"movesync/internal/config"
	"movesync/internal/replication"
	"movesync/internal/telemetry"
	"movesync/pkg/ai"
	"movesync/pkg/core"
	"movesync/pkg/kinematics"
)

// InputScript 根据会话已运行的时间（秒）给出本帧输入
type InputScript func(t float64) replication.Input

// Wander 绕圈行走，每隔 period 秒冲刺一段时间，phase 让多个机器人错开
func Wander(period, phase float64) InputScript {
	return func(t float64) replication.Input {
		angle := (t + phase) * 2 * math.Pi / period
		in := replication.Input{
			Vector:          core.Vec3{math.Cos(angle), math.Sin(angle), 0},
			ControlRotation: core.InvalidRotator(),
		}
		if math.Mod(t+phase, period) < period/4 {
			in.Flags |= 1 << kinematics.FlagSprint
		}
		return in
	}
}

// BotOptions 无界面客户端的参数
type BotOptions struct {
	Addr      string
	Transport string
	Name      string
	FPS       int
	// Retries 断线后最多重连几次
	Retries int
	// Brain 不为 nil 时由行为树根据看到的角色决定输入，否则按 Script
	Brain  *ai.Config
	Seed   int64
	Script InputScript
}

// brainInput 把会话看到的世界交给行为树
func brainInput(c *ai.Controller, s *Session) replication.Input {
	view := ai.View{Self: s.PawnState()}
	for _, id := range s.RemoteIDs() {
		if st, ok := s.Remote(id); ok {
			view.Others = append(view.Others, st.Location)
		}
	}
	out := c.Decide(view)
	in := replication.Input{Vector: out.Vector, ControlRotation: core.InvalidRotator()}
	if out.Sprint {
		in.Flags |= 1 << kinematics.FlagSprint
	}
	return in
}

// RunBot 连接服务器并按脚本驱动本地角色，直到 ctx 结束。断线时用会话 token 重连
func RunBot(ctx context.Context, cfg *config.Config, obs *telemetry.Observability, opts BotOptions) error {
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	if opts.Script == nil {
		opts.Script = Wander(4, 0)
	}

	nc := NewNetworkClient(opts.Addr, opts.Transport, obs.Log)
	welcome, err := nc.Connect(ctx, opts.Name)
	if err != nil {
		return err
	}
	defer func() { nc.Close() }()

	session, err := NewSession(cfg, obs, nc, welcome)
	if err != nil {
		return err
	}
	var brain *ai.Controller
	if opts.Brain != nil {
		brain = ai.NewController(kinematics.DefaultArena(), opts.Brain, opts.Seed)
	}

	dt := 1 / float64(opts.FPS)
	ticker := time.NewTicker(time.Second / time.Duration(opts.FPS))
	defer ticker.Stop()

	elapsed := 0.0
	retries := 0
	for {
		select {
		case <-ctx.Done():
			obs.Log.Info("机器人停止", "actor", session.ID(), "loc", session.PawnState().Location)
			return nil

		case err := <-nc.Err():
			obs.Log.Warn("连接中断，尝试重连", "err", err, "retry", retries+1)
			if retries >= opts.Retries {
				return fmt.Errorf("连接中断: %w", err)
			}
			retries++
			token := nc.Welcome().Token
			nc.Close()

			nc = NewNetworkClient(opts.Addr, opts.Transport, obs.Log)
			welcome, err := nc.Resume(ctx, token)
			if err != nil {
				return fmt.Errorf("重连失败: %w", err)
			}
			if err := session.Resume(nc, welcome); err != nil {
				return err
			}

		case <-ticker.C:
			elapsed += dt
			in := opts.Script(elapsed)
			if brain != nil {
				in = brainInput(brain, session)
			}
			if err := session.Tick(dt, in); err != nil {
				obs.Log.Debug("帧处理出错", "err", err)
			}
		}
	}
}
