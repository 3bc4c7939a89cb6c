// bot 运行无界面客户端，用于压测与观察复制效果。
//
// 用法:
//
//	bot --addr 127.0.0.1:9527 --count 8 --duration 1m
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"movesync/internal/client"
	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/ai"
)

var (
	flagConfig   string
	flagName     string
	flagCount    int
	flagFPS      int
	flagRetries  int
	flagDuration time.Duration
	flagBrain    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "bot",
	Short:        "movesync 无界面客户端",
	Long:         `启动若干个绕圈行走的机器人，每个机器人都完整运行客户端预测、重放与平滑。`,
	SilenceUsage: true,
	RunE:         runBots,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagConfig, "config", "c", "", "配置文件路径")
	f.String("addr", "127.0.0.1:9527", "服务器地址")
	f.String("transport", "tcp", "传输协议 (tcp, kcp, ws)")
	f.String("preset", "lan", "网络预设，需与服务器一致")
	f.String("log-level", "info", "日志级别")
	f.StringVar(&flagName, "name", "bot", "名称前缀")
	f.IntVarP(&flagCount, "count", "n", 1, "机器人数量")
	f.IntVar(&flagFPS, "fps", 60, "每秒帧数")
	f.IntVar(&flagRetries, "retries", 3, "断线重连次数")
	f.DurationVar(&flagDuration, "duration", 0, "运行时长，0 表示直到 Ctrl+C")
	f.StringVar(&flagBrain, "brain", "", "行为树大脑 (calm, restless)，为空时绕圈行走")

	for key, flag := range map[string]string{
		"server.addr":             "addr",
		"server.transport":        "transport",
		"preset":                  "preset",
		"observability.log_level": "log-level",
	} {
		if err := viper.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func runBots(_ *cobra.Command, _ []string) error {
	cfg, warnings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	brain, err := brainConfig(flagBrain)
	if err != nil {
		return err
	}
	root := telemetry.New(cfg.Observability, "bot")
	for _, w := range warnings {
		root.Log.Warn("配置已自动修正", "err", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if flagDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	var wg sync.WaitGroup
	errs := make([]error, flagCount)
	for i := 0; i < flagCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("%s-%d", flagName, i+1)
			errs[i] = client.RunBot(ctx, cfg, root.With("bot", name), client.BotOptions{
				Addr:      cfg.Server.Addr,
				Transport: cfg.Server.Transport,
				Name:      name,
				FPS:       flagFPS,
				Retries:   flagRetries,
				Brain:     brain,
				Seed:      time.Now().UnixNano() + int64(i),
				Script:    client.Wander(4, float64(i)*0.5),
			})
		}(i)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			root.Log.Error("机器人退出", "bot", i+1, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d 个机器人异常退出", failed, flagCount)
	}
	return nil
}

func brainConfig(name string) (*ai.Config, error) {
	switch name {
	case "":
		return nil, nil
	case "calm":
		return &ai.ConfigCalm, nil
	case "restless":
		return &ai.ConfigRestless, nil
	default:
		return nil, fmt.Errorf("未知的大脑类型: %s", name)
	}
}
