// server 运行复制服务器。
//
// 用法:
//
//	server --config movesync.yaml
//	server --addr :9527 --transport kcp --preset competitive
//
// 所有参数也可以通过 MOVESYNC_* 环境变量设置，例如 MOVESYNC_SERVER_ADDR。
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"movesync/internal/config"
	"movesync/internal/server"
	"movesync/internal/telemetry"
)

var flagConfig string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "movesync 复制服务器",
	Long: `运行权威服务器：接受客户端连接，执行客户端移动，
把自主代理与模拟代理状态复制给各个连接。

网络参数取自预设 (lan, competitive, regular, low_end, custom)，
只有 custom 预设才允许单独覆盖网络参数。`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagConfig, "config", "c", "", "配置文件路径")
	f.String("addr", ":9527", "监听地址")
	f.String("transport", "tcp", "传输协议 (tcp, kcp, ws)")
	f.String("preset", "lan", "网络预设")
	f.Int("tps", 60, "服务器每秒 tick 次数")
	f.Int("max-players", 16, "最大玩家数")
	f.String("log-level", "info", "日志级别")

	for key, flag := range map[string]string{
		"server.addr":             "addr",
		"server.transport":        "transport",
		"preset":                  "preset",
		"server.tps":              "tps",
		"server.max_players":      "max-players",
		"observability.log_level": "log-level",
	} {
		if err := viper.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, warnings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	obs := telemetry.New(cfg.Observability, "server")
	for _, w := range warnings {
		obs.Log.Warn("配置已自动修正", "err", w)
	}

	gameServer := server.NewGameServer(cfg, obs)
	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()

	obs.Log.Info("服务器正在运行，按 Ctrl+C 停止",
		"addr", cfg.Server.Addr,
		"transport", cfg.Server.Transport,
		"preset", cfg.Preset,
		"tps", cfg.Server.TPS,
		"max_players", cfg.Server.MaxPlayers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
	}

	gameServer.Shutdown()
	obs.Log.Info("服务器已关闭，再见！")
	return nil
}
