// Command ctxwin 管理编码助手的上下文窗口
//
// 子命令:
//
//	serve     加载工作区、监听文件变化并提供 HTTP 接口
//	chat      在终端中与模型对话，引用 @path 的文件自动进入上下文
//	assemble  组装一轮上下文并输出结果
//	snapshot  管理会话快照
//	diff      比较两个文件并给出编辑策略
//	estimate  估算文件的 token 成本
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/snapshot"
)

var version = "0.1.0-dev"

// app 子命令共享的运行时依赖
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	overrides  []string

	cfg      *config.Config
	provider *otel.Provider
	logger   otel.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "ctxwin",
		Short:         "Pointer-based context window manager for coding assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text, json")
	rootCmd.PersistentFlags().StringArrayVar(&a.overrides, "set", nil, "override a config key, e.g. --set window.max_tokens=32000")

	rootCmd.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newAssembleCmd(a),
		newSnapshotCmd(a),
		newDiffCmd(),
		newEstimateCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化可观测性
func (a *app) setup() error {
	overrides := a.overrides
	if a.logLevel != "" {
		overrides = append(overrides, "observability.log_level="+a.logLevel)
	}
	if a.logFormat != "" {
		overrides = append(overrides, "observability.log_format="+a.logFormat)
	}
	cfg, err := config.Load(a.configPath, overrides...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, err := otel.NewProvider(otel.FromObservabilityConfig(cfg.Observability))
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	a.cfg = cfg
	a.provider = p
	a.logger = p.Logger()
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.provider == nil {
		return nil
	}
	return a.provider.Shutdown(ctx)
}

// newManager 按配置创建上下文管理器
func (a *app) newManager() (*ctxwin.Manager, error) {
	return ctxwin.NewManager(
		ctxwin.WithConfig(ctxwin.FromWindowConfig(a.cfg.Window)),
		ctxwin.WithLogger(a.logger),
		ctxwin.WithTracer(a.provider.Tracer()),
		ctxwin.WithMetrics(a.provider.Metrics()),
	)
}

// openSnapshots 按配置打开快照存储
func (a *app) openSnapshots() (snapshot.Store, error) {
	return snapshot.NewStore(snapshot.FromSnapshotConfig(a.cfg.Snapshot))
}
