package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"PNCT-Query/internal/app"
	"PNCT-Query/internal/config"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/internal/workflow"
	"PNCT-Query/pkg/logger"
)

// rootOptions 保存所有子命令共享的参数。
type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pnctd",
		Short: "集装箱状态查询服务",
		Long:  "pnctd 接收自然语言问题，识别集装箱号，通过 Temporal 工作流调用码头数据源并生成答复。",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(opts.configPath))
			if err != nil {
				return err
			}
			if err := app.InitLogging(cfg.Logging); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，默认读取 $PNCT_CONFIG 或 configs/pnct.yaml")

	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAskCommand(opts))
	return cmd
}

// bootstrap 装配组件并连接 Temporal，withWorker 为 true 时在本进程启动 worker。
func bootstrap(ctx context.Context, cfg *config.Config, withWorker bool) (*app.App, *workflow.Engine, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := workflow.Dial(ctx, app.EngineConfig(cfg))
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	if withWorker {
		if err := engine.StartWorker(a.Invoker, a.Activities); err != nil {
			_ = engine.Close()
			_ = a.Close()
			return nil, nil, err
		}
	}
	return a, engine, nil
}

// serveMetrics 在独立地址暴露 /metrics，未配置地址时不启动。
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("指标服务异常退出", slog.String("address", addr), slog.Any("error", err))
		}
	}()
	logger.L().Info("指标服务已启动", slog.String("address", addr))
}
