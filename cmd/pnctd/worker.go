package main

import (
	"github.com/spf13/cobra"

	"PNCT-Query/pkg/logger"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "启动 Temporal worker，执行查询工作流与活动",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, engine, err := bootstrap(ctx, opts.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()
			defer engine.Close()

			serveMetrics(ctx, opts.cfg.Metrics.Address)
			<-ctx.Done()
			logger.L().Info("worker 正在退出")
			return nil
		},
	}
}
