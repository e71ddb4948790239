package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"PNCT-Query/internal/api"
	"PNCT-Query/internal/query"
	"PNCT-Query/pkg/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API",
		Long: `启动 HTTP API，提交的查询以工作流形式交给 Temporal 执行。

使用 memory 存储时查询记录只保存在本进程内，需要同时加上 --with-worker。

Example:
  pnctd serve --config configs/pnct.yaml --with-worker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !withWorker && opts.cfg.Storage.QueryStore.Driver == "memory" {
				logger.L().Warn("memory 存储未启用本地 worker，查询结果将无法回写到本进程")
			}
			a, engine, err := bootstrap(ctx, opts.cfg, withWorker)
			if err != nil {
				return err
			}
			defer a.Close()
			defer engine.Close()

			serveMetrics(ctx, opts.cfg.Metrics.Address)
			server := api.NewServer(opts.cfg.Server.Address, query.NewService(a.Store, engine))
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "在同一进程内启动 worker")
	return cmd
}
