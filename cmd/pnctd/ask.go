package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"PNCT-Query/internal/query"
)

func newAskCommand(opts *rootOptions) *cobra.Command {
	var (
		id           string
		asJSON       bool
		remoteWorker bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "提交一次查询并打印答复",
		Long: `提交一次查询并等待答复，默认在本进程内启动 worker。

Example:
  pnctd ask "Is CSQU3054383 available for pickup?"
  pnctd ask --json --id demo-1 "where is CSQU3054383"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, engine, err := bootstrap(ctx, opts.cfg, !remoteWorker)
			if err != nil {
				return err
			}
			defer a.Close()
			defer engine.Close()

			svc := query.NewService(a.Store, engine)
			res, err := svc.Submit(ctx, query.SubmitRequest{ID: id, Text: strings.Join(args, " ")})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Answer)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "查询 ID，重复提交同一 ID 返回已有结果")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出完整结果")
	cmd.Flags().BoolVar(&remoteWorker, "remote-worker", false, "不在本进程启动 worker，依赖已运行的 worker")
	return cmd
}
