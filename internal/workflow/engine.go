package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/query"
	"PNCT-Query/internal/tools"
	"PNCT-Query/pkg/logger"
)

// Config 描述 Temporal 连接与查询默认参数。
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
	Options   Options
}

func (c Config) withDefaults() Config {
	if c.HostPort == "" {
		c.HostPort = client.DefaultHostPort
	}
	if c.Namespace == "" {
		c.Namespace = client.DefaultNamespace
	}
	if c.TaskQueue == "" {
		c.TaskQueue = "pnct-query"
	}
	c.Options = c.Options.WithDefaults()
	return c
}

// Engine 连接 Temporal，负责启动 worker 与提交查询工作流，实现 query.Runner。
type Engine struct {
	client      client.Client
	closeClient bool
	cfg         Config
	worker      worker.Worker
	log         *slog.Logger
}

// Dial 建立 Temporal 客户端连接。
func Dial(ctx context.Context, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	c, err := client.DialContext(ctx, client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger.Named("temporal")),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("连接 Temporal %s 失败", cfg.HostPort))
	}
	e := NewEngine(c, cfg)
	e.closeClient = true
	return e, nil
}

// NewEngine 基于已有客户端创建 Engine，调用方负责关闭客户端。
func NewEngine(c client.Client, cfg Config) *Engine {
	return &Engine{client: c, cfg: cfg.withDefaults(), log: logger.Named("workflow")}
}

// StartWorker 校验工具表并在后台启动 worker。
func (e *Engine) StartWorker(invoker *tools.Invoker, acts *Activities) error {
	if err := invoker.Check(); err != nil {
		return err
	}
	w := worker.New(e.client, e.cfg.TaskQueue, worker.Options{})
	Register(w, NewWorkflows(invoker), acts)
	if err := w.Start(); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "启动 Temporal worker 失败")
	}
	e.worker = w
	e.log.Info("Temporal worker 已启动", slog.String("task_queue", e.cfg.TaskQueue), slog.String("namespace", e.cfg.Namespace))
	return nil
}

// WorkflowID 返回查询对应的工作流 ID。
func WorkflowID(queryID string) string {
	return "query-" + queryID
}

// Run 以查询 ID 作为工作流 ID 启动查询并等待结果。
// 同一 ID 已有正在运行或已结束的执行时，直接等待该执行的结果。
func (e *Engine) Run(ctx context.Context, q query.Query) (query.Result, error) {
	id := WorkflowID(q.ID)
	opts := client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                e.cfg.TaskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionTimeout: e.cfg.Options.QueryTimeout + e.cfg.Options.FinalizeTimeout*time.Duration(e.cfg.Options.FinalizeRetry.MaximumAttempts) + time.Minute,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, WorkflowName, QueryInput{Query: q, Options: e.cfg.Options})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if !stdErrors.As(err, &started) {
			return query.Result{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "启动查询工作流失败")
		}
		e.log.Info("查询工作流已存在，等待已有执行", slog.String("workflow_id", id))
		run = e.client.GetWorkflow(ctx, id, "")
	}

	var res query.Result
	if err := run.Get(ctx, &res); err != nil {
		return query.Result{}, xerrors.Wrap(errorCode(err), err, fmt.Sprintf("查询工作流 %s 执行失败", id))
	}
	return res, nil
}

// Close 停止 worker 并关闭自行创建的客户端。
func (e *Engine) Close() error {
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

var _ query.Runner = (*Engine)(nil)
