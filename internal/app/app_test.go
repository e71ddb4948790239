package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"PNCT-Query/internal/config"
	"PNCT-Query/internal/llm/rules"
	"PNCT-Query/internal/observability/alerting"
	"PNCT-Query/internal/query"
	"PNCT-Query/internal/tools"
	"PNCT-Query/internal/workflow"
)

const yardContainer = `[{
  "ContainerNumber": "CSQU3054383",
  "State": "In Yard",
  "ContainerState": "Import",
  "Location": "Y-B12-03",
  "Available": 2,
  "AvailabilityDisplayStatus": "Yes",
  "CarrierReleaseStatus": "RELEASED",
  "CustomReleaseStatus": "RELEASED",
  "UsdaStatus": "RELEASED",
  "LastFreeDate": "2026-10-24"
}]`

func TestBuildDefaults(t *testing.T) {
	a, err := Build(context.Background(), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.Equal(t, []string{"pnct"}, a.Sources.Names())
	require.NoError(t, a.Invoker.Check())
	require.ElementsMatch(t, []string{tools.QueryContainer, tools.ListSources}, a.Registry.Names())
	require.IsType(t, &query.MemoryStore{}, a.Store)
	require.IsType(t, query.NopPublisher{}, a.Publisher)
	require.NotNil(t, a.Activities)
}

func TestBuildRejectsMissingKnowledgeFile(t *testing.T) {
	cfg := config.Default()
	cfg.Knowledge.Source = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildLLMClient(t *testing.T) {
	client, err := BuildLLMClient(config.LLMConfig{Provider: "rules"}, []string{"pnct"})
	require.NoError(t, err)
	require.IsType(t, &rules.Planner{}, client)

	limited, err := BuildLLMClient(config.LLMConfig{Provider: "rules", RateLimitRPM: 30}, []string{"pnct"})
	require.NoError(t, err)
	_, isPlanner := limited.(*rules.Planner)
	require.False(t, isPlanner)

	_, err = BuildLLMClient(config.LLMConfig{Provider: "mystery"}, nil)
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.MaxRounds = 4
	cfg.Workflow.ScrapeMaxAttempts = 6

	got := EngineConfig(cfg)
	require.Equal(t, "pnct-query", got.TaskQueue)
	require.Equal(t, 4, got.Options.MaxRounds)
	require.Equal(t, 3*time.Minute, got.Options.QueryTimeout)
	require.Equal(t, int32(6), got.Options.ScrapeRetry.MaximumAttempts)
	require.Equal(t, time.Second, got.Options.ReasoningRetry.InitialInterval)
	require.Equal(t, 10*time.Second, got.Options.ReasoningRetry.MaximumInterval)
}

func TestAlertsFanOutToWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev alerting.Event
		if json.Unmarshal(body, &ev) == nil && ev.QueryID == "q-alert" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := buildAlerts(config.AlertingConfig{WebhookURL: srv.URL})
	require.NoError(t, d.Notify(context.Background(), alerting.Event{Code: "SCRAPE_PARSE", QueryID: "q-alert"}))
	require.Equal(t, int32(1), hits.Load())
}

func TestInitLoggingWritesAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitLogging(config.LoggingConfig{
		Level:   "info",
		Format:  "json",
		Outputs: []string{"stderr"},
		Audit:   config.AuditConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	}))
	t.Cleanup(func() { _ = InitLogging(config.LoggingConfig{}) })

	d := buildAlerts(config.AlertingConfig{})
	require.NoError(t, d.Notify(context.Background(), alerting.Event{Code: "SCRAPE_PARSE", Message: "bad payload"}))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestQueryEndToEndWithRulesPlanner(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if r.URL.Query().Get("key") != "CSQU3054383" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(yardContainer))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Scrape.Sources = []config.SourceConfig{{Name: "pnct", BaseURL: srv.URL}}
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.SetTestTimeout(30 * time.Second)
	workflow.Register(env, workflow.NewWorkflows(a.Invoker), a.Activities)

	q := query.Query{ID: "q-e2e", Text: "Is CSQU 3054383 available for pickup?", SubmittedAt: time.Now().UTC()}
	require.NoError(t, a.Store.Create(context.Background(), q))
	env.ExecuteWorkflow(workflow.WorkflowName, workflow.QueryInput{Query: q, Options: EngineConfig(cfg).Options})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var res query.Result
	require.NoError(t, env.GetWorkflowResult(&res))

	require.Equal(t, query.StatusSucceeded, res.Status)
	require.Equal(t, "CSQU3054383", res.ContainerID)
	require.False(t, res.Incomplete)
	require.Len(t, res.ToolResults, 1)
	require.True(t, res.ToolResults[0].OK())
	require.NotEmpty(t, res.Answer)
	require.Equal(t, int32(1), fetches.Load())

	rec, err := a.Store.Get(context.Background(), "q-e2e")
	require.NoError(t, err)
	require.True(t, rec.Done())
	require.Equal(t, query.StatusSucceeded, rec.Status)
}
