package errors

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodePublishFailure        Code = "PUBLISH_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 集装箱号解析。
const (
	CodeInvalidContainerID Code = "INVALID_CONTAINER_ID"
	CodeContainerNotFound  Code = "CONTAINER_NOT_FOUND"
)

// 抓取活动的失败分类。
const (
	CodeScrapeTransient     Code = "SCRAPE_TRANSIENT"
	CodeScrapeRateLimited   Code = "SCRAPE_RATE_LIMITED"
	CodeScrapeParse         Code = "SCRAPE_PARSE"
	CodeScrapeUnknownSource Code = "SCRAPE_UNKNOWN_SOURCE"
)

// 工具调用层。
const (
	CodeInvalidToolInput Code = "INVALID_TOOL_INPUT"
	CodeUnknownTool      Code = "UNKNOWN_TOOL"
	CodeToolTimeout      Code = "TOOL_TIMEOUT"
	CodeToolFailure      Code = "TOOL_FAILURE"
	CodeQueryDeadline    Code = "QUERY_DEADLINE"
)

// 推理服务。
const (
	CodeReasoningFailure     Code = "REASONING_FAILURE"
	CodeReasoningTimeout     Code = "REASONING_TIMEOUT"
	CodeReasoningConfig      Code = "REASONING_CONFIG"
	CodeReasoningRateLimited Code = "REASONING_RATE_LIMITED"
)

func init() {
	defaults := map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodePublishFailure:        {Message: "publish failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},

		CodeInvalidContainerID: {Message: "container id failed check digit validation", Severity: SeverityInfo},
		CodeContainerNotFound:  {Message: "no container id found in query", Severity: SeverityInfo},

		CodeScrapeTransient:     {Message: "tracking source temporarily unavailable", Severity: SeverityWarning, Retryable: true},
		CodeScrapeRateLimited:   {Message: "tracking source rate limited", Severity: SeverityWarning, Retryable: true},
		CodeScrapeParse:         {Message: "unexpected tracking source response", Severity: SeverityCritical, Alert: true},
		CodeScrapeUnknownSource: {Message: "unknown tracking source", Severity: SeverityWarning},

		CodeInvalidToolInput: {Message: "tool input failed schema validation", Severity: SeverityInfo},
		CodeUnknownTool:      {Message: "tool is not registered", Severity: SeverityWarning},
		CodeToolTimeout:      {Message: "tool call timed out", Severity: SeverityWarning},
		CodeToolFailure:      {Message: "tool call failed", Severity: SeverityWarning},
		CodeQueryDeadline:    {Message: "query deadline exceeded", Severity: SeverityWarning},

		CodeReasoningFailure:     {Message: "reasoning service failure", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeReasoningTimeout:     {Message: "reasoning service timed out", Severity: SeverityWarning, Retryable: true},
		CodeReasoningConfig:      {Message: "reasoning service misconfigured", Severity: SeverityCritical, Alert: true},
		CodeReasoningRateLimited: {Message: "reasoning service rate limited", Severity: SeverityWarning, Retryable: true},
	}
	for code, attr := range defaults {
		Register(code, attr)
	}
}
