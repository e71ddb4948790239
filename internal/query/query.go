package query

import (
	stdErrors "errors"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/tools"
)

// Status 表示查询在生命周期中的状态。Result 只会是 succeeded 或 failed。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Query 是一次提交的自然语言问题，创建后不可变。
type Query struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Result 是一次查询的最终结果。
type Result struct {
	QueryID     string             `json:"query_id"`
	ContainerID string             `json:"container_id,omitempty"`
	Answer      string             `json:"answer"`
	ToolResults []tools.ToolResult `json:"tool_results,omitempty"`
	Status      Status             `json:"status"`
	Incomplete  bool               `json:"incomplete,omitempty"`
	TimedOut    bool               `json:"timed_out,omitempty"`
	Rounds      int                `json:"rounds"`
	ErrorCode   string             `json:"error_code,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Flag 返回结果的降级标记，用于指标标签。
func (r Result) Flag() string {
	switch {
	case r.TimedOut:
		return "timed_out"
	case r.Incomplete:
		return "incomplete"
	case r.ErrorCode != "" && r.Status == StatusSucceeded:
		return "unidentified"
	case r.ErrorCode != "":
		return "error"
	default:
		return "none"
	}
}

// Record 是存储中的一行。
type Record struct {
	Query     Query   `json:"query"`
	Status    Status  `json:"status"`
	Result    *Result `json:"result,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	LastError string  `json:"last_error,omitempty"`
	Published bool    `json:"published"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Done 判断查询是否已有最终结果。
func (r *Record) Done() bool {
	return r != nil && r.Result != nil
}

const (
	CodeQueryNotFound   xerrors.Code = "QUERY_NOT_FOUND"
	CodeQueryConflict   xerrors.Code = "QUERY_CONFLICT"
	CodeQueryValidation xerrors.Code = "QUERY_VALIDATION_FAILED"
	CodeQueryPublish    xerrors.Code = "QUERY_PUBLISH_FAILED"
)

var (
	// ErrQueryNotFound 表示指定的查询不存在。
	ErrQueryNotFound = xerrors.New(CodeQueryNotFound, "query not found")
	// ErrQueryConflict 表示查询 ID 已被占用。
	ErrQueryConflict = xerrors.New(CodeQueryConflict, "query conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func init() {
	xerrors.Register(CodeQueryNotFound, xerrors.Attributes{
		Message:  "query not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeQueryConflict, xerrors.Attributes{
		Message:  "query conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeQueryValidation, xerrors.Attributes{
		Message:  "query validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeQueryPublish, xerrors.Attributes{
		Message:   "failed to publish query result",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsNotFound 判断错误是否表示查询不存在。
func IsNotFound(err error) bool {
	return err != nil && stdErrors.Is(err, ErrQueryNotFound)
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRecord(r *Record) *Record {
	clone := *r
	if r.Result != nil {
		res := cloneResult(*r.Result)
		clone.Result = &res
	}
	return &clone
}

func cloneResult(r Result) Result {
	if r.ToolResults != nil {
		r.ToolResults = append([]tools.ToolResult(nil), r.ToolResults...)
	}
	return r
}
