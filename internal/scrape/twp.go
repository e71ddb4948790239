package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "PNCT-Query/internal/errors"
)

const (
	// DefaultTWPBaseURL 是 PNCT 所在 TWP 平台的跟踪接口。
	DefaultTWPBaseURL = "https://twpapi.pachesapeake.com/api/track/GetContainers"
	// DefaultTWPSiteID 对应 Port Newark Container Terminal。
	DefaultTWPSiteID = "PNCT_NJ"

	maxBodyBytes = 2 << 20
	snippetBytes = 512
)

// TWPConfig 描述一个 TWP 平台码头。
type TWPConfig struct {
	Name    string
	BaseURL string
	SiteID  string
	Timeout time.Duration
}

// TWPSource 通过 TWP 平台的 GetContainers 接口查询集装箱。
type TWPSource struct {
	name       string
	baseURL    string
	siteID     string
	httpClient *http.Client
	now        func() time.Time
}

// NewTWPSource 构造数据源，缺省值指向 PNCT。
func NewTWPSource(cfg TWPConfig) *TWPSource {
	if cfg.Name == "" {
		cfg.Name = "pnct"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTWPBaseURL
	}
	if cfg.SiteID == "" {
		cfg.SiteID = DefaultTWPSiteID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TWPSource{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		siteID:     cfg.SiteID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Name 返回数据源名称。
func (s *TWPSource) Name() string { return s.name }

// Fetch 调用跟踪接口并解析响应。
func (s *TWPSource) Fetch(ctx context.Context, containerID string) (*Container, error) {
	endpoint, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "数据源地址无效")
	}
	q := endpoint.Query()
	q.Set("siteId", s.siteID)
	q.Set("key", containerID)
	q.Set("_", strconv.FormatInt(s.now().UnixMilli(), 10))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "构造请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, s.networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, s.networkError(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, xerrors.New(xerrors.CodeScrapeRateLimited, fmt.Sprintf("%s 返回 429", s.name),
			xerrors.WithRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After"), s.now())),
			xerrors.WithMetadata("source", s.name))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return nil, xerrors.New(xerrors.CodeScrapeTransient, fmt.Sprintf("%s 返回 %d", s.name, resp.StatusCode),
			xerrors.WithMetadata("source", s.name),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	case resp.StatusCode != http.StatusOK:
		return nil, s.parseError(resp.StatusCode, body, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return s.decode(resp.StatusCode, body)
}

// decode 兼容数组与单个对象两种响应形态。
func (s *TWPSource) decode(status int, body []byte) (*Container, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var list []Container
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, s.parseError(status, body, err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		if !list[0].identified() {
			return nil, s.parseError(status, body, errors.New("record has no recognisable fields"))
		}
		return &list[0], nil
	case '{':
		var c Container
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, s.parseError(status, body, err)
		}
		if !c.identified() {
			return nil, s.parseError(status, body, errors.New("record has no recognisable fields"))
		}
		return &c, nil
	default:
		return nil, s.parseError(status, body, errors.New("response is not JSON"))
	}
}

func (s *TWPSource) networkError(err error) error {
	msg := fmt.Sprintf("请求 %s 失败", s.name)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = fmt.Sprintf("请求 %s 超时", s.name)
	}
	return xerrors.Wrap(xerrors.CodeScrapeTransient, err, msg, xerrors.WithMetadata("source", s.name))
}

func (s *TWPSource) parseError(status int, body []byte, cause error) error {
	snippet := string(body)
	if len(snippet) > snippetBytes {
		snippet = snippet[:snippetBytes]
	}
	return xerrors.Wrap(xerrors.CodeScrapeParse, cause, fmt.Sprintf("无法解析 %s 的响应", s.name),
		xerrors.WithMetadata("source", s.name),
		xerrors.WithMetadata("status", strconv.Itoa(status)),
		xerrors.WithMetadata("body", strings.TrimSpace(snippet)))
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式。
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
