package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestRegisteredDefaults(t *testing.T) {
	if !New(CodeScrapeTransient, "").Retryable() {
		t.Fatalf("transient scrape errors must be retryable")
	}
	if New(CodeScrapeParse, "").Retryable() {
		t.Fatalf("parse errors must not be retryable")
	}
	if !New(CodeScrapeParse, "").ShouldAlert() {
		t.Fatalf("parse errors must alert")
	}
	if got := AttributesOf("NO_SUCH_CODE"); got.Message != "unknown error" {
		t.Fatalf("unexpected fallback attributes: %+v", got)
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeScrapeTransient, "boom", WithRetryable(false), WithAlert(true), WithSeverity(SeverityCritical))
	if err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("overrides not applied: %+v", err)
	}
}

func TestWrapAndLookup(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("fetch: %w", Wrap(CodeScrapeTransient, cause, "上游不可用"))

	if CodeOf(err) != CodeScrapeTransient {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !HasCode(err, CodeScrapeTransient) || HasCode(err, CodeScrapeParse) {
		t.Fatalf("HasCode mismatch")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause should be reachable")
	}
	if !RetryableError(err) {
		t.Fatalf("expected retryable")
	}
	if CodeOf(cause) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}

func TestRetryAfter(t *testing.T) {
	err := New(CodeScrapeRateLimited, "", WithRetryAfter(1500*time.Millisecond))
	if got := err.RetryAfter(); got != 1500*time.Millisecond {
		t.Fatalf("unexpected retry after %s", got)
	}
	if New(CodeScrapeRateLimited, "").RetryAfter() != 0 {
		t.Fatalf("missing hint should be zero")
	}
	meta := err.Metadata()
	meta[MetaRetryAfter] = "1"
	if err.RetryAfter() != 1500*time.Millisecond {
		t.Fatalf("metadata must be copied")
	}
}
