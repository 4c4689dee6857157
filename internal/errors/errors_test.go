package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := fmt.Errorf("connect: %w", Wrap(CodeConnection, cause, "无法连接清算节点"))

	if got := CodeOf(err); got != CodeConnection {
		t.Fatalf("unexpected code: %s", got)
	}
	if !stdErrors.Is(err, New(CodeConnection, "")) {
		t.Fatalf("errors.Is should match by code")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause should stay reachable")
	}
	if got := MessageOf(err); got != "无法连接清算节点" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !RetryableError(err) {
		t.Fatalf("connection errors should be retryable by default")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	code := Code("TEST_ONLY")
	if AttributesOf(code).Severity != SeverityCritical {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
	Register(code, Attributes{Message: "test", Severity: SeverityInfo, Retryable: true})
	err := New(code, "")
	if err.Message() != "test" || err.Severity() != SeverityInfo || !err.Retryable() {
		t.Fatalf("registered attributes not applied: %+v", err)
	}
	if New(code, "", WithRetryable(false)).Retryable() {
		t.Fatalf("option should override registry")
	}
}

func TestMessageOfPlainError(t *testing.T) {
	if got := MessageOf(stdErrors.New("boom")); got != "boom" {
		t.Fatalf("unexpected message: %q", got)
	}
	if MessageOf(nil) != "" {
		t.Fatalf("nil error should yield empty message")
	}
	if CodeOf(stdErrors.New("x")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}
