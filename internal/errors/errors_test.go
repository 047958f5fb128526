package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestDispatchCodesCarryRegistryDefaults(t *testing.T) {
	transport := New(CodeDispatchTransport, "")
	if !transport.Retryable() || !transport.ShouldAlert() {
		t.Fatalf("transport failures must be retryable and alerting: %+v", AttributesOf(CodeDispatchTransport))
	}
	if transport.Message() != "dispatch transport failure" {
		t.Fatalf("unexpected default message: %q", transport.Message())
	}

	semantic := New(CodeDispatchSemantic, "agent said no")
	if semantic.ShouldAlert() {
		t.Fatalf("semantic failures should not alert")
	}
	if semantic.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity: %s", semantic.Severity())
	}
}

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := fmt.Errorf("create token: %w", Wrap(CodeDispatchTransport, cause, "agent unreachable", WithMetadata("kind", "create_token")))

	if CodeOf(err) != CodeDispatchTransport {
		t.Fatalf("expected transport code, got %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeDispatchTransport, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if MetadataOf(err)["kind"] != "create_token" {
		t.Fatalf("metadata lost: %v", MetadataOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("expected retryable")
	}
}

func TestOverridesWinOverRegistry(t *testing.T) {
	err := New(CodeDispatchProtocol, "bad body", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("overrides ignored: retry=%v alert=%v sev=%s", err.Retryable(), err.ShouldAlert(), err.Severity())
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOT_REGISTERED"))
	if attr.Message != "unknown error" {
		t.Fatalf("expected unknown fallback, got %+v", attr)
	}
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatalf("plain errors must map to UNKNOWN")
	}
	if IsCode(nil, CodeUnknown) {
		t.Fatalf("nil error has no code")
	}
}

func TestRegisterAddsCode(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Severity: SeverityInfo, Retryable: true})
	if !New(code, "").Retryable() {
		t.Fatalf("expected registered attributes to apply")
	}
}
