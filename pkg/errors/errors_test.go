package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		for _, code := range []ErrorCode{ErrCodeNetworkError, ErrCodeConnectionPool, ErrCodeRetryExhausted} {
			if !NewError(code, "transient").Retryable {
				t.Errorf("%s should be retryable by default", code)
			}
		}
		if NewError(ErrCodeObjectNotFound, "missing").Retryable {
			t.Error("ObjectNotFound should not be retryable by default")
		}
		if NewError(ErrCodeArchiveFormat, "bad car").Retryable {
			t.Error("ArchiveFormat should not be retryable by default")
		}
		if NewError(ErrCodeValidationFailed, "no key").Retryable {
			t.Error("ValidationFailed should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConnectionPool, CategoryConnection},
		{ErrCodeNetworkError, CategoryConnection},
		{ErrCodeObjectNotFound, CategoryStorage},
		{ErrCodeArchiveFormat, CategoryStorage},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeOperationCanceled, CategoryOperation},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestSourceError_Error(t *testing.T) {
	err := NewError(ErrCodeObjectNotFound, "object s3://b/k does not exist").
		WithComponent("fetch").
		WithOperation("OpenRemoteStream").
		WithCause(fmt.Errorf("NoSuchKey"))

	got := err.Error()
	want := "[fetch:OpenRemoteStream] OBJECT_NOT_FOUND: object s3://b/k does not exist: NoSuchKey"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSourceError_Unwrap(t *testing.T) {
	cause := context.Canceled
	err := NewError(ErrCodeOperationCanceled, "canceled").WithCause(cause)

	if !errors.Is(err, context.Canceled) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !errors.Is(err, NewError(ErrCodeOperationCanceled, "")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, NewError(ErrCodeRetryExhausted, "")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestHasCode(t *testing.T) {
	inner := NewError(ErrCodeNetworkError, "reset")
	outer := NewError(ErrCodeRetryExhausted, "gave up").WithCause(inner)
	wrapped := fmt.Errorf("opening: %w", outer)

	if !HasCode(wrapped, ErrCodeRetryExhausted) {
		t.Error("HasCode should find outer code through fmt wrapping")
	}
	if !HasCode(wrapped, ErrCodeNetworkError) {
		t.Error("HasCode should find nested code")
	}
	if HasCode(wrapped, ErrCodeObjectNotFound) {
		t.Error("HasCode should not report absent code")
	}
	if HasCode(errors.New("plain"), ErrCodeNetworkError) {
		t.Error("HasCode should be false for plain errors")
	}
	if HasCode(nil, ErrCodeNetworkError) {
		t.Error("HasCode should be false for nil")
	}
}

func TestSerialize(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if Serialize(nil) != nil {
			t.Error("Serialize(nil) should be nil")
		}
	})

	t.Run("api error", func(t *testing.T) {
		apiErr := &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce rate", Fault: smithy.FaultServer}
		fields := Serialize(fmt.Errorf("get object: %w", apiErr))

		if fields["api_code"] != "SlowDown" {
			t.Errorf("api_code = %v, want SlowDown", fields["api_code"])
		}
		if fields["fault"] != "server" {
			t.Errorf("fault = %v, want server", fields["fault"])
		}
		if !strings.Contains(fields["message"].(string), "reduce rate") {
			t.Errorf("message = %v", fields["message"])
		}
	})

	t.Run("source error", func(t *testing.T) {
		fields := Serialize(NewError(ErrCodeArchiveFormat, "bad header"))
		if fields["code"] != "ARCHIVE_FORMAT" {
			t.Errorf("code = %v, want ARCHIVE_FORMAT", fields["code"])
		}
		if fields["type"] != "*errors.SourceError" {
			t.Errorf("type = %v", fields["type"])
		}
	})
}

func TestSourceError_LogValue(t *testing.T) {
	err := NewError(ErrCodeRetryExhausted, "gave up").
		WithDetail("attempts", 3).
		WithCause(errors.New("timeout"))

	v := err.LogValue()
	if v.Kind().String() != "Group" {
		t.Fatalf("LogValue kind = %v, want Group", v.Kind())
	}

	keys := map[string]bool{}
	for _, a := range v.Group() {
		keys[a.Key] = true
	}
	for _, k := range []string{"code", "category", "message", "attempts", "cause"} {
		if !keys[k] {
			t.Errorf("LogValue missing key %q", k)
		}
	}
}

func TestGetRecommendation(t *testing.T) {
	if rec := NewError(ErrCodeObjectNotFound, "").GetRecommendation(); !strings.Contains(rec, "object key") {
		t.Errorf("unexpected recommendation %q", rec)
	}
	if rec := NewError(ErrCodeOperationCanceled, "").GetRecommendation(); rec == "" {
		t.Error("fallback recommendation should not be empty")
	}
}

func TestRecommendation(t *testing.T) {
	inner := NewError(ErrCodeNetworkError, "reset")
	outer := NewError(ErrCodeRetryExhausted, "gave up").WithCause(inner)

	if got, want := Recommendation(fmt.Errorf("key: %w", outer)), outer.GetRecommendation(); got != want {
		t.Errorf("Recommendation() = %q, want outermost %q", got, want)
	}
	if got := Recommendation(errors.New("plain")); got != "" {
		t.Errorf("Recommendation(plain) = %q, want empty", got)
	}
	if got := Recommendation(nil); got != "" {
		t.Errorf("Recommendation(nil) = %q, want empty", got)
	}
}
