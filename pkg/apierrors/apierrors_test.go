package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestGRPCStatus(t *testing.T) {
	cases := map[Code]codes.Code{
		CodeUninitialized:    codes.FailedPrecondition,
		CodeMalformedRequest: codes.InvalidArgument,
		CodeTransport:        codes.Unavailable,
		CodeRateLimited:      codes.ResourceExhausted,
		CodeTimeout:          codes.DeadlineExceeded,
		Code("UNKNOWN"):      codes.Unknown,
	}

	for code, want := range cases {
		if got := GRPCStatus(code); got != want {
			t.Fatalf("GRPCStatus(%s)=%s, want %s", code, got, want)
		}
	}
}

func TestFromError(t *testing.T) {
	original := New(CodeUninitialized, "not ready")
	wrapped := fmt.Errorf("wrap: %w", original)
	if apiErr, ok := FromError(wrapped); !ok {
		t.Fatal("expected to unwrap api error")
	} else if apiErr.Code != CodeUninitialized {
		t.Fatalf("unexpected code %s", apiErr.Code)
	}
	if _, ok := FromError(fmt.Errorf("other")); ok {
		t.Fatal("should not unwrap plain error")
	}
}

func TestWrapKeepsCauseText(t *testing.T) {
	cause := errors.New("device disconnected")
	err := Wrap(CodeTimeout, cause)
	if err.Error() != "device disconnected" {
		t.Fatalf("unexpected Error(): %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if got := Wrap(CodeInternal, nil).Error(); got != string(CodeInternal) {
		t.Fatalf("unexpected nil-cause message %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("nil error code=%s", got)
	}
	if got := CodeOf(errors.New("user rejected")); got != CodeTransport {
		t.Fatalf("plain error code=%s, want TRANSPORT", got)
	}
	if got := CodeOf(fmt.Errorf("ctx: %w", New(CodeRateLimited, "slow down"))); got != CodeRateLimited {
		t.Fatalf("wrapped code=%s", got)
	}
}
