package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"auth expired", NewAppError(NewCLIError(ErrCodeAuthExpired, "expired").Build()), true},
		{"auth required wrapped", fmt.Errorf("fetch: %w", NewAppError(NewCLIError(ErrCodeAuthRequired, "none").Build())), true},
		{"provider missing", NewAppError(NewCLIError(ErrCodeProviderMissing, "none").Build()), true},
		{"root not found", NewAppError(NewCLIError(ErrCodeRemoteRootNotFound, "gone").Build()), true},
		{"network", NewAppError(NewCLIError(ErrCodeNetworkError, "reset").Build()), false},
		{"rate limited", NewAppError(NewCLIError(ErrCodeRateLimited, "slow down").Build()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitUnknown},
		{NewAppError(NewCLIError(ErrCodeProviderMissing, "").Build()), ExitProviderMissing},
		{NewAppError(NewCLIError(ErrCodeAuthExpired, "").Build()), ExitAuthExpired},
		{NewAppError(NewCLIError(ErrCodeBatchPartialFailure, "").Build()), ExitBatchPartialFailure},
	}

	for _, tt := range tests {
		if got := ExitCodeFor(tt.err); got != tt.want {
			t.Errorf("ExitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWrapAppError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := WrapAppError(NewCLIError(ErrCodeNetworkError, "listing failed").WithRetryable(true).Build(), cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if err.CLIError.Retryable != true {
		t.Error("expected retryable flag to survive")
	}
	if got := err.Error(); got != "NETWORK_ERROR: listing failed" {
		t.Errorf("Error() = %q", got)
	}
}

func TestHasBinaryContent(t *testing.T) {
	tests := map[string]bool{
		"text/markdown":     true,
		"image/png":         true,
		MimeTypeFolder:      false,
		MimeTypeDocument:    false,
		MimeTypeShortcut:    false,
		MimeTypeSpreadsheet: false,
	}
	for mime, want := range tests {
		if got := HasBinaryContent(mime); got != want {
			t.Errorf("HasBinaryContent(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestCodesHaveDistinctExitCodes(t *testing.T) {
	seen := make(map[int]string)
	for code, info := range codes {
		if info.exit == ExitSuccess || info.exit == ExitUnknown {
			t.Errorf("%s maps to exit %d", code, info.exit)
		}
		if prev, ok := seen[info.exit]; ok {
			t.Errorf("%s and %s share exit %d", code, prev, info.exit)
		}
		seen[info.exit] = code
	}
	if IsFatalCode(ErrCodeCancelled) || IsFatalCode("SOMETHING_NEW") {
		t.Error("unlisted codes must not be fatal")
	}
}
