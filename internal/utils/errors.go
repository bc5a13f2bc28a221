package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/cloudmirror/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired      = 10
	ExitAuthExpired       = 11
	ExitAuthInvalid       = 12
	ExitScopeInsufficient = 13
	// File operation errors (20-29)
	ExitFileNotFound     = 20
	ExitPermissionDenied = 21
	ExitQuotaExceeded    = 22
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation and configuration errors (40-49)
	ExitInvalidArgument    = 40
	ExitInvalidPath        = 41
	ExitProviderMissing    = 44
	ExitConfigInvalid      = 45
	ExitRemoteRootNotFound = 46
	// Batch errors
	ExitBatchPartialFailure = 60
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeAuthExpired         = "AUTH_EXPIRED"
	ErrCodeAuthInvalid         = "AUTH_INVALID"
	ErrCodeScopeInsufficient   = "SCOPE_INSUFFICIENT"
	ErrCodeFileNotFound        = "FILE_NOT_FOUND"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeInvalidPath         = "INVALID_PATH"
	ErrCodeProviderMissing     = "PROVIDER_MISSING"
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeRemoteRootNotFound  = "REMOTE_ROOT_NOT_FOUND"
	ErrCodeBatchPartialFailure = "BATCH_PARTIAL_FAILURE"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnknown             = "UNKNOWN"
)

// codeInfo is what a sync loop and the CLI need to know about an error code
type codeInfo struct {
	exit int
	// fatal codes stop the sync loop; the rest are retried on the next tick.
	fatal bool
}

var codes = map[string]codeInfo{
	ErrCodeAuthRequired:        {ExitAuthRequired, true},
	ErrCodeAuthExpired:         {ExitAuthExpired, true},
	ErrCodeAuthInvalid:         {ExitAuthInvalid, true},
	ErrCodeScopeInsufficient:   {ExitScopeInsufficient, true},
	ErrCodeFileNotFound:        {ExitFileNotFound, false},
	ErrCodePermissionDenied:    {ExitPermissionDenied, true},
	ErrCodeQuotaExceeded:       {ExitQuotaExceeded, false},
	ErrCodeNetworkError:        {ExitNetworkError, false},
	ErrCodeTimeout:             {ExitTimeout, false},
	ErrCodeRateLimited:         {ExitRateLimited, false},
	ErrCodeInvalidArgument:     {ExitInvalidArgument, false},
	ErrCodeInvalidPath:         {ExitInvalidPath, false},
	ErrCodeProviderMissing:     {ExitProviderMissing, true},
	ErrCodeConfigInvalid:       {ExitConfigInvalid, true},
	ErrCodeRemoteRootNotFound:  {ExitRemoteRootNotFound, true},
	ErrCodeBatchPartialFailure: {ExitBatchPartialFailure, false},
}

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithProviderReason(reason string) *CLIErrorBuilder {
	b.err.ProviderReason = reason
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
	cause    error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// WrapAppError creates an AppError that keeps cause reachable through errors.Is/As
func WrapAppError(cliErr types.CLIError, cause error) *AppError {
	return &AppError{CLIError: cliErr, cause: cause}
}

// ErrorCode returns the stable code carried by err, or UNKNOWN
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	return ErrCodeUnknown
}

// IsFatal reports whether err must stop the sync loop instead of being retried next tick
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return IsFatalCode(ErrorCode(err))
}

// IsFatalCode reports whether an error code stops the sync loop
func IsFatalCode(code string) bool {
	return codes[code].fatal
}

// ExitCodeFor maps an error to the process exit code
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if info, ok := codes[ErrorCode(err)]; ok {
		return info.exit
	}
	return ExitUnknown
}
