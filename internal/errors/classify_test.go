package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	testhelpers "github.com/dl-alexandre/cloudmirror/internal/testing"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassifyGoogleAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantFatal bool
	}{
		{"unauthorized", &googleapi.Error{Code: 401, Message: "Invalid Credentials"}, utils.ErrCodeAuthExpired, true},
		{"forbidden", &googleapi.Error{Code: 403, Message: "nope"}, utils.ErrCodePermissionDenied, true},
		{"scope", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}}, utils.ErrCodeScopeInsufficient, true},
		{"rate limit 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, utils.ErrCodeRateLimited, false},
		{"not found", &googleapi.Error{Code: 404}, utils.ErrCodeFileNotFound, false},
		{"server", &googleapi.Error{Code: 503}, utils.ErrCodeNetworkError, false},
		{"plain", stderrors.New("connection reset by peer"), utils.ErrCodeNetworkError, false},
		{"deadline", fmt.Errorf("list: %w", context.DeadlineExceeded), utils.ErrCodeTimeout, false},
		{
			"refresh rejected",
			&url.Error{Op: "Get", URL: "https://www.googleapis.com/drive/v3/files", Err: &oauth2.RetrieveError{
				Response:  &http.Response{StatusCode: 400},
				ErrorCode: "invalid_grant",
			}},
			utils.ErrCodeAuthExpired, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyGoogleAPIError("drive", tt.err, testhelpers.TestRequestContext(), logging.NewNoOpLogger())
			if got := utils.ErrorCode(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if got := utils.IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.wantFatal)
			}
			if !stderrors.Is(err, tt.err) {
				t.Error("expected original error to stay reachable")
			}
		})
	}
}

func TestClassifyDropboxResponse(t *testing.T) {
	tests := []struct {
		name      string
		failure   DropboxFailure
		wantCode  string
		wantFatal bool
	}{
		{"expired", DropboxFailure{Endpoint: "files/list_folder", Status: 401, Summary: "expired_access_token/"}, utils.ErrCodeAuthExpired, true},
		{"invalid", DropboxFailure{Endpoint: "files/list_folder", Status: 401, Summary: "invalid_access_token/"}, utils.ErrCodeAuthInvalid, true},
		{"root missing", DropboxFailure{Endpoint: "files/list_folder", Status: 409, Summary: "path/not_found/.."}, utils.ErrCodeRemoteRootNotFound, true},
		{"file vanished", DropboxFailure{Endpoint: "files/download", Status: 409, Summary: "path/not_found/.."}, utils.ErrCodeFileNotFound, false},
		{"bad path", DropboxFailure{Endpoint: "files/list_folder", Status: 409, Summary: "path/malformed_path/."}, utils.ErrCodeConfigInvalid, true},
		{"rate", DropboxFailure{Endpoint: "files/list_folder/continue", Status: 429, Summary: "too_many_requests/"}, utils.ErrCodeRateLimited, false},
		{"server", DropboxFailure{Endpoint: "files/list_folder", Status: 502}, utils.ErrCodeNetworkError, false},
		{"no response", DropboxFailure{Endpoint: "files/list_folder", Cause: stderrors.New("dial tcp: refused")}, utils.ErrCodeNetworkError, false},
		{"refresh failed", DropboxFailure{Endpoint: "files/list_folder", Cause: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}}, utils.ErrCodeAuthExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyDropboxResponse(tt.failure, testhelpers.TestRequestContext(), logging.NewNoOpLogger())
			if got := utils.ErrorCode(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if got := utils.IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.wantFatal)
			}
		})
	}
}

func TestIsDropboxReset(t *testing.T) {
	if !IsDropboxReset(409, "reset/..") {
		t.Error("expected reset summary to be detected")
	}
	if IsDropboxReset(409, "path/not_found/") {
		t.Error("not_found is not a reset")
	}
	if IsDropboxReset(500, "reset/") {
		t.Error("reset only arrives as a 409")
	}
}

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantFatal bool
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}, utils.ErrCodePermissionDenied, true},
		{"bad key", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, utils.ErrCodeAuthInvalid, true},
		{"expired", &smithy.GenericAPIError{Code: "ExpiredToken"}, utils.ErrCodeAuthExpired, true},
		{"bucket missing", &smithy.GenericAPIError{Code: "NoSuchBucket"}, utils.ErrCodeRemoteRootNotFound, true},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, utils.ErrCodeRateLimited, false},
		{"server fault", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, utils.ErrCodeNetworkError, false},
		{"transport", stderrors.New("read: connection reset"), utils.ErrCodeNetworkError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyS3Error(tt.err, testhelpers.TestRequestContext(), logging.NewNoOpLogger())
			if got := utils.ErrorCode(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if got := utils.IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.wantFatal)
			}
		})
	}
}

func TestIsRetryableGoogleAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &googleapi.Error{Code: 429}, true},
		{"503", &googleapi.Error{Code: 503}, true},
		{"wrapped 502", fmt.Errorf("list: %w", &googleapi.Error{Code: 502}), true},
		{"404", &googleapi.Error{Code: 404}, false},
		{"403 rate", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, true},
		{"403 daily quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "dailyLimitExceeded"}}}, false},
		{"403 denied", &googleapi.Error{Code: 403}, false},
		{"plain", stderrors.New("x"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableGoogleAPIError(tt.err); got != tt.want {
			t.Errorf("%s: IsRetryableGoogleAPIError() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGoogleAPIHeader(t *testing.T) {
	header := http.Header{"Retry-After": []string{"5"}}
	if got := GoogleAPIHeader(fmt.Errorf("x: %w", &googleapi.Error{Code: 429, Header: header})); got.Get("Retry-After") != "5" {
		t.Errorf("header = %v", got)
	}
	if GoogleAPIHeader(stderrors.New("plain")) != nil {
		t.Error("plain errors carry no header")
	}
}
