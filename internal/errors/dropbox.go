package errors

import (
	"strings"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
)

// DropboxFailure describes a failed Dropbox API v2 call.
// Status is zero when no HTTP response was received.
type DropboxFailure struct {
	Endpoint string
	Status   int
	// Summary is the error_summary field, e.g. "path/not_found/..".
	Summary string
	Cause   error
}

// ClassifyDropboxResponse maps a Dropbox API failure onto a stable error code
func ClassifyDropboxResponse(f DropboxFailure, reqCtx *types.RequestContext, logger logging.Logger) error {
	if f.Cause != nil {
		if tokenErr := ClassifyTokenError("dropbox", f.Cause, reqCtx); tokenErr != nil {
			logger.Error("Token refresh failed",
				logging.F("endpoint", f.Endpoint),
				logging.F("traceId", reqCtx.TraceID),
			)
			return tokenErr
		}
	}

	var code string
	var retryable bool

	switch {
	case f.Status == 0:
		code = utils.ErrCodeNetworkError
		if f.Cause != nil {
			code = networkCode(f.Cause)
		}
		retryable = true
	case f.Status == 400:
		code = utils.ErrCodeConfigInvalid
	case f.Status == 401:
		code = utils.ErrCodeAuthInvalid
		if strings.HasPrefix(f.Summary, "expired_access_token") {
			code = utils.ErrCodeAuthExpired
		}
		if strings.HasPrefix(f.Summary, "missing_scope") {
			code = utils.ErrCodeScopeInsufficient
		}
	case f.Status == 403:
		code = utils.ErrCodePermissionDenied
	case f.Status == 409:
		code = classifyDropboxEndpointError(f)
	case f.Status == 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case f.Status >= 500:
		code = utils.ErrCodeNetworkError
		retryable = true
	default:
		code = utils.ErrCodeUnknown
	}

	message := f.Summary
	if message == "" && f.Cause != nil {
		message = f.Cause.Error()
	}
	if message == "" {
		message = "dropbox request failed"
	}

	fields := []logging.Field{
		logging.F("httpStatus", f.Status),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("endpoint", f.Endpoint),
		logging.F("summary", f.Summary),
		logging.F("traceId", reqCtx.TraceID),
	}
	if utils.IsFatalCode(code) {
		logger.Error("Dropbox error classified", fields...)
	} else {
		logger.Warn("Dropbox error classified", fields...)
	}

	builder := utils.NewCLIError(code, message).
		WithHTTPStatus(f.Status).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", "dropbox").
		WithContext("endpoint", f.Endpoint)
	if tag := summaryTag(f.Summary); tag != "" {
		builder.WithProviderReason(tag)
	}
	switch code {
	case utils.ErrCodeAuthExpired, utils.ErrCodeAuthInvalid:
		builder.WithContext("suggestedAction", "run 'cloudmirror auth set-token dropbox' to store a fresh token")
	case utils.ErrCodeRemoteRootNotFound:
		builder.WithContext("suggestedAction", "check dropbox.root in the config file")
	}

	return utils.WrapAppError(builder.Build(), f.Cause)
}

// IsDropboxReset reports whether a list_folder/continue failure asks for a fresh listing
func IsDropboxReset(status int, summary string) bool {
	return status == 409 && strings.HasPrefix(summary, "reset")
}

func classifyDropboxEndpointError(f DropboxFailure) string {
	listing := strings.HasPrefix(f.Endpoint, "files/list_folder")
	switch {
	case strings.Contains(f.Summary, "not_found"):
		if listing {
			return utils.ErrCodeRemoteRootNotFound
		}
		return utils.ErrCodeFileNotFound
	case strings.Contains(f.Summary, "malformed_path"), strings.Contains(f.Summary, "not_folder"):
		if listing {
			return utils.ErrCodeConfigInvalid
		}
		return utils.ErrCodeInvalidPath
	case strings.Contains(f.Summary, "restricted_content"):
		return utils.ErrCodePermissionDenied
	}
	return utils.ErrCodeUnknown
}

func summaryTag(summary string) string {
	if i := strings.Index(summary, "/"); i >= 0 {
		return summary[:i]
	}
	return summary
}
