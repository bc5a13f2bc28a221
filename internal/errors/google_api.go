package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"google.golang.org/api/googleapi"
)

type driveReason struct {
	code      string
	retryable bool
	action    string
}

// driveReasons refine a 403 using the first reason Drive reports
var driveReasons = map[string]driveReason{
	"insufficientPermissions": {utils.ErrCodeScopeInsufficient, false, "store a token granted the drive.readonly scope"},
	"insufficientScopes":      {utils.ErrCodeScopeInsufficient, false, "store a token granted the drive.readonly scope"},
	"userRateLimitExceeded":   {utils.ErrCodeRateLimited, true, "wait before retrying"},
	"rateLimitExceeded":       {utils.ErrCodeRateLimited, true, "wait before retrying"},
	"dailyLimitExceeded":      {utils.ErrCodeRateLimited, false, "quota resets in 24 hours"},
	"downloadQuotaExceeded":   {utils.ErrCodeQuotaExceeded, false, "quota resets in 24 hours"},
}

func driveStatusCode(apiErr *googleapi.Error) (string, bool) {
	switch apiErr.Code {
	case 400:
		return utils.ErrCodeInvalidArgument, false
	case 401:
		return utils.ErrCodeAuthExpired, false
	case 403:
		for _, item := range apiErr.Errors {
			if r, ok := driveReasons[item.Reason]; ok {
				return r.code, r.retryable
			}
		}
		return utils.ErrCodePermissionDenied, false
	case 404:
		return utils.ErrCodeFileNotFound, false
	case 429:
		return utils.ErrCodeRateLimited, true
	}
	if apiErr.Code >= 500 && apiErr.Code <= 504 {
		return utils.ErrCodeNetworkError, true
	}
	return utils.ErrCodeUnknown, apiErr.Code >= 500
}

// IsRetryableGoogleAPIError reports whether a Drive call is worth repeating
// within the same tick: throttling and 5xx responses.
func IsRetryableGoogleAPIError(err error) bool {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		return false
	}
	_, retryable := driveStatusCode(apiErr)
	return retryable
}

// GoogleAPIHeader returns the response headers carried by a Drive error, if any
func GoogleAPIHeader(err error) http.Header {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Header
	}
	return nil
}

// ClassifyGoogleAPIError maps a Drive API failure onto a stable error code.
// Auth failures come back fatal; throttling and server errors stay retryable.
func ClassifyGoogleAPIError(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	if tokenErr := ClassifyTokenError(service, err, reqCtx); tokenErr != nil {
		logger.Error("Token refresh failed",
			logging.F("error", err),
			logging.F("service", service),
		)
		return tokenErr
	}

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		logger.Warn("Drive request failed before a response",
			logging.F("error", err),
			logging.F("requestType", reqCtx.RequestType),
		)
		return utils.WrapAppError(utils.NewCLIError(networkCode(err), err.Error()).
			WithRetryable(true).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Build(), err)
	}

	code, retryable := driveStatusCode(apiErr)
	builder := utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", service)

	if len(apiErr.Errors) > 0 {
		reason := apiErr.Errors[0].Reason
		builder.WithProviderReason(reason)
		if r, ok := driveReasons[reason]; ok {
			builder.WithContext("suggestedAction", r.action)
		}
	}
	switch {
	case code == utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'cloudmirror auth set-token googledrive' to store a fresh token")
	case code == utils.ErrCodeFileNotFound && reqCtx.DriveID != "":
		builder.WithContext("driveId", reqCtx.DriveID)
	}

	fields := []logging.Field{
		logging.F("httpStatus", apiErr.Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("requestType", reqCtx.RequestType),
	}
	if utils.IsFatalCode(code) {
		logger.Error("Drive API error", fields...)
	} else {
		logger.Warn("Drive API error", fields...)
	}

	return utils.WrapAppError(builder.Build(), err)
}
