package errors

import (
	stderrors "errors"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
)

// ClassifyS3Error maps an S3 SDK failure onto a stable error code
func ClassifyS3Error(err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		logger.Warn("Non-API error",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.WrapAppError(utils.NewCLIError(networkCode(err), err.Error()).
			WithRetryable(true).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", "s3").
			Build(), err)
	}

	status := 0
	var respErr *smithyhttp.ResponseError
	if stderrors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var code string
	var retryable bool

	switch apiErr.ErrorCode() {
	case "AccessDenied", "AllAccessDisabled":
		code = utils.ErrCodePermissionDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken":
		code = utils.ErrCodeAuthInvalid
	case "ExpiredToken", "TokenRefreshRequired":
		code = utils.ErrCodeAuthExpired
	case "NoSuchBucket":
		code = utils.ErrCodeRemoteRootNotFound
	case "NoSuchKey", "NotFound":
		code = utils.ErrCodeFileNotFound
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		code = utils.ErrCodeRateLimited
		retryable = true
	case "RequestTimeout":
		code = utils.ErrCodeTimeout
		retryable = true
	default:
		code = utils.ErrCodeNetworkError
		retryable = apiErr.ErrorFault() == smithy.FaultServer || status >= 500 || status == 0
		if !retryable {
			code = utils.ErrCodeUnknown
		}
	}

	fields := []logging.Field{
		logging.F("httpStatus", status),
		logging.F("errorCode", code),
		logging.F("s3Code", apiErr.ErrorCode()),
		logging.F("retryable", retryable),
		logging.F("traceId", reqCtx.TraceID),
	}
	if retryable {
		logger.Warn("S3 error classified", fields...)
	} else {
		logger.Error("S3 error classified", fields...)
	}

	builder := utils.NewCLIError(code, apiErr.ErrorMessage()).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProviderReason(apiErr.ErrorCode()).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", "s3")
	if code == utils.ErrCodeRemoteRootNotFound {
		builder.WithContext("suggestedAction", "check s3.bucket in the config file")
	}
	return utils.WrapAppError(builder.Build(), err)
}
