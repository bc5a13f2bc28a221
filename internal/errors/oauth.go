package errors

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"golang.org/x/oauth2"
)

// ClassifyTokenError returns an AUTH_EXPIRED error when err comes from a failed
// OAuth2 token refresh, and nil otherwise.
func ClassifyTokenError(service string, err error, reqCtx *types.RequestContext) error {
	var retrieveErr *oauth2.RetrieveError
	if !stderrors.As(err, &retrieveErr) {
		return nil
	}
	builder := utils.NewCLIError(utils.ErrCodeAuthExpired, "token refresh rejected by the provider").
		WithContext("service", service).
		WithContext("suggestedAction", "run 'cloudmirror auth set-token "+service+"' to store a fresh token")
	if retrieveErr.Response != nil {
		builder.WithHTTPStatus(retrieveErr.Response.StatusCode)
	}
	if retrieveErr.ErrorCode != "" {
		builder.WithProviderReason(retrieveErr.ErrorCode)
	}
	if reqCtx != nil {
		builder.WithContext("traceId", reqCtx.TraceID)
	}
	return utils.WrapAppError(builder.Build(), err)
}

// networkCode picks CANCELLED or TIMEOUT for context errors and NETWORK_ERROR for the rest
func networkCode(err error) string {
	if stderrors.Is(err, context.Canceled) {
		return utils.ErrCodeCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return utils.ErrCodeTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return utils.ErrCodeTimeout
	}
	return utils.ErrCodeNetworkError
}
