// Package api runs Drive calls with retry, backoff and error classification.
package api

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/errors"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/drive/v3"
)

const serviceName = "googledrive"

// Client wraps the Drive API with retry logic and error classification
type Client struct {
	service    *drive.Service
	maxRetries int
	retryDelay time.Duration
	clock      clockwork.Clock
	logger     logging.Logger
}

// Options configures a Client. Zero values mean no retries.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	// Clock defaults to the real clock.
	Clock  clockwork.Clock
	Logger logging.Logger
}

// NewClient creates a new Drive API client
func NewClient(service *drive.Service, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		service:    service,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// NewRequestContext creates a request context. The trace ID is taken from ctx
// when the caller set one, so every call made during a tick shares it.
func NewRequestContext(ctx context.Context, profile string, driveID string, requestType types.RequestType) *types.RequestContext {
	traceID := logging.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &types.RequestContext{
		Profile:     profile,
		DriveID:     driveID,
		RequestType: requestType,
		TraceID:     traceID,
	}
}

// ExecuteWithRetry runs fn until it succeeds, fails with a non-retryable
// error or runs out of attempts. Every failure that escapes is classified.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	logger := client.logger.WithTraceID(reqCtx.TraceID)
	start := client.clock.Now()

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Debug("Drive call recovered",
					logging.F("requestType", reqCtx.RequestType),
					logging.F("attempts", attempt+1),
				)
			}
			return result, nil
		}

		if !errors.IsRetryableGoogleAPIError(err) || attempt >= client.maxRetries {
			logger.Debug("Drive call failed",
				logging.F("requestType", reqCtx.RequestType),
				logging.F("attempts", attempt+1),
				logging.F("duration_ms", client.clock.Now().Sub(start).Milliseconds()),
			)
			return result, errors.ClassifyGoogleAPIError(serviceName, err, reqCtx, client.logger)
		}

		delay := calculateBackoff(client.retryDelay, attempt, err)
		logger.Warn("Retrying Drive call",
			logging.F("requestType", reqCtx.RequestType),
			logging.F("attempt", attempt+1),
			logging.F("maxRetries", client.maxRetries),
			logging.F("delay_ms", delay.Milliseconds()),
			logging.F("error", err),
		)
		select {
		case <-ctx.Done():
			return result, errors.ClassifyGoogleAPIError(serviceName, ctx.Err(), reqCtx, client.logger)
		case <-client.clock.After(delay):
		}
	}
}

// calculateBackoff honours Retry-After, otherwise doubles baseDelay per
// attempt with +/-25% jitter. The result never exceeds MaxRetryDelayMs.
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	maxDelay := time.Duration(utils.MaxRetryDelayMs) * time.Millisecond

	if header := errors.GoogleAPIHeader(err); header != nil {
		if delay, ok := retryAfter(header.Get("Retry-After"), time.Now()); ok {
			return min(delay, maxDelay)
		}
	}

	if baseDelay <= 0 {
		return 0
	}
	delay := baseDelay
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	delay = min(delay, maxDelay)
	if spread := delay / 4; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread*2))) - spread
	}
	return delay
}

// retryAfter parses either form of the Retry-After header
func retryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

// Service returns the underlying Drive service
func (c *Client) Service() *drive.Service {
	return c.service
}
