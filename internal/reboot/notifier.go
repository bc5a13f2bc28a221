// Package reboot tells the content server to drop its caches after the mirror
// changed, and implements the receiving endpoint for the development server.
package reboot

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/pkg/version"
	"github.com/imroc/req/v3"
)

const (
	rebootPath = "/reboot"
	passParam  = "pass"
)

// Notifier pings the reboot endpoint of every configured content server
type Notifier struct {
	client     *req.Client
	endpoints  []string
	passPhrase string
	logger     logging.Logger
}

// NotifierOptions configures a Notifier
type NotifierOptions struct {
	Endpoints  []string
	PassPhrase string
	Timeout    time.Duration
	Logger     logging.Logger
	Debug      *logging.DebugTransport
}

// NewNotifier creates a notifier. With no endpoints Notify does nothing.
func NewNotifier(opts NotifierOptions) *Notifier {
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := req.C().
		SetTimeout(opts.Timeout).
		SetUserAgent(version.UserAgent())
	if opts.Debug != nil {
		client.GetTransport().WrapRoundTripFunc(func(rt http.RoundTripper) req.HttpRoundTripFunc {
			return opts.Debug.Wrap(rt).RoundTrip
		})
	}

	endpoints := make([]string, 0, len(opts.Endpoints))
	for _, e := range opts.Endpoints {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return &Notifier{
		client:     client,
		endpoints:  endpoints,
		passPhrase: opts.PassPhrase,
		logger:     opts.Logger,
	}
}

// Endpoints returns the normalized content server URLs
func (n *Notifier) Endpoints() []string {
	return n.endpoints
}

// Notify calls every endpoint and returns the joined failures. A failing
// endpoint does not stop the others from being notified.
func (n *Notifier) Notify(ctx context.Context) error {
	if n == nil || len(n.endpoints) == 0 {
		return nil
	}
	logger := n.logger.WithContext(ctx)

	var errs []error
	for _, endpoint := range n.endpoints {
		resp, err := n.client.R().
			SetContext(ctx).
			SetQueryParam(passParam, n.passPhrase).
			Get(endpoint + rebootPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("reboot %s: %w", endpoint, err))
			continue
		}
		if !resp.IsSuccessState() {
			errs = append(errs, fmt.Errorf("reboot %s: unexpected status %d", endpoint, resp.StatusCode))
			continue
		}
		logger.Debug("Content server rebooted", logging.F("endpoint", endpoint))
	}

	if err := stderrors.Join(errs...); err != nil {
		logger.Warn("Content server reboot failed", logging.F("error", err.Error()))
		return err
	}
	return nil
}
