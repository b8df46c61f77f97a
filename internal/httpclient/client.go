// Package httpclient builds the HTTP clients used for outbound calls to the
// inference endpoint and the artifact host.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
)

// Option layers behavior onto the client's transport.
type Option func(next http.RoundTripper, logger logging.Logger) http.RoundTripper

// WithBreaker rejects calls with a degraded error once the upstream has
// failed cfg.FailureThreshold times in a row.
func WithBreaker(name string, cfg coreerrors.CircuitBreakerConfig) Option {
	return func(next http.RoundTripper, _ logging.Logger) http.RoundTripper {
		return &breakerTransport{next: next, breaker: coreerrors.NewCircuitBreaker(name, cfg)}
	}
}

// New returns a client whose transport logs failed round trips, wrapped by
// opts in order.
func New(timeout time.Duration, logger logging.Logger, opts ...Option) *http.Client {
	logger = logging.OrNop(logger)
	var rt http.RoundTripper = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return logRoundTrip(http.DefaultTransport, logger, req)
	})
	for _, opt := range opts {
		rt = opt(rt, logger)
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}

// NewWithCircuitBreaker is New with the default breaker settings.
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	return New(timeout, logger, WithBreaker(name, coreerrors.DefaultCircuitBreakerConfig()))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func logRoundTrip(next http.RoundTripper, logger logging.Logger, req *http.Request) (*http.Response, error) {
	began := time.Now()
	resp, err := next.RoundTrip(req)
	switch {
	case err != nil:
		logger.Warn("%s %s failed after %s: %v", req.Method, req.URL.Redacted(), time.Since(began), err)
	case resp.StatusCode >= http.StatusBadRequest:
		logger.Debug("%s %s -> %d (%s)", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(began))
	}
	return resp, err
}

type breakerTransport struct {
	next    http.RoundTripper
	breaker *coreerrors.CircuitBreaker
}

// RoundTrip counts 5xx, 429 and transport errors against the breaker. The
// response itself is still returned so callers can read the upstream error.
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp   *http.Response
		netErr error
	)
	gateErr := t.breaker.Execute(req.Context(), func(context.Context) error {
		resp, netErr = t.next.RoundTrip(req)
		switch {
		case netErr != nil && errors.Is(netErr, context.Canceled):
			return nil
		case netErr != nil:
			return coreerrors.NewTransientError(netErr, "round trip failed")
		case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
			return coreerrors.NewTransientError(fmt.Errorf("http status %d", resp.StatusCode), "upstream unavailable")
		}
		return nil
	})
	if resp != nil || netErr != nil {
		return resp, netErr
	}
	return nil, gateErr
}
