package llm

import (
	"context"
	"strings"
	"time"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
)

// RetryClient wraps a Client with retry and a circuit breaker.
type RetryClient struct {
	underlying     Client
	retryConfig    coreerrors.RetryConfig
	circuitBreaker *coreerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps client. A nil breaker disables circuit breaking.
func NewRetryClient(client Client, retryConfig coreerrors.RetryConfig, circuitBreaker *coreerrors.CircuitBreaker) *RetryClient {
	return &RetryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

// Complete retries transient failures with backoff.
func (c *RetryClient) Complete(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	resp, err := coreerrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (Response, error) {
		if c.circuitBreaker == nil {
			r, err := c.underlying.Complete(ctx, req)
			return r, classifyError(err)
		}
		return coreerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (Response, error) {
			r, err := c.underlying.Complete(ctx, req)
			return r, classifyError(err)
		})
	}, c.logger)
	if err != nil {
		c.logger.Warn("[%s] inference failed after %v: %v", req.Tag, time.Since(started), err)
		return Response{}, err
	}
	return resp, nil
}

// classifyError marks errors that look transient but arrived unclassified.
func classifyError(err error) error {
	if err == nil || coreerrors.IsTransient(err) || coreerrors.IsPermanent(err) || coreerrors.IsDegraded(err) {
		return err
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "502", "503", "504", "timeout", "connection refused", "connection reset"} {
		if strings.Contains(lower, marker) {
			return coreerrors.NewTransientError(err, "transient inference failure")
		}
	}
	return err
}

var _ Client = (*RetryClient)(nil)
