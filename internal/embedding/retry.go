package embedding

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ProviderError classifies a provider failure as transient or permanent.
// Transient classes retry with exponential backoff and jitter; permanent
// classes fail immediately.
type ProviderError struct {
	StatusCode int
	Transient  bool
	cause      error
}

func (e *ProviderError) Error() string { return e.cause.Error() }
func (e *ProviderError) Unwrap() error { return e.cause }

// NewProviderError classifies err/statusCode into a ProviderError.
func NewProviderError(statusCode int, err error) *ProviderError {
	transient := isTransientStatus(statusCode) || isTransientErr(err)
	return &ProviderError{StatusCode: statusCode, Transient: transient, cause: err}
}

func isTransientStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// withRetry wraps a provider call with exponential backoff and jitter,
// retrying up to maxRetries times after the first attempt. Every failure is
// retried except a ProviderError classified as permanent.
func withRetry[T any](ctx context.Context, baseWait time.Duration, maxRetries int, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Transient {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	bo := backoff.NewExponentialBackOff()
	if baseWait > 0 {
		bo.InitialInterval = baseWait
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(max(maxRetries, 0)+1)),
	)
}
