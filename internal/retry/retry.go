// Package retry classifies provider exchanges as retryable or not and runs
// the bounded backoff loop around a single provider invocation.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/provider"
)

// Classification is the outcome of examining one provider exchange.
type Classification int

const (
	Success Classification = iota
	NonRetryableProviderError
	RetryableProviderError
	RetryableNetworkError
	NonRetryableNetworkError
)

// nonRetryableStatus is never retried regardless of the configured retryable set.
var nonRetryableStatus = map[int]bool{400: true, 401: true, 403: true, 404: true}

func defaultRetryableStatus() map[int]bool {
	return map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}
}

// Classify inspects the error returned by one provider.Client call and
// decides whether the caller should retry.
func Classify(err error, retryableStatusCodes []int) Classification {
	if err == nil {
		return Success
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatus()
		if nonRetryableStatus[status] {
			return NonRetryableProviderError
		}
		retryable := defaultRetryableStatus()
		if len(retryableStatusCodes) > 0 {
			retryable = make(map[int]bool, len(retryableStatusCodes))
			for _, c := range retryableStatusCodes {
				retryable[c] = true
			}
		}
		if retryable[status] {
			return RetryableProviderError
		}
		return NonRetryableProviderError
	}

	var netErr *provider.NetworkError
	if errors.As(err, &netErr) {
		return RetryableNetworkError
	}
	return NonRetryableNetworkError
}

// Policy is the per-request retry configuration (spec §4.8).
type Policy struct {
	MaxRetries           int
	BaseDelayMs          int
	MaxDelayMs           int
	JitterPercent        int
	RetryableStatusCodes []int
}

func (p Policy) newBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Duration(p.BaseDelayMs)*time.Millisecond),
		backoff.WithMaxInterval(time.Duration(p.MaxDelayMs)*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(float64(p.JitterPercent)/100),
	)
}

// Attempt performs one provider call, given the zero-based attempt number.
type Attempt func(ctx context.Context, attemptNum int) ([]byte, error)

// Invoke runs attempt up to Policy.MaxRetries+1 times. Attempt 0 fires
// immediately; attempt k>0 sleeps the backoff delay first. A non-retryable
// error returns immediately; exhausting every attempt on a retryable error
// surfaces the last observed error as a ChevalError.
func Invoke(ctx context.Context, policy Policy, attempt Attempt) ([]byte, *cheval.ChevalError) {
	bo := policy.newBackoff()
	var lastErr error

	for k := 0; k <= policy.MaxRetries; k++ {
		if k > 0 {
			d := bo.NextBackOff()
			if d < 0 {
				d = 0
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, &cheval.ChevalError{Code: cheval.CodeInternal, Message: ctx.Err().Error()}
			}
		}

		body, err := attempt(ctx, k)
		if err == nil {
			return body, nil
		}
		lastErr = err

		switch Classify(err, policy.RetryableStatusCodes) {
		case NonRetryableProviderError:
			return nil, toChevalError(err, false, false)
		case NonRetryableNetworkError:
			return nil, toChevalError(err, true, false)
		case RetryableProviderError, RetryableNetworkError:
			continue
		}
	}

	isNetwork := Classify(lastErr, policy.RetryableStatusCodes) == RetryableNetworkError
	return nil, toChevalError(lastErr, isNetwork, true)
}

func toChevalError(err error, isNetwork, retryable bool) *cheval.ChevalError {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return &cheval.ChevalError{
			Code:       cheval.CodeProviderError,
			Message:    apiErr.Error(),
			StatusCode: apiErr.HTTPStatus(),
			Retryable:  retryable,
		}
	}
	if isNetwork {
		return &cheval.ChevalError{
			Code:      cheval.CodeNetworkError,
			Message:   err.Error(),
			Retryable: retryable,
		}
	}
	return &cheval.ChevalError{
		Code:      cheval.CodeProviderError,
		Message:   err.Error(),
		Retryable: retryable,
	}
}
