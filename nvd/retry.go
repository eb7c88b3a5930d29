package nvd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// StatusError is returned for any non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code %d from %s", e.Code, e.URL)
}

// RetryPolicy bounds how a remote fetch is retried.
type RetryPolicy struct {
	// MaxAttempts caps the total number of tries, the first included.
	MaxAttempts int
	// InitialInterval is the wait before the second attempt; each further
	// wait doubles up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable decides whether an error is worth another attempt. Nil means
	// RetryableError.
	Retryable func(error) bool
	// Notify, when set, is called before each wait.
	Notify func(err error, wait time.Duration)
}

// DefaultRetryPolicy makes five attempts waiting 1s, 2s, 4s, 8s, capped at 20s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     20 * time.Second,
	}
}

// RetryableError treats rate limiting, server errors, and transport failures
// as transient. Everything else, 404 and 400 included, is final.
func RetryableError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Schedule returns the backoff sequence the policy waits on between attempts.
func (p RetryPolicy) Schedule() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	// WithMaxRetries treats zero as unbounded.
	if p.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// cap is reached, or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = RetryableError
	}
	notify := p.Notify
	if notify == nil {
		notify = func(err error, wait time.Duration) {
			slog.Debug("Retrying request", "error", err, "wait", wait)
		}
	}

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(p.Schedule(), ctx), notify)
}
