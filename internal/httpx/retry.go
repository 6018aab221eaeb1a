// Package httpx holds the shared HTTP client conventions used by every
// outbound collaborator call the core makes: a bounded timeout and a fixed
// retry schedule on transient failures (SPEC_FULL.md §5). The backoff shape
// here is a fixed schedule rather than the exponential-with-jitter style
// used elsewhere in this codebase family for long-lived websocket
// reconnects, since the spec pins exact retry counts and delays.
package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Timeout is the per-request deadline for every outbound collaborator call.
const Timeout = 10 * time.Second

// Backoff is the fixed retry schedule: after the first attempt, 3 retries
// waiting 1s, 2s, then 4s.
var Backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// NewClient builds an *http.Client with the shared timeout.
func NewClient() *http.Client {
	return &http.Client{Timeout: Timeout}
}

// Do executes fn with retries on transient errors: network errors, timeouts,
// and 5xx responses. fn is expected to close any response body itself on
// both success and non-retried failure paths; Do only inspects the
// returned error and status code to decide whether to retry.
func Do(ctx context.Context, fn func(ctx context.Context) (status int, err error)) error {
	var lastErr error

	for attempt := 0; attempt <= len(Backoff); attempt++ {
		status, err := fn(ctx)
		if err == nil && !isRetryableStatus(status) {
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{Status: status}
		}

		if !isRetryable(err, status) || attempt == len(Backoff) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff[attempt]):
		}
	}
	return lastErr
}

// StatusError wraps a 5xx HTTP status that exhausted retries. Do returns nil
// for other statuses; fn's caller inspects those itself.
type StatusError struct{ Status int }

func (e *StatusError) Error() string {
	return "httpx: request failed with status " + http.StatusText(e.Status)
}

func isRetryableStatus(status int) bool {
	return status >= 500
}

func isRetryable(err error, status int) bool {
	if err == nil {
		return isRetryableStatus(status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
