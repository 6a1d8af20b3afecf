package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/driprun/driprun/pkg/schema"
)

// RetryPolicy bounds step retries. Attempts counts executions, so MaxAttempts
// of 3 means the first try plus two retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the engine defaults: three attempts with
// exponential backoff capped at five minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Backoff returns the delay before the given retry. attempt is 1-based: the
// delay after the first failed execution is Backoff(1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// IsRetryableError classifies step failures. Engine errors answer for
// themselves; deadline and transport hiccups retry; cancellation and
// anything shaped like a deterministic failure does not. Unknown errors
// default to retryable so transient store faults get another chance.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid", "not found", "malformed", "unsupported"} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
