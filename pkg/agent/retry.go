package agent

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/harun/hostpilot/internal/observability"
)

// DefaultRateLimitDelays is the fixed backoff schedule for rate-limited calls.
var DefaultRateLimitDelays = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

var (
	errRateLimited = errors.New("rate limited")
	errCallFailed  = errors.New("call failed")
)

// RateLimitBackoff retries an upstream call while it reports a rate limit,
// sleeping through Delays in order. Sleeps end early when the context is
// cancelled.
type RateLimitBackoff struct {
	Delays []time.Duration

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, detail string)
}

// NewRateLimitBackoff returns a backoff over delays, or the default schedule
// when delays is empty.
func NewRateLimitBackoff(delays []time.Duration) *RateLimitBackoff {
	if len(delays) == 0 {
		delays = DefaultRateLimitDelays
	}
	return &RateLimitBackoff{Delays: append([]time.Duration(nil), delays...)}
}

// Do runs call until it succeeds, fails without a rate limit, or the delays
// run out. It returns the last response and the number of retries made. The
// error is the context error when cancelled, otherwise nil; callers inspect
// the response for failures.
func (b *RateLimitBackoff) Do(ctx context.Context, provider string, call func(ctx context.Context) Response) (Response, int, error) {
	var last Response
	retries := 0

	next := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if next >= len(b.Delays) {
			return 0, true
		}
		d := b.Delays[next]
		next++
		retries++
		observability.RecordRateLimitRetry(provider)
		if b.OnRetry != nil {
			b.OnRetry(retries, d, last.ErrorDetail)
		}
		return d, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		last = call(ctx)
		switch {
		case last.Success:
			return nil
		case isRateLimited(last.StatusCode, last.ErrorDetail):
			return retry.RetryableError(errRateLimited)
		default:
			return errCallFailed
		}
	})

	if err != nil && ctx.Err() != nil {
		return last, retries, ctx.Err()
	}
	return last, retries, nil
}
