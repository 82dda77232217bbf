// Package retry implements the turn loop's provider-call retry policy:
// exponential backoff with jitter, bounded by a server-advertised retry delay
// when the provider supplies one.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/rocisdk/agentcore/errs"
)

// Policy configures exponential backoff with jitter for provider calls.
// Attempts start at InitialBackoff, are multiplied by Multiplier on each
// retry up to MaxBackoff, and are jittered by a uniform 0.75-1.25x factor
// before sleeping.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// MaxRetryDelay caps a server-advertised retry_after_ms. Nil means the
	// default 30s cap applies; a zero duration disables the cap entirely.
	MaxRetryDelay *time.Duration
}

// DefaultPolicy returns the retry policy used when a run does not configure
// its own.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

const defaultMaxRetryDelay = 30 * time.Second

// capRetryDelay bounds a server-advertised retry_after_ms by the policy's
// MaxRetryDelay: nil means the default 30s cap, Some(0) disables the cap.
func (p Policy) capRetryDelay(d time.Duration) time.Duration {
	limit := defaultMaxRetryDelay
	if p.MaxRetryDelay != nil {
		if *p.MaxRetryDelay == 0 {
			return d
		}
		limit = *p.MaxRetryDelay
	}
	if d > limit {
		return limit
	}
	return d
}

// Do executes op, retrying while the returned error is classified Retryable
// by errs.IsRetryable, up to MaxAttempts. Sleeps between attempts honor
// ctx cancellation. The last error is returned once attempts are exhausted.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultPolicy().InitialBackoff
	}
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = DefaultPolicy().Multiplier
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultPolicy().MaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.IsRetryable(err) || attempt >= p.MaxAttempts {
			return err
		}

		sleep := jitter(backoff)
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindRateLimited {
			var e *errs.Error
			if ae, ok2 := err.(*errs.Error); ok2 {
				e = ae
			}
			if e != nil && e.RetryAfterMS != nil {
				sleep = p.capRetryDelay(time.Duration(*e.RetryAfterMS) * time.Millisecond)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

// jitter scales d by a uniform random factor in [0.75, 1.25).
func jitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}
