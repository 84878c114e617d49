package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Retry policy defaults: 3 retries after the first attempt, exponential
// backoff capped at MaxDelay.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultMultiplier = 2.0
)

// RetryPolicy bounds how a failed backend call is retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
	}
}

// Delay computes the wait before retry number attempt (0-based). Rate-limit
// failures honor the server-supplied retry_after, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, c Classification) time.Duration {
	if c.Kind == KindRateLimit && c.RetryAfter > 0 {
		if c.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}

		return c.RetryAfter
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if d > p.MaxDelay {
		return p.MaxDelay
	}

	return d
}

// Executor wraps backend calls with retry and fallback bookkeeping. The
// fallback manager sees every call outcome.
type Executor struct {
	Policy   RetryPolicy
	Fallback *FallbackManager
	Logger   *slog.Logger

	// OnRetry fires once per retry, before the backoff sleep. Optional.
	OnRetry func()
}

// Do invokes call until it succeeds, its failure is non-retryable, retries
// are exhausted, or the context is done. Failures must be reported as
// *ClassifiedError; any other error is treated as non-retryable.
func (e *Executor) Do(ctx context.Context, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := call(ctx)
		if err == nil {
			e.Fallback.RecordSuccess()
			return nil
		}

		lastErr = err

		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			return err
		}

		e.Fallback.RecordFailure(ce.Classification)

		if !ce.Retryable {
			return err
		}

		if attempt >= e.Policy.MaxRetries {
			e.Logger.Warn("Retries exhausted",
				"attempts", attempt+1,
				"kind", ce.Kind,
				"status", ce.StatusCode,
			)

			return lastErr
		}

		if e.OnRetry != nil {
			e.OnRetry()
		}

		delay := e.Policy.Delay(attempt, ce.Classification)
		e.Logger.Info("Retrying backend call",
			"attempt", attempt+1,
			"kind", ce.Kind,
			"status", ce.StatusCode,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
