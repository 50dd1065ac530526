package awsx

import (
	"context"
	"log"
	"time"

	"github.com/leasewatch/costplane/internal/metrics"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) sanitized() RetryPolicy {
	out := p
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = out.BaseDelay
	}
	return out
}

// Do invokes fn up to MaxAttempts times. Classification runs before any
// backoff decision, so a fatal error costs exactly one attempt. Backoff
// is min(base * 2^n, cap) counted from n=0 after the first failure.
func Do(ctx context.Context, op string, p RetryPolicy, fn func(context.Context) error) error {
	p = p.sanitized()
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) == ClassFatal {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			metrics.Default().IncCounter("costplane_retry_exhausted_total", map[string]string{"op": op})
			return err
		}
		delay := p.BaseDelay << uint(attempt)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		metrics.Default().IncCounter("costplane_retries_total", map[string]string{"op": op, "reason": ErrorCode(err)})
		log.Printf("event=retry op=%s attempt=%d delay_ms=%d err=%q", op, attempt+1, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
