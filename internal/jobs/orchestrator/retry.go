package orchestrator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  time.Second,
		MaxBackoff:  30 * time.Second,
		JitterFrac:  0.2,
	}
}

// IsRetryable retries transient capability errors and per-call timeouts.
// Fatal and composition errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.IsFatal(err) || pkgerrors.IsComposition(err) {
		return false
	}
	return pkgerrors.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func shouldRetry(r RetryPolicy, attempts int, err error) bool {
	if err == nil {
		return false
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if attempts >= maxAttempts {
		return false
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	return retryable(err)
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
