// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps fallible operations with retry and timeout
// policies.
//
// Retryability is decided by error classification, never by the caller:
// an operation that fails with a non-retryable class stops immediately
// regardless of remaining attempts.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
)

// MaxBackoffDelay caps the exponential backoff curve.
const MaxBackoffDelay = 30 * time.Second

// jitterFraction is the upper bound of the uniform jitter added to each
// delay, as a fraction of the computed delay.
const jitterFraction = 0.3

// RetryObserver is notified before each backoff sleep. attempt is the
// 1-based number of the attempt that just failed.
type RetryObserver func(attempt int, delay time.Duration, err error)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: the wait after failure n
	// (0-based) is min(BaseDelay * 2^n, MaxBackoffDelay) plus jitter.
	BaseDelay time.Duration

	// OnRetry, if set, observes each scheduled retry.
	OnRetry RetryObserver
}

// DefaultRetryPolicy matches the producer call defaults: three attempts
// starting from a one-second backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Retry runs op until it succeeds, exhausts the attempt budget, fails
// non-retryably, or ctx is canceled.
//
// # Outputs
//
//   - T: The first successful result.
//   - error: The classified error from the final attempt. Context
//     cancellation during a backoff wait returns the context error
//     classified as TIMEOUT or INTERNAL.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *apperr.AppError
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = apperr.ClassifyError(err)
		if !lastErr.IsRetryable() || attempt == attempts {
			return zero, lastErr
		}

		delay := backoffDelay(policy.BaseDelay, attempt-1)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, apperr.ClassifyError(ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoffDelay computes the wait after the n-th failure (0-based):
// exponential growth capped at MaxBackoffDelay, plus uniform jitter in
// [0, jitterFraction*delay) to spread synchronized retries.
func backoffDelay(base time.Duration, n int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < n && delay < MaxBackoffDelay; i++ {
		delay *= 2
	}
	if delay > MaxBackoffDelay {
		delay = MaxBackoffDelay
	}
	jitter := time.Duration(rand.Int63n(int64(float64(delay)*jitterFraction) + 1))
	return delay + jitter
}
