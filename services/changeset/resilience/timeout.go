// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
)

type outcome[T any] struct {
	result T
	err    error
}

// WithTimeout runs op and abandons it when the deadline passes.
//
// # Description
//
// The operation runs in its own goroutine and races a timer. On timeout
// the caller gets a TIMEOUT error immediately; the operation keeps running
// until it returns on its own and its result is discarded. The result
// channel is buffered so the late send never blocks the abandoned
// goroutine.
//
// op receives a context that is canceled at the deadline, so cooperative
// operations can stop early; non-cooperative ones are merely abandoned.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, timeout)

	done := make(chan outcome[T], 1)
	go func() {
		defer cancel()
		result, err := op(opCtx)
		done <- outcome[T]{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return zero, apperr.ClassifyError(ctx.Err())
	case <-timer.C:
		return zero, apperr.Newf(apperr.CodeTimeout, "operation exceeded %s deadline", timeout)
	}
}
