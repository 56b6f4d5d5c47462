// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// =============================================================================
// Failure Signal Contract
// =============================================================================

// FailureSignal is the typed view of a raw failure that the classifier
// consumes. Implementations adapt transport-specific error shapes (HTTP
// client errors, API errors, plain Go errors) to this contract so the
// classifier never probes unknown fields.
type FailureSignal interface {
	// StatusCode returns the HTTP status associated with the failure,
	// or 0 when none is known.
	StatusCode() int

	// ErrorCode returns the machine-readable error code reported by the
	// failing service, or "" when none is known.
	ErrorCode() string

	// Message returns the technical failure message. Never empty.
	Message() string
}

// errorSignal adapts a plain Go error to the FailureSignal contract.
type errorSignal struct {
	err error
}

func (s errorSignal) StatusCode() int {
	return 0
}

func (s errorSignal) ErrorCode() string {
	return ""
}

func (s errorSignal) Message() string {
	return s.err.Error()
}

// SignalFromError wraps a plain error as a FailureSignal.
func SignalFromError(err error) FailureSignal {
	return errorSignal{err: err}
}

// =============================================================================
// Classification
// =============================================================================

// Marker substrings for message-based classification. Matching is
// case-insensitive. Order of evaluation is fixed by Classify, not by
// these tables.
var (
	rateLimitMarkers = []string{
		"rate limit", "rate_limit", "too many requests", "quota exceeded",
	}
	networkMarkers = []string{
		"connection refused", "connection reset", "no such host",
		"network is unreachable", "broken pipe", "dial tcp",
	}
	timeoutMarkers = []string{
		"deadline exceeded", "timed out", "timeout",
	}
	validationMarkers = []string{
		"validation failed", "schema", "invalid request", "missing required field",
	}
	remoteServiceMarkers = []string{
		"model", "inference", "completion", "upstream service",
	}
	storageMarkers = []string{
		"workspace storage", "badger", "no space left", "permission denied",
		"read-only file system",
	}
)

// Classify maps a raw failure signal to its AppError class.
//
// # Description
//
// Classification is first-match-wins with a fixed precedence order:
// rate limit > network > timeout > validation > remote service > storage,
// with INTERNAL as the default. A signal carrying both a rate-limit and a
// network marker therefore classifies as RATE_LIMIT.
//
// The signal's message is preserved verbatim in Details; the AppError's
// Message, StatusCode, Retryable, and UserMessage come from the class table.
func Classify(sig FailureSignal) *AppError {
	msg := sig.Message()
	lower := strings.ToLower(msg)
	code := sig.ErrorCode()
	status := sig.StatusCode()

	var class Code
	switch {
	case status == 429 || strings.HasPrefix(code, "rate_limit") || matchAny(lower, rateLimitMarkers):
		class = CodeRateLimit
	case matchAny(lower, networkMarkers):
		class = CodeNetwork
	case status == 504 || matchAny(lower, timeoutMarkers):
		class = CodeTimeout
	case status == 400 || status == 422 || code == "validation_error" || matchAny(lower, validationMarkers):
		class = CodeValidation
	case matchAny(lower, remoteServiceMarkers):
		class = CodeRemoteService
	case matchAny(lower, storageMarkers):
		class = CodeStorage
	default:
		class = CodeInternal
	}

	e := New(class, msg)
	e.Details = msg
	return e
}

// ClassifyError classifies a plain Go error.
//
// # Description
//
// AppError values pass through unchanged. Context cancellation and
// deadline errors are recognized structurally, as are net.Error timeouts;
// everything else is classified through the message-based signal path.
func ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}
	if classified := As(err); classified != nil {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := New(CodeTimeout, err.Error())
		e.Details = err.Error()
		e.cause = err
		return e
	}
	if errors.Is(err, context.Canceled) {
		// A cancelled job is not retryable regardless of message content.
		e := New(CodeInternal, err.Error())
		e.Details = err.Error()
		e.Retryable = false
		e.cause = err
		return e
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		e := New(CodeTimeout, err.Error())
		e.Details = err.Error()
		e.cause = err
		return e
	}
	e := Classify(SignalFromError(err))
	e.cause = err
	return e
}

func matchAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
