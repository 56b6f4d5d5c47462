// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apperr provides the closed error taxonomy for the apply engine.
//
// # Description
//
// Every raw failure observed at a boundary (remote producer call, workspace
// storage, patch application) is classified exactly once into an AppError.
// Everything downstream operates on the classified error only: retry logic
// consults IsRetryable, HTTP handlers marshal the error surface, and user
// facing text always comes from the fixed per-code template.
//
// The technical message from the underlying failure is preserved in the
// Details field for logs. It is never surfaced to the user.
//
// # Thread Safety
//
// AppError values are immutable after creation and safe to share.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

// Code identifies an error class in the closed taxonomy.
type Code string

const (
	// CodeValidation indicates a structured validation failure (not retryable).
	CodeValidation Code = "VALIDATION"

	// CodeRateLimit indicates the remote service rejected the request due to
	// rate limiting (retryable).
	CodeRateLimit Code = "RATE_LIMIT"

	// CodeNetwork indicates a transport-level failure such as a refused or
	// reset connection (retryable).
	CodeNetwork Code = "NETWORK"

	// CodeTimeout indicates an operation exceeded its deadline (retryable).
	CodeTimeout Code = "TIMEOUT"

	// CodeRemoteService indicates the remote producer itself failed (retryable).
	CodeRemoteService Code = "REMOTE_SERVICE"

	// CodeStorage indicates a workspace or job-store failure (not retryable).
	CodeStorage Code = "STORAGE"

	// CodeInternal is the default class for unrecognized failures (not retryable).
	CodeInternal Code = "INTERNAL"

	// CodeConflict indicates a staleness or patch conflict. It is
	// transaction-local: it appears in per-operation apply reports but is
	// never produced by Classify.
	CodeConflict Code = "CONFLICT"
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// IsValid returns true if the code is a known taxonomy member.
func (c Code) IsValid() bool {
	switch c {
	case CodeValidation, CodeRateLimit, CodeNetwork, CodeTimeout,
		CodeRemoteService, CodeStorage, CodeInternal, CodeConflict:
		return true
	default:
		return false
	}
}

// classInfo carries the fixed per-class metadata.
type classInfo struct {
	statusCode  int
	retryable   bool
	userMessage string
}

// classTable maps each code to its fixed status code, retryability flag, and
// user-facing template. Classification never invents per-error values for
// these fields.
var classTable = map[Code]classInfo{
	CodeValidation: {
		statusCode:  http.StatusBadRequest,
		retryable:   false,
		userMessage: "The request could not be validated. Please review your input and try again.",
	},
	CodeRateLimit: {
		statusCode:  http.StatusTooManyRequests,
		retryable:   true,
		userMessage: "The service is handling too many requests right now. Please try again shortly.",
	},
	CodeNetwork: {
		statusCode:  http.StatusServiceUnavailable,
		retryable:   true,
		userMessage: "A network problem interrupted the operation. Please check your connection and try again.",
	},
	CodeTimeout: {
		statusCode:  http.StatusGatewayTimeout,
		retryable:   true,
		userMessage: "The operation took too long to complete. Please try again.",
	},
	CodeRemoteService: {
		statusCode:  http.StatusBadGateway,
		retryable:   true,
		userMessage: "The model service reported a problem. Please try again shortly.",
	},
	CodeStorage: {
		statusCode:  http.StatusInternalServerError,
		retryable:   false,
		userMessage: "The workspace could not be read or written. Please verify file permissions.",
	},
	CodeInternal: {
		statusCode:  http.StatusInternalServerError,
		retryable:   false,
		userMessage: "An unexpected error occurred. Please try again or contact support.",
	},
	CodeConflict: {
		statusCode:  http.StatusConflict,
		retryable:   false,
		userMessage: "The file changed after it was analyzed. Re-run the request against the current content.",
	},
}

// =============================================================================
// AppError
// =============================================================================

// AppError is the classified error carried through the system.
//
// # Description
//
// Callers receiving an AppError see exactly the exported fields; the raw
// underlying error is reachable only through Unwrap (for logs and tests),
// never through the serialized surface.
type AppError struct {
	// Code is the taxonomy tag.
	Code Code `json:"code"`

	// Message is the short technical summary (safe to log, not shown to users).
	Message string `json:"message"`

	// StatusCode is the fixed HTTP status for this class.
	StatusCode int `json:"status_code"`

	// Details preserves the original technical message for logs.
	Details string `json:"details,omitempty"`

	// Retryable is the fixed retryability flag for this class.
	Retryable bool `json:"is_retryable"`

	// UserMessage is the fixed user-facing template for this class.
	UserMessage string `json:"user_message"`

	cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// IsRetryable reports whether the retry executor may re-attempt the
// operation that produced this error.
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// New creates an AppError of the given class with a technical message.
//
// The status code, retryability, and user message are taken from the fixed
// class table; message is the technical summary for logs.
func New(code Code, message string) *AppError {
	info := classTable[code]
	if !code.IsValid() {
		code = CodeInternal
		info = classTable[CodeInternal]
	}
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  info.statusCode,
		Retryable:   info.retryable,
		UserMessage: info.userMessage,
	}
}

// Newf creates an AppError with a formatted technical message.
func Newf(code Code, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError of the given class that preserves err as its
// cause and records the original message in Details.
//
// If err is already an AppError it is returned unchanged: classification
// happens once, at the boundary where the raw failure is first observed.
func Wrap(code Code, err error) *AppError {
	if err == nil {
		return nil
	}
	var classified *AppError
	if errors.As(err, &classified) {
		return classified
	}
	e := New(code, err.Error())
	e.Details = err.Error()
	e.cause = err
	return e
}

// As extracts an AppError from err, returning nil if none is present.
func As(err error) *AppError {
	var e *AppError
	if errors.As(err, &e) {
		return e
	}
	return nil
}
