// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress emits, buffers, and streams structured job progress
// events.
package progress

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a stage in a change-set job's lifecycle.
type Phase string

const (
	PhaseInitializing Phase = "INITIALIZING"
	PhaseAnalyzing    Phase = "ANALYZING"
	PhaseSearching    Phase = "SEARCHING"
	PhaseGenerating   Phase = "GENERATING"
	PhaseValidating   Phase = "VALIDATING"
	PhaseCompleting   Phase = "COMPLETING"
	PhaseError        Phase = "ERROR"
)

// EventType discriminates progress records on the wire.
type EventType string

const (
	// TypeProgress is a routine progress update.
	TypeProgress EventType = "progress"

	// TypeRetry reports a scheduled retry of a failed upstream call.
	TypeRetry EventType = "retry"

	// TypeError is a terminal failure report.
	TypeError EventType = "error"

	// TypeResult carries the final outcome payload.
	TypeResult EventType = "result"
)

// Details carries optional progress measurements.
type Details struct {
	// Current and Total describe discrete progress within the phase,
	// such as files applied out of files total.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// EstimatedTimeRemaining is a linear extrapolation from elapsed
	// phase time; empty when no estimate is possible.
	EstimatedTimeRemaining string `json:"estimated_time_remaining,omitempty"`

	// SubPhase refines the phase, such as the file currently patching.
	SubPhase string `json:"sub_phase,omitempty"`
}

// Event is one progress record.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type discriminates the record.
	Type EventType `json:"type"`

	// Phase is the lifecycle stage the job is in.
	Phase Phase `json:"phase"`

	// Message is the human-readable status line.
	Message string `json:"message"`

	// Percentage is the job-level completion estimate in [0, 100], or -1
	// when unknown.
	Percentage float64 `json:"percentage"`

	// Details carries optional measurements.
	Details *Details `json:"details,omitempty"`

	// Metadata carries free-form key/value context.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Option customizes an emitted event.
type Option func(*Event)

// WithPercentage sets the job-level completion estimate.
func WithPercentage(pct float64) Option {
	return func(e *Event) {
		e.Percentage = pct
	}
}

// WithCounts sets discrete progress and lets the emitter compute an ETA.
func WithCounts(current, total int) Option {
	return func(e *Event) {
		if e.Details == nil {
			e.Details = &Details{}
		}
		e.Details.Current = current
		e.Details.Total = total
	}
}

// WithSubPhase names the fine-grained step inside the phase.
func WithSubPhase(sub string) Option {
	return func(e *Event) {
		if e.Details == nil {
			e.Details = &Details{}
		}
		e.Details.SubPhase = sub
	}
}

// WithMetadata attaches a key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// WithType overrides the default progress type.
func WithType(t EventType) Option {
	return func(e *Event) {
		e.Type = t
	}
}

func newEvent(phase Phase, message string, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeProgress,
		Phase:      phase,
		Message:    message,
		Percentage: -1,
		Timestamp:  now,
	}
}
