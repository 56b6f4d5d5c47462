// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"fmt"
	"sync"
	"time"
)

// Emitter produces progress events for one job.
//
// # Description
//
// Events flow to the ring buffer (so late subscribers can catch up) and to
// every live subscriber channel. Subscriber sends are non-blocking: a
// subscriber that cannot keep up misses events rather than stalling the
// job.
//
// The emitter tracks when each phase started. When an event carries
// discrete counts, the estimated time remaining is extrapolated linearly
// from time elapsed in the current phase.
//
// # Thread Safety
//
// Safe for concurrent use.
type Emitter struct {
	mu          sync.Mutex
	ring        *Ring
	subscribers map[int]chan Event
	nextSubID   int
	closed      bool

	phase        Phase
	phaseStarted time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// DefaultRingCapacity bounds the replay buffer per job.
const DefaultRingCapacity = 256

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 64

// NewEmitter creates an Emitter with the default ring capacity.
func NewEmitter() *Emitter {
	return NewEmitterWithCapacity(DefaultRingCapacity)
}

// NewEmitterWithCapacity creates an Emitter with an explicit replay
// capacity.
func NewEmitterWithCapacity(capacity int) *Emitter {
	return &Emitter{
		ring:        NewRing(capacity),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
	}
}

// Emit records and fans out one event in the given phase.
func (e *Emitter) Emit(phase Phase, message string, opts ...Option) Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if phase != e.phase {
		e.phase = phase
		e.phaseStarted = now
	}

	event := newEvent(phase, message, now)
	for _, opt := range opts {
		opt(&event)
	}
	e.estimateRemaining(&event, now)

	e.ring.Append(event)
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it can recover missed events from the ring.
		}
	}
	return event
}

// EmitError emits a terminal error event.
func (e *Emitter) EmitError(message string, opts ...Option) Event {
	opts = append(opts, WithType(TypeError))
	return e.Emit(PhaseError, message, opts...)
}

// estimateRemaining fills Details.EstimatedTimeRemaining from elapsed
// phase time: elapsed/current * (total - current), rounded to the second.
func (e *Emitter) estimateRemaining(event *Event, now time.Time) {
	d := event.Details
	if d == nil || d.Current <= 0 || d.Total <= d.Current {
		return
	}
	elapsed := now.Sub(e.phaseStarted)
	if elapsed <= 0 {
		return
	}
	perUnit := elapsed / time.Duration(d.Current)
	remaining := perUnit * time.Duration(d.Total-d.Current)
	d.EstimatedTimeRemaining = formatETA(remaining)
}

// Subscribe returns a channel of future events plus the buffered history
// so far. Call the returned cancel function to unsubscribe; the channel is
// closed by cancel. Subscribing after Close yields the history and an
// already-closed channel, so readers drain and finish instead of idling.
func (e *Emitter) Subscribe() (history []Event, events <-chan Event, cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		ch := make(chan Event)
		close(ch)
		return e.ring.Snapshot(), ch, func() {}
	}

	ch := make(chan Event, subscriberBuffer)
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch

	return e.ring.Snapshot(), ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
}

// History returns the buffered events in emission order.
func (e *Emitter) History() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.Snapshot()
}

// Close unsubscribes everyone. Further Emit calls only feed the ring.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}

// formatETA renders a duration as a compact human-readable estimate.
func formatETA(d time.Duration) string {
	if d < time.Second {
		return "under 1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
