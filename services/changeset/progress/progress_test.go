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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRing_FillsThenEvictsOldest(t *testing.T) {
	ring := NewRing(3)
	for i := 0; i < 5; i++ {
		ring.Append(Event{Message: fmt.Sprintf("event-%d", i)})
	}
	if ring.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ring.Len())
	}
	snap := ring.Snapshot()
	want := []string{"event-2", "event-3", "event-4"}
	for i, msg := range want {
		if snap[i].Message != msg {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Message, msg)
		}
	}
}

func TestRing_PartialFill(t *testing.T) {
	ring := NewRing(10)
	ring.Append(Event{Message: "only"})
	if ring.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ring.Len())
	}
	snap := ring.Snapshot()
	if len(snap) != 1 || snap[0].Message != "only" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEmitter_EventShape(t *testing.T) {
	e := NewEmitter()
	event := e.Emit(PhaseGenerating, "calling model",
		WithPercentage(40),
		WithSubPhase("attempt 1"),
		WithMetadata("model", "gpt-4o"),
	)

	if event.ID == "" {
		t.Error("event has no ID")
	}
	if event.Type != TypeProgress {
		t.Errorf("Type = %s, want progress", event.Type)
	}
	if event.Phase != PhaseGenerating {
		t.Errorf("Phase = %s, want GENERATING", event.Phase)
	}
	if event.Percentage != 40 {
		t.Errorf("Percentage = %v, want 40", event.Percentage)
	}
	if event.Details == nil || event.Details.SubPhase != "attempt 1" {
		t.Errorf("Details = %+v", event.Details)
	}
	if event.Metadata["model"] != "gpt-4o" {
		t.Errorf("Metadata = %v", event.Metadata)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestEmitter_PercentageDefaultsUnknown(t *testing.T) {
	e := NewEmitter()
	event := e.Emit(PhaseInitializing, "starting")
	if event.Percentage != -1 {
		t.Errorf("Percentage = %v, want -1 for unknown", event.Percentage)
	}
}

func TestEmitter_ETAFromPhaseElapsed(t *testing.T) {
	e := NewEmitter()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	// Phase starts at base.
	e.Emit(PhaseValidating, "applying changes", WithCounts(0, 4))

	// 10 seconds later, 2 of 4 done: 5s/unit, 2 left, ETA 10s.
	current = base.Add(10 * time.Second)
	event := e.Emit(PhaseValidating, "applying changes", WithCounts(2, 4))
	if event.Details.EstimatedTimeRemaining != "10s" {
		t.Errorf("ETA = %q, want 10s", event.Details.EstimatedTimeRemaining)
	}
}

func TestEmitter_PhaseChangeResetsETABaseline(t *testing.T) {
	e := NewEmitter()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	e.Emit(PhaseGenerating, "long phase")
	current = base.Add(time.Hour)

	// New phase starts now; one second in it, 1 of 3 done: ETA 2s, not
	// hours.
	e.Emit(PhaseValidating, "fresh phase")
	current = base.Add(time.Hour + time.Second)
	event := e.Emit(PhaseValidating, "fresh phase", WithCounts(1, 3))
	if event.Details.EstimatedTimeRemaining != "2s" {
		t.Errorf("ETA = %q, want 2s", event.Details.EstimatedTimeRemaining)
	}
}

func TestEmitter_NoETAWithoutCounts(t *testing.T) {
	e := NewEmitter()
	event := e.Emit(PhaseAnalyzing, "scanning")
	if event.Details != nil && event.Details.EstimatedTimeRemaining != "" {
		t.Errorf("unexpected ETA: %+v", event.Details)
	}
	done := e.Emit(PhaseAnalyzing, "scanning", WithCounts(3, 3))
	if done.Details.EstimatedTimeRemaining != "" {
		t.Errorf("ETA computed for completed counts: %q", done.Details.EstimatedTimeRemaining)
	}
}

func TestEmitter_SubscribeReceivesHistoryAndLive(t *testing.T) {
	e := NewEmitter()
	e.Emit(PhaseInitializing, "before subscribe")

	history, events, cancel := e.Subscribe()
	defer cancel()

	if len(history) != 1 || history[0].Message != "before subscribe" {
		t.Fatalf("history = %+v", history)
	}

	e.Emit(PhaseAnalyzing, "after subscribe")
	select {
	case event := <-events:
		if event.Message != "after subscribe" {
			t.Errorf("live event = %q", event.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no live event delivered")
	}
}

func TestEmitter_CancelClosesChannel(t *testing.T) {
	e := NewEmitter()
	_, events, cancel := e.Subscribe()
	cancel()
	// Cancel twice must not panic.
	cancel()

	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}

	// Emitting after cancel must not panic.
	e.Emit(PhaseCompleting, "done")
}

func TestEmitter_SubscribeAfterCloseDrainsAndFinishes(t *testing.T) {
	e := NewEmitter()
	e.Emit(PhaseGenerating, "working")
	e.Emit(PhaseCompleting, "done")
	e.Close()

	history, events, cancel := e.Subscribe()
	defer cancel()

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("received a live event from a closed emitter")
		}
	case <-time.After(time.Second):
		t.Fatal("channel from a closed emitter never closed")
	}

	// Cancel on a post-close subscription must not panic.
	cancel()
}

func TestEmitter_SlowSubscriberDoesNotBlock(t *testing.T) {
	e := NewEmitterWithCapacity(512)
	_, _, cancel := e.Subscribe()
	defer cancel()

	// Never read from the channel; emission must still complete promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			e.Emit(PhaseGenerating, "flood")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emission blocked on a slow subscriber")
	}
}

func TestRecordWriter_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)

	e := NewEmitter()
	if err := w.WriteEvent(e.Emit(PhaseInitializing, "starting", WithPercentage(0))); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteKeepAlive(); err != nil {
		t.Fatalf("WriteKeepAlive: %v", err)
	}
	if err := w.WriteResult(map[string]int{"applied": 2}); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Error("stream does not end with newline")
	}

	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("got %d records, want 3", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first record is not valid JSON: %v", err)
	}
	if first.Phase != PhaseInitializing {
		t.Errorf("first record phase = %s", first.Phase)
	}

	var keepalive map[string]string
	if err := json.Unmarshal([]byte(lines[1]), &keepalive); err != nil {
		t.Fatalf("keepalive record invalid: %v", err)
	}
	if keepalive["type"] != "keepalive" {
		t.Errorf("keepalive type = %q", keepalive["type"])
	}

	var result struct {
		Type   EventType      `json:"type"`
		Result map[string]int `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &result); err != nil {
		t.Fatalf("result record invalid: %v", err)
	}
	if result.Type != TypeResult || result.Result["applied"] != 2 {
		t.Errorf("result record = %+v", result)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "under 1s"},
		{9 * time.Second, "9s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := formatETA(tt.d); got != tt.want {
			t.Errorf("formatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
