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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// RecordWriter streams progress events as newline-delimited JSON.
//
// # Description
//
// Every record is one JSON object terminated by a single newline, flushed
// immediately when the underlying writer supports flushing, so clients see
// events as they happen rather than when the response ends.
//
// # Thread Safety
//
// Safe for concurrent use; records are written atomically.
type RecordWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewRecordWriter wraps w. If w implements http.Flusher, each record is
// flushed as it is written.
func NewRecordWriter(w io.Writer) *RecordWriter {
	rw := &RecordWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		rw.flusher = f
	}
	return rw
}

// WriteEvent writes one event as an NDJSON record.
func (rw *RecordWriter) WriteEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return rw.writeRecord(payload)
}

// WriteResult writes the terminal result record that closes a stream.
func (rw *RecordWriter) WriteResult(result any) error {
	record := struct {
		Type      EventType `json:"type"`
		Result    any       `json:"result"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Type:      TypeResult,
		Result:    result,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}
	return rw.writeRecord(payload)
}

// WriteKeepAlive writes a heartbeat record so idle streams are
// distinguishable from dead connections.
func (rw *RecordWriter) WriteKeepAlive() error {
	return rw.writeRecord([]byte(`{"type":"keepalive"}`))
}

func (rw *RecordWriter) writeRecord(payload []byte) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if _, err := rw.w.Write(payload); err != nil {
		return fmt.Errorf("write progress record: %w", err)
	}
	if _, err := rw.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("terminate progress record: %w", err)
	}
	if rw.flusher != nil {
		rw.flusher.Flush()
	}
	return nil
}
