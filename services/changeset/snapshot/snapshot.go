// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot captures workspace file state and detects staleness.
//
// # Description
//
// A snapshot records a file's path, content, and content checksum at scan
// time. The checksum guard recomputes the fingerprint of the current
// on-disk content immediately before a modification is applied; a mismatch
// means the file changed after it was analyzed and the operation must not
// proceed.
//
// Checksums are lowercase 64-character hex SHA-256 digests.
//
// # Thread Safety
//
// FileSnapshot values are immutable after creation. Scanner and Guard are
// safe for concurrent use.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
)

// FileSnapshot is a file's state captured at scan time.
//
// Snapshots are owned exclusively by the job that created them and are
// never persisted beyond it.
type FileSnapshot struct {
	// Path is the workspace-relative file path.
	Path string `json:"path"`

	// Content is the file content at scan time.
	Content string `json:"content"`

	// Checksum is the SHA-256 digest of Content, lowercase hex.
	Checksum string `json:"checksum"`
}

// Checksum computes the content fingerprint used for staleness detection.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// New creates a FileSnapshot with a computed checksum.
func New(path string, content []byte) FileSnapshot {
	return FileSnapshot{
		Path:     path,
		Content:  string(content),
		Checksum: Checksum(content),
	}
}
