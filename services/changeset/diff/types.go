// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff provides unified diff parsing for the change-set apply engine.
//
// # Description
//
// This package turns unified-diff text into structured hunks. Parsing is a
// pure, restartable function: repeated calls on the same input produce
// identical output, and malformed hunks are dropped rather than fatal.
//
// # Thread Safety
//
// Parsed structures are not safe for concurrent modification but can be
// read concurrently after creation.
package diff

import "fmt"

// =============================================================================
// Line Types
// =============================================================================

// LineType categorizes diff lines.
type LineType string

const (
	// LineContext represents unchanged context lines.
	LineContext LineType = " "

	// LineAdded represents added lines.
	LineAdded LineType = "+"

	// LineRemoved represents removed lines.
	LineRemoved LineType = "-"
)

// String returns the string representation of the line type.
func (lt LineType) String() string {
	return string(lt)
}

// =============================================================================
// Diff Line
// =============================================================================

// Line represents a single line in a diff hunk.
//
// # Description
//
// Each line tracks its type (context, added, removed), its content without
// the prefix character, and its line number in the old and new versions.
// Within a hunk, OldNum and NewNum are monotonically non-decreasing.
type Line struct {
	// Type is the line type (context, added, removed).
	Type LineType

	// Content is the line content without the prefix.
	Content string

	// OldNum is the line number in the old file (0 if added).
	OldNum int

	// NewNum is the line number in the new file (0 if removed).
	NewNum int
}

// String returns a formatted representation of the line.
func (l Line) String() string {
	return string(l.Type) + l.Content
}

// IsAddition returns true if this line was added.
func (l Line) IsAddition() bool {
	return l.Type == LineAdded
}

// IsDeletion returns true if this line was removed.
func (l Line) IsDeletion() bool {
	return l.Type == LineRemoved
}

// IsContext returns true if this line is context (unchanged).
func (l Line) IsContext() bool {
	return l.Type == LineContext
}

// =============================================================================
// Hunk
// =============================================================================

// Hunk represents a contiguous diff region anchored to old/new line numbers.
type Hunk struct {
	// OldStart is the starting line number in the old file.
	OldStart int

	// OldCount is the declared number of lines from the old file.
	OldCount int

	// NewStart is the starting line number in the new file.
	NewStart int

	// NewCount is the declared number of lines in the new file.
	NewCount int

	// Lines contains all lines in this hunk.
	Lines []Line
}

// Header returns the unified diff header for this hunk.
func (h *Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// AddedCount returns the number of added lines.
func (h *Hunk) AddedCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.IsAddition() {
			count++
		}
	}
	return count
}

// RemovedCount returns the number of removed lines.
func (h *Hunk) RemovedCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.IsDeletion() {
			count++
		}
	}
	return count
}

// OldLines returns the number of original lines this hunk consumes
// (context plus removed). The patch applier advances its cursor by this
// amount regardless of the declared OldCount.
func (h *Hunk) OldLines() int {
	count := 0
	for _, line := range h.Lines {
		if !line.IsAddition() {
			count++
		}
	}
	return count
}
