// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch reconstructs file content from parsed diff hunks.
//
// # Description
//
// The applier walks the original line sequence: for each hunk it copies
// original lines verbatim up to the hunk's declared start, then emits added
// lines, skips removed lines, and copies context lines. After the last hunk
// the remaining original lines are copied verbatim.
//
// By default the applier verifies that removed and context lines match the
// original content at their position. A hunk whose anchor text drifted since
// the diff was generated fails with a conflict instead of silently applying
// to the wrong location. Strict verification can be disabled for callers
// that re-validate downstream.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianApply/services/changeset/diff"
)

// ErrConflict is the sentinel for all patch application conflicts.
// Use errors.Is(err, ErrConflict) to detect them.
var ErrConflict = errors.New("patch conflict")

// ConflictError describes why a hunk could not be applied.
type ConflictError struct {
	// HunkIndex is the zero-based index of the failing hunk.
	HunkIndex int

	// Line is the 1-based original line number where the conflict occurred.
	Line int

	// Reason is a short technical description.
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("patch conflict in hunk %d at line %d: %s", e.HunkIndex, e.Line, e.Reason)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Options configures patch application.
type Options struct {
	// Lenient disables content verification of removed and context lines,
	// restoring position-only application.
	Lenient bool
}

// Apply reconstructs new content from original content and parsed hunks.
//
// # Inputs
//
//   - original: The original file content.
//   - hunks: Parsed hunks in order, as produced by diff.Parse.
//   - opts: Application options.
//
// # Outputs
//
//   - string: The reconstructed content.
//   - error: A *ConflictError (matching ErrConflict) when a hunk's declared
//     start exceeds the remaining line count, hunks overlap, or (unless
//     Lenient) anchor text does not match the original.
func Apply(original string, hunks []diff.Hunk, opts Options) (string, error) {
	lines := strings.Split(original, "\n")
	out := make([]string, 0, len(lines))
	cursor := 0 // index into lines, 0-based

	for i, hunk := range hunks {
		start := hunk.OldStart - 1
		if start < 0 {
			start = 0
		}

		if start > len(lines) {
			return "", &ConflictError{
				HunkIndex: i,
				Line:      hunk.OldStart,
				Reason:    fmt.Sprintf("hunk start exceeds file length %d", len(lines)),
			}
		}
		if start < cursor {
			return "", &ConflictError{
				HunkIndex: i,
				Line:      hunk.OldStart,
				Reason:    "hunk overlaps previously applied hunk",
			}
		}

		// Copy original lines verbatim up to the hunk start.
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, line := range hunk.Lines {
			switch {
			case line.IsAddition():
				out = append(out, line.Content)

			case line.IsDeletion():
				if cursor >= len(lines) {
					return "", &ConflictError{
						HunkIndex: i,
						Line:      cursor + 1,
						Reason:    "hunk consumes lines beyond end of file",
					}
				}
				if !opts.Lenient && lines[cursor] != line.Content {
					return "", &ConflictError{
						HunkIndex: i,
						Line:      cursor + 1,
						Reason:    fmt.Sprintf("removed line mismatch: have %q, diff expects %q", lines[cursor], line.Content),
					}
				}
				cursor++

			default: // context
				if cursor >= len(lines) {
					return "", &ConflictError{
						HunkIndex: i,
						Line:      cursor + 1,
						Reason:    "hunk consumes lines beyond end of file",
					}
				}
				if !opts.Lenient && lines[cursor] != line.Content {
					return "", &ConflictError{
						HunkIndex: i,
						Line:      cursor + 1,
						Reason:    fmt.Sprintf("context line mismatch: have %q, diff expects %q", lines[cursor], line.Content),
					}
				}
				out = append(out, lines[cursor])
				cursor++
			}
		}
	}

	// Copy any remaining original lines verbatim.
	out = append(out, lines[cursor:]...)

	return strings.Join(out, "\n"), nil
}
