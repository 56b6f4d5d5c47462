// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// hunkHeaderPattern matches "@@ -oldStart[,oldLen] +newStart[,newLen] @@".
// Trailing section text after the closing @@ is tolerated.
var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse turns unified-diff text into an ordered sequence of hunks.
//
// # Description
//
// Old/new file header lines (---, +++) are skipped. A parseable hunk header
// starts a new hunk and resets the running old/new line counters to the
// declared starts. A line beginning with "@@" that fails to parse terminates
// the current hunk without starting a new one: the malformed hunk is
// dropped, not fatal. Inside a hunk, added lines consume only the new
// counter, removed lines only the old counter, and context lines both.
//
// # Inputs
//
//   - text: Unified diff text, with or without file headers.
//
// # Outputs
//
//   - []Hunk: Parsed hunks in input order. Never nil.
//
// Parse is pure and restartable: equal inputs produce equal outputs.
func Parse(text string) []Hunk {
	hunks := make([]Hunk, 0, 4)

	var current *Hunk
	oldNum, newNum := 0, 0

	lines := strings.Split(text, "\n")
	// A trailing newline produces an empty final element that is an artifact
	// of splitting, not an empty context line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	for _, raw := range lines {
		// File headers are not hunk content.
		if strings.HasPrefix(raw, "--- ") || strings.HasPrefix(raw, "+++ ") {
			continue
		}

		if strings.HasPrefix(raw, "@@") {
			m := hunkHeaderPattern.FindStringSubmatch(raw)
			if m == nil {
				// Malformed header: close the current hunk and drop
				// everything until the next valid header.
				current = nil
				continue
			}
			oldStart := mustAtoi(m[1])
			oldCount := atoiDefault(m[2], 1)
			newStart := mustAtoi(m[3])
			newCount := atoiDefault(m[4], 1)

			hunks = append(hunks, Hunk{
				OldStart: oldStart,
				OldCount: oldCount,
				NewStart: newStart,
				NewCount: newCount,
			})
			current = &hunks[len(hunks)-1]
			oldNum = oldStart
			newNum = newStart
			continue
		}

		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(raw, "+"):
			current.Lines = append(current.Lines, Line{
				Type:    LineAdded,
				Content: raw[1:],
				NewNum:  newNum,
			})
			newNum++
		case strings.HasPrefix(raw, "-"):
			current.Lines = append(current.Lines, Line{
				Type:    LineRemoved,
				Content: raw[1:],
				OldNum:  oldNum,
			})
			oldNum++
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file" markers carry no content.
			continue
		default:
			content := raw
			if strings.HasPrefix(raw, " ") {
				content = raw[1:]
			}
			current.Lines = append(current.Lines, Line{
				Type:    LineContext,
				Content: content,
				OldNum:  oldNum,
				NewNum:  newNum,
			})
			oldNum++
			newNum++
		}
	}

	return hunks
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
