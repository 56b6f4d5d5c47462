// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate checks producer proposals before they are applied.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
)

// ValidatorConfig bounds what a proposal may contain.
type ValidatorConfig struct {
	// MaxDiffLines caps the line count of a single modify diff.
	MaxDiffLines int

	// MaxFileBytes caps the content size of a single create.
	MaxFileBytes int

	// MaxChanges caps the operation count of one proposal.
	MaxChanges int
}

// DefaultValidatorConfig returns the production limits.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxDiffLines: 2000,
		MaxFileBytes: 1 << 20,
		MaxChanges:   100,
	}
}

// Issue is one validation finding.
type Issue struct {
	// Index is the offending change's position, or -1 for proposal-level
	// findings.
	Index int `json:"index"`

	// Path is the change's target, when known.
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Stats summarizes the proposal's footprint.
type Stats struct {
	FilesAffected int `json:"files_affected"`
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
}

// Result is the outcome of validating one proposal.
type Result struct {
	// Valid is true when no issues were found.
	Valid bool `json:"valid"`

	// Issues lists every finding; empty when valid.
	Issues []Issue `json:"issues,omitempty"`

	// Stats summarizes the proposal regardless of validity.
	Stats Stats `json:"stats"`

	// ValidatedAt timestamps the check.
	ValidatedAt time.Time `json:"validated_at"`
}

// ProposalValidator runs structural checks over a proposal: variant shape,
// size limits, and unified-diff well-formedness.
//
// # Thread Safety
//
// Safe for concurrent use; the validator keeps no per-call state.
type ProposalValidator struct {
	config ValidatorConfig
}

// NewProposalValidator creates a validator with the given limits. Zero
// limits fall back to defaults.
func NewProposalValidator(config ValidatorConfig) *ProposalValidator {
	defaults := DefaultValidatorConfig()
	if config.MaxDiffLines <= 0 {
		config.MaxDiffLines = defaults.MaxDiffLines
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = defaults.MaxFileBytes
	}
	if config.MaxChanges <= 0 {
		config.MaxChanges = defaults.MaxChanges
	}
	return &ProposalValidator{config: config}
}

// Validate inspects every change in the proposal.
//
// Findings land in the Result; the error return is reserved for pipeline
// failures such as context cancellation.
func (v *ProposalValidator) Validate(ctx context.Context, proposal datatypes.Proposal) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Valid: true, ValidatedAt: time.Now()}
	affected := make(map[string]bool)

	if len(proposal.Changes) == 0 {
		v.flag(result, -1, "", "proposal contains no changes")
		return result, nil
	}
	if len(proposal.Changes) > v.config.MaxChanges {
		v.flag(result, -1, "", fmt.Sprintf("proposal has %d changes (max %d)", len(proposal.Changes), v.config.MaxChanges))
	}

	for i, op := range proposal.Changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := op.Validate(); err != nil {
			v.flag(result, i, op.Target(), err.Error())
			continue
		}
		affected[op.Target()] = true

		switch op.Kind {
		case datatypes.OpModify:
			v.checkDiff(result, i, op)
		case datatypes.OpCreate:
			if len(op.Content) > v.config.MaxFileBytes {
				v.flag(result, i, op.Path, fmt.Sprintf("file content is %d bytes (max %d)", len(op.Content), v.config.MaxFileBytes))
			}
		}
	}

	result.Stats.FilesAffected = len(affected)
	return result, nil
}

// checkDiff verifies a modify diff parses as a well-formed unified diff
// and accumulates line stats.
func (v *ProposalValidator) checkDiff(result *Result, index int, op datatypes.ChangeOperation) {
	if lines := strings.Count(op.Diff, "\n"); lines > v.config.MaxDiffLines {
		v.flag(result, index, op.Path, fmt.Sprintf("diff is %d lines (max %d)", lines, v.config.MaxDiffLines))
		return
	}

	fileDiffs, err := godiff.NewMultiFileDiffReader(strings.NewReader(withHeaders(op))).ReadAllFiles()
	if err != nil {
		v.flag(result, index, op.Path, fmt.Sprintf("malformed diff: %v", err))
		return
	}

	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					result.Stats.LinesAdded++
				case strings.HasPrefix(line, "-"):
					result.Stats.LinesRemoved++
				}
			}
		}
	}
}

// withHeaders prepends file headers when the producer emitted bare hunks,
// which the multi-file reader rejects.
func withHeaders(op datatypes.ChangeOperation) string {
	if strings.HasPrefix(op.Diff, "--- ") || strings.HasPrefix(op.Diff, "diff ") {
		return op.Diff
	}
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", op.Path, op.Path, op.Diff)
}

func (v *ProposalValidator) flag(result *Result, index int, path, message string) {
	result.Valid = false
	result.Issues = append(result.Issues, Issue{Index: index, Path: path, Message: message})
}
