// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the change-set domain model shared by the
// producer, transaction, and gateway layers.
package datatypes

import (
	"github.com/AleutianAI/AleutianApply/pkg/apperr"
)

// OperationKind discriminates the change operation variants.
type OperationKind string

const (
	// OpModify applies a unified diff to an existing file.
	OpModify OperationKind = "modify"

	// OpCreate writes a new file with full content.
	OpCreate OperationKind = "create"

	// OpDelete removes a file. Deleting a missing file is not an error.
	OpDelete OperationKind = "delete"

	// OpMove relocates a file, carrying its content to the new path.
	OpMove OperationKind = "move"
)

// IsValid reports whether k is a recognized operation kind.
func (k OperationKind) IsValid() bool {
	switch k {
	case OpModify, OpCreate, OpDelete, OpMove:
		return true
	}
	return false
}

// ChangeOperation is a single proposed edit to the workspace.
//
// Exactly one variant is active, selected by Kind. The inactive fields are
// empty; Validate enforces the shape before any operation is applied.
type ChangeOperation struct {
	// Kind selects the variant.
	Kind OperationKind `json:"kind"`

	// Path is the target file for modify, create, and delete.
	Path string `json:"path,omitempty"`

	// Diff is the unified diff text for modify.
	Diff string `json:"diff,omitempty"`

	// Content is the full file content for create.
	Content string `json:"content,omitempty"`

	// OldPath and NewPath are the endpoints of a move.
	OldPath string `json:"old_path,omitempty"`
	NewPath string `json:"new_path,omitempty"`

	// Description is an optional human-readable note from the producer.
	Description string `json:"description,omitempty"`
}

// Target returns the path this operation writes to or removes: Path for
// modify, create, and delete; NewPath for move.
func (op ChangeOperation) Target() string {
	if op.Kind == OpMove {
		return op.NewPath
	}
	return op.Path
}

// Validate checks the variant shape. All failures classify as VALIDATION.
func (op ChangeOperation) Validate() error {
	if !op.Kind.IsValid() {
		return apperr.Newf(apperr.CodeValidation, "unknown operation kind %q", op.Kind)
	}
	switch op.Kind {
	case OpModify:
		if op.Path == "" {
			return apperr.New(apperr.CodeValidation, "modify operation requires a path")
		}
		if op.Diff == "" {
			return apperr.Newf(apperr.CodeValidation, "modify operation for %s has no diff", op.Path)
		}
	case OpCreate:
		if op.Path == "" {
			return apperr.New(apperr.CodeValidation, "create operation requires a path")
		}
	case OpDelete:
		if op.Path == "" {
			return apperr.New(apperr.CodeValidation, "delete operation requires a path")
		}
	case OpMove:
		if op.OldPath == "" || op.NewPath == "" {
			return apperr.New(apperr.CodeValidation, "move operation requires old_path and new_path")
		}
		if op.OldPath == op.NewPath {
			return apperr.Newf(apperr.CodeValidation, "move operation for %s has identical endpoints", op.OldPath)
		}
	}
	return nil
}

// Proposal is a producer's complete set of proposed changes.
type Proposal struct {
	// Summary is a short description of the change as a whole.
	Summary string `json:"summary"`

	// Changes are the operations, applied in independent per-file
	// transactions.
	Changes []ChangeOperation `json:"changes"`
}

// Validate checks every operation and rejects an empty proposal.
func (p Proposal) Validate() error {
	if len(p.Changes) == 0 {
		return apperr.New(apperr.CodeValidation, "proposal contains no changes")
	}
	for i, op := range p.Changes {
		if err := op.Validate(); err != nil {
			return apperr.Newf(apperr.CodeValidation, "change %d: %v", i, err)
		}
	}
	return nil
}

// ModifiedPaths returns the paths of existing files the proposal reads,
// for snapshotting before generation completes.
func (p Proposal) ModifiedPaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, op := range p.Changes {
		var path string
		switch op.Kind {
		case OpModify:
			path = op.Path
		case OpMove:
			path = op.OldPath
		default:
			continue
		}
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths
}
