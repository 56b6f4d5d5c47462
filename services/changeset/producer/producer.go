// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package producer turns a change request into a concrete change proposal.
package producer

import (
	"context"

	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
)

// Request describes the change the caller wants produced.
type Request struct {
	// Prompt is the natural-language change description.
	Prompt string `json:"prompt"`

	// Files are the snapshots of files relevant to the change, supplied
	// to the producer as context.
	Files []snapshot.FileSnapshot `json:"files,omitempty"`

	// Diagnostics are compiler or linter messages to address, if any.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Producer generates a change proposal for a request.
//
// Implementations are expected to return errors whose failure class is
// recoverable by the standard classifier: either AppError values or raw
// errors carrying transport detail.
type Producer interface {
	Produce(ctx context.Context, req Request) (datatypes.Proposal, error)
}
