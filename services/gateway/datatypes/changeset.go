// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the gateway's wire types.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
)

const (
	// MaxPromptBytes caps the change description. Byte length, not rune
	// count, so oversized payloads are rejected before any model call.
	MaxPromptBytes = 64 * 1024

	// MaxContextPaths caps the number of files a request may name.
	MaxContextPaths = 256
)

// requestValidate holds the custom rules shared by all request types.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxPromptBytes
}

// CreateChangeSetRequest starts a change-set job.
type CreateChangeSetRequest struct {
	// Prompt is the natural-language change description.
	Prompt string `json:"prompt" binding:"required" validate:"required,maxbytes"`

	// Paths are workspace files to snapshot as producer context.
	Paths []string `json:"paths,omitempty"`

	// Diagnostics are compiler or linter messages to address.
	Diagnostics []string `json:"diagnostics,omitempty"`

	// DryRun verifies and patches without writing.
	DryRun bool `json:"dry_run,omitempty"`

	// Overwrite lets create operations replace existing files.
	Overwrite bool `json:"overwrite,omitempty"`

	// CreateBackups saves prior content aside before destructive writes.
	CreateBackups bool `json:"create_backups,omitempty"`

	// Lenient applies hunks by position without content verification.
	Lenient bool `json:"lenient,omitempty"`
}

// Validate applies the size and shape rules gin's tag binding cannot
// express.
func (r CreateChangeSetRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err)
	}
	if len(r.Paths) > MaxContextPaths {
		return apperr.Newf(apperr.CodeValidation, "too many context paths: %d (max %d)", len(r.Paths), MaxContextPaths)
	}
	return nil
}

// JobResponse is the public view of a stored job record.
type JobResponse struct {
	JobID     string              `json:"job_id"`
	Status    string              `json:"status"`
	Phase     string              `json:"phase,omitempty"`
	Prompt    string              `json:"prompt,omitempty"`
	Summary   string              `json:"summary,omitempty"`
	Report    *transaction.Report `json:"report,omitempty"`
	Error     *apperr.AppError    `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// JobFromRecord maps a stored record onto the wire shape.
func JobFromRecord(rec jobstore.JobRecord) JobResponse {
	return JobResponse{
		JobID:     rec.ID,
		Status:    string(rec.Status),
		Phase:     string(rec.Phase),
		Prompt:    rec.Prompt,
		Summary:   rec.Summary,
		Report:    rec.Report,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// ListJobsResponse wraps a job listing.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	JobID    string `json:"job_id"`
	Canceled bool   `json:"canceled"`
}

// ErrorResponse is the uniform error body for non-streaming endpoints.
type ErrorResponse struct {
	Error *apperr.AppError `json:"error"`
}
