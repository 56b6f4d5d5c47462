// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
)

func TestValidate_WellFormedProposal(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{})
	proposal := datatypes.Proposal{
		Summary: "rename variable",
		Changes: []datatypes.ChangeOperation{
			{
				Kind: datatypes.OpModify,
				Path: "main.go",
				Diff: "@@ -1,3 +1,3 @@\n package main\n-var old int\n+var renamed int\n func main() {}\n",
			},
			{Kind: datatypes.OpCreate, Path: "new.go", Content: "package main\n"},
		},
	}

	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("valid proposal flagged: %+v", result.Issues)
	}
	if result.Stats.FilesAffected != 2 {
		t.Errorf("FilesAffected = %d, want 2", result.Stats.FilesAffected)
	}
	if result.Stats.LinesAdded != 1 || result.Stats.LinesRemoved != 1 {
		t.Errorf("stats = %+v, want 1 added 1 removed", result.Stats)
	}
}

func TestValidate_EmptyProposal(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{})
	result, err := v.Validate(context.Background(), datatypes.Proposal{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("empty proposal passed validation")
	}
}

func TestValidate_MalformedDiff(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{})
	proposal := datatypes.Proposal{
		Changes: []datatypes.ChangeOperation{{
			Kind: datatypes.OpModify,
			Path: "a.go",
			Diff: "this is not a diff at all\n",
		}},
	}
	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("malformed diff passed validation")
	}
	if len(result.Issues) != 1 || result.Issues[0].Path != "a.go" {
		t.Errorf("issues = %+v", result.Issues)
	}
}

func TestValidate_DiffSizeCap(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{MaxDiffLines: 5})
	var b strings.Builder
	b.WriteString("@@ -1,10 +1,10 @@\n")
	for i := 0; i < 10; i++ {
		b.WriteString(" context line\n")
	}
	proposal := datatypes.Proposal{
		Changes: []datatypes.ChangeOperation{{Kind: datatypes.OpModify, Path: "big.go", Diff: b.String()}},
	}
	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("oversized diff passed validation")
	}
}

func TestValidate_CreateSizeCap(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{MaxFileBytes: 10})
	proposal := datatypes.Proposal{
		Changes: []datatypes.ChangeOperation{{
			Kind:    datatypes.OpCreate,
			Path:    "big.bin",
			Content: strings.Repeat("x", 11),
		}},
	}
	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("oversized create passed validation")
	}
}

func TestValidate_TooManyChanges(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{MaxChanges: 2})
	proposal := datatypes.Proposal{
		Changes: []datatypes.ChangeOperation{
			{Kind: datatypes.OpDelete, Path: "a"},
			{Kind: datatypes.OpDelete, Path: "b"},
			{Kind: datatypes.OpDelete, Path: "c"},
		},
	}
	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("over-limit proposal passed validation")
	}
}

func TestValidate_InvalidOperationShape(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{})
	proposal := datatypes.Proposal{
		Changes: []datatypes.ChangeOperation{{Kind: datatypes.OpModify, Path: "a.go"}},
	}
	result, err := v.Validate(context.Background(), proposal)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("shapeless modify passed validation")
	}
}

func TestValidate_CanceledContext(t *testing.T) {
	v := NewProposalValidator(ValidatorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Validate(ctx, datatypes.Proposal{}); err == nil {
		t.Error("expected context error")
	}
}
