// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
)

var (
	applyWorkspace string
	applyDryRun    bool
	applyLenient   bool
	applyBackups   bool
	applyOverwrite bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [diff-file]",
	Short: "Apply a unified diff to a workspace",
	Long: `Reads a multi-file unified diff and applies it transactionally:
every file is verified against its current content before any write, and
a per-file report is printed as JSON. Files the diff creates or deletes
are handled as create and delete operations.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyWorkspace, "workspace", "w", ".", "workspace root the diff applies inside")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "verify and patch without writing")
	applyCmd.Flags().BoolVar(&applyLenient, "lenient", false, "apply hunks by position without content verification")
	applyCmd.Flags().BoolVar(&applyBackups, "backups", false, "save prior content aside before destructive writes")
	applyCmd.Flags().BoolVar(&applyOverwrite, "overwrite", false, "let created files replace existing ones")
}

func runApply(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return apperr.Wrap(apperr.CodeValidation, fmt.Errorf("read diff %s: %w", args[0], err))
	}

	ops, err := operationsFromDiff(raw)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return apperr.New(apperr.CodeValidation, "diff contains no file changes")
	}

	root, err := filepath.Abs(applyWorkspace)
	if err != nil {
		return apperr.Wrap(apperr.CodeValidation, fmt.Errorf("resolve workspace %s: %w", applyWorkspace, err))
	}
	store, err := workspace.NewLocal(root)
	if err != nil {
		return err
	}
	scanner, err := snapshot.NewScanner(store)
	if err != nil {
		return err
	}

	proposal := datatypes.Proposal{Changes: ops}
	snaps, err := scanner.SnapshotAll(cmd.Context(), proposal.ModifiedPaths())
	if err != nil {
		return err
	}

	report, err := transaction.New(store).Apply(cmd.Context(), ops, snaps, transaction.Options{
		DryRun:        applyDryRun,
		Lenient:       applyLenient,
		CreateBackups: applyBackups,
		Overwrite:     applyOverwrite,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if report.Failed > 0 {
		return apperr.Newf(apperr.CodeConflict, "%d of %d operations failed", report.Failed, report.Failed+report.Applied)
	}
	return nil
}

// operationsFromDiff converts a multi-file unified diff into change
// operations: /dev/null origins become creates, /dev/null targets become
// deletes, everything else is a modify carrying its hunks.
func operationsFromDiff(raw []byte) ([]datatypes.ChangeOperation, error) {
	files, err := godiff.NewMultiFileDiffReader(strings.NewReader(string(raw))).ReadAllFiles()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, fmt.Errorf("parse unified diff: %w", err))
	}

	ops := make([]datatypes.ChangeOperation, 0, len(files))
	for _, fd := range files {
		origName := stripDiffPrefix(fd.OrigName)
		newName := stripDiffPrefix(fd.NewName)

		switch {
		case fd.OrigName == "/dev/null":
			ops = append(ops, datatypes.ChangeOperation{
				Kind:    datatypes.OpCreate,
				Path:    newName,
				Content: addedContent(fd.Hunks),
			})
		case fd.NewName == "/dev/null":
			ops = append(ops, datatypes.ChangeOperation{
				Kind: datatypes.OpDelete,
				Path: origName,
			})
		default:
			ops = append(ops, datatypes.ChangeOperation{
				Kind: datatypes.OpModify,
				Path: newName,
				Diff: hunkText(fd.Hunks),
			})
		}
	}
	return ops, nil
}

func stripDiffPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	return strings.TrimPrefix(name, "b/")
}

// hunkText renders hunks back to the bare @@-header form the patch
// engine consumes.
func hunkText(hunks []*godiff.Hunk) string {
	var sb strings.Builder
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
		sb.Write(h.Body)
		if len(h.Body) > 0 && h.Body[len(h.Body)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// addedContent extracts the full new-file content from a creation diff.
func addedContent(hunks []*godiff.Hunk) string {
	var sb strings.Builder
	for _, h := range hunks {
		for _, line := range strings.SplitAfter(string(h.Body), "\n") {
			if strings.HasPrefix(line, "+") {
				sb.WriteString(line[1:])
			}
		}
	}
	return sb.String()
}
