// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
)

func newTestTransaction(t *testing.T) (*Transaction, *workspace.Local) {
	t.Helper()
	store, err := workspace.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return New(store), store
}

func snapsFor(ctx context.Context, t *testing.T, store workspace.Storage, paths ...string) map[string]snapshot.FileSnapshot {
	t.Helper()
	snaps := make(map[string]snapshot.FileSnapshot, len(paths))
	for _, path := range paths {
		content, err := store.Read(ctx, path)
		if err != nil {
			t.Fatalf("Read %s: %v", path, err)
		}
		snaps[path] = snapshot.New(path, content)
	}
	return snaps
}

func TestApply_ModifyRoundTrip(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "main.go", []byte("line1\ncontext\nold\nline4")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snaps := snapsFor(ctx, t, store, "main.go")

	ops := []datatypes.ChangeOperation{{
		Kind: datatypes.OpModify,
		Path: "main.go",
		Diff: "@@ -2,2 +2,3 @@\n context\n-old\n+new1\n+new2\n",
	}}

	report, err := tx.Apply(ctx, ops, snaps, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 1 || report.Failed != 0 {
		t.Fatalf("report = %d applied, %d failed; want 1/0", report.Applied, report.Failed)
	}

	got, err := store.Read(ctx, "main.go")
	if err != nil {
		t.Fatalf("Read result: %v", err)
	}
	want := "line1\ncontext\nnew1\nnew2\nline4"
	if string(got) != want {
		t.Errorf("patched content = %q, want %q", got, want)
	}
}

func TestApply_FailureIsolation(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "good.txt", []byte("alpha\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "bad.txt", []byte("unexpected content\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ops := []datatypes.ChangeOperation{
		{Kind: datatypes.OpModify, Path: "good.txt", Diff: "@@ -1 +1 @@\n-alpha\n+beta\n"},
		{Kind: datatypes.OpModify, Path: "bad.txt", Diff: "@@ -1 +1 @@\n-something else\n+gamma\n"},
	}

	report, err := tx.Apply(ctx, ops, nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 1 || report.Failed != 1 {
		t.Fatalf("report = %d applied, %d failed; want 1/1", report.Applied, report.Failed)
	}
	if report.Results[0].Status != StatusApplied {
		t.Errorf("good.txt status = %s, want applied", report.Results[0].Status)
	}
	if report.Results[1].Status != StatusFailed {
		t.Errorf("bad.txt status = %s, want failed", report.Results[1].Status)
	}
	if report.Results[1].Error == nil || report.Results[1].Error.Code != apperr.CodeConflict {
		t.Errorf("bad.txt error = %v, want CONFLICT", report.Results[1].Error)
	}

	// The failed file is untouched; the good file is patched.
	good, _ := store.Read(ctx, "good.txt")
	if string(good) != "beta\n" {
		t.Errorf("good.txt = %q, want beta", good)
	}
	bad, _ := store.Read(ctx, "bad.txt")
	if string(bad) != "unexpected content\n" {
		t.Errorf("bad.txt was modified: %q", bad)
	}
}

func TestApply_StaleSnapshotConflicts(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "file.txt", []byte("original\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snaps := snapsFor(ctx, t, store, "file.txt")

	// Change the file after snapshotting.
	if err := store.Write(ctx, "file.txt", []byte("changed underneath\n")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	ops := []datatypes.ChangeOperation{{
		Kind: datatypes.OpModify,
		Path: "file.txt",
		Diff: "@@ -1 +1 @@\n-original\n+patched\n",
	}}
	report, err := tx.Apply(ctx, ops, snaps, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("want staleness failure, got report %+v", report)
	}
	if report.Results[0].Error.Code != apperr.CodeConflict {
		t.Errorf("error code = %s, want CONFLICT", report.Results[0].Error.Code)
	}
	got, _ := store.Read(ctx, "file.txt")
	if string(got) != "changed underneath\n" {
		t.Errorf("stale file was modified: %q", got)
	}
}

func TestApply_CreateRefusesOverwrite(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "exists.txt", []byte("keep me\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ops := []datatypes.ChangeOperation{{Kind: datatypes.OpCreate, Path: "exists.txt", Content: "clobber"}}
	report, err := tx.Apply(ctx, ops, nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("create over existing file did not fail: %+v", report)
	}
	if report.Results[0].Error.Code != apperr.CodeValidation {
		t.Errorf("error code = %s, want VALIDATION", report.Results[0].Error.Code)
	}

	report, err = tx.Apply(ctx, ops, nil, Options{Overwrite: true})
	if err != nil {
		t.Fatalf("Apply with overwrite: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("overwrite-enabled create failed: %+v", report)
	}
	got, _ := store.Read(ctx, "exists.txt")
	if string(got) != "clobber" {
		t.Errorf("content = %q, want clobber", got)
	}
}

func TestApply_DeleteIdempotent(t *testing.T) {
	tx, _ := newTestTransaction(t)
	ctx := context.Background()

	ops := []datatypes.ChangeOperation{{Kind: datatypes.OpDelete, Path: "never-existed.txt"}}
	report, err := tx.Apply(ctx, ops, nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 1 {
		t.Errorf("deleting a missing file should succeed: %+v", report)
	}
}

func TestApply_Move(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "old/name.go", []byte("package name\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ops := []datatypes.ChangeOperation{{Kind: datatypes.OpMove, OldPath: "old/name.go", NewPath: "new/name.go"}}
	report, err := tx.Apply(ctx, ops, nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("move failed: %+v", report)
	}

	moved, err := store.Read(ctx, "new/name.go")
	if err != nil {
		t.Fatalf("Read destination: %v", err)
	}
	if string(moved) != "package name\n" {
		t.Errorf("moved content = %q", moved)
	}
	if exists, _ := store.Exists(ctx, "old/name.go"); exists {
		t.Error("source still exists after move")
	}
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "a.txt", []byte("alpha\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ops := []datatypes.ChangeOperation{
		{Kind: datatypes.OpModify, Path: "a.txt", Diff: "@@ -1 +1 @@\n-alpha\n+beta\n"},
		{Kind: datatypes.OpCreate, Path: "b.txt", Content: "new"},
		{Kind: datatypes.OpDelete, Path: "a.txt"},
	}
	report, err := tx.Apply(ctx, ops, nil, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 3 {
		t.Fatalf("dry run report: %+v", report)
	}
	if !report.DryRun {
		t.Error("report does not record dry run")
	}

	got, _ := store.Read(ctx, "a.txt")
	if string(got) != "alpha\n" {
		t.Errorf("dry run modified a.txt: %q", got)
	}
	if exists, _ := store.Exists(ctx, "b.txt"); exists {
		t.Error("dry run created b.txt")
	}
}

func TestApply_BackupBeforeModify(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "a.txt", []byte("alpha\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ops := []datatypes.ChangeOperation{{
		Kind: datatypes.OpModify, Path: "a.txt", Diff: "@@ -1 +1 @@\n-alpha\n+beta\n",
	}}
	report, err := tx.Apply(ctx, ops, nil, Options{CreateBackups: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Results[0].BackupPath != "a.txt.bak" {
		t.Fatalf("BackupPath = %q, want a.txt.bak", report.Results[0].BackupPath)
	}
	backup, err := store.Read(ctx, "a.txt.bak")
	if err != nil {
		t.Fatalf("Read backup: %v", err)
	}
	if string(backup) != "alpha\n" {
		t.Errorf("backup content = %q, want original", backup)
	}
}

func TestApply_ParallelDisjointFiles(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	if err := store.Write(ctx, "one.txt", []byte("first\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "two.txt", []byte("second\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snaps := snapsFor(ctx, t, store, "one.txt", "two.txt")

	ops := []datatypes.ChangeOperation{
		{Kind: datatypes.OpModify, Path: "one.txt", Diff: "@@ -1 +1 @@\n-first\n+FIRST\n"},
		{Kind: datatypes.OpModify, Path: "two.txt", Diff: "@@ -1 +1 @@\n-second\n+SECOND\n"},
	}
	report, err := tx.Apply(ctx, ops, snaps, Options{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Applied != 2 {
		t.Fatalf("report: %+v", report)
	}

	one, _ := store.Read(ctx, "one.txt")
	two, _ := store.Read(ctx, "two.txt")
	if string(one) != "FIRST\n" || string(two) != "SECOND\n" {
		t.Errorf("contents = %q, %q", one, two)
	}
}

func TestApply_InvalidOperationFails(t *testing.T) {
	tx, _ := newTestTransaction(t)
	ctx := context.Background()

	ops := []datatypes.ChangeOperation{{Kind: datatypes.OpModify, Path: "a.txt"}}
	report, err := tx.Apply(ctx, ops, nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("invalid operation did not fail: %+v", report)
	}
	if report.Results[0].Error.Code != apperr.CodeValidation {
		t.Errorf("error code = %s, want VALIDATION", report.Results[0].Error.Code)
	}
}
