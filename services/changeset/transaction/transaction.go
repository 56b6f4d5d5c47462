// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction applies change operations to the workspace.
//
// # Description
//
// Each operation is its own unit of work: a failure marks that operation
// failed and leaves every other operation untouched. There is no rollback;
// files already written stay written. Callers that need recovery enable
// backups, which copy the prior content aside before each destructive
// write.
//
// # Thread Safety
//
// Transaction is safe for concurrent use. Apply runs operations in
// parallel up to the configured limit; operations within one Apply call
// must target distinct files for parallel application to be meaningful.
package transaction

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/diff"
	"github.com/AleutianAI/AleutianApply/services/changeset/patch"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
)

// Status is the outcome of one operation.
type Status string

const (
	// StatusApplied means the operation completed and its effect is on disk
	// (or would be, under dry run).
	StatusApplied Status = "applied"

	// StatusFailed means the operation was rejected or errored; the target
	// file was not changed by it.
	StatusFailed Status = "failed"
)

// Result records the outcome of a single operation.
type Result struct {
	// Index is the operation's position in the submitted change list.
	Index int `json:"index"`

	// Kind and Path identify what was attempted. Path is the operation's
	// target (NewPath for moves).
	Kind datatypes.OperationKind `json:"kind"`
	Path string                  `json:"path"`

	// Status is applied or failed.
	Status Status `json:"status"`

	// Error carries the classified failure when Status is failed.
	Error *apperr.AppError `json:"error,omitempty"`

	// BackupPath is where the prior content was saved, when backups are
	// enabled and prior content existed.
	BackupPath string `json:"backup_path,omitempty"`
}

// Report aggregates the results of one Apply call.
type Report struct {
	// Results holds one entry per submitted operation, in submission order.
	Results []Result `json:"results"`

	// Applied and Failed count outcomes.
	Applied int `json:"applied"`
	Failed  int `json:"failed"`

	// DryRun records whether writes were suppressed.
	DryRun bool `json:"dry_run"`
}

// Options configures one Apply call.
type Options struct {
	// Overwrite lets create operations replace existing files.
	Overwrite bool

	// DryRun verifies and patches in memory but writes nothing.
	DryRun bool

	// CreateBackups copies prior content aside before destructive writes.
	CreateBackups bool

	// BackupSuffix is appended to the original path for backup files.
	// Defaults to ".bak".
	BackupSuffix string

	// MaxParallel bounds concurrent operations. Defaults to 4.
	MaxParallel int

	// Lenient disables content verification of removed and context lines
	// during patching, applying hunks by position alone.
	Lenient bool

	// OnResult, if set, observes each operation's result as it completes.
	// Called from worker goroutines; implementations must be safe for
	// concurrent use.
	OnResult func(Result)
}

// DefaultBackupSuffix is used when Options.BackupSuffix is empty.
const DefaultBackupSuffix = ".bak"

// DefaultMaxParallel bounds concurrency when Options.MaxParallel is zero.
const DefaultMaxParallel = 4

// Transaction applies change operations against a workspace storage.
type Transaction struct {
	store workspace.Storage
	guard *snapshot.Guard
}

// New creates a Transaction over the given storage.
func New(store workspace.Storage) *Transaction {
	return &Transaction{
		store: store,
		guard: snapshot.NewGuard(store),
	}
}

// Apply runs every operation and returns a per-operation report.
//
// # Inputs
//
//   - ctx: Cancels in-flight operations; operations already written stay
//     written.
//   - ops: The change list. Each is validated before it runs.
//   - snaps: Snapshots captured at analysis time, keyed by path. Modify
//     and move operations whose source has a snapshot are verified
//     against it before patching.
//   - opts: Apply behavior. See Options.
//
// # Outputs
//
//   - *Report: One Result per operation, in submission order. Always
//     non-nil when error is nil.
//   - error: Non-nil only for whole-call failures (context canceled before
//     completion). Per-operation failures appear in the report instead.
func (t *Transaction) Apply(ctx context.Context, ops []datatypes.ChangeOperation, snaps map[string]snapshot.FileSnapshot, opts Options) (*Report, error) {
	if opts.BackupSuffix == "" {
		opts.BackupSuffix = DefaultBackupSuffix
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}

	var mu sync.Mutex
	results := make([]Result, 0, len(ops))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxParallel)

	for i, op := range ops {
		g.Go(func() error {
			res := t.applyOne(gctx, i, op, snaps, opts)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if opts.OnResult != nil {
				opts.OnResult(res)
			}
			// Failures are isolated to their operation; never abort the
			// group.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err)
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	report := &Report{Results: results, DryRun: opts.DryRun}
	for _, r := range results {
		if r.Status == StatusApplied {
			report.Applied++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func (t *Transaction) applyOne(ctx context.Context, index int, op datatypes.ChangeOperation, snaps map[string]snapshot.FileSnapshot, opts Options) Result {
	res := Result{Index: index, Kind: op.Kind, Path: op.Target()}

	if err := op.Validate(); err != nil {
		return failed(res, err)
	}

	var backupPath string
	var err error
	switch op.Kind {
	case datatypes.OpModify:
		backupPath, err = t.applyModify(ctx, op, snaps, opts)
	case datatypes.OpCreate:
		err = t.applyCreate(ctx, op, opts)
	case datatypes.OpDelete:
		backupPath, err = t.applyDelete(ctx, op.Path, opts)
	case datatypes.OpMove:
		backupPath, err = t.applyMove(ctx, op, snaps, opts)
	}
	if err != nil {
		return failed(res, err)
	}
	res.Status = StatusApplied
	res.BackupPath = backupPath
	return res
}

// applyModify patches an existing file. When a snapshot exists for the
// path, the guard verifies it and supplies the exact content that was
// verified; otherwise the current content is read and patched as-is.
func (t *Transaction) applyModify(ctx context.Context, op datatypes.ChangeOperation, snaps map[string]snapshot.FileSnapshot, opts Options) (string, error) {
	content, err := t.sourceContent(ctx, op.Path, snaps)
	if err != nil {
		return "", err
	}

	hunks := diff.Parse(op.Diff)
	if len(hunks) == 0 {
		return "", apperr.Newf(apperr.CodeValidation, "diff for %s contains no applicable hunks", op.Path)
	}

	patched, err := patch.Apply(content, hunks, patch.Options{Lenient: opts.Lenient})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeConflict, err)
	}

	if opts.DryRun {
		return "", nil
	}
	backupPath, err := t.backup(ctx, op.Path, opts)
	if err != nil {
		return "", err
	}
	if err := t.write(ctx, op.Path, []byte(patched)); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (t *Transaction) applyCreate(ctx context.Context, op datatypes.ChangeOperation, opts Options) error {
	exists, err := t.store.Exists(ctx, op.Path)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, err)
	}
	if exists && !opts.Overwrite {
		return apperr.Newf(apperr.CodeValidation, "file %s already exists", op.Path)
	}
	if opts.DryRun {
		return nil
	}
	return t.write(ctx, op.Path, []byte(op.Content))
}

func (t *Transaction) applyDelete(ctx context.Context, path string, opts Options) (string, error) {
	if opts.DryRun {
		return "", nil
	}
	backupPath, err := t.backup(ctx, path, opts)
	if err != nil {
		return "", err
	}
	if err := t.store.Delete(ctx, path); err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err)
	}
	return backupPath, nil
}

// applyMove reads the source, writes the destination, then deletes the
// source. A crash between the two writes leaves both copies rather than
// neither.
func (t *Transaction) applyMove(ctx context.Context, op datatypes.ChangeOperation, snaps map[string]snapshot.FileSnapshot, opts Options) (string, error) {
	content, err := t.sourceContent(ctx, op.OldPath, snaps)
	if err != nil {
		return "", err
	}
	exists, err := t.store.Exists(ctx, op.NewPath)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err)
	}
	if exists && !opts.Overwrite {
		return "", apperr.Newf(apperr.CodeValidation, "move destination %s already exists", op.NewPath)
	}
	if opts.DryRun {
		return "", nil
	}
	if err := t.write(ctx, op.NewPath, []byte(content)); err != nil {
		return "", err
	}
	backupPath, err := t.backup(ctx, op.OldPath, opts)
	if err != nil {
		return "", err
	}
	if err := t.store.Delete(ctx, op.OldPath); err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err)
	}
	return backupPath, nil
}

// sourceContent returns the content to patch or move. A snapshot for the
// path routes through the guard so staleness surfaces as CONFLICT.
func (t *Transaction) sourceContent(ctx context.Context, path string, snaps map[string]snapshot.FileSnapshot) (string, error) {
	if snap, ok := snaps[path]; ok {
		return t.guard.Verify(ctx, snap)
	}
	raw, err := t.store.Read(ctx, path)
	if err != nil {
		if workspace.IsNotFound(err) {
			return "", apperr.Newf(apperr.CodeValidation, "file %s does not exist", path)
		}
		return "", apperr.Wrap(apperr.CodeStorage, err)
	}
	return string(raw), nil
}

// backup copies the current content aside when backups are enabled.
// Missing files need no backup.
func (t *Transaction) backup(ctx context.Context, path string, opts Options) (string, error) {
	if !opts.CreateBackups {
		return "", nil
	}
	raw, err := t.store.Read(ctx, path)
	if err != nil {
		if workspace.IsNotFound(err) {
			return "", nil
		}
		return "", apperr.Wrap(apperr.CodeStorage, err)
	}
	backupPath := path + opts.BackupSuffix
	if err := t.write(ctx, backupPath, raw); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (t *Transaction) write(ctx context.Context, path string, content []byte) error {
	if err := t.store.Write(ctx, path, content); err != nil {
		return apperr.Wrap(apperr.CodeStorage, err)
	}
	return nil
}

func failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Error = apperr.Wrap(apperr.CodeInternal, err)
	return res
}
