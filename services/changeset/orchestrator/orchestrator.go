// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives change-set jobs through their lifecycle.
//
// # Description
//
// The orchestrator is thin: it sequences the phases and delegates all real
// work. A job moves through INITIALIZING (snapshot the workspace),
// GENERATING (produce a proposal, with retry and timeout), VALIDATING
// (structural checks, then transactional apply), and COMPLETING (persist
// the outcome). Failures at any phase classify through the standard
// taxonomy and land in both the progress stream and the job store.
//
// # Thread Safety
//
// Safe for concurrent use. Each job runs in its own goroutine with its
// own emitter.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
	"github.com/AleutianAI/AleutianApply/services/changeset/producer"
	"github.com/AleutianAI/AleutianApply/services/changeset/progress"
	"github.com/AleutianAI/AleutianApply/services/changeset/resilience"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
	"github.com/AleutianAI/AleutianApply/services/changeset/validate"
)

var tracer = otel.Tracer("aleutian.changeset")

// Config tunes job execution.
type Config struct {
	// ProduceTimeout bounds one producer attempt. Default 120s.
	ProduceTimeout time.Duration

	// Retry governs producer retries. Zero value uses the default policy.
	Retry resilience.RetryPolicy

	// MaxParallel bounds concurrent file operations during apply.
	MaxParallel int

	// OnFinished, when set, is called exactly once per job with its final
	// record, after the terminal state is persisted and before the job's
	// done channel closes. Used for outcome metrics.
	OnFinished func(jobstore.JobRecord)
}

// DefaultConfig returns production execution settings.
func DefaultConfig() Config {
	return Config{
		ProduceTimeout: 120 * time.Second,
		Retry:          resilience.DefaultRetryPolicy(),
		MaxParallel:    4,
	}
}

// Request describes one change-set job.
type Request struct {
	// Prompt is the natural-language change description. Required.
	Prompt string

	// Paths are the workspace files to snapshot and hand to the producer
	// as context.
	Paths []string

	// Diagnostics are compiler or linter messages to address.
	Diagnostics []string

	// DryRun verifies and patches without writing.
	DryRun bool

	// Overwrite lets create operations replace existing files.
	Overwrite bool

	// CreateBackups saves prior content aside before destructive writes.
	CreateBackups bool

	// Lenient applies hunks by position without content verification.
	Lenient bool
}

// Orchestrator sequences change-set jobs.
type Orchestrator struct {
	scanner   *snapshot.Scanner
	producer  producer.Producer
	validator *validate.ProposalValidator
	tx        *transaction.Transaction
	store     jobstore.Store
	log       *logging.Logger
	cfg       Config
	jobs      *registry
}

// New wires an Orchestrator from its collaborators.
func New(scanner *snapshot.Scanner, prod producer.Producer, validator *validate.ProposalValidator, tx *transaction.Transaction, store jobstore.Store, log *logging.Logger, cfg Config) *Orchestrator {
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = DefaultConfig().ProduceTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryPolicy()
	}
	return &Orchestrator{
		scanner:   scanner,
		producer:  prod,
		validator: validator,
		tx:        tx,
		store:     store,
		log:       log,
		cfg:       cfg,
		jobs:      newRegistry(),
	}
}

// Submit starts a job and returns immediately. The job runs detached from
// the submitting context; follow it through the job's emitter or the job
// store.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Job, error) {
	if req.Prompt == "" {
		return nil, apperr.New(apperr.CodeValidation, "request has no prompt")
	}

	job := newJob(uuid.NewString())
	record := jobstore.JobRecord{
		ID:     job.ID,
		Status: jobstore.StatusPending,
		Phase:  progress.PhaseInitializing,
		Prompt: req.Prompt,
	}
	if err := o.store.Put(ctx, record); err != nil {
		return nil, err
	}

	o.jobs.add(job)
	go o.run(job, req, record)

	o.log.Info("job submitted", "job_id", job.ID, "paths", len(req.Paths))
	return job, nil
}

// Get returns a live job by ID.
func (o *Orchestrator) Get(id string) (*Job, bool) {
	return o.jobs.get(id)
}

// Cancel requests cooperative cancellation. It reports whether a live job
// with that ID existed.
func (o *Orchestrator) Cancel(id string) bool {
	job, ok := o.jobs.get(id)
	if !ok {
		return false
	}
	job.requestCancel()
	o.log.Info("job cancel requested", "job_id", id)
	return true
}

// Record loads the persisted state of any job, live or finished.
func (o *Orchestrator) Record(ctx context.Context, id string) (jobstore.JobRecord, error) {
	return o.store.Get(ctx, id)
}

// List returns persisted job records, most recent first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]jobstore.JobRecord, error) {
	return o.store.List(ctx, limit)
}

// run executes the job lifecycle. It owns the job's record from here on.
func (o *Orchestrator) run(job *Job, req Request, record jobstore.JobRecord) {
	// LIFO: the job leaves the registry before its emitter closes, so a
	// Get+Subscribe pair never lands on a closed emitter while the job
	// still looks live.
	defer close(job.done)
	defer job.Emitter.Close()
	defer o.jobs.remove(job.ID)
	defer func() {
		if o.cfg.OnFinished != nil {
			o.cfg.OnFinished(record)
		}
	}()

	ctx, span := tracer.Start(job.ctx, "changeset.Job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.Int("job.context_paths", len(req.Paths)),
			attribute.Bool("job.dry_run", req.DryRun),
		),
	)
	defer span.End()

	log := o.log.With("job_id", job.ID)
	record.Status = jobstore.StatusRunning
	o.persist(ctx, &record, log)

	// INITIALIZING: capture the workspace state the change will be
	// verified against.
	job.Emitter.Emit(progress.PhaseInitializing, "capturing workspace snapshots",
		progress.WithPercentage(0))
	record.Phase = progress.PhaseInitializing

	snaps, err := o.scanner.SnapshotAll(ctx, req.Paths)
	if err != nil {
		o.fail(ctx, job, &record, span, log, err)
		return
	}
	if o.checkCanceled(ctx, job, &record, span, log) {
		return
	}

	// GENERATING: ask the producer for a proposal, retrying transient
	// failures with capped exponential backoff.
	job.Emitter.Emit(progress.PhaseGenerating, "generating change proposal",
		progress.WithPercentage(15))
	record.Phase = progress.PhaseGenerating
	o.persist(ctx, &record, log)

	proposal, err := o.produce(ctx, job, snaps, req)
	if err != nil {
		o.fail(ctx, job, &record, span, log, err)
		return
	}
	record.Summary = proposal.Summary
	span.SetAttributes(attribute.Int("job.changes", len(proposal.Changes)))
	if o.checkCanceled(ctx, job, &record, span, log) {
		return
	}

	// VALIDATING: structural checks, then the transactional apply.
	job.Emitter.Emit(progress.PhaseValidating, "validating proposal",
		progress.WithPercentage(60))
	record.Phase = progress.PhaseValidating
	o.persist(ctx, &record, log)

	checked, err := o.validator.Validate(ctx, proposal)
	if err != nil {
		o.fail(ctx, job, &record, span, log, err)
		return
	}
	if !checked.Valid {
		o.fail(ctx, job, &record, span, log,
			apperr.Newf(apperr.CodeValidation, "proposal rejected: %s", firstIssue(checked)))
		return
	}

	report, err := o.apply(ctx, job, proposal.Changes, snaps, req)
	if err != nil {
		o.fail(ctx, job, &record, span, log, err)
		return
	}
	record.Report = report
	if o.checkCanceled(ctx, job, &record, span, log) {
		return
	}

	// COMPLETING: persist the outcome.
	job.Emitter.Emit(progress.PhaseCompleting, "finalizing",
		progress.WithPercentage(100),
		progress.WithMetadata("applied", fmt.Sprintf("%d", report.Applied)),
		progress.WithMetadata("failed", fmt.Sprintf("%d", report.Failed)))
	record.Phase = progress.PhaseCompleting
	record.Status = jobstore.StatusSucceeded
	o.persist(ctx, &record, log)

	span.SetStatus(codes.Ok, "")
	log.Info("job completed", "applied", report.Applied, "failed", report.Failed, "dry_run", report.DryRun)
}

// produce runs the producer under retry and per-attempt timeout. Each
// scheduled retry surfaces in the progress stream.
func (o *Orchestrator) produce(ctx context.Context, job *Job, snaps map[string]snapshot.FileSnapshot, req Request) (datatypes.Proposal, error) {
	prodReq := producer.Request{
		Prompt:      req.Prompt,
		Files:       orderedSnapshots(snaps),
		Diagnostics: req.Diagnostics,
	}

	policy := o.cfg.Retry
	configured := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		if configured != nil {
			configured(attempt, delay, err)
		}
		job.Emitter.Emit(progress.PhaseGenerating,
			fmt.Sprintf("attempt %d failed, retrying in %s", attempt, delay.Round(time.Millisecond)),
			progress.WithType(progress.TypeRetry),
			progress.WithMetadata("attempt", fmt.Sprintf("%d", attempt)),
			progress.WithMetadata("error", err.Error()))
	}

	return resilience.Retry(ctx, policy, func(ctx context.Context) (datatypes.Proposal, error) {
		return resilience.WithTimeout(ctx, o.cfg.ProduceTimeout, func(ctx context.Context) (datatypes.Proposal, error) {
			return o.producer.Produce(ctx, prodReq)
		})
	})
}

// apply runs the transaction with per-file progress.
func (o *Orchestrator) apply(ctx context.Context, job *Job, changes []datatypes.ChangeOperation, snaps map[string]snapshot.FileSnapshot, req Request) (*transaction.Report, error) {
	total := len(changes)
	var completed atomic.Int64

	opts := transaction.Options{
		Overwrite:     req.Overwrite,
		DryRun:        req.DryRun,
		CreateBackups: req.CreateBackups,
		MaxParallel:   o.cfg.MaxParallel,
		Lenient:       req.Lenient,
		OnResult: func(res transaction.Result) {
			done := int(completed.Add(1))
			job.Emitter.Emit(progress.PhaseValidating,
				fmt.Sprintf("applied %d of %d changes", done, total),
				progress.WithCounts(done, total),
				progress.WithSubPhase(res.Path))
		},
	}
	return o.tx.Apply(ctx, changes, snaps, opts)
}

// fail records a terminal failure. A canceled job is recorded as canceled
// without an error event; anything else emits an ERROR event carrying the
// classified failure.
func (o *Orchestrator) fail(ctx context.Context, job *Job, record *jobstore.JobRecord, span trace.Span, log *logging.Logger, err error) {
	if job.Canceled() {
		o.markCanceled(job, record, span, log)
		return
	}

	classified := apperr.ClassifyError(err)
	span.RecordError(classified)
	span.SetStatus(codes.Error, string(classified.Code))

	job.Emitter.EmitError(classified.UserMessage,
		progress.WithMetadata("code", string(classified.Code)),
		progress.WithMetadata("retryable", fmt.Sprintf("%t", classified.Retryable)))

	record.Phase = progress.PhaseError
	record.Status = jobstore.StatusFailed
	record.Error = classified
	o.persist(context.WithoutCancel(ctx), record, log)

	log.Error("job failed", "code", classified.Code, "error", classified.Message)
}

// checkCanceled stops the lifecycle between phases when cancellation was
// requested.
func (o *Orchestrator) checkCanceled(ctx context.Context, job *Job, record *jobstore.JobRecord, span trace.Span, log *logging.Logger) bool {
	if !job.Canceled() {
		return false
	}
	o.markCanceled(job, record, span, log)
	return true
}

func (o *Orchestrator) markCanceled(job *Job, record *jobstore.JobRecord, span trace.Span, log *logging.Logger) {
	span.SetStatus(codes.Error, "canceled")
	record.Status = jobstore.StatusCanceled
	record.Error = nil
	o.persist(context.Background(), record, log)
	log.Info("job canceled")
}

// persist writes the record, logging rather than failing the job when the
// store itself is down.
func (o *Orchestrator) persist(ctx context.Context, record *jobstore.JobRecord, log *logging.Logger) {
	if err := o.store.Put(ctx, *record); err != nil {
		log.Error("persist job record", "error", err)
	}
}

func orderedSnapshots(snaps map[string]snapshot.FileSnapshot) []snapshot.FileSnapshot {
	paths := make([]string, 0, len(snaps))
	for path := range snaps {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	files := make([]snapshot.FileSnapshot, 0, len(paths))
	for _, path := range paths {
		files = append(files, snaps[path])
	}
	return files
}

func firstIssue(result *validate.Result) string {
	if len(result.Issues) == 0 {
		return "no details"
	}
	issue := result.Issues[0]
	if issue.Path != "" {
		return fmt.Sprintf("%s: %s", issue.Path, issue.Message)
	}
	return issue.Message
}
