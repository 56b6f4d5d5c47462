// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianApply/services/changeset/progress"
)

// Job is a running or recently finished change-set job.
//
// The job's context is detached from the submitting request so a dropped
// HTTP connection does not abort the work; cancellation happens only
// through Cancel.
type Job struct {
	// ID is the job's UUID.
	ID string

	// Emitter streams the job's progress events.
	Emitter *progress.Emitter

	ctx      context.Context
	cancel   context.CancelFunc
	canceled atomic.Bool
	done     chan struct{}
}

func newJob(id string) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:      id,
		Emitter: progress.NewEmitter(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed when the job has finished, whatever the outcome.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Canceled reports whether Cancel was requested.
func (j *Job) Canceled() bool {
	return j.canceled.Load()
}

// requestCancel flips the canceled flag and cancels the job context.
// Cancellation is cooperative: in-flight file writes finish, and the
// runner stops at its next checkpoint.
func (j *Job) requestCancel() {
	j.canceled.Store(true)
	j.cancel()
}

// registry tracks jobs by ID so streams and cancels can find them after
// submission.
type registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*Job)}
}

func (r *registry) add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *registry) get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}
