// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
//
// # Description
//
// The create endpoint streams job progress as newline-delimited JSON
// until the job reaches a terminal state; the remaining endpoints are
// plain request/response over the job store. A dropped client never
// aborts a running job, because jobs execute on a detached context.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
	"github.com/AleutianAI/AleutianApply/services/changeset/orchestrator"
	"github.com/AleutianAI/AleutianApply/services/changeset/progress"
	"github.com/AleutianAI/AleutianApply/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianApply/services/gateway/observability"
)

const (
	// keepAliveInterval keeps intermediaries from closing quiet streams.
	// 15s stays well under typical LB idle timeouts.
	keepAliveInterval = 15 * time.Second

	// defaultListLimit bounds GET /v1/jobs when no limit is given.
	defaultListLimit = 50
)

// Deps carries the collaborators shared by all handlers.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.JobMetrics
	Log          *logging.Logger
}

// writeError sends the uniform error body with the class's HTTP status.
func writeError(c *gin.Context, err error) {
	appErr := apperr.ClassifyError(err)
	c.JSON(appErr.StatusCode, datatypes.ErrorResponse{Error: appErr})
}

// CreateChangeSet starts a job and streams its progress as NDJSON.
//
// # Description
//
// The response body is one JSON record per line: progress, retry, and
// error events as the job emits them, then a final result record with
// the stored job outcome. Keep-alive records are interleaved while the
// job is quiet. If the client disconnects the handler returns but the
// job keeps running; its outcome stays queryable via GET /v1/jobs/:jobId.
func CreateChangeSet(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateChangeSetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperr.Wrap(apperr.CodeValidation, err))
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, err)
			return
		}

		job, err := deps.Orchestrator.Submit(c.Request.Context(), orchestrator.Request{
			Prompt:        req.Prompt,
			Paths:         req.Paths,
			Diagnostics:   req.Diagnostics,
			DryRun:        req.DryRun,
			Overwrite:     req.Overwrite,
			CreateBackups: req.CreateBackups,
			Lenient:       req.Lenient,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		log := deps.Log.With("job_id", job.ID)
		log.Info("change-set job accepted", "dry_run", req.DryRun)

		deps.Metrics.ActiveJobs.Inc()
		go func() {
			<-job.Done()
			deps.Metrics.ActiveJobs.Dec()
		}()

		c.Writer.Header().Set("Content-Type", "application/x-ndjson")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("X-Job-ID", job.ID)
		c.Writer.WriteHeader(http.StatusOK)

		deps.Metrics.StreamStarted("ndjson")
		defer deps.Metrics.StreamEnded("ndjson")

		streamJob(c, deps, job, progress.NewRecordWriter(c.Writer), log)
	}
}

// streamJob replays history, relays live events, and finishes with the
// stored result record.
func streamJob(c *gin.Context, deps Deps, job *orchestrator.Job, rw *progress.RecordWriter, log *logging.Logger) {
	history, events, cancelSub := job.Emitter.Subscribe()
	defer cancelSub()

	for _, event := range history {
		if err := rw.WriteEvent(event); err != nil {
			log.Info("client disconnected during history replay", "error", err)
			return
		}
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				writeFinalResult(c, deps, job, rw, log)
				return
			}
			if err := rw.WriteEvent(event); err != nil {
				log.Info("client disconnected, job continues", "error", err)
				return
			}
		case <-keepAlive.C:
			if err := rw.WriteKeepAlive(); err != nil {
				log.Info("client disconnected on keep-alive", "error", err)
				return
			}
		case <-clientGone:
			log.Info("request context canceled, job continues")
			return
		}
	}
}

// writeFinalResult waits for the runner to persist the outcome, then
// streams it as the closing record.
func writeFinalResult(c *gin.Context, deps Deps, job *orchestrator.Job, rw *progress.RecordWriter, log *logging.Logger) {
	select {
	case <-job.Done():
	case <-c.Request.Context().Done():
		return
	}

	rec, err := deps.Orchestrator.Record(c.Request.Context(), job.ID)
	if err != nil {
		log.Error("failed to load final job record", "error", err)
		return
	}
	if err := rw.WriteResult(datatypes.JobFromRecord(rec)); err != nil {
		log.Info("client disconnected before final result", "error", err)
	}
}

// GetJob returns the stored record for one job.
func GetJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := deps.Orchestrator.Record(c.Request.Context(), c.Param("jobId"))
		if err != nil {
			if errors.Is(err, jobstore.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
					Error: apperr.Newf(apperr.CodeValidation, "unknown job: %s", c.Param("jobId")),
				})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.JobFromRecord(rec))
	}
}

// ListJobs returns recent jobs, most recently updated first.
func ListJobs(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(c, apperr.Newf(apperr.CodeValidation, "invalid limit: %q", raw))
				return
			}
			limit = parsed
		}

		recs, err := deps.Orchestrator.List(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}

		resp := datatypes.ListJobsResponse{Jobs: make([]datatypes.JobResponse, 0, len(recs))}
		for _, rec := range recs {
			resp.Jobs = append(resp.Jobs, datatypes.JobFromRecord(rec))
		}
		resp.Count = len(resp.Jobs)
		c.JSON(http.StatusOK, resp)
	}
}

// CancelJob requests cooperative cancellation of a running job.
//
// Cancelling a job that already finished (or was never submitted)
// returns 404; the job store still holds its final record.
func CancelJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		if !deps.Orchestrator.Cancel(jobID) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
				Error: apperr.Newf(apperr.CodeValidation, "no running job: %s", jobID),
			})
			return
		}
		deps.Log.Info("cancellation requested", "job_id", jobID)
		c.JSON(http.StatusAccepted, datatypes.CancelResponse{JobID: jobID, Canceled: true})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "applyd"})
}
