// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
	"github.com/AleutianAI/AleutianApply/services/changeset/orchestrator"
	"github.com/AleutianAI/AleutianApply/services/changeset/producer"
	"github.com/AleutianAI/AleutianApply/services/changeset/resilience"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
	"github.com/AleutianAI/AleutianApply/services/changeset/validate"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
	gwtypes "github.com/AleutianAI/AleutianApply/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianApply/services/gateway/observability"
)

var (
	metricsOnce sync.Once
	testMetrics *observability.JobMetrics
)

// sharedMetrics registers the Prometheus collectors once per test binary.
func sharedMetrics() *observability.JobMetrics {
	metricsOnce.Do(func() {
		testMetrics = observability.InitMetrics()
	})
	return testMetrics
}

type fakeProducer struct {
	produce func(ctx context.Context, req producer.Request) (datatypes.Proposal, error)
}

func (f *fakeProducer) Produce(ctx context.Context, req producer.Request) (datatypes.Proposal, error) {
	return f.produce(ctx, req)
}

func createProposal(path, content string) *fakeProducer {
	return &fakeProducer{
		produce: func(context.Context, producer.Request) (datatypes.Proposal, error) {
			return datatypes.Proposal{
				Summary: "create " + path,
				Changes: []datatypes.ChangeOperation{{Kind: datatypes.OpCreate, Path: path, Content: content}},
			}, nil
		},
	}
}

func newDeps(t *testing.T, prod producer.Producer) Deps {
	t.Helper()
	store, err := workspace.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	scanner, err := snapshot.NewScanner(store)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	jobs, err := jobstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { jobs.Close() })

	log := logging.New(logging.Config{Quiet: true})
	orch := orchestrator.New(scanner, prod,
		validate.NewProposalValidator(validate.ValidatorConfig{}),
		transaction.New(store), jobs, log,
		orchestrator.Config{
			ProduceTimeout: 2 * time.Second,
			Retry:          resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
			MaxParallel:    2,
		})
	return Deps{Orchestrator: orch, Metrics: sharedMetrics(), Log: log}
}

func newRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/changesets", CreateChangeSet(deps))
	router.GET("/v1/jobs", ListJobs(deps))
	router.GET("/v1/jobs/:jobId", GetJob(deps))
	router.POST("/v1/jobs/:jobId/cancel", CancelJob(deps))
	router.GET("/health", HealthCheck)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ndjsonRecords splits a streamed response body into decoded records.
func ndjsonRecords(t *testing.T, body string) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestCreateChangeSetStreamsToResult(t *testing.T) {
	deps := newDeps(t, createProposal("greeting.txt", "hello\n"))
	router := newRouter(deps)

	w := postJSON(t, router, "/v1/changesets", gwtypes.CreateChangeSetRequest{Prompt: "add a greeting"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", got)
	}
	if w.Header().Get("X-Job-ID") == "" {
		t.Error("missing X-Job-ID header")
	}

	records := ndjsonRecords(t, w.Body.String())
	if len(records) < 2 {
		t.Fatalf("got %d records, want progress events plus a result", len(records))
	}

	last := records[len(records)-1]
	if last["type"] != "result" {
		t.Fatalf("last record type = %v, want result", last["type"])
	}
	result, ok := last["result"].(map[string]any)
	if !ok {
		t.Fatalf("result payload missing: %v", last)
	}
	if result["status"] != string(jobstore.StatusSucceeded) {
		t.Errorf("final status = %v, want succeeded", result["status"])
	}

	sawProgress := false
	for _, rec := range records[:len(records)-1] {
		if rec["type"] == "progress" {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Error("stream contained no progress events")
	}

	// The work itself landed in the workspace.
	content, err := deps.Orchestrator.Record(context.Background(), w.Header().Get("X-Job-ID"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if content.Report == nil || content.Report.Applied != 1 {
		t.Errorf("report = %+v, want 1 applied", content.Report)
	}
}

func TestCreateChangeSetRejectsMissingPrompt(t *testing.T) {
	deps := newDeps(t, createProposal("x.txt", "x"))
	router := newRouter(deps)

	w := postJSON(t, router, "/v1/changesets", map[string]any{"paths": []string{"a.go"}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp gwtypes.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "VALIDATION" {
		t.Errorf("error = %+v, want VALIDATION", resp.Error)
	}
}

func TestGetJobReturnsStoredRecord(t *testing.T) {
	deps := newDeps(t, createProposal("out.txt", "done\n"))
	router := newRouter(deps)

	w := postJSON(t, router, "/v1/changesets", gwtypes.CreateChangeSetRequest{Prompt: "do it"})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d", w.Code)
	}
	jobID := w.Header().Get("X-Job-ID")

	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", get.Code, get.Body.String())
	}

	var job gwtypes.JobResponse
	if err := json.Unmarshal(get.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.JobID != jobID {
		t.Errorf("job_id = %q, want %q", job.JobID, jobID)
	}
	if job.Status != string(jobstore.StatusSucceeded) {
		t.Errorf("status = %q, want succeeded", job.Status)
	}
}

func TestGetJobUnknownID(t *testing.T) {
	deps := newDeps(t, createProposal("x.txt", "x"))
	router := newRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/no-such-job", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListJobsMostRecentFirst(t *testing.T) {
	deps := newDeps(t, createProposal("out.txt", "v\n"))
	router := newRouter(deps)

	if w := postJSON(t, router, "/v1/changesets", gwtypes.CreateChangeSetRequest{Prompt: "first", Overwrite: true}); w.Code != http.StatusOK {
		t.Fatalf("first create: %d", w.Code)
	}
	if w := postJSON(t, router, "/v1/changesets", gwtypes.CreateChangeSetRequest{Prompt: "second", Overwrite: true}); w.Code != http.StatusOK {
		t.Fatalf("second create: %d", w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}

	var resp gwtypes.ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Jobs[0].Prompt != "second" {
		t.Errorf("first listed prompt = %q, want most recent job", resp.Jobs[0].Prompt)
	}
}

func TestListJobsRejectsBadLimit(t *testing.T) {
	deps := newDeps(t, createProposal("x.txt", "x"))
	router := newRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCancelJobUnknownID(t *testing.T) {
	deps := newDeps(t, createProposal("x.txt", "x"))
	router := newRouter(deps)

	w := postJSON(t, router, "/v1/jobs/no-such-job/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	deps := newDeps(t, createProposal("x.txt", "x"))
	router := newRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s, want ok status", w.Body.String())
	}
}
