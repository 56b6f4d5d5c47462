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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianApply/cmd/applyd/config"
	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
	"github.com/AleutianAI/AleutianApply/services/changeset/orchestrator"
	"github.com/AleutianAI/AleutianApply/services/changeset/producer"
	"github.com/AleutianAI/AleutianApply/services/changeset/resilience"
	"github.com/AleutianAI/AleutianApply/services/changeset/snapshot"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
	"github.com/AleutianAI/AleutianApply/services/changeset/validate"
	"github.com/AleutianAI/AleutianApply/services/changeset/workspace"
	"github.com/AleutianAI/AleutianApply/services/gateway/handlers"
	"github.com/AleutianAI/AleutianApply/services/gateway/observability"
	"github.com/AleutianAI/AleutianApply/services/gateway/routes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the change-set HTTP API",
	Long: `Starts the HTTP server: job submission with streamed NDJSON
progress, job queries, cancellation, WebSocket streams, and Prometheus
metrics. Shuts down gracefully on SIGINT or SIGTERM; running jobs finish
their current file operations first.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrInit(configPath)
	if err != nil {
		return err
	}
	if cfg.Workspace.Root == "" {
		return apperr.New(apperr.CodeValidation, "workspace.root is required for serve")
	}

	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "applyd",
		JSON:    cfg.Logging.JSON,
	})
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := workspace.NewLocal(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	scanner, err := snapshot.NewScanner(store)
	if err != nil {
		return err
	}

	if cfg.Workspace.Watch {
		watcher, err := snapshot.NewWatcher(cfg.Workspace.Root, scanner.Invalidate)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
		log.Info("workspace watcher started", "root", cfg.Workspace.Root)
	}

	var jobs jobstore.Store
	if cfg.JobStore.Path != "" {
		jobs, err = jobstore.Open(cfg.JobStore.Path)
	} else {
		jobs, err = jobstore.OpenInMemory()
		log.Warn("job store path not set, using in-memory store")
	}
	if err != nil {
		return err
	}
	defer jobs.Close()

	prod, err := producer.NewOpenAIProducer(os.Getenv(cfg.Producer.APIKeyEnv), cfg.Producer.Model, log)
	if err != nil {
		return err
	}

	metrics := observability.InitMetrics()

	orch := orchestrator.New(scanner, prod,
		validate.NewProposalValidator(validate.ValidatorConfig{}),
		transaction.New(store), jobs, log,
		orchestrator.Config{
			ProduceTimeout: cfg.Jobs.ProduceTimeout,
			Retry: resilience.RetryPolicy{
				MaxAttempts: cfg.Jobs.RetryAttempts,
				BaseDelay:   cfg.Jobs.RetryBaseDelay,
				OnRetry: func(int, time.Duration, error) {
					metrics.RetriesTotal.Inc()
				},
			},
			MaxParallel: cfg.Jobs.MaxParallel,
			OnFinished:  metrics.ObserveFinished,
		})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router,
		handlers.Deps{Orchestrator: orch, Metrics: metrics, Log: log},
		rate.Limit(cfg.Server.SubmitRatePerSecond), cfg.Server.SubmitBurst)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("applyd listening", "port", cfg.Server.Port, "workspace", cfg.Workspace.Root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
