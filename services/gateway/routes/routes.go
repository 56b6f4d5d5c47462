// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the gateway's HTTP surface.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianApply/services/gateway/handlers"
)

// SetupRoutes registers every endpoint on the router.
//
// # Description
//
// Layout:
//
//	GET  /health                      liveness probe
//	GET  /metrics                     Prometheus scrape target
//	POST /v1/changesets               create a job, stream NDJSON progress
//	GET  /v1/jobs                     list recent jobs
//	GET  /v1/jobs/:jobId              one job's stored record
//	POST /v1/jobs/:jobId/cancel       cooperative cancel
//	GET  /v1/jobs/:jobId/stream       WebSocket progress stream
//
// Submission is rate-limited; read endpoints are not.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, submitLimit rate.Limit, submitBurst int) {
	router.Use(otelgin.Middleware("applyd"))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := rate.NewLimiter(submitLimit, submitBurst)

	v1 := router.Group("/v1")
	{
		v1.POST("/changesets", rateLimited(limiter), handlers.CreateChangeSet(deps))
		v1.GET("/jobs", handlers.ListJobs(deps))
		v1.GET("/jobs/:jobId", handlers.GetJob(deps))
		v1.POST("/jobs/:jobId/cancel", handlers.CancelJob(deps))
		v1.GET("/jobs/:jobId/stream", handlers.StreamJob(deps))
	}
}

// rateLimited rejects submissions above the configured rate with the
// standard RATE_LIMIT error body.
func rateLimited(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error: apperr.New(apperr.CodeRateLimit, "too many change-set submissions"),
			})
			return
		}
		c.Next()
	}
}
