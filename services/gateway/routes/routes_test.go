// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/gateway/datatypes"
)

// TestRateLimitedRejectsAboveBurst verifies submissions above the burst
// are refused with the RATE_LIMIT error body before the handler runs.
func TestRateLimitedRejectsAboveBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	limiter := rate.NewLimiter(0, 1)
	hits := 0
	router.POST("/submit", rateLimited(limiter), func(c *gin.Context) {
		hits++
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/submit", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/submit", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1, hits)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeRateLimit, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}
