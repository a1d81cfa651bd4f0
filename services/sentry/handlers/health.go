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
	"net/http"

	"github.com/gin-gonic/gin"
)

// QueueStats reports event bus occupancy.
type QueueStats interface {
	Len() int
	Capacity() int
	Dropped() uint64
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Dropped       uint64 `json:"dropped_events"`
	Workflows     bool   `json:"workflows_enabled"`
	Chat          bool   `json:"llm_enabled"`
}

// HandleHealth reports liveness and queue occupancy.
func HandleHealth(queue QueueStats, workflows, llm bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthStatus{
			Status:        "healthy",
			QueueDepth:    queue.Len(),
			QueueCapacity: queue.Capacity(),
			Dropped:       queue.Dropped(),
			Workflows:     workflows,
			Chat:          llm,
		})
	}
}
