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
	"log/slog"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/handlers"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventQueue is the consumer side of the event bus plus its occupancy.
type EventQueue interface {
	handlers.EventSource
	handlers.QueueStats
}

// Dependencies are the collaborators the HTTP surface is built from.
// Chat may be nil, in which case POST /chat is not registered. Closing
// StreamsDone ends every open event stream.
type Dependencies struct {
	Pusher      handlers.PushHandler
	Events      EventQueue
	Chat        handlers.Answerer
	Keepalive   time.Duration
	StreamsDone <-chan struct{}

	WorkflowsEnabled bool
	LLMEnabled       bool

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// SetupRoutes registers every endpoint of the service on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HandleHealth(deps.Events, deps.WorkflowsEnabled, deps.LLMEnabled))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook", handlers.HandleWebhook(deps.Pusher, deps.Metrics, deps.Logger))

	events := router.Group("/events")
	{
		events.GET("", handlers.StreamEvents(deps.Events, deps.Keepalive, deps.StreamsDone, deps.Metrics, deps.Logger))
		events.GET("/ws", handlers.StreamEventsWebSocket(deps.Events, deps.Keepalive, deps.StreamsDone, deps.Metrics, deps.Logger))
	}

	if deps.Chat != nil {
		router.POST("/chat", handlers.HandleChat(deps.Chat, deps.Logger))
	}
}
