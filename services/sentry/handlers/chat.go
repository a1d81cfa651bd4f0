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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/commitsentry/services/chat"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

const chatApology = "Sorry, I encountered an error while processing your request."

// Answerer replies to a chat question.
type Answerer interface {
	Answer(ctx context.Context, input string) (string, error)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// HandleChat answers a free-text question about repository activity.
func HandleChat(answerer Answerer, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleChat")
		defer span.End()

		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("failed to parse the chat request", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}

		answer, err := answerer.Answer(ctx, req.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("chat answer failed", slog.String("error", err.Error()))
			status := http.StatusInternalServerError
			if errors.Is(err, chat.ErrLLMUnavailable) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"response": chatApology})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": answer})
	}
}
