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
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/commitsentry/services/ingest"
	"github.com/AleutianAI/commitsentry/services/pipeline"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("commitsentry.handlers")

// MaxWebhookBodyBytes caps a delivery body. GitHub caps payloads at 25 MB.
const MaxWebhookBodyBytes = 25 << 20

// PushHandler processes one authenticated-or-not webhook delivery.
type PushHandler interface {
	HandlePush(ctx context.Context, eventType, signature string, body []byte) (*pipeline.Summary, error)
}

// HandleWebhook receives source-control push notifications.
//
// # Description
//
// The raw body is passed through unchanged so the signature is checked over
// the exact bytes that were signed. The legacy sha1 header is preferred,
// the sha256 header is used when it is the only one present.
//
// # Responses
//
//   - 200 {"status":"success","summary":{...}}
//   - 400 malformed payload
//   - 403 {"error":"Invalid signature"}
//   - 500 anything else, with a generic message
func HandleWebhook(handler PushHandler, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleWebhook")
		defer span.End()

		eventType := c.GetHeader(ingest.EventHeader)
		delivery := c.GetHeader(ingest.DeliveryHeader)
		span.SetAttributes(
			attribute.String("webhook.event", eventType),
			attribute.String("webhook.delivery", delivery),
		)

		signature := c.GetHeader(ingest.SignatureHeader)
		if signature == "" {
			signature = c.GetHeader(ingest.Signature256Header)
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes))
		if err != nil {
			metrics.RecordWebhook(observability.OutcomeMalformed)
			logger.Warn("failed to read webhook body",
				slog.String("delivery", delivery),
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}

		summary, err := handler.HandlePush(ctx, eventType, signature, body)
		switch {
		case err == nil:
		case errors.Is(err, ingest.ErrAuthentication):
			metrics.RecordWebhook(observability.OutcomeUnauthorized)
			logger.Warn("rejected webhook delivery",
				slog.String("delivery", delivery),
				slog.String("error", err.Error()))
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			return
		case errors.Is(err, ingest.ErrMalformedPayload):
			metrics.RecordWebhook(observability.OutcomeMalformed)
			logger.Warn("malformed webhook payload",
				slog.String("delivery", delivery),
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
			return
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordWebhook(observability.OutcomeInternalError)
			logger.Error("webhook processing failed",
				slog.String("delivery", delivery),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if summary.Ignored {
			metrics.RecordWebhook(observability.OutcomeIgnored)
		} else {
			metrics.RecordWebhook(observability.OutcomeAccepted)
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "summary": summary})
	}
}
