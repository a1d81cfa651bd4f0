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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// EventSource is the consumer side of the event bus.
type EventSource interface {
	// Next blocks up to timeout and returns a keepalive event when nothing
	// arrived.
	Next(ctx context.Context, timeout time.Duration) (datatypes.Event, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// streamContext derives the context a stream pulls with. It ends when the
// client goes away or done is closed; a nil done never fires.
func streamContext(parent context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if done == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// StreamEvents serves the event stream as Server-Sent Events.
//
// # Description
//
// The handler pulls from source until the client goes away or done is
// closed. An event that was dequeued for a client that disconnected before
// the write is lost; the stream has a single consumer.
func StreamEvents(source EventSource, keepalive time.Duration, done <-chan struct{}, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		SetSSEHeaders(c.Writer)
		c.Status(http.StatusOK)

		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			logger.Error("event stream unavailable", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}
		c.Writer.Flush()

		metrics.StreamStarted(observability.EndpointSSE)
		defer metrics.StreamEnded(observability.EndpointSSE)
		logger.Info("event stream client connected", slog.String("remote", c.ClientIP()))

		ctx, cancel := streamContext(c.Request.Context(), done)
		defer cancel()
		for {
			ev, err := source.Next(ctx, keepalive)
			if err != nil {
				metrics.RecordClientDisconnect(observability.EndpointSSE)
				logger.Info("event stream client disconnected", slog.String("remote", c.ClientIP()))
				return
			}
			if err := writer.WriteEvent(ev); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointSSE)
				logger.Info("event stream write failed",
					slog.String("event_id", ev.Id),
					slog.String("error", err.Error()))
				return
			}
			if ev.Type == datatypes.EventKeepalive {
				metrics.RecordKeepAlive(observability.EndpointSSE)
			}
		}
	}
}

// StreamEventsWebSocket serves the same stream as WebSocket text frames,
// one JSON event per frame. Inbound messages are read only to notice the
// client closing the connection.
func StreamEventsWebSocket(source EventSource, keepalive time.Duration, done <-chan struct{}, metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		metrics.StreamStarted(observability.EndpointWebSocket)
		defer metrics.StreamEnded(observability.EndpointWebSocket)
		logger.Info("websocket event client connected", slog.String("remote", c.ClientIP()))

		ctx, cancel := streamContext(c.Request.Context(), done)
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			ev, err := source.Next(ctx, keepalive)
			if err != nil {
				metrics.RecordClientDisconnect(observability.EndpointWebSocket)
				logger.Info("websocket event client disconnected")
				return
			}
			if err := sendJSON(ws, ev, logger); err != nil {
				metrics.RecordClientDisconnect(observability.EndpointWebSocket)
				return
			}
			if ev.Type == datatypes.EventKeepalive {
				metrics.RecordKeepAlive(observability.EndpointWebSocket)
			}
		}
	}
}

func sendJSON(ws *websocket.Conn, v interface{}, logger *slog.Logger) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := ws.WriteJSON(v)
	if err != nil {
		logger.Warn("failed to write websocket JSON", slog.String("error", err.Error()))
	}
	return err
}
