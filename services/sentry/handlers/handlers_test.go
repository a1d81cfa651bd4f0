// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/commitsentry/services/chat"
	"github.com/AleutianAI/commitsentry/services/eventbus"
	"github.com/AleutianAI/commitsentry/services/ingest"
	"github.com/AleutianAI/commitsentry/services/pipeline"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type fakePushHandler struct {
	summary   *pipeline.Summary
	err       error
	eventType string
	signature string
	body      []byte
}

func (f *fakePushHandler) HandlePush(_ context.Context, eventType, signature string, body []byte) (*pipeline.Summary, error) {
	f.eventType = eventType
	f.signature = signature
	f.body = body
	return f.summary, f.err
}

type fakeAnswerer struct {
	answer string
	err    error
	input  string
}

func (f *fakeAnswerer) Answer(_ context.Context, input string) (string, error) {
	f.input = input
	return f.answer, f.err
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

// =============================================================================
// Webhook
// =============================================================================

func TestHandleWebhook(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		summary    *pipeline.Summary
		wantStatus int
		wantBody   string
		outcome    string
	}{
		{
			name:       "accepted",
			summary:    &pipeline.Summary{EventType: "push", Commits: 2, Records: 3},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"success"`,
			outcome:    observability.OutcomeAccepted,
		},
		{
			name:       "ignored event",
			summary:    &pipeline.Summary{EventType: "ping", Ignored: true},
			wantStatus: http.StatusOK,
			wantBody:   `"ignored":true`,
			outcome:    observability.OutcomeIgnored,
		},
		{
			name:       "bad signature",
			err:        fmt.Errorf("%w: digest mismatch", ingest.ErrAuthentication),
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Invalid signature"}`,
			outcome:    observability.OutcomeUnauthorized,
		},
		{
			name:       "malformed",
			err:        fmt.Errorf("%w: missing repository", ingest.ErrMalformedPayload),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Malformed payload",
			outcome:    observability.OutcomeMalformed,
		},
		{
			name:       "internal",
			err:        errors.New("extractor exploded: /secret/path"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal error"}`,
			outcome:    observability.OutcomeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			metrics := testMetrics()
			handler := &fakePushHandler{summary: tt.summary, err: tt.err}
			router := gin.New()
			router.POST("/webhook", HandleWebhook(handler, metrics, nil))

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"ref":"x"}`))
			req.Header.Set(ingest.EventHeader, "push")
			req.Header.Set(ingest.SignatureHeader, "sha1=abc")
			w := httptest.NewRecorder()

			// Act
			router.ServeHTTP(w, req)

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.NotContains(t, w.Body.String(), "/secret/path")
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues(tt.outcome)))
			assert.Equal(t, "push", handler.eventType)
			assert.Equal(t, `{"ref":"x"}`, string(handler.body))
		})
	}
}

func TestHandleWebhook_SignatureHeaderFallback(t *testing.T) {
	handler := &fakePushHandler{summary: &pipeline.Summary{}}
	router := gin.New()
	router.POST("/webhook", HandleWebhook(handler, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	req.Header.Set(ingest.Signature256Header, "sha256=def")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "sha256=def", handler.signature)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	req.Header.Set(ingest.SignatureHeader, "sha1=abc")
	req.Header.Set(ingest.Signature256Header, "sha256=def")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "sha1=abc", handler.signature)
}

// =============================================================================
// SSE stream
// =============================================================================

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamEvents_KeepaliveWhenIdle(t *testing.T) {
	// Arrange
	bus := eventbus.New(eventbus.Config{Capacity: 8})
	metrics := testMetrics()
	router := gin.New()
	router.GET("/events", StreamEvents(bus, 50*time.Millisecond, nil, metrics, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	// Act
	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	start := time.Now()
	frame := readFrame(t, reader)

	// Assert
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "keepalive", frame.event)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	var ev datatypes.Event
	require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
	assert.Equal(t, datatypes.EventKeepalive, ev.Type)

	// The stream stays open after a keepalive.
	bus.Publish(datatypes.NewAlertEvent("hello"))
	frame = readFrame(t, reader)
	assert.Equal(t, "alert", frame.event)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.KeepAlivesTotal.WithLabelValues("sse")), 1.0)
}

func TestStreamEvents_DeliversInOrder(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Capacity: 8})
	info := datatypes.CommitInfo{Repo: "shop", CommitID: "c1", Author: "ann", Timestamp: "2024-03-05T03:00:00Z"}
	bus.Publish(datatypes.NewCommitEvent(info, datatypes.ClassificationResult{IsUnusual: true}))
	bus.Publish(datatypes.NewAlertEvent(datatypes.UnusualCommitAlert(info)))

	router := gin.New()
	router.GET("/events", StreamEvents(bus, time.Second, nil, nil, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	first := readFrame(t, reader)
	second := readFrame(t, reader)

	assert.Equal(t, "commit", first.event)
	var ev datatypes.Event
	require.NoError(t, json.Unmarshal([]byte(first.data), &ev))
	require.NotNil(t, ev.CommitInfo)
	assert.Equal(t, "c1", ev.CommitInfo.CommitID)
	require.NotNil(t, ev.Result)
	assert.True(t, ev.Result.IsUnusual)

	assert.Equal(t, "alert", second.event)
	assert.Contains(t, second.data, "Unusual commit detected at 2024-03-05T03:00:00Z by ann in shop")
}

func TestStreamEvents_ClientDisconnect(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Capacity: 8})
	metrics := testMetrics()
	router := gin.New()
	router.GET("/events", StreamEvents(bus, 20*time.Millisecond, nil, metrics, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	readFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveStreams.WithLabelValues("sse")))

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveStreams.WithLabelValues("sse")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamEvents_EndsWhenDoneIsClosed(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Capacity: 8})
	metrics := testMetrics()
	done := make(chan struct{})
	router := gin.New()
	router.GET("/events", StreamEvents(bus, 20*time.Millisecond, done, metrics, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader)

	close(done)

	ended := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, reader)
		ended <- err
	}()
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after done was closed")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveStreams.WithLabelValues("sse")) == 0
	}, time.Second, 10*time.Millisecond)
}

type nonFlushingWriter struct {
	header http.Header
	buf    bytes.Buffer
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *nonFlushingWriter) WriteHeader(int)             {}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(&nonFlushingWriter{header: http.Header{}})
	assert.Error(t, err)

	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)
	require.NoError(t, writer.WriteEvent(datatypes.NewAlertEvent("x")))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "event: alert\ndata: {"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "}\n\n"))
	assert.True(t, rec.Flushed)
}

// =============================================================================
// WebSocket stream
// =============================================================================

func TestStreamEventsWebSocket(t *testing.T) {
	// Arrange
	bus := eventbus.New(eventbus.Config{Capacity: 8})
	metrics := testMetrics()
	router := gin.New()
	router.GET("/events/ws", StreamEventsWebSocket(bus, 50*time.Millisecond, nil, metrics, nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// Act
	var keepalive datatypes.Event
	require.NoError(t, conn.ReadJSON(&keepalive))
	bus.Publish(datatypes.NewWorkflowResultEvent("exec-1", datatypes.WorkflowSuccess, datatypes.CommitInfo{CommitID: "c1"}))
	var result datatypes.Event
	require.NoError(t, conn.ReadJSON(&result))

	// Assert
	assert.Equal(t, datatypes.EventKeepalive, keepalive.Type)
	assert.Equal(t, datatypes.EventWorkflowResult, result.Type)
	assert.Equal(t, "exec-1", result.ExecutionId)
	assert.Equal(t, datatypes.WorkflowSuccess, result.Status)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveStreams.WithLabelValues("websocket")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// Chat and health
// =============================================================================

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		answerer   *fakeAnswerer
		wantStatus int
		wantBody   string
	}{
		{"answer", `{"message":"what is the date"}`, &fakeAnswerer{answer: "Today's date is 2024-03-05"}, http.StatusOK, `{"response":"Today's date is 2024-03-05"}`},
		{"missing message", `{}`, &fakeAnswerer{}, http.StatusBadRequest, "message is required"},
		{"no llm", `{"message":"tell me a story"}`, &fakeAnswerer{err: chat.ErrLLMUnavailable}, http.StatusServiceUnavailable, chatApology},
		{"llm failure", `{"message":"tell me a story"}`, &fakeAnswerer{err: errors.New("timeout")}, http.StatusInternalServerError, chatApology},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/chat", HandleChat(tt.answerer, nil))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Capacity: 4})
	bus.Publish(datatypes.NewAlertEvent("a"))
	router := gin.New()
	router.GET("/health", HandleHealth(bus, true, false))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, HealthStatus{Status: "healthy", QueueDepth: 1, QueueCapacity: 4, Workflows: true}, got)
}
