// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxErrorBody = 512

// Input is what a remediation flow receives for one flagged record.
type Input struct {
	Repo    string
	Commit  string
	File    string
	Reasons []string
}

// KestraConfig configures a KestraClient.
type KestraConfig struct {
	BaseURL   string
	Namespace string
	FlowID    string

	// Username and Password enable basic auth when both are set.
	Username string
	Password string

	HTTPClient *http.Client
}

// KestraClient triggers and inspects Kestra flow executions.
//
// # Thread Safety
//
// KestraClient is safe for concurrent use.
type KestraClient struct {
	httpClient *http.Client
	baseURL    string
	namespace  string
	flowID     string
	username   string
	password   string
}

// NewKestraClient creates a client.
func NewKestraClient(cfg KestraConfig) *KestraClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &KestraClient{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		namespace:  cfg.Namespace,
		flowID:     cfg.FlowID,
		username:   cfg.Username,
		password:   cfg.Password,
	}
}

type kestraExecution struct {
	ID    string `json:"id"`
	State struct {
		Current string `json:"current"`
	} `json:"state"`
}

// Trigger starts one execution of the configured flow and returns its id.
// Inputs are sent as multipart form fields.
func (k *KestraClient) Trigger(ctx context.Context, in Input) (string, error) {
	ctx, span := tracer.Start(ctx, "workflow.Trigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.namespace", k.namespace),
		attribute.String("workflow.flow_id", k.flowID))

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := [][2]string{
		{"repo", in.Repo},
		{"commit", in.Commit},
		{"file", in.File},
		{"reasons", strings.Join(in.Reasons, ",")},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("failed to encode input %s: %w", f[0], err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to encode inputs: %w", err)
	}

	endpoint := fmt.Sprintf("/api/v1/executions/%s/%s", url.PathEscape(k.namespace), url.PathEscape(k.flowID))
	var exec kestraExecution
	if err := k.do(ctx, http.MethodPost, endpoint, form.FormDataContentType(), &body, &exec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if exec.ID == "" {
		err := fmt.Errorf("%w: trigger response carried no execution id", ErrUnreachable)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("workflow.execution_id", exec.ID))
	return exec.ID, nil
}

// Status returns the mapped state of an execution.
func (k *KestraClient) Status(ctx context.Context, executionID string) (datatypes.WorkflowStatus, error) {
	ctx, span := tracer.Start(ctx, "workflow.Status")
	defer span.End()
	span.SetAttributes(attribute.String("workflow.execution_id", executionID))

	var exec kestraExecution
	endpoint := "/api/v1/executions/" + url.PathEscape(executionID)
	if err := k.do(ctx, http.MethodGet, endpoint, "", nil, &exec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("workflow.state", exec.State.Current))
	return MapState(exec.State.Current), nil
}

// MapState folds Kestra execution states onto the three states the
// coordinator tracks.
func MapState(state string) datatypes.WorkflowStatus {
	switch strings.ToUpper(state) {
	case "SUCCESS", "WARNING":
		return datatypes.WorkflowSuccess
	case "FAILED", "KILLED":
		return datatypes.WorkflowFailed
	default:
		return datatypes.WorkflowRunning
	}
}

func (k *KestraClient) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if k.username != "" && k.password != "" {
		req.SetBasicAuth(k.username, k.password)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrUnreachable, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(data)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return &EngineError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: excerpt}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUnreachable, endpoint, err)
	}
	return nil
}
