// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("commitsentry.llm")

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4o-mini"

	apiKeySecretPath = "/run/secrets/llm_api_key"
)

// Config configures an OpenAIClient. BaseURL points the client at any
// OpenAI-compatible endpoint (Groq, Ollama, vLLM); empty means OpenAI.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
}

// OpenAIClient implements Client over an OpenAI-compatible API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient creates a client. When no key is configured it falls back
// to the container secret file.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		keyBytes, err := os.ReadFile(apiKeySecretPath)
		if err != nil {
			return nil, fmt.Errorf("LLM_API_KEY not set and secret %s not found", apiKeySecretPath)
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the LLM API key from container secrets")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
		slog.Warn("LLM_MODEL not set, using default", slog.String("model", DefaultModel))
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	slog.Info("Initializing LLM client", slog.String("model", cfg.Model), slog.String("base_url", oc.BaseURL))
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)))

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: o.temperature,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrNoChoices.Error())
		return openai.ChatCompletionMessage{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	slog.Debug("Received chat completion",
		slog.String("finish_reason", string(choice.FinishReason)),
		slog.Int("tool_calls", len(choice.Message.ToolCalls)))
	return choice.Message, nil
}
