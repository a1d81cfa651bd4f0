// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, reply string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, reply)
	}))
}

func TestOpenAIClient_Complete(t *testing.T) {
	// Arrange
	var req openai.ChatCompletionRequest
	srv := newTestServer(t, `{"id":"1","object":"chat.completion","choices":[
		{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`, &req)
	defer srv.Close()

	client, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "test-key", Model: "m1", Temperature: 1})
	require.NoError(t, err)

	// Act
	msg, err := client.Complete(context.Background(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
	}, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "m1", req.Model)
	assert.Empty(t, req.Tools)
	assert.Nil(t, req.ToolChoice)
}

func TestOpenAIClient_ToolCalls(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := newTestServer(t, `{"id":"1","object":"chat.completion","choices":[
		{"index":0,"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_github_commits","arguments":"{\"call\":true}"}}]},
		 "finish_reason":"tool_calls"}]}`, &req)
	defer srv.Close()

	client, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	tools := []openai.Tool{{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{Name: "get_github_commits"}}}
	msg, err := client.Complete(context.Background(), nil, tools)

	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_github_commits", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "auto", req.ToolChoice)
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := newTestServer(t, `{"id":"1","object":"chat.completion","choices":[]}`, nil)
	defer srv.Close()

	client, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestOpenAIClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), nil, nil)
	assert.Error(t, err)
}
