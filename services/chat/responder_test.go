// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommits struct {
	repos    []string
	reposErr error
	commits  map[string][]scm.CommitSummary
	counts   []int
}

func (f *fakeCommits) ListRepositories(context.Context, string) ([]string, error) {
	return f.repos, f.reposErr
}

func (f *fakeCommits) ListCommits(_ context.Context, _, repo string, count int) ([]scm.CommitSummary, error) {
	f.counts = append(f.counts, count)
	c, ok := f.commits[repo]
	if !ok {
		return nil, errors.New("boom")
	}
	return c, nil
}

type scriptedLLM struct {
	replies []openai.ChatCompletionMessage
	calls   [][]openai.ChatCompletionMessage
}

func (s *scriptedLLM) Complete(_ context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	s.calls = append(s.calls, append([]openai.ChatCompletionMessage(nil), messages...))
	if len(s.replies) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("no scripted reply")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

var fixedNow = func() time.Time { return time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC) }

func sampleCommits() *fakeCommits {
	return &fakeCommits{
		repos: []string{"shop", "Billing"},
		commits: map[string][]scm.CommitSummary{
			"shop":    {{Repo: "shop", Message: "add cart", Author: "ann", Timestamp: "2024-03-01T10:00:00Z"}},
			"Billing": {{Repo: "Billing", Message: "fix tax", Author: "bob", Timestamp: "2024-03-02T11:00:00Z"}},
		},
	}
}

func TestAnswer_Date(t *testing.T) {
	r := NewResponder(Config{Commits: sampleCommits(), Now: fixedNow})

	got, err := r.Answer(context.Background(), "What is the DATE today?")

	require.NoError(t, err)
	assert.Equal(t, "Today's date is 2024-03-05", got)
}

func TestAnswer_CommitsForNamedRepo(t *testing.T) {
	src := sampleCommits()
	r := NewResponder(Config{Commits: src, Owner: "acme", Now: fixedNow})

	got, err := r.Answer(context.Background(), "show the latest commits in billing")

	require.NoError(t, err)
	assert.Equal(t, "Here are the latest commits for the Billing repository:\n- fix tax by bob on 2024-03-02T11:00:00Z", got)
	assert.Equal(t, []int{LatestCommitCount}, src.counts)
}

func TestAnswer_CommitsAcrossRepos(t *testing.T) {
	r := NewResponder(Config{Commits: sampleCommits(), Now: fixedNow})

	got, err := r.Answer(context.Background(), "any new commits?")

	require.NoError(t, err)
	assert.Equal(t, "Here are the latest commits across all repositories:\n"+
		"- [shop] add cart by ann on 2024-03-01T10:00:00Z\n"+
		"- [Billing] fix tax by bob on 2024-03-02T11:00:00Z", got)
}

func TestAnswer_CommitsUnavailable(t *testing.T) {
	src := &fakeCommits{repos: []string{"shop"}, commits: map[string][]scm.CommitSummary{}}
	r := NewResponder(Config{Commits: src})

	got, err := r.Answer(context.Background(), "commits for shop")
	require.NoError(t, err)
	assert.Equal(t, "I couldn't fetch any commits for the shop repository. Please try again later.", got)

	src.reposErr = errors.New("rate limited")
	src.repos = nil
	got, err = r.Answer(context.Background(), "commits please")
	require.NoError(t, err)
	assert.Equal(t, "I couldn't fetch any commits. Please try again later.", got)
}

func TestAnswer_Vulnerability(t *testing.T) {
	r := NewResponder(Config{Commits: sampleCommits()})

	got, err := r.Answer(context.Background(), "Any vulnerabilities?")

	require.NoError(t, err)
	assert.Equal(t, vulnerabilityAnswer, got)
}

func TestAnswer_LLMDirect(t *testing.T) {
	model := &scriptedLLM{replies: []openai.ChatCompletionMessage{{Role: "assistant", Content: "All quiet."}}}
	r := NewResponder(Config{Commits: sampleCommits(), LLM: model, Now: fixedNow})

	got, err := r.Answer(context.Background(), "How is the team doing?")

	require.NoError(t, err)
	assert.Equal(t, "All quiet.", got)
	require.Len(t, model.calls, 1)
	assert.Contains(t, model.calls[0][0].Content, "2024-03-05 09:30")
	assert.Equal(t, "How is the team doing?", model.calls[0][1].Content)
}

func TestAnswer_LLMToolCall(t *testing.T) {
	// Arrange
	src := sampleCommits()
	model := &scriptedLLM{replies: []openai.ChatCompletionMessage{
		{Role: "assistant", ToolCalls: []openai.ToolCall{{
			ID: "call_1", Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: commitsToolName, Arguments: `{"call": true}`},
		}}},
		{Role: "assistant", Content: "- add cart"},
	}}
	r := NewResponder(Config{Commits: src, LLM: model, Owner: "acme", Repo: "shop", Now: fixedNow})

	// Act
	got, err := r.Answer(context.Background(), "Who pushed recently?")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "- add cart", got)
	require.Len(t, model.calls, 2)

	second := model.calls[1]
	require.Len(t, second, 5)
	assert.Equal(t, "Proceeding to call function", second[2].Content)
	toolMsg := second[3]
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	var commits []scm.CommitSummary
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &commits))
	assert.Equal(t, "add cart", commits[0].Message)
	assert.Equal(t, formatPrompt, second[4].Content)
	assert.Equal(t, []int{toolCommitCount}, src.counts)
}

func TestAnswer_UnknownTool(t *testing.T) {
	model := &scriptedLLM{replies: []openai.ChatCompletionMessage{
		{Role: "assistant", ToolCalls: []openai.ToolCall{{ID: "c", Function: openai.FunctionCall{Name: "rm_rf"}}}},
		{Role: "assistant", Content: "sorry"},
	}}
	r := NewResponder(Config{Commits: sampleCommits(), LLM: model})

	got, err := r.Answer(context.Background(), "Do something")

	require.NoError(t, err)
	assert.Equal(t, "sorry", got)
	assert.Contains(t, model.calls[1][3].Content, "unknown tool")
}

func TestAnswer_NoLLM(t *testing.T) {
	r := NewResponder(Config{Commits: sampleCommits()})

	_, err := r.Answer(context.Background(), "Tell me a story")
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}
