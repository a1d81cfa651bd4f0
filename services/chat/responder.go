// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat answers free-text questions about repository activity.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/commitsentry/services/llm"
	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("commitsentry.chat")

// ErrLLMUnavailable is returned for open questions when no LLM is configured.
var ErrLLMUnavailable = errors.New("no llm configured")

const (
	// LatestCommitCount is how many commits per repository a commit query
	// lists.
	LatestCommitCount = 5

	// toolCommitCount matches the GitHub default page size.
	toolCommitCount = 30

	commitsToolName = "get_github_commits"

	initialPrompt = "You are an intelligent AI assistant that tracks anomalies in GitHub repository activities. Today's date is %s"

	formatPrompt = `Follow these guidelines when responding to the user:
- Present the information in bullet points.
- Always include the html_url link in your response.
- If the tool response contains no information, do not add any content.
- Display the function response exactly as it is, without any modifications.`

	vulnerabilityAnswer = "I'm monitoring commits for potential vulnerabilities. If any are detected, I'll raise an alert. " +
		"For detailed vulnerability information, please check the security dashboard or consult with the security team."
)

var commitsTool = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        commitsToolName,
		Description: "Get the GitHub commits of the monitored repository",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"call": {"type": "boolean", "description": "Just give a true or false value for function usage"}
			}
		}`),
	},
}

// CommitSource is the part of the source-control collaborator the
// responder uses.
type CommitSource interface {
	ListRepositories(ctx context.Context, owner string) ([]string, error)
	ListCommits(ctx context.Context, owner, repo string, count int) ([]scm.CommitSummary, error)
}

// Config configures a Responder. LLM may be nil.
type Config struct {
	Commits CommitSource
	LLM     llm.Client
	Owner   string
	// Repo is the repository the LLM commit tool reads.
	Repo   string
	Now    func() time.Time
	Logger *slog.Logger
}

// Responder routes a question to a fixed answer, a commit lookup or the LLM.
//
// # Thread Safety
//
// Responder is safe for concurrent use.
type Responder struct {
	commits CommitSource
	llm     llm.Client
	owner   string
	repo    string
	now     func() time.Time
	logger  *slog.Logger
}

// NewResponder creates a responder.
func NewResponder(cfg Config) *Responder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{
		commits: cfg.Commits,
		llm:     cfg.LLM,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Answer replies to one question.
//
// # Description
//
// Keyword routing is checked in order: "date", "commit", "vulnerability".
// Anything else goes to the LLM, which may call the commit tool once before
// the final answer.
//
// # Errors
//
// Only the LLM path fails; commit lookups degrade to an apology text.
func (r *Responder) Answer(ctx context.Context, input string) (string, error) {
	ctx, span := tracer.Start(ctx, "chat.Answer")
	defer span.End()

	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "date"):
		span.SetAttributes(attribute.String("chat.route", "date"))
		return fmt.Sprintf("Today's date is %s", r.now().Format("2006-01-02")), nil
	case strings.Contains(lower, "commit"):
		span.SetAttributes(attribute.String("chat.route", "commits"))
		return r.latestCommits(ctx, lower), nil
	case strings.Contains(lower, "vulnerability"), strings.Contains(lower, "vulnerabilities"):
		span.SetAttributes(attribute.String("chat.route", "vulnerability"))
		return vulnerabilityAnswer, nil
	}

	span.SetAttributes(attribute.String("chat.route", "llm"))
	if r.llm == nil {
		return "", ErrLLMUnavailable
	}
	return r.askLLM(ctx, input)
}

func (r *Responder) latestCommits(ctx context.Context, lower string) string {
	repos, err := r.commits.ListRepositories(ctx, r.owner)
	if err != nil {
		r.logger.Warn("failed to list repositories",
			slog.String("owner", r.owner),
			slog.String("error", err.Error()))
	}

	for _, repo := range repos {
		if !strings.Contains(lower, strings.ToLower(repo)) {
			continue
		}
		commits := r.listCommits(ctx, repo)
		if len(commits) == 0 {
			return fmt.Sprintf("I couldn't fetch any commits for the %s repository. Please try again later.", repo)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Here are the latest commits for the %s repository:", repo)
		for _, c := range commits {
			fmt.Fprintf(&b, "\n- %s by %s on %s", c.Message, c.Author, c.Timestamp)
		}
		return b.String()
	}

	var all []scm.CommitSummary
	for _, repo := range repos {
		all = append(all, r.listCommits(ctx, repo)...)
	}
	if len(all) == 0 {
		return "I couldn't fetch any commits. Please try again later."
	}
	var b strings.Builder
	b.WriteString("Here are the latest commits across all repositories:")
	for _, c := range all {
		fmt.Fprintf(&b, "\n- [%s] %s by %s on %s", c.Repo, c.Message, c.Author, c.Timestamp)
	}
	return b.String()
}

func (r *Responder) listCommits(ctx context.Context, repo string) []scm.CommitSummary {
	commits, err := r.commits.ListCommits(ctx, r.owner, repo, LatestCommitCount)
	if err != nil {
		r.logger.Warn("failed to fetch commits",
			slog.String("repo", repo),
			slog.String("error", err.Error()))
		return nil
	}
	return commits
}

func (r *Responder) askLLM(ctx context.Context, input string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(initialPrompt, r.now().Format("2006-01-02 15:04"))},
		{Role: openai.ChatMessageRoleUser, Content: input},
	}
	tools := []openai.Tool{commitsTool}

	first, err := r.llm.Complete(ctx, messages, tools)
	if err != nil {
		return "", err
	}
	if len(first.ToolCalls) == 0 {
		return first.Content, nil
	}

	first.Content = "Proceeding to call function"
	messages = append(messages, first)
	for _, call := range first.ToolCalls {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
			Content:    r.runTool(ctx, call),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: formatPrompt})

	second, err := r.llm.Complete(ctx, messages, tools)
	if err != nil {
		return "", err
	}
	return second.Content, nil
}

// runTool executes a tool call and returns its JSON result. Failures are
// reported to the model as a JSON error object.
func (r *Responder) runTool(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != commitsToolName {
		return fmt.Sprintf(`{"error": "unknown tool %q"}`, call.Function.Name)
	}
	commits, err := r.commits.ListCommits(ctx, r.owner, r.repo, toolCommitCount)
	if err != nil {
		r.logger.Warn("commit tool failed",
			slog.String("repo", r.repo),
			slog.String("error", err.Error()))
		out, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(out)
	}
	if commits == nil {
		commits = []scm.CommitSummary{}
	}
	out, err := json.Marshal(commits)
	if err != nil {
		return `{"error": "failed to encode commits"}`
	}
	return string(out)
}
