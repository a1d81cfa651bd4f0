// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scm is the source-control collaborator: a small GitHub REST client
// covering the calls the sentry needs.
package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("commitsentry.scm")

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const (
	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw+json"
	apiVersion = "2022-11-28"

	maxErrorBody = 512
	maxPerPage   = 100

	// sharedFetchTimeout bounds a content fetch shared by several callers,
	// since it no longer follows any single caller's context.
	sharedFetchTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	// RequestsPerSecond limits outgoing calls. Zero means no limit.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

// Client talks to the GitHub REST API.
//
// # Thread Safety
//
// Client is safe for concurrent use. Concurrent FetchFileContent calls for
// the same file and ref share one request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	contents   singleflight.Group
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		limiter:    limiter,
	}
}

// ListRepositories returns the names of the owner's public repositories.
func (c *Client) ListRepositories(ctx context.Context, owner string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "scm.ListRepositories")
	defer span.End()
	span.SetAttributes(attribute.String("scm.owner", owner))

	endpoint := fmt.Sprintf("/users/%s/repos?per_page=%d", url.PathEscape(owner), maxPerPage)
	var repos []ghRepo
	if err := c.getJSON(ctx, endpoint, acceptJSON, &repos); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names, nil
}

// ListCommits returns the latest count commits of a repository, newest first.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, count int) ([]CommitSummary, error) {
	ctx, span := tracer.Start(ctx, "scm.ListCommits")
	defer span.End()
	span.SetAttributes(
		attribute.String("scm.owner", owner),
		attribute.String("scm.repo", repo),
		attribute.Int("scm.count", count))

	if count <= 0 {
		return nil, nil
	}
	if count > maxPerPage {
		count = maxPerPage
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/commits?per_page=%s",
		url.PathEscape(owner), url.PathEscape(repo), strconv.Itoa(count))
	var commits []ghCommit
	if err := c.getJSON(ctx, endpoint, acceptJSON, &commits); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]CommitSummary, 0, len(commits))
	for _, gc := range commits {
		out = append(out, CommitSummary{
			SHA:       gc.SHA,
			Repo:      repo,
			Author:    gc.Commit.Author.Name,
			Message:   gc.Commit.Message,
			Timestamp: gc.Commit.Author.Date,
			HTMLURL:   gc.HTMLURL,
		})
	}
	return out, nil
}

// GetCommit returns one commit with its parents, stats and per-file patches.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (CommitDetail, error) {
	ctx, span := tracer.Start(ctx, "scm.GetCommit")
	defer span.End()
	span.SetAttributes(attribute.String("scm.repo", repo), attribute.String("scm.sha", sha))

	endpoint := fmt.Sprintf("/repos/%s/%s/commits/%s",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(sha))
	var gc ghCommit
	if err := c.getJSON(ctx, endpoint, acceptJSON, &gc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CommitDetail{}, err
	}

	detail := CommitDetail{
		SHA:       gc.SHA,
		Author:    gc.Commit.Author.Name,
		Message:   gc.Commit.Message,
		Timestamp: gc.Commit.Author.Date,
		Additions: gc.Stats.Additions,
		Deletions: gc.Stats.Deletions,
	}
	for _, p := range gc.Parents {
		detail.Parents = append(detail.Parents, p.SHA)
	}
	for _, f := range gc.Files {
		detail.Files = append(detail.Files, CommitFile{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}
	return detail, nil
}

// FetchFileContent returns the content of path at ref.
//
// # Description
//
// Uses the contents API and decodes its base64 payload. Files above the
// API's inline size limit come back without content; those are fetched
// again with the raw media type.
//
// Concurrent calls for the same file and ref share one request. Each caller
// stops waiting when its own ctx ends; the shared request carries on for
// the others.
func (c *Client) FetchFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	key := owner + "/" + repo + "/" + path + "@" + ref
	results := c.contents.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return c.fetchFileContent(fetchCtx, owner, repo, path, ref)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) fetchFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "scm.FetchFileContent")
	defer span.End()
	span.SetAttributes(
		attribute.String("scm.repo", repo),
		attribute.String("scm.path", path),
		attribute.String("scm.ref", ref))

	endpoint := c.contentsEndpoint(owner, repo, path, ref)

	var content ghContent
	if err := c.getJSON(ctx, endpoint, acceptJSON, &content); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	switch {
	case content.Type != "" && content.Type != "file":
		err := fmt.Errorf("%s is a %s, not a file", path, content.Type)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	case content.Encoding == "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content.Content)
		data, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
		}
		return data, nil
	default:
		body, err := c.get(ctx, endpoint, acceptRaw)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return body, nil
	}
}

func (c *Client) contentsEndpoint(owner, repo, path, ref string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s",
		url.PathEscape(owner), url.PathEscape(repo), strings.Join(segments, "/"), url.QueryEscape(ref))
}

func (c *Client) getJSON(ctx context.Context, endpoint, accept string, out interface{}) error {
	body, err := c.get(ctx, endpoint, accept)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github api %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(body)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: excerpt}
	}
	return body, nil
}
