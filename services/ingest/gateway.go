// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest is the commit ingestion gateway. It authenticates a push
// notification, fetches the post-change content of every modified file and
// builds one CommitRecord per (commit, file).
package ingest

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("commitsentry.ingest")

// PushEventType is the only event type that is processed.
const PushEventType = "push"

// DefaultFetchConcurrency caps outstanding content fetches per push.
const DefaultFetchConcurrency = 8

// Stage labels used in logs and metrics.
const (
	StageFetchFile = "fetch_file"
)

// ContentFetcher retrieves file content at a ref.
type ContentFetcher interface {
	FetchFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// ComplexityAnalyzer scores file content.
type ComplexityAnalyzer interface {
	Analyze(ctx context.Context, path string, content []byte) features.Complexity
}

// Config configures a Gateway.
type Config struct {
	Secret      []byte
	Fetcher     ContentFetcher
	Analyzer    ComplexityAnalyzer
	Concurrency int
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Gateway turns authenticated push notifications into CommitRecords.
//
// # Thread Safety
//
// Gateway is safe for concurrent use.
type Gateway struct {
	secret      []byte
	fetcher     ContentFetcher
	analyzer    ComplexityAnalyzer
	concurrency int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultFetchConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		secret:      cfg.Secret,
		fetcher:     cfg.Fetcher,
		analyzer:    cfg.Analyzer,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// CommitBatch holds the records of one commit, in payload file order.
type CommitBatch struct {
	CommitID string
	Records  []datatypes.CommitRecord
}

// Result is the outcome of one notification.
type Result struct {
	EventType string
	// Ignored is true for authenticated events other than push.
	Ignored bool
	Owner   string
	Repo    string
	Commits []CommitBatch
	// Skipped counts files whose content could not be fetched.
	Skipped int
}

// Records returns every record of every commit in order.
func (r *Result) Records() []datatypes.CommitRecord {
	var out []datatypes.CommitRecord
	for _, c := range r.Commits {
		out = append(out, c.Records...)
	}
	return out
}

// Ingest authenticates and processes one notification.
//
// # Description
//
// The signature is checked against the raw body before anything is parsed.
// Authenticated events other than push are acknowledged and ignored. For a
// push, the content of every modified file of every commit is fetched with
// at most Concurrency requests in flight. A failed fetch is logged with the
// commit id and file path, counted and skipped.
//
// # Errors
//
//   - ErrAuthentication: signature missing or wrong. Nothing else happened.
//   - ErrMalformedPayload: body is not a valid push payload. Nothing was fetched.
//   - ctx.Err(): the caller went away while fetching.
func (g *Gateway) Ingest(ctx context.Context, eventType, signature string, body []byte) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event", eventType))

	if err := VerifySignature(g.secret, body, signature); err != nil {
		span.SetStatus(codes.Error, "authentication failed")
		return nil, err
	}

	if eventType != PushEventType {
		g.logger.Info("ignoring webhook event", slog.String("event", eventType))
		return &Result{EventType: eventType, Ignored: true}, nil
	}

	push, err := ParsePush(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	owner, repo := push.OwnerName(), push.Repository.Name
	span.SetAttributes(
		attribute.String("scm.owner", owner),
		attribute.String("scm.repo", repo),
		attribute.Int("push.commits", len(push.Commits)))

	result := &Result{EventType: eventType, Owner: owner, Repo: repo}

	type slot struct {
		record datatypes.CommitRecord
		ok     bool
	}
	type job struct {
		commit int
		file   int
	}
	slots := make([][]slot, len(push.Commits))
	var jobs []job
	for ci, c := range push.Commits {
		slots[ci] = make([]slot, len(c.Modified))
		for fi := range c.Modified {
			jobs = append(jobs, job{commit: ci, file: fi})
		}
	}

	g.logger.Info("processing push",
		slog.String("owner", owner),
		slog.String("repo", repo),
		slog.Int("commits", len(push.Commits)),
		slog.Int("files", len(jobs)))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.concurrency)
	for _, j := range jobs {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := push.Commits[j.commit]
			path := c.Modified[j.file]

			content, err := g.fetcher.FetchFileContent(gctx, owner, repo, path, c.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				fetchErr := &FetchError{Owner: owner, Repo: repo, CommitID: c.ID, Path: path, Err: err}
				g.metrics.RecordFetchFailure(StageFetchFile)
				g.logger.Warn("skipping file, content fetch failed",
					slog.String("stage", StageFetchFile),
					slog.String("commit_id", c.ID),
					slog.String("file_path", path),
					slog.String("error", fetchErr.Error()))
				return nil
			}

			slots[j.commit][j.file] = slot{record: g.buildRecord(gctx, owner, repo, c, path, content), ok: true}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for ci, c := range push.Commits {
		batch := CommitBatch{CommitID: c.ID}
		for _, s := range slots[ci] {
			if !s.ok {
				result.Skipped++
				continue
			}
			batch.Records = append(batch.Records, s.record)
		}
		if len(batch.Records) > 0 {
			result.Commits = append(result.Commits, batch)
		}
	}

	span.SetAttributes(attribute.Int("push.skipped_files", result.Skipped))
	return result, nil
}

func (g *Gateway) buildRecord(ctx context.Context, owner, repo string, c PushCommit, path string, content []byte) datatypes.CommitRecord {
	rec := datatypes.CommitRecord{
		Repo:      repo,
		Owner:     owner,
		CommitID:  c.ID,
		Author:    c.Author.Name,
		Message:   c.Message,
		Timestamp: c.Timestamp,
		FilePath:  path,
		Content:   string(content),
	}
	if c.Stats != nil {
		rec.LinesAdded = c.Stats.Additions
		rec.LinesDeleted = c.Stats.Deletions
	}
	if g.analyzer != nil {
		rec.Complexity = g.analyzer.Analyze(ctx, path, content).Total
	} else {
		rec.Complexity = features.HeuristicComplexity(rec.Content)
	}
	return rec
}
