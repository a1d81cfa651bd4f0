// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the live scoring path for one webhook delivery:
// ingest, extract features, classify, publish events and hand flagged records
// to the workflow coordinator.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/commitsentry/services/classifier"
	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/ingest"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/AleutianAI/commitsentry/services/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("commitsentry.pipeline")

// StageClassify labels classification failures in logs and metrics.
const StageClassify = "classify"

// Ingester authenticates a delivery and builds the commit records.
type Ingester interface {
	Ingest(ctx context.Context, eventType, signature string, body []byte) (*ingest.Result, error)
}

// Publisher receives the produced events.
type Publisher interface {
	Publish(ev datatypes.Event)
}

// WorkflowStarter launches remediation for a flagged record.
type WorkflowStarter interface {
	Start(rec datatypes.CommitRecord, result datatypes.ClassificationResult) (*workflow.Execution, error)
}

// Config configures a Pipeline. Workflows may be nil when no workflow
// engine is configured.
type Config struct {
	Ingester  Ingester
	Extractor *features.Extractor
	Ensemble  *classifier.Ensemble
	Publisher Publisher
	Workflows WorkflowStarter
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Pipeline is the live scoring path.
//
// # Thread Safety
//
// Pipeline holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	ingester  Ingester
	extractor *features.Extractor
	ensemble  *classifier.Ensemble
	publisher Publisher
	workflows WorkflowStarter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		ingester:  cfg.Ingester,
		extractor: cfg.Extractor,
		ensemble:  cfg.Ensemble,
		publisher: cfg.Publisher,
		workflows: cfg.Workflows,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Summary describes what one delivery produced.
type Summary struct {
	EventType  string `json:"event"`
	Ignored    bool   `json:"ignored,omitempty"`
	Commits    int    `json:"commits"`
	Records    int    `json:"records"`
	Skipped    int    `json:"skipped_files"`
	Failed     int    `json:"failed_records"`
	Unusual    int    `json:"unusual"`
	Vulnerable int    `json:"vulnerable"`
	Workflows  int    `json:"workflows_started"`
}

// HandlePush processes one webhook delivery end to end.
//
// # Description
//
// For every record, in commit order then file order, a Commit event is
// published first, followed by the unusual-time and vulnerability alerts
// that apply. A flagged record is then handed to the workflow coordinator,
// whose result event is published later from its own goroutine.
//
// A record that cannot be classified is logged and counted in Failed; the
// rest of the delivery continues.
//
// # Errors
//
// Errors from the gateway are returned unchanged (ingest.ErrAuthentication,
// ingest.ErrMalformedPayload). No event is published in those cases.
func (p *Pipeline) HandlePush(ctx context.Context, eventType, signature string, body []byte) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "pipeline.HandlePush")
	defer span.End()

	res, err := p.ingester.Ingest(ctx, eventType, signature, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sum := &Summary{EventType: res.EventType, Ignored: res.Ignored, Skipped: res.Skipped}
	if res.Ignored {
		return sum, nil
	}

	for _, batch := range res.Commits {
		sets, err := p.extractor.ExtractCommit(ctx, batch.Records)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		sum.Commits++
		for i, rec := range batch.Records {
			sum.Records++
			p.score(ctx, rec, sets[i], sum)
		}
	}

	span.SetAttributes(
		attribute.Int("pipeline.records", sum.Records),
		attribute.Int("pipeline.unusual", sum.Unusual),
		attribute.Int("pipeline.vulnerable", sum.Vulnerable))
	return sum, nil
}

func (p *Pipeline) score(ctx context.Context, rec datatypes.CommitRecord, fs features.FeatureSet, sum *Summary) {
	result, err := p.ensemble.Classify(classifier.Subject{Content: rec.Content, Message: rec.Message}, fs)
	if err != nil {
		sum.Failed++
		p.logger.ErrorContext(ctx, "classification failed, record skipped",
			slog.String("stage", StageClassify),
			slog.String("commit_id", rec.CommitID),
			slog.String("file_path", rec.FilePath),
			slog.String("error", err.Error()))
		return
	}

	rules := make([]string, len(result.MatchedRules))
	for i, r := range result.MatchedRules {
		rules[i] = string(r)
	}
	p.metrics.RecordVerdict(p.ensemble.Vulnerability.Profile().Name, result.IsUnusual, result.IsVulnerable, rules)

	info := rec.Info()
	p.publisher.Publish(datatypes.NewCommitEvent(info, result))
	if result.IsUnusual {
		sum.Unusual++
		p.publisher.Publish(datatypes.NewAlertEvent(datatypes.UnusualCommitAlert(info)))
	}
	if result.IsVulnerable {
		sum.Vulnerable++
		p.publisher.Publish(datatypes.NewAlertEvent(datatypes.VulnerabilityAlert(info)))
	}

	if !result.Flagged() || p.workflows == nil {
		return
	}
	if _, err := p.workflows.Start(rec, result); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, workflow.ErrDuplicate) {
			level = slog.LevelInfo
		}
		p.logger.Log(ctx, level, "workflow not started",
			slog.String("commit_id", rec.CommitID),
			slog.String("file_path", rec.FilePath),
			slog.String("error", err.Error()))
		return
	}
	sum.Workflows++
}
