// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch scores the recent history of a repository after the fact,
// one verdict per commit, using the batch profile.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/commitsentry/services/classifier"
	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/sourcegraph/go-diff/diff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("commitsentry.batch")

// Skip reasons.
const (
	SkipRootCommit    = "root commit"
	SkipNoContent     = "no analyzable content"
	SkipCommitFetch   = "commit fetch failed"
	SkipClassifyError = "classification failed"
)

var archiveExtensions = map[string]bool{
	".rar": true,
	".7z":  true,
}

// Source is the source-control collaborator.
type Source interface {
	ListCommits(ctx context.Context, owner, repo string, count int) ([]scm.CommitSummary, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (scm.CommitDetail, error)
	FetchFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// Config configures an Analyzer. Ensemble should carry the batch profile.
type Config struct {
	Source    Source
	Extractor *features.Extractor
	Ensemble  *classifier.Ensemble
	Policy    *policy_engine.PolicyEngine
	Analyzer  *features.ComplexityAnalyzer
	Logger    *slog.Logger
}

// Analyzer runs retrospective analysis.
type Analyzer struct {
	source    Source
	extractor *features.Extractor
	ensemble  *classifier.Ensemble
	policy    *policy_engine.PolicyEngine
	analyzer  *features.ComplexityAnalyzer
	logger    *slog.Logger
}

// New creates an analyzer.
func New(cfg Config) *Analyzer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = features.NewComplexityAnalyzer(cfg.Logger)
	}
	return &Analyzer{
		source:    cfg.Source,
		extractor: cfg.Extractor,
		ensemble:  cfg.Ensemble,
		policy:    cfg.Policy,
		analyzer:  cfg.Analyzer,
		logger:    cfg.Logger,
	}
}

// CommitReport is the outcome for one commit.
type CommitReport struct {
	SHA          string                         `json:"sha"`
	Author       string                         `json:"author"`
	Message      string                         `json:"message"`
	Timestamp    string                         `json:"timestamp"`
	Skipped      bool                           `json:"skipped,omitempty"`
	SkipReason   string                         `json:"skip_reason,omitempty"`
	Files        []string                       `json:"files,omitempty"`
	LinesAdded   int                            `json:"lines_added"`
	LinesDeleted int                            `json:"lines_deleted"`
	Result       datatypes.ClassificationResult `json:"result"`
	Findings     []policy_engine.ScanFinding    `json:"findings,omitempty"`
}

// Report is the outcome for a repository.
type Report struct {
	Owner      string         `json:"owner"`
	Repo       string         `json:"repo"`
	Profile    string         `json:"profile"`
	Commits    []CommitReport `json:"commits"`
	Vulnerable int            `json:"vulnerable"`
	Skipped    int            `json:"skipped"`
}

// Analyze scores the last count commits of owner/repo.
//
// # Description
//
// Root commits and commits with no fetchable non-archive file are reported
// as skipped. Line stats come from the unified-diff patch of each file;
// content for pattern flags and complexity is fetched at the commit.
//
// # Errors
//
// Only a failure to list commits is returned. Per-commit failures become
// skipped entries.
func (a *Analyzer) Analyze(ctx context.Context, owner, repo string, count int) (*Report, error) {
	ctx, span := tracer.Start(ctx, "batch.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("repo", owner+"/"+repo),
		attribute.Int("count", count))

	commits, err := a.source.ListCommits(ctx, owner, repo, count)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list commits of %s/%s: %w", owner, repo, err)
	}

	report := &Report{
		Owner:   owner,
		Repo:    repo,
		Profile: a.ensemble.Vulnerability.Profile().Name,
		Commits: make([]CommitReport, 0, len(commits)),
	}
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cr := a.analyzeCommit(ctx, owner, repo, c)
		if cr.Skipped {
			report.Skipped++
		} else if cr.Result.IsVulnerable {
			report.Vulnerable++
		}
		report.Commits = append(report.Commits, cr)
	}
	return report, nil
}

func (a *Analyzer) analyzeCommit(ctx context.Context, owner, repo string, c scm.CommitSummary) CommitReport {
	cr := CommitReport{SHA: c.SHA, Author: c.Author, Message: c.Message, Timestamp: c.Timestamp}
	logger := a.logger.With(slog.String("commit_id", c.SHA))

	detail, err := a.source.GetCommit(ctx, owner, repo, c.SHA)
	if err != nil {
		logger.Warn("failed to fetch commit, skipping",
			slog.String("stage", "fetch_commit"),
			slog.String("error", err.Error()))
		return skipped(cr, SkipCommitFetch)
	}
	if detail.IsRoot() {
		return skipped(cr, SkipRootCommit)
	}

	var records []datatypes.CommitRecord
	for _, f := range detail.Files {
		if archiveExtensions[strings.ToLower(filepath.Ext(f.Filename))] || f.Status == "removed" {
			continue
		}
		content, err := a.source.FetchFileContent(ctx, owner, repo, f.Filename, c.SHA)
		if err != nil {
			logger.Warn("failed to fetch file, skipping",
				slog.String("stage", "fetch_file"),
				slog.String("file_path", f.Filename),
				slog.String("error", err.Error()))
			continue
		}
		added, deleted := PatchStats(f)
		records = append(records, datatypes.CommitRecord{
			Repo:         repo,
			Owner:        owner,
			CommitID:     c.SHA,
			Author:       c.Author,
			Message:      c.Message,
			Timestamp:    c.Timestamp,
			FilePath:     f.Filename,
			LinesAdded:   added,
			LinesDeleted: deleted,
			Content:      string(content),
			Complexity:   a.analyzer.Analyze(ctx, f.Filename, content).Total,
		})
		cr.Files = append(cr.Files, f.Filename)
		cr.LinesAdded += added
		cr.LinesDeleted += deleted
		cr.Findings = append(cr.Findings, a.policy.ScanFileContent(f.Filename, string(content))...)
	}
	if len(records) == 0 {
		return skipped(cr, SkipNoContent)
	}

	fs, err := a.extractor.ExtractAggregate(ctx, records)
	if err != nil {
		logger.Warn("feature extraction failed, skipping",
			slog.String("stage", "extract"),
			slog.String("error", err.Error()))
		return skipped(cr, SkipClassifyError)
	}

	var content strings.Builder
	for i, rec := range records {
		if i > 0 {
			content.WriteByte('\n')
		}
		content.WriteString(rec.Content)
	}
	result, err := a.ensemble.Classify(classifier.Subject{Content: content.String(), Message: c.Message}, fs)
	if err != nil {
		logger.Warn("classification failed, skipping",
			slog.String("stage", "classify"),
			slog.String("error", err.Error()))
		return skipped(cr, SkipClassifyError)
	}
	cr.Result = result
	return cr
}

func skipped(cr CommitReport, reason string) CommitReport {
	cr.Skipped = true
	cr.SkipReason = reason
	return cr
}

// PatchStats counts added and deleted lines of a file's unified-diff patch.
// When the patch is missing or does not parse, the counts reported by the
// API are used.
func PatchStats(f scm.CommitFile) (added, deleted int) {
	if f.Patch == "" {
		return f.Additions, f.Deletions
	}
	hunks, err := diff.ParseHunks([]byte(f.Patch))
	if err != nil || len(hunks) == 0 {
		return f.Additions, f.Deletions
	}
	for _, h := range hunks {
		for _, line := range bytes.Split(h.Body, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				added++
			case '-':
				deleted++
			}
		}
	}
	return added, deleted
}
