// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"golang.org/x/sync/errgroup"
)

var (
	sqlWhereLiteral     = regexp.MustCompile(`SELECT.*FROM.*WHERE.*=\s*'.*'`)
	executeConcat       = regexp.MustCompile(`execute\(.*\+.*\)`)
	cursorExecuteFormat = regexp.MustCompile(`cursor\.execute\(f["']`)
)

// Extractor converts CommitRecords into FeatureSets.
//
// # Description
//
// One FeatureSet carries every feature any profile needs: the time schema,
// the online base schema, the selected text features and the batch schema.
// Profiles project it onto their own schema with FeatureSet.Vector.
//
// Pattern flags are computed per file and OR-combined across all files of
// the same commit, so every record of a commit carries the same flags.
//
// # Thread Safety
//
// Extractor is safe for concurrent use.
type Extractor struct {
	policy      *policy_engine.PolicyEngine
	text        *TextTransform
	concurrency int
	logger      *slog.Logger
}

// NewExtractor creates an extractor. text may be nil, in which case no text
// features are produced. concurrency bounds per-file pattern scanning.
func NewExtractor(policy *policy_engine.PolicyEngine, text *TextTransform, concurrency int, logger *slog.Logger) *Extractor {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{policy: policy, text: text, concurrency: concurrency, logger: logger}
}

// TextSchema returns the names of the text features this extractor emits.
func (e *Extractor) TextSchema() Schema {
	return e.text.FeatureNames()
}

// ExtractCommit returns one FeatureSet per record, in record order. All
// records are expected to belong to the same commit.
func (e *Extractor) ExtractCommit(ctx context.Context, records []datatypes.CommitRecord) ([]FeatureSet, error) {
	flags, err := e.commitFlags(ctx, records)
	if err != nil {
		return nil, err
	}

	sets := make([]FeatureSet, len(records))
	for i, rec := range records {
		fs := e.recordFeatures(rec.Message, rec.Timestamp, rec.Content, rec.LinesAdded, rec.LinesDeleted, rec.Complexity)
		for name, v := range flags {
			fs[name] = boolFeature(v)
		}
		sets[i] = fs
	}
	return sets, nil
}

// ExtractAggregate folds every record of a commit into a single FeatureSet:
// line counts and complexity are summed, flags are OR-combined and content is
// concatenated. The batch analyzer scores commits this way.
func (e *Extractor) ExtractAggregate(ctx context.Context, records []datatypes.CommitRecord) (FeatureSet, error) {
	flags, err := e.commitFlags(ctx, records)
	if err != nil {
		return nil, err
	}

	var (
		message, timestamp string
		added, deleted     int
		complexity         float64
		content            strings.Builder
	)
	for i, rec := range records {
		if i == 0 {
			message, timestamp = rec.Message, rec.Timestamp
		}
		added += rec.LinesAdded
		deleted += rec.LinesDeleted
		complexity += rec.Complexity
		if i > 0 {
			content.WriteByte('\n')
		}
		content.WriteString(rec.Content)
	}

	fs := e.recordFeatures(message, timestamp, content.String(), added, deleted, complexity)
	for name, v := range flags {
		fs[name] = boolFeature(v)
	}
	return fs, nil
}

// commitFlags scans every record's content and ORs the category flags.
func (e *Extractor) commitFlags(ctx context.Context, records []datatypes.CommitRecord) (map[string]bool, error) {
	perFile := make([]map[string]bool, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			perFile[i] = e.policy.MatchCategories(rec.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := make(map[string]bool, len(e.policy.Categories))
	for _, name := range e.policy.CategoryNames() {
		combined[name] = false
	}
	for _, flags := range perFile {
		for name, v := range flags {
			combined[name] = combined[name] || v
		}
	}
	return combined, nil
}

func (e *Extractor) recordFeatures(message, timestamp, content string, added, deleted int, complexity float64) FeatureSet {
	fs := make(FeatureSet, len(TimeSchema)+len(OnlineBaseSchema)+len(BatchSchema)+len(e.text.FeatureNames())+1)

	if tf, err := ExtractTime(timestamp); err != nil {
		e.logger.Warn("commit timestamp not parseable, time features disabled for record",
			slog.String("timestamp", timestamp),
			slog.String("error", err.Error()))
		fs[TimeValidKey] = 0
	} else {
		tf.apply(fs)
		fs[TimeValidKey] = 1
	}

	lower := strings.ToLower(message)
	fs["message_length"] = float64(utf8.RuneCountInString(message))
	fs["message_fix_count"] = float64(strings.Count(message, "fix"))
	fs["message_vulnerability_count"] = float64(strings.Count(message, "vulnerability"))
	fs["message_security_count"] = float64(strings.Count(message, "security"))
	fs["message_word_count"] = float64(len(strings.Fields(message)))
	fs["message_has_bug"] = boolFeature(strings.Contains(lower, "bug"))
	fs["message_has_patch"] = boolFeature(strings.Contains(lower, "patch"))
	fs["message_has_update"] = boolFeature(strings.Contains(lower, "update"))
	fs["num_lines_added"] = float64(added)
	fs["num_lines_deleted"] = float64(deleted)
	fs["dmm_unit_complexity"] = 0
	fs["dmm_unit_size"] = 0
	fs["code_sql_where_literal"] = boolFeature(sqlWhereLiteral.MatchString(content))
	fs["code_execute_concat"] = boolFeature(executeConcat.MatchString(content))
	fs["code_cursor_execute_fstring"] = boolFeature(cursorExecuteFormat.MatchString(content))
	fs["code_sqlite3_count"] = float64(strings.Count(content, "sqlite3"))
	fs["code_mysql_count"] = float64(strings.Count(content, "mysql"))
	fs["code_psycopg2_count"] = float64(strings.Count(content, "psycopg2"))

	for name, v := range e.text.Transform(message + " " + content) {
		fs[name] = v
	}

	fs["cvss3_base_score"] = RiskScore(complexity)
	fs["file_complexity"] = complexity

	return fs
}
