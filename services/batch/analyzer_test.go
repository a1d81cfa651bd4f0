// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/commitsentry/services/classifier"
	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	commits []scm.CommitSummary
	listErr error
	details map[string]scm.CommitDetail
	files   map[string]string
	fetched []string
}

func (f *fakeSource) ListCommits(context.Context, string, string, int) ([]scm.CommitSummary, error) {
	return f.commits, f.listErr
}

func (f *fakeSource) GetCommit(_ context.Context, _, _, sha string) (scm.CommitDetail, error) {
	d, ok := f.details[sha]
	if !ok {
		return scm.CommitDetail{}, scm.ErrNotFound
	}
	return d, nil
}

func (f *fakeSource) FetchFileContent(_ context.Context, _, _, path, ref string) ([]byte, error) {
	f.fetched = append(f.fetched, ref+":"+path)
	content, ok := f.files[ref+":"+path]
	if !ok {
		return nil, errors.New("404")
	}
	return []byte(content), nil
}

const sqlPatch = `@@ -1,2 +1,3 @@
 import sqlite3
-query = "SELECT 1"
+query = "SELECT * FROM users WHERE id = '" + user_input + "'"
+cursor.execute(query)`

func newTestAnalyzer(t *testing.T, src Source) *Analyzer {
	t.Helper()
	policy, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	artifacts := classifier.LoadArtifacts("../../artifacts", nil)
	return New(Config{
		Source:    src,
		Extractor: features.NewExtractor(policy, artifacts.Text, 2, nil),
		Ensemble: classifier.NewEnsemble(
			classifier.NewTimeAnomalyScorer(artifacts.TimeModel, nil),
			classifier.NewVulnerabilityScorer(classifier.NewRuleChain(policy), classifier.NewBatchProfile(artifacts.BatchModel, nil))),
		Policy: policy,
	})
}

func TestAnalyze(t *testing.T) {
	// Arrange
	src := &fakeSource{
		commits: []scm.CommitSummary{
			{SHA: "c3", Author: "ann", Message: "add user lookup", Timestamp: "2024-03-05T14:00:00Z"},
			{SHA: "c2", Author: "bob", Message: "vendor archive", Timestamp: "2024-03-04T14:00:00Z"},
			{SHA: "c1", Author: "ann", Message: "initial commit", Timestamp: "2024-03-01T14:00:00Z"},
			{SHA: "c0", Author: "eve", Message: "gone", Timestamp: "2024-02-01T14:00:00Z"},
		},
		details: map[string]scm.CommitDetail{
			"c3": {SHA: "c3", Parents: []string{"c2"}, Files: []scm.CommitFile{
				{Filename: "db.py", Status: "modified", Additions: 99, Deletions: 99, Patch: sqlPatch},
				{Filename: "old.py", Status: "removed", Deletions: 4},
				{Filename: "missing.py", Status: "added", Additions: 1},
			}},
			"c2": {SHA: "c2", Parents: []string{"c1"}, Files: []scm.CommitFile{
				{Filename: "deps/lib.7z", Status: "added"},
				{Filename: "deps/OTHER.RAR", Status: "added"},
			}},
			"c1": {SHA: "c1", Files: []scm.CommitFile{{Filename: "README.md", Status: "added"}}},
		},
		files: map[string]string{
			"c3:db.py": "import sqlite3\nquery = \"SELECT * FROM users WHERE id = '\" + user_input + \"'\"\ncursor.execute(query)\n",
		},
	}
	analyzer := newTestAnalyzer(t, src)

	// Act
	report, err := analyzer.Analyze(context.Background(), "acme", "shop", 4)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, classifier.BatchProfileName, report.Profile)
	require.Len(t, report.Commits, 4)
	assert.Equal(t, 1, report.Vulnerable)
	assert.Equal(t, 3, report.Skipped)

	c3 := report.Commits[0]
	assert.False(t, c3.Skipped)
	assert.Equal(t, []string{"db.py"}, c3.Files)
	assert.Equal(t, 2, c3.LinesAdded, "stats come from the patch, not the API counts")
	assert.Equal(t, 1, c3.LinesDeleted)
	assert.True(t, c3.Result.IsVulnerable)
	assert.Equal(t, []datatypes.RuleID{datatypes.RuleSQLInjection}, c3.Result.MatchedRules)
	assert.NotEmpty(t, c3.Findings)

	assert.Equal(t, SkipNoContent, report.Commits[1].SkipReason)
	assert.Equal(t, SkipRootCommit, report.Commits[2].SkipReason)
	assert.Equal(t, SkipCommitFetch, report.Commits[3].SkipReason)

	assert.NotContains(t, src.fetched, "c3:old.py")
	assert.NotContains(t, src.fetched, "c2:deps/lib.7z")
	assert.NotContains(t, src.fetched, "c1:README.md")
}

func TestAnalyze_ListFailure(t *testing.T) {
	analyzer := newTestAnalyzer(t, &fakeSource{listErr: errors.New("rate limited")})

	_, err := analyzer.Analyze(context.Background(), "acme", "shop", 10)

	assert.Error(t, err)
}

func TestPatchStats(t *testing.T) {
	tests := []struct {
		name        string
		file        scm.CommitFile
		wantAdded   int
		wantDeleted int
	}{
		{"patch", scm.CommitFile{Patch: sqlPatch, Additions: 7, Deletions: 7}, 2, 1},
		{"binary without patch", scm.CommitFile{Additions: 3, Deletions: 2}, 3, 2},
		{"unparseable patch", scm.CommitFile{Patch: "not a diff", Additions: 4}, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, deleted := PatchStats(tt.file)
			assert.Equal(t, tt.wantAdded, added)
			assert.Equal(t, tt.wantDeleted, deleted)
		})
	}
}
