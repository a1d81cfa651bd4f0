// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"testing"

	"github.com/AleutianAI/commitsentry/services/batch"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestRenderReport(t *testing.T) {
	report := &batch.Report{
		Owner: "acme", Repo: "shop", Profile: "batch", Vulnerable: 1, Skipped: 1,
		Commits: []batch.CommitReport{
			{
				SHA: "0123456789abcdef", Author: "ann", Message: "add lookup\n\nlong body",
				LinesAdded: 2, LinesDeleted: 1,
				Result: datatypes.ClassificationResult{
					IsVulnerable: true, VulnerabilityScore: 1,
					MatchedRules: []datatypes.RuleID{datatypes.RuleSQLInjection},
				},
				Findings: []policy_engine.ScanFinding{{FilePath: "db.py", LineNumber: 2, PatternDescription: "SQL keyword"}},
			},
			{SHA: "fedcba", Message: "initial", Skipped: true, SkipReason: batch.SkipRootCommit},
		},
	}

	var buf bytes.Buffer
	renderReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "acme/shop: 2 commits, 1 vulnerable, 1 skipped (profile batch)")
	assert.Contains(t, out, "VULN  0123456  add lookup by ann  score=1.00  rules=SQLInjection  +2/-1")
	assert.Contains(t, out, "db.py:2 SQL keyword")
	assert.Contains(t, out, "SKIP  fedcba  initial (root commit)")
	assert.NotContains(t, out, "long body")
}

func TestAnalyzeCommand_RequiresRepo(t *testing.T) {
	owner, repo = "", ""
	err := runAnalyze(analyzeCmd, nil)
	assert.EqualError(t, err, "--owner and --repo are required")
}

func TestAnalyzeCommand_RejectsPathSegments(t *testing.T) {
	owner, repo = "acme", "../billing"
	defer func() { owner, repo = "", "" }()

	err := runAnalyze(analyzeCmd, nil)
	assert.ErrorContains(t, err, "invalid --repo")
}
