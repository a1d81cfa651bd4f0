// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/commitsentry/pkg/logging"
	"github.com/AleutianAI/commitsentry/pkg/validation"
	"github.com/AleutianAI/commitsentry/services/batch"
	"github.com/AleutianAI/commitsentry/services/classifier"
	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/spf13/cobra"
)

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if owner == "" || repo == "" {
		return errors.New("--owner and --repo are required")
	}
	if err := validation.ValidateOwner(owner); err != nil {
		return fmt.Errorf("invalid --owner: %w", err)
	}
	if err := validation.ValidateRepo(repo); err != nil {
		return fmt.Errorf("invalid --repo: %w", err)
	}
	if count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", count)
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: level, Service: "sentry-batch"})
	defer logger.Close()

	policy, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return fmt.Errorf("failed to load rule table: %w", err)
	}
	artifacts := classifier.LoadArtifacts(artifactDir, logger.Slog())

	analyzer := batch.New(batch.Config{
		Source:    scm.NewClient(scm.Config{BaseURL: apiURL, Token: os.Getenv("GITHUB_TOKEN")}),
		Extractor: features.NewExtractor(policy, artifacts.Text, 4, logger.Slog()),
		Ensemble: classifier.NewEnsemble(
			classifier.NewTimeAnomalyScorer(artifacts.TimeModel, logger.Slog()),
			classifier.NewVulnerabilityScorer(
				classifier.NewRuleChain(policy),
				classifier.NewBatchProfile(artifacts.BatchModel, logger.Slog()))),
		Policy: policy,
		Logger: logger.Slog(),
	})

	report, err := analyzer.Analyze(cmd.Context(), owner, repo, count)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderReport(cmd.OutOrStdout(), report)
	return nil
}

func renderReport(w io.Writer, report *batch.Report) {
	fmt.Fprintf(w, "%s/%s: %d commits, %d vulnerable, %d skipped (profile %s)\n\n",
		report.Owner, report.Repo, len(report.Commits), report.Vulnerable, report.Skipped, report.Profile)

	for _, c := range report.Commits {
		short := c.SHA
		if len(short) > 7 {
			short = short[:7]
		}
		subject, _, _ := strings.Cut(c.Message, "\n")

		switch {
		case c.Skipped:
			fmt.Fprintf(w, "  SKIP  %s  %s (%s)\n", short, subject, c.SkipReason)
			continue
		case c.Result.IsVulnerable:
			fmt.Fprintf(w, "  VULN  %s  %s by %s  score=%.2f", short, subject, c.Author, c.Result.VulnerabilityScore)
		default:
			fmt.Fprintf(w, "  ok    %s  %s by %s  score=%.2f", short, subject, c.Author, c.Result.VulnerabilityScore)
		}
		if c.Result.IsUnusual {
			fmt.Fprint(w, "  unusual-hour")
		}
		if len(c.Result.MatchedRules) > 0 {
			rules := make([]string, len(c.Result.MatchedRules))
			for i, r := range c.Result.MatchedRules {
				rules[i] = string(r)
			}
			fmt.Fprintf(w, "  rules=%s", strings.Join(rules, ","))
		}
		fmt.Fprintf(w, "  +%d/-%d\n", c.LinesAdded, c.LinesDeleted)

		for _, f := range c.Findings {
			fmt.Fprintf(w, "        %s:%d %s\n", f.FilePath, f.LineNumber, f.PatternDescription)
		}
	}
}
