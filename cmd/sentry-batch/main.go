// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentry-batch scores the recent commits of a repository with the
// batch vulnerability profile.
//
//	sentry-batch analyze --owner acme --repo shop --count 50
//	sentry-batch analyze --owner acme --repo shop --json > report.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	owner       string
	repo        string
	count       int
	jsonOutput  bool
	artifactDir string
	apiURL      string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:   "sentry-batch",
		Short: "Retrospective commit risk analysis",
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Score the last N commits of a repository",
		RunE:  runAnalyze,
	}
)

func init() {
	analyzeCmd.Flags().StringVar(&owner, "owner", os.Getenv("GITHUB_OWNER"), "Repository owner")
	analyzeCmd.Flags().StringVar(&repo, "repo", os.Getenv("GITHUB_REPO"), "Repository name")
	analyzeCmd.Flags().IntVar(&count, "count", 30, "Number of most recent commits to analyze")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	analyzeCmd.Flags().StringVar(&artifactDir, "artifacts", envOr("SENTRY_ARTIFACT_DIR", "./artifacts"), "Model artifact directory")
	analyzeCmd.Flags().StringVar(&apiURL, "api-url", envOr("GITHUB_API_URL", "https://api.github.com"), "GitHub API base URL")
	analyzeCmd.Flags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
