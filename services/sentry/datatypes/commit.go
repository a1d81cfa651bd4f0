// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the records that flow between the ingestion gateway,
// the feature extractor, the classifiers and the event bus.
package datatypes

import "fmt"

// CommitRecord is one modified file within one commit, with the metadata of the
// commit and the post-change content of the file.
//
// # Description
//
// A CommitRecord is built once by the ingestion gateway and never mutated
// afterwards. It is passed by value so downstream stages cannot change the
// gateway's copy.
type CommitRecord struct {
	Repo         string `json:"repo"`
	Owner        string `json:"owner"`
	CommitID     string `json:"commit_id"`
	Author       string `json:"pusher"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	FilePath     string `json:"file_path"`
	LinesAdded   int    `json:"num_lines_added"`
	LinesDeleted int    `json:"num_lines_deleted"`
	Content      string `json:"-"`

	// Complexity is the structural (or heuristic) complexity of Content.
	Complexity float64 `json:"file_complexity"`
}

// Key identifies the (commit, file) pair.
func (r CommitRecord) Key() string {
	return fmt.Sprintf("%s/%s@%s:%s", r.Owner, r.Repo, r.CommitID, r.FilePath)
}

// Info returns the subset of the record that is safe to put on the wire.
func (r CommitRecord) Info() CommitInfo {
	return CommitInfo{
		Repo:         r.Repo,
		Owner:        r.Owner,
		CommitID:     r.CommitID,
		Author:       r.Author,
		Message:      r.Message,
		Timestamp:    r.Timestamp,
		FilePath:     r.FilePath,
		LinesAdded:   r.LinesAdded,
		LinesDeleted: r.LinesDeleted,
		Complexity:   r.Complexity,
	}
}

// CommitInfo is the commit description carried by events.
type CommitInfo struct {
	Repo         string  `json:"repo"`
	Owner        string  `json:"owner,omitempty"`
	CommitID     string  `json:"commit_id"`
	Author       string  `json:"pusher"`
	Message      string  `json:"message"`
	Timestamp    string  `json:"timestamp"`
	FilePath     string  `json:"file_path,omitempty"`
	LinesAdded   int     `json:"num_lines_added"`
	LinesDeleted int     `json:"num_lines_deleted"`
	Complexity   float64 `json:"file_complexity"`
}

// RuleID names a rule of the vulnerability rule chain or a profile override.
type RuleID string

const (
	RuleSQLInjection       RuleID = "SQLInjection"
	RuleDangerousCall      RuleID = "DangerousCall"
	RuleWeakCrypto         RuleID = "WeakCrypto"
	RuleSecurityVocabulary RuleID = "SecurityVocabulary"

	// Batch profile overrides.
	RuleSQLKeywordOverride          RuleID = "SQLKeywordOverride"
	RuleHardcodedCredentialOverride RuleID = "HardcodedCredentialOverride"
)

// ClassificationResult is the verdict for one CommitRecord.
type ClassificationResult struct {
	IsUnusual          bool     `json:"isUnusual"`
	IsVulnerable       bool     `json:"isVulnerable"`
	VulnerabilityScore float64  `json:"vulnerabilityScore"`
	MatchedRules       []RuleID `json:"matchedRules,omitempty"`
}

// Flagged reports whether the verdict should trigger remediation.
func (c ClassificationResult) Flagged() bool {
	return c.IsUnusual || c.IsVulnerable
}
