// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scm

// CommitSummary is one entry of a repository's commit list.
type CommitSummary struct {
	SHA       string `json:"sha"`
	Repo      string `json:"repo"`
	Author    string `json:"pusher"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// CommitFile is one file touched by a commit.
type CommitFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	// Patch is the unified diff of the file, empty for binaries.
	Patch string
}

// CommitDetail is a single commit with its files.
type CommitDetail struct {
	SHA       string
	Author    string
	Message   string
	Timestamp string
	Parents   []string
	Additions int
	Deletions int
	Files     []CommitFile
}

// IsRoot reports whether the commit has no parent.
func (c CommitDetail) IsRoot() bool {
	return len(c.Parents) == 0
}

// Wire shapes of the GitHub REST API, limited to the fields we read.

type ghCommitAuthor struct {
	Name string `json:"name"`
	Date string `json:"date"`
}

type ghCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Author  ghCommitAuthor `json:"author"`
		Message string         `json:"message"`
	} `json:"commit"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []struct {
		Filename  string `json:"filename"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
		Patch     string `json:"patch"`
	} `json:"files"`
}

type ghContent struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type ghRepo struct {
	Name string `json:"name"`
}
