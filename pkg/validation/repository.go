// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied names before they are spliced into
// upstream API paths.
//
// Owner and repository names end up as path segments of GitHub REST URLs.
// A name with a slash or a dot segment would address a different resource,
// so both are validated against GitHub's own naming rules.
package validation

import (
	"fmt"
	"regexp"
)

// ownerPattern matches GitHub user and organization logins: alphanumerics
// and single inner hyphens, at most 39 characters.
var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)

// repoPattern matches GitHub repository names.
var repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// ValidateOwner validates a repository owner login.
//
// Example:
//
//	if err := validation.ValidateOwner(owner); err != nil {
//	    return fmt.Errorf("invalid --owner: %w", err)
//	}
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if len(owner) > 39 || !ownerPattern.MatchString(owner) {
		return fmt.Errorf("invalid owner %q (alphanumerics and inner hyphens, max 39 chars)", owner)
	}
	return nil
}

// ValidateRepo validates a repository name. "." and ".." are rejected since
// they would collapse the URL path.
func ValidateRepo(repo string) error {
	if repo == "" {
		return fmt.Errorf("repository cannot be empty")
	}
	if repo == "." || repo == ".." || !repoPattern.MatchString(repo) {
		return fmt.Errorf("invalid repository %q (alphanumerics, dots, hyphens, underscores, max 100 chars)", repo)
	}
	return nil
}
