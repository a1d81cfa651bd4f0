// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/commitsentry/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine holds the compiled vulnerability pattern table: the pattern
// categories used as features and the ordered rule chain.
type PolicyEngine struct {
	Categories []Category
	Rules      []Rule
}

// NewPolicyEngine initializes a new instance of the PolicyEngine.
//
// It loads the pattern table embedded in the binary via the enforcement
// package and performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts the rule chain by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromBytes(enforcement.VulnerabilityPatterns)
}

// NewPolicyEngineFromBytes builds an engine from an arbitrary pattern table.
func NewPolicyEngineFromBytes(data []byte) (*PolicyEngine, error) {
	var patternFile PatternFile
	if err := yaml.Unmarshal(data, &patternFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the pattern table: %w", err)
	}

	if err := patternFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}

	patternFile.SortByPriority()

	return &PolicyEngine{
		Categories: patternFile.Categories,
		Rules:      patternFile.Rules,
	}, nil
}

// CategoryNames returns the category names in declaration order.
func (e *PolicyEngine) CategoryNames() []string {
	names := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		names = append(names, c.Name)
	}
	return names
}

// MatchCategories evaluates every category against content.
func (e *PolicyEngine) MatchCategories(content string) map[string]bool {
	flags := make(map[string]bool, len(e.Categories))
	for _, c := range e.Categories {
		flags[c.Name] = c.Matches(content)
	}
	return flags
}

// ScanFileContent performs a line-level audit of content.
//
// It splits the content into lines and checks every line against every
// category pattern, capturing the line number and the text that triggered the
// match. Used to give alert consumers more detail than a boolean flag.
func (e *PolicyEngine) ScanFileContent(filePath, content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, category := range e.Categories {
			for _, pattern := range category.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					findings = append(findings, ScanFinding{
						FilePath:           filePath,
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						CategoryName:       category.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}
