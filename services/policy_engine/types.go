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
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// RuleTarget selects which part of a commit a rule inspects.
type RuleTarget string

const (
	TargetContent RuleTarget = "content"
	TargetMessage RuleTarget = "message"
)

type PatternFile struct {
	Categories []Category `yaml:"categories"`
	Rules      []Rule     `yaml:"rules"`
}

// Category is one pattern-feature flag (e.g. contains_sql_keywords).
type Category struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Rule is one link of the vulnerability rule chain.
type Rule struct {
	Id          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Priority    int        `yaml:"priority"`
	Target      RuleTarget `yaml:"target"`
	Patterns    []Pattern  `yaml:"patterns"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

// Match reports whether the compiled pattern matches s.
func (p Pattern) Match(s string) bool {
	return p.compiledPattern != nil && p.compiledPattern.MatchString(s)
}

// Matches reports whether any pattern of the category matches content.
func (c Category) Matches(content string) bool {
	for _, p := range c.Patterns {
		if p.Match(content) {
			return true
		}
	}
	return false
}

// Matches evaluates the rule against the field selected by its target.
func (r Rule) Matches(content, message string) bool {
	subject := content
	if r.Target == TargetMessage {
		subject = message
	}
	for _, p := range r.Patterns {
		if p.Match(subject) {
			return true
		}
	}
	return false
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (t *RuleTarget) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch RuleTarget(s) {
	case TargetContent, TargetMessage:
		*t = RuleTarget(s)
		return nil
	default:
		return fmt.Errorf("invalid value for Target: %q", s)
	}
}

func compilePatterns(patterns []Pattern) error {
	for j := range patterns {
		pattern := &patterns[j]
		re, err := regexp.Compile(pattern.Regex)
		if err != nil {
			return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
		}
		pattern.compiledPattern = re
	}
	return nil
}

func (p *PatternFile) CompileRegexes() error {
	for i := range p.Categories {
		if err := compilePatterns(p.Categories[i].Patterns); err != nil {
			return fmt.Errorf("category %s: %w", p.Categories[i].Name, err)
		}
	}
	for i := range p.Rules {
		if len(p.Rules[i].Patterns) == 0 {
			return fmt.Errorf("rule %s has no patterns", p.Rules[i].Id)
		}
		if err := compilePatterns(p.Rules[i].Patterns); err != nil {
			return fmt.Errorf("rule %s: %w", p.Rules[i].Id, err)
		}
	}
	return nil
}

// SortByPriority orders the rule chain from highest to lowest priority. The
// category list keeps its declaration order because it defines feature order.
func (p *PatternFile) SortByPriority() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].Priority > p.Rules[j].Priority
	})
}

type ScanFinding struct {
	FilePath           string          `json:"file_path"`
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	CategoryName       string          `json:"category_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
