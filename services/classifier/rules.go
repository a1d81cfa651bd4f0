// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
)

// Subject is what the rule chain inspects.
type Subject struct {
	Content string
	Message string
}

// Rule is one link of the chain: an id and a predicate.
type Rule struct {
	ID    datatypes.RuleID
	Match func(Subject) bool
}

// RuleChain is evaluated in order; the first match wins.
type RuleChain []Rule

// NewRuleChain builds the chain from the policy engine's compiled rules,
// which are already sorted by priority.
func NewRuleChain(engine *policy_engine.PolicyEngine) RuleChain {
	chain := make(RuleChain, 0, len(engine.Rules))
	for _, r := range engine.Rules {
		chain = append(chain, Rule{
			ID: datatypes.RuleID(r.Id),
			Match: func(s Subject) bool {
				return r.Matches(s.Content, s.Message)
			},
		})
	}
	return chain
}

// First returns the id of the first rule that matches s.
func (c RuleChain) First(s Subject) (datatypes.RuleID, bool) {
	for _, r := range c {
		if r.Match(s) {
			return r.ID, true
		}
	}
	return "", false
}
