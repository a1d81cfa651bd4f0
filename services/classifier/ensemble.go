// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier scores commits for the two risk signals: an unusual
// commit time and a likely vulnerability.
package classifier

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
)

const unusualThreshold = 0.5

// TimeAnomalyScorer flags commits made at hours the time model considers
// unusual.
type TimeAnomalyScorer struct {
	model Model
}

// NewTimeAnomalyScorer creates a scorer. A nil model, or one trained on a
// different schema, disables the scorer.
func NewTimeAnomalyScorer(model Model, logger *slog.Logger) *TimeAnomalyScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if model == nil {
		logger.Warn("no time anomaly model, unusual-hour detection disabled")
		return &TimeAnomalyScorer{}
	}
	if !model.Features().Equal(features.TimeSchema) {
		logger.Warn("time anomaly model schema does not match, unusual-hour detection disabled",
			slog.Int("model_features", len(model.Features())))
		return &TimeAnomalyScorer{}
	}
	return &TimeAnomalyScorer{model: model}
}

// Enabled reports whether a model is loaded.
func (s *TimeAnomalyScorer) Enabled() bool {
	return s.model != nil
}

// Score returns true when the commit time is unusual. Records whose timestamp
// did not parse are never unusual.
func (s *TimeAnomalyScorer) Score(fs features.FeatureSet) (bool, error) {
	if s.model == nil || !fs.Flag(features.TimeValidKey) {
		return false, nil
	}
	p, err := s.model.PredictProba(fs.Vector(features.TimeSchema).Values)
	if err != nil {
		return false, fmt.Errorf("time anomaly model: %w", err)
	}
	return p > unusualThreshold, nil
}

// VulnerabilityScorer runs the rule chain and, when no rule fires, the
// profile's statistical model.
type VulnerabilityScorer struct {
	rules   RuleChain
	profile Profile
}

// NewVulnerabilityScorer creates a scorer for one profile.
func NewVulnerabilityScorer(rules RuleChain, profile Profile) *VulnerabilityScorer {
	return &VulnerabilityScorer{rules: rules, profile: profile}
}

// Profile returns the active profile.
func (s *VulnerabilityScorer) Profile() Profile {
	return s.profile
}

// Verdict is the vulnerability part of a ClassificationResult.
type Verdict struct {
	IsVulnerable bool
	Score        float64
	MatchedRules []datatypes.RuleID
}

// Score evaluates the chain and falls back to the model.
//
// # Description
//
// The chain short-circuits: the first matching rule yields a vulnerable
// verdict with score 1 and the model is not consulted. Otherwise every
// profile override whose flag is set is recorded, and the model (if any)
// provides the score. With overrides set the verdict is vulnerable
// regardless of the score.
//
// # Errors
//
// Returns ErrSchemaMismatch when the feature vector does not fit the model.
func (s *VulnerabilityScorer) Score(subject Subject, fs features.FeatureSet) (Verdict, error) {
	if id, ok := s.rules.First(subject); ok {
		return Verdict{IsVulnerable: true, Score: 1, MatchedRules: []datatypes.RuleID{id}}, nil
	}

	var v Verdict
	for _, o := range s.profile.Overrides {
		if fs.Flag(o.Flag) {
			v.MatchedRules = append(v.MatchedRules, o.ID)
		}
	}

	if s.profile.Model != nil {
		vec := fs.Vector(s.profile.Schema)
		if !vec.Schema.Equal(s.profile.Model.Features()) {
			return Verdict{}, fmt.Errorf("%w: profile %s", ErrSchemaMismatch, s.profile.Name)
		}
		p, err := s.profile.Model.PredictProba(vec.Values)
		if err != nil {
			return Verdict{}, fmt.Errorf("vulnerability model (%s): %w", s.profile.Name, err)
		}
		v.Score = p
		v.IsVulnerable = p > s.profile.Threshold
	}

	if len(v.MatchedRules) > 0 {
		v.IsVulnerable = true
	}
	return v, nil
}

// Ensemble combines both scorers.
//
// # Thread Safety
//
// Ensemble holds only immutable state and is safe for concurrent use.
type Ensemble struct {
	Time          *TimeAnomalyScorer
	Vulnerability *VulnerabilityScorer
}

// NewEnsemble creates an ensemble.
func NewEnsemble(timeScorer *TimeAnomalyScorer, vulnerability *VulnerabilityScorer) *Ensemble {
	return &Ensemble{Time: timeScorer, Vulnerability: vulnerability}
}

// Classify produces the verdict for one record.
func (e *Ensemble) Classify(subject Subject, fs features.FeatureSet) (datatypes.ClassificationResult, error) {
	unusual, err := e.Time.Score(fs)
	if err != nil {
		return datatypes.ClassificationResult{}, err
	}
	v, err := e.Vulnerability.Score(subject, fs)
	if err != nil {
		return datatypes.ClassificationResult{}, err
	}
	return datatypes.ClassificationResult{
		IsUnusual:          unusual,
		IsVulnerable:       v.IsVulnerable,
		VulnerabilityScore: v.Score,
		MatchedRules:       v.MatchedRules,
	}, nil
}
