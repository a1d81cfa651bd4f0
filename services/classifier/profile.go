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
	"log/slog"

	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
)

// Profile names.
const (
	OnlineProfileName = "online"
	BatchProfileName  = "batch"
)

const (
	onlineThreshold = 0.5
	batchThreshold  = 0.4
)

// Override marks a commit vulnerable whenever a pattern flag is set,
// regardless of the model score.
type Override struct {
	ID   datatypes.RuleID
	Flag string
}

// Profile is a self-consistent configuration of the statistical path of the
// vulnerability scorer: which schema the model consumes, its threshold, and
// the unconditional flag overrides.
type Profile struct {
	Name      string
	Threshold float64
	Schema    features.Schema
	Overrides []Override

	// Model is nil when the artifact is unavailable or its schema does not
	// match; the profile then runs in rule-only mode.
	Model Model
}

// NewOnlineProfile is the live webhook configuration: per-file features,
// hand-crafted message and code features followed by the text features of the
// loaded transform, threshold 0.5.
func NewOnlineProfile(model Model, text *features.TextTransform, logger *slog.Logger) Profile {
	return newProfile(Profile{
		Name:      OnlineProfileName,
		Threshold: onlineThreshold,
		Schema:    features.OnlineBaseSchema.Concat(text.FeatureNames()),
	}, model, logger)
}

// NewBatchProfile is the retrospective configuration: aggregated diff
// features, threshold 0.4, and overrides for SQL keywords and hardcoded
// credentials.
func NewBatchProfile(model Model, logger *slog.Logger) Profile {
	return newProfile(Profile{
		Name:      BatchProfileName,
		Threshold: batchThreshold,
		Schema:    features.BatchSchema,
		Overrides: []Override{
			{ID: datatypes.RuleSQLKeywordOverride, Flag: features.FlagSQLKeywords},
			{ID: datatypes.RuleHardcodedCredentialOverride, Flag: features.FlagHardcodedCredentials},
		},
	}, model, logger)
}

func newProfile(p Profile, model Model, logger *slog.Logger) Profile {
	if logger == nil {
		logger = slog.Default()
	}
	if model == nil {
		logger.Warn("no vulnerability model, profile runs rule-only",
			slog.String("profile", p.Name))
		return p
	}
	if !model.Features().Equal(p.Schema) {
		logger.Warn("vulnerability model schema does not match profile, model disabled",
			slog.String("profile", p.Name),
			slog.Int("model_features", len(model.Features())),
			slog.Int("profile_features", len(p.Schema)))
		return p
	}
	p.Model = model
	return p
}
