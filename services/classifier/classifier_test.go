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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArtifactDir = "../../artifacts"

// countingModel records how often it was asked to predict.
type countingModel struct {
	schema features.Schema
	proba  float64
	calls  int
}

func (m *countingModel) Kind() string              { return "fake" }
func (m *countingModel) Version() string           { return "test" }
func (m *countingModel) Features() features.Schema { return m.schema }
func (m *countingModel) PredictProba(values []float64) (float64, error) {
	m.calls++
	return m.proba, nil
}

func newRuleChain(t *testing.T) RuleChain {
	t.Helper()
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	return NewRuleChain(engine)
}

// =============================================================================
// Model artifacts
// =============================================================================

func TestParseModel_DecisionTree(t *testing.T) {
	doc := `
kind: decision_tree
version: "1"
features: [a, b]
nodes:
  - {feature: 1, threshold: 5.5, left: 1, right: 2}
  - {leaf: true, value: 1}
  - {leaf: true, value: 0}
`
	m, err := ParseModel([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, KindDecisionTree, m.Kind())

	p, err := m.PredictProba([]float64{100, 5.5})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p, "equal to threshold goes left")

	p, err = m.PredictProba([]float64{0, 6})
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)

	_, err = m.PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestParseModel_LogisticRegression(t *testing.T) {
	m, err := ParseModel([]byte(`{"kind": "logistic_regression", "features": ["x"], "intercept": 0, "coefficients": [2]}`))
	require.NoError(t, err)

	p, err := m.PredictProba([]float64{0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)

	p, err = m.PredictProba([]float64{10})
	require.NoError(t, err)
	assert.Greater(t, p, 0.99)
}

func TestParseModel_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown kind":         "kind: svm\nfeatures: [a]\n",
		"no features":          "kind: logistic_regression\ncoefficients: [1]\n",
		"coefficient count":    "kind: logistic_regression\nfeatures: [a, b]\ncoefficients: [1]\n",
		"empty tree":           "kind: decision_tree\nfeatures: [a]\n",
		"backward child":       "kind: decision_tree\nfeatures: [a]\nnodes: [{feature: 0, threshold: 1, left: 0, right: 1}, {leaf: true, value: 1}]\n",
		"feature out of range": "kind: decision_tree\nfeatures: [a]\nnodes: [{feature: 3, threshold: 1, left: 1, right: 2}, {leaf: true}, {leaf: true}]\n",
		"not yaml":             "{{{",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseModel([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestLoadModel_Missing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "nope.yaml"))

	var artifactErr *ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestLoadArtifacts_SampleDirectory(t *testing.T) {
	a := LoadArtifacts(sampleArtifactDir, nil)

	require.NotNil(t, a.TimeModel)
	require.NotNil(t, a.OnlineModel)
	require.NotNil(t, a.BatchModel)
	require.NotNil(t, a.Text)

	assert.True(t, a.TimeModel.Features().Equal(features.TimeSchema))
	assert.True(t, a.BatchModel.Features().Equal(features.BatchSchema))
	assert.True(t, a.OnlineModel.Features().Equal(features.OnlineBaseSchema.Concat(a.Text.FeatureNames())))
}

func TestLoadArtifacts_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TimeModelFile), []byte("kind: [broken"), 0o644))

	a := LoadArtifacts(dir, nil)

	assert.Nil(t, a.TimeModel)
	assert.Nil(t, a.OnlineModel)
	assert.Nil(t, a.BatchModel)
	assert.Nil(t, a.Text)
}

// =============================================================================
// Time anomaly
// =============================================================================

func TestTimeAnomalyScorer_SampleModel(t *testing.T) {
	a := LoadArtifacts(sampleArtifactDir, nil)
	scorer := NewTimeAnomalyScorer(a.TimeModel, nil)
	require.True(t, scorer.Enabled())

	tests := []struct {
		ts   string
		want bool
	}{
		{"2024-01-01T03:00:00Z", true},
		{"2024-01-01T00:00:00Z", true},
		{"2024-01-01T05:59:00Z", true},
		{"2024-01-01T06:00:00Z", false},
		{"2024-01-01T14:30:00Z", false},
		{"2024-01-01T23:10:00Z", true},
	}
	for _, tt := range tests {
		t.Run(tt.ts, func(t *testing.T) {
			tf, err := features.ExtractTime(tt.ts)
			require.NoError(t, err)
			fs := timeFeatureSet(tf)

			got, err := scorer.Score(fs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func timeFeatureSet(tf features.TimeFeatures) features.FeatureSet {
	return features.FeatureSet{
		features.TimeValidKey: 1,
		"access_hour":         float64(tf.Hour),
		"hour":                float64(tf.Hour),
		"day_of_week":         float64(tf.DayOfWeek),
		"month":               float64(tf.Month),
		"day":                 float64(tf.Day),
		"year":                float64(tf.Year),
		"repository":          1,
	}
}

func TestTimeAnomalyScorer_Disabled(t *testing.T) {
	fs := features.FeatureSet{features.TimeValidKey: 1, "hour": 3}

	t.Run("nil model", func(t *testing.T) {
		s := NewTimeAnomalyScorer(nil, nil)
		assert.False(t, s.Enabled())
		got, err := s.Score(fs)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		m := &countingModel{schema: features.Schema{"hour"}, proba: 1}
		s := NewTimeAnomalyScorer(m, nil)
		assert.False(t, s.Enabled())
		got, _ := s.Score(fs)
		assert.False(t, got)
		assert.Zero(t, m.calls)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		m := &countingModel{schema: features.TimeSchema, proba: 1}
		s := NewTimeAnomalyScorer(m, nil)
		got, _ := s.Score(features.FeatureSet{"hour": 3})
		assert.False(t, got)
		assert.Zero(t, m.calls)
	})
}

// =============================================================================
// Vulnerability
// =============================================================================

func TestVulnerabilityScorer_RuleShortCircuit(t *testing.T) {
	model := &countingModel{schema: features.BatchSchema, proba: 0}
	scorer := NewVulnerabilityScorer(newRuleChain(t), NewBatchProfile(model, nil))

	// Arrange
	subject := Subject{
		Content: `query = "SELECT * FROM users WHERE id = '" + user_input + "'"`,
		Message: "add lookup",
	}

	// Act
	v, err := scorer.Score(subject, features.FeatureSet{})

	// Assert
	require.NoError(t, err)
	assert.True(t, v.IsVulnerable)
	assert.Equal(t, []datatypes.RuleID{datatypes.RuleSQLInjection}, v.MatchedRules)
	assert.Zero(t, model.calls, "model must not be invoked when a rule fires")
}

func TestVulnerabilityScorer_RuleOrder(t *testing.T) {
	scorer := NewVulnerabilityScorer(newRuleChain(t), NewOnlineProfile(nil, nil, nil))

	tests := []struct {
		name    string
		subject Subject
		want    datatypes.RuleID
	}{
		{"eval beats weak crypto", Subject{Content: "eval(x); hashlib.md5(y)"}, datatypes.RuleDangerousCall},
		{"weak crypto", Subject{Content: "h = hashlib.sha1(data)"}, datatypes.RuleWeakCrypto},
		{"message vocabulary", Subject{Content: "x = 1", Message: "Fix XSS in comment form"}, datatypes.RuleSecurityVocabulary},
		{"sql beats everything", Subject{Content: "cursor.execute(f\"SELECT {x}\"); eval(y)", Message: "cve"}, datatypes.RuleSQLInjection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := scorer.Score(tt.subject, features.FeatureSet{})
			require.NoError(t, err)
			assert.True(t, v.IsVulnerable)
			assert.Equal(t, []datatypes.RuleID{tt.want}, v.MatchedRules)
		})
	}
}

func TestVulnerabilityScorer_ModelThreshold(t *testing.T) {
	tests := []struct {
		name    string
		profile func(Model) Profile
		schema  features.Schema
		proba   float64
		want    bool
	}{
		{"online above", func(m Model) Profile { return NewOnlineProfile(m, nil, nil) }, features.OnlineBaseSchema, 0.51, true},
		{"online at threshold", func(m Model) Profile { return NewOnlineProfile(m, nil, nil) }, features.OnlineBaseSchema, 0.5, false},
		{"batch above", func(m Model) Profile { return NewBatchProfile(m, nil) }, features.BatchSchema, 0.45, true},
		{"batch below", func(m Model) Profile { return NewBatchProfile(m, nil) }, features.BatchSchema, 0.39, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &countingModel{schema: tt.schema, proba: tt.proba}
			scorer := NewVulnerabilityScorer(newRuleChain(t), tt.profile(model))

			v, err := scorer.Score(Subject{Content: "x = 1", Message: "tidy"}, features.FeatureSet{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.IsVulnerable)
			assert.Equal(t, tt.proba, v.Score)
			assert.Empty(t, v.MatchedRules)
			assert.Equal(t, 1, model.calls)
		})
	}
}

func TestVulnerabilityScorer_BatchOverrides(t *testing.T) {
	model := &countingModel{schema: features.BatchSchema, proba: 0.01}
	scorer := NewVulnerabilityScorer(newRuleChain(t), NewBatchProfile(model, nil))

	fs := features.FeatureSet{
		features.FlagSQLKeywords:          1,
		features.FlagHardcodedCredentials: 1,
	}
	v, err := scorer.Score(Subject{Content: "select 1", Message: "tidy"}, fs)

	require.NoError(t, err)
	assert.True(t, v.IsVulnerable)
	assert.Equal(t, 0.01, v.Score)
	assert.Equal(t, []datatypes.RuleID{
		datatypes.RuleSQLKeywordOverride,
		datatypes.RuleHardcodedCredentialOverride,
	}, v.MatchedRules)
}

func TestVulnerabilityScorer_OnlineIgnoresOverrides(t *testing.T) {
	scorer := NewVulnerabilityScorer(newRuleChain(t), NewOnlineProfile(nil, nil, nil))

	v, err := scorer.Score(Subject{Content: "select 1"}, features.FeatureSet{features.FlagSQLKeywords: 1})
	require.NoError(t, err)
	assert.False(t, v.IsVulnerable)
}

func TestNewProfile_DisablesMismatchedModel(t *testing.T) {
	model := &countingModel{schema: features.Schema{"a", "b"}}
	p := NewBatchProfile(model, nil)
	assert.Nil(t, p.Model)

	scorer := NewVulnerabilityScorer(newRuleChain(t), p)
	v, err := scorer.Score(Subject{Content: "x = 1"}, features.FeatureSet{})
	require.NoError(t, err)
	assert.False(t, v.IsVulnerable)
	assert.Zero(t, model.calls)
}

// =============================================================================
// Ensemble
// =============================================================================

func TestEnsemble_Deterministic(t *testing.T) {
	a := LoadArtifacts(sampleArtifactDir, nil)
	ensemble := NewEnsemble(
		NewTimeAnomalyScorer(a.TimeModel, nil),
		NewVulnerabilityScorer(newRuleChain(t), NewOnlineProfile(a.OnlineModel, a.Text, nil)),
	)

	tf, err := features.ExtractTime("2024-01-01T03:00:00Z")
	require.NoError(t, err)
	fs := timeFeatureSet(tf)
	fs["message_length"] = 12
	fs["text_sql"] = 1.2
	subject := Subject{Content: "x = 1", Message: "tidy things"}

	first, err := ensemble.Classify(subject, fs)
	require.NoError(t, err)
	assert.True(t, first.IsUnusual)

	for i := 0; i < 10; i++ {
		again, err := ensemble.Classify(subject, fs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
