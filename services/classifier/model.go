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
	"fmt"
	"math"
	"os"

	"github.com/AleutianAI/commitsentry/services/features"
	"gopkg.in/yaml.v3"
)

// Model kinds understood by ParseModel.
const (
	KindLogisticRegression = "logistic_regression"
	KindDecisionTree       = "decision_tree"
)

// Model is a pre-trained binary classifier.
type Model interface {
	// Kind returns the artifact kind, e.g. "decision_tree".
	Kind() string

	// Version returns the artifact version string.
	Version() string

	// Features returns the ordered schema the model was trained on.
	Features() features.Schema

	// PredictProba returns the probability of the positive class. values must
	// be ordered as Features.
	PredictProba(values []float64) (float64, error)
}

type modelFile struct {
	Kind         string     `yaml:"kind"`
	Version      string     `yaml:"version"`
	Features     []string   `yaml:"features"`
	Intercept    float64    `yaml:"intercept"`
	Coefficients []float64  `yaml:"coefficients"`
	Nodes        []treeNode `yaml:"nodes"`
}

type treeNode struct {
	Leaf      bool    `yaml:"leaf"`
	Value     float64 `yaml:"value"`
	Feature   int     `yaml:"feature"`
	Threshold float64 `yaml:"threshold"`
	Left      int     `yaml:"left"`
	Right     int     `yaml:"right"`
}

// LoadModel reads a model artifact from disk.
func LoadModel(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Path: path, Err: fmt.Errorf("%w: %v", ErrModelUnavailable, err)}
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, &ArtifactError{Path: path, Err: err}
	}
	return m, nil
}

// ParseModel decodes a YAML (or JSON) model artifact.
func ParseModel(data []byte) (Model, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if len(f.Features) == 0 {
		return nil, fmt.Errorf("%w: no features declared", ErrInvalidModel)
	}

	switch f.Kind {
	case KindLogisticRegression:
		if len(f.Coefficients) != len(f.Features) {
			return nil, fmt.Errorf("%w: %d coefficients for %d features",
				ErrInvalidModel, len(f.Coefficients), len(f.Features))
		}
		return &logisticRegression{
			version:      f.Version,
			features:     features.Schema(f.Features),
			intercept:    f.Intercept,
			coefficients: f.Coefficients,
		}, nil
	case KindDecisionTree:
		t := &decisionTree{
			version:  f.Version,
			features: features.Schema(f.Features),
			nodes:    f.Nodes,
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidModel, f.Kind)
	}
}

type logisticRegression struct {
	version      string
	features     features.Schema
	intercept    float64
	coefficients []float64
}

func (m *logisticRegression) Kind() string              { return KindLogisticRegression }
func (m *logisticRegression) Version() string           { return m.version }
func (m *logisticRegression) Features() features.Schema { return m.features }

func (m *logisticRegression) PredictProba(values []float64) (float64, error) {
	if len(values) != len(m.coefficients) {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrSchemaMismatch, len(values), len(m.coefficients))
	}
	z := m.intercept
	for i, w := range m.coefficients {
		z += w * values[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// decisionTree evaluates an sklearn-style node table. Node 0 is the root;
// a sample goes left when its feature value is <= the node threshold.
type decisionTree struct {
	version  string
	features features.Schema
	nodes    []treeNode
}

func (m *decisionTree) Kind() string              { return KindDecisionTree }
func (m *decisionTree) Version() string           { return m.version }
func (m *decisionTree) Features() features.Schema { return m.features }

func (m *decisionTree) validate() error {
	if len(m.nodes) == 0 {
		return fmt.Errorf("%w: tree has no nodes", ErrInvalidModel)
	}
	for i, n := range m.nodes {
		if n.Leaf {
			if n.Value < 0 || n.Value > 1 {
				return fmt.Errorf("%w: leaf %d value %v outside [0,1]", ErrInvalidModel, i, n.Value)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= len(m.features) {
			return fmt.Errorf("%w: node %d feature index %d out of range", ErrInvalidModel, i, n.Feature)
		}
		// Children must point forward, which also rules out cycles.
		if n.Left <= i || n.Left >= len(m.nodes) || n.Right <= i || n.Right >= len(m.nodes) {
			return fmt.Errorf("%w: node %d has invalid children", ErrInvalidModel, i)
		}
	}
	return nil
}

func (m *decisionTree) PredictProba(values []float64) (float64, error) {
	if len(values) != len(m.features) {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrSchemaMismatch, len(values), len(m.features))
	}
	i := 0
	for {
		n := m.nodes[i]
		if n.Leaf {
			return n.Value, nil
		}
		if values[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
