// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTransform is returned when a text transform artifact is
// inconsistent.
var ErrInvalidTransform = errors.New("invalid text transform")

// TextFeaturePrefix prefixes the schema names of text features.
const TextFeaturePrefix = "text_"

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// TextTransform is the frozen text vectorizer shipped next to the online
// vulnerability model. It was fit offline: a fixed vocabulary of term
// counts, per-term standardization, and the indices of the terms the model
// kept.
//
// # Description
//
// The transform never refits. Applying it to the same text always returns
// the same vector, which is what the online model was trained on.
type TextTransform struct {
	Version    string    `yaml:"version"`
	Vocabulary []string  `yaml:"vocabulary"`
	Mean       []float64 `yaml:"mean"`
	Scale      []float64 `yaml:"scale"`
	Selected   []int     `yaml:"selected"`

	index map[string]int
}

// LoadTextTransform reads and validates a transform artifact from disk.
func LoadTextTransform(path string) (*TextTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text transform %s: %w", path, err)
	}
	return ParseTextTransform(data)
}

// ParseTextTransform decodes and validates a transform artifact.
func ParseTextTransform(data []byte) (*TextTransform, error) {
	var t TextTransform
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransform, err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.index = make(map[string]int, len(t.Vocabulary))
	for i, term := range t.Vocabulary {
		t.index[term] = i
	}
	return &t, nil
}

func (t *TextTransform) validate() error {
	n := len(t.Vocabulary)
	if n == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrInvalidTransform)
	}
	if len(t.Mean) != n || len(t.Scale) != n {
		return fmt.Errorf("%w: vocabulary has %d terms but mean has %d and scale has %d",
			ErrInvalidTransform, n, len(t.Mean), len(t.Scale))
	}
	seen := make(map[string]bool, n)
	for _, term := range t.Vocabulary {
		if seen[term] {
			return fmt.Errorf("%w: duplicate term %q", ErrInvalidTransform, term)
		}
		seen[term] = true
	}
	for _, idx := range t.Selected {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: selected index %d out of range", ErrInvalidTransform, idx)
		}
	}
	return nil
}

// FeatureNames returns the schema names of the selected terms, in order.
func (t *TextTransform) FeatureNames() Schema {
	if t == nil {
		return nil
	}
	names := make(Schema, len(t.Selected))
	for i, idx := range t.Selected {
		names[i] = TextFeaturePrefix + t.Vocabulary[idx]
	}
	return names
}

// Transform counts vocabulary terms in text, standardizes the counts and
// returns the selected features keyed by schema name.
func (t *TextTransform) Transform(text string) map[string]float64 {
	if t == nil {
		return nil
	}
	counts := make([]float64, len(t.Vocabulary))
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if i, ok := t.index[tok]; ok {
			counts[i]++
		}
	}

	out := make(map[string]float64, len(t.Selected))
	for _, idx := range t.Selected {
		scale := t.Scale[idx]
		if scale == 0 {
			scale = 1
		}
		out[TextFeaturePrefix+t.Vocabulary[idx]] = (counts[idx] - t.Mean[idx]) / scale
	}
	return out
}
