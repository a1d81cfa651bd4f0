// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package features turns commit records into named feature sets and projects
// them onto the fixed, ordered schemas the classifiers were trained on.
package features

import "slices"

// Schema is an ordered list of feature names. Order is part of the contract
// with a trained model.
type Schema []string

// Equal reports whether two schemas have the same names in the same order.
func (s Schema) Equal(other Schema) bool {
	return slices.Equal(s, other)
}

// Concat returns a new schema with other appended.
func (s Schema) Concat(other Schema) Schema {
	out := make(Schema, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// TimeValidKey is set to 1 when the commit timestamp parsed. It is not part of
// any model schema.
const TimeValidKey = "time_valid"

// TimeSchema is consumed by the time anomaly model.
var TimeSchema = Schema{
	"access_hour",
	"hour",
	"day_of_week",
	"language",
	"month",
	"mode",
	"day",
	"repository",
	"year",
	"repository_risk",
	"unusual_hour",
	"mode_category",
}

// OnlineBaseSchema is the hand-crafted part of the online vulnerability
// schema. The selected text features of the loaded TextTransform follow it.
var OnlineBaseSchema = Schema{
	"message_length",
	"message_fix_count",
	"message_vulnerability_count",
	"message_security_count",
	"message_word_count",
	"message_has_bug",
	"message_has_patch",
	"message_has_update",
	"num_lines_added",
	"num_lines_deleted",
	"dmm_unit_complexity",
	"dmm_unit_size",
	"code_sql_where_literal",
	"code_execute_concat",
	"code_cursor_execute_fstring",
	"code_sqlite3_count",
	"code_mysql_count",
	"code_psycopg2_count",
}

// Pattern category names, in the order of the embedded pattern table.
const (
	FlagSQLKeywords           = "contains_sql_keywords"
	FlagCommandInjection      = "contains_command_injection"
	FlagUnsafeDeserialization = "contains_unsafe_deserialization"
	FlagHardcodedCredentials  = "contains_hardcoded_credentials"
	FlagInsecureCrypto        = "contains_insecure_crypto"
	FlagBufferOperations      = "contains_buffer_operations"
	FlagPathTraversal         = "contains_path_traversal"
	FlagXSSPatterns           = "contains_xss_patterns"
)

// PatternFlags lists the eight pattern categories.
var PatternFlags = Schema{
	FlagSQLKeywords,
	FlagCommandInjection,
	FlagUnsafeDeserialization,
	FlagHardcodedCredentials,
	FlagInsecureCrypto,
	FlagBufferOperations,
	FlagPathTraversal,
	FlagXSSPatterns,
}

// BatchSchema is consumed by the retrospective (batch) vulnerability model.
var BatchSchema = Schema{
	"cvss3_base_score",
	"num_lines_added",
	"num_lines_deleted",
	"file_complexity",
}.Concat(PatternFlags)

// FeatureSet holds every feature computed for one record, by name.
type FeatureSet map[string]float64

// Vector projects the set onto schema. Names the set does not carry are zero.
func (fs FeatureSet) Vector(schema Schema) FeatureVector {
	values := make([]float64, len(schema))
	for i, name := range schema {
		values[i] = fs[name]
	}
	return FeatureVector{Schema: schema, Values: values}
}

// Flag reports whether a boolean feature is set.
func (fs FeatureSet) Flag(name string) bool {
	return fs[name] != 0
}

// FeatureVector is a FeatureSet projected onto a schema.
type FeatureVector struct {
	Schema Schema
	Values []float64
}

// Get returns the value of a named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	i := slices.Index(v.Schema, name)
	if i < 0 {
		return 0, false
	}
	return v.Values[i], true
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
