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
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a commit timestamp is not ISO-8601.
var ErrInvalidTimestamp = errors.New("invalid commit timestamp")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05-0700",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing "Z" means UTC and
// timestamps without an offset are taken as UTC. The returned time keeps the
// commit's own offset so Hour reports the author's wall clock.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// TimeFeatures are the calendar parts of a commit timestamp.
type TimeFeatures struct {
	Hour  int
	Day   int
	Month int
	Year  int
	// DayOfWeek counts from Monday = 0.
	DayOfWeek int
}

// ExtractTime splits a timestamp into its calendar parts.
func ExtractTime(raw string) (TimeFeatures, error) {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return TimeFeatures{}, err
	}
	return TimeFeatures{
		Hour:      t.Hour(),
		Day:       t.Day(),
		Month:     int(t.Month()),
		Year:      t.Year(),
		DayOfWeek: (int(t.Weekday()) + 6) % 7,
	}, nil
}

// apply writes the twelve time-schema features into fs. The categorical
// placeholders carry the constants the time model was trained with.
func (tf TimeFeatures) apply(fs FeatureSet) {
	fs["access_hour"] = float64(tf.Hour)
	fs["hour"] = float64(tf.Hour)
	fs["day_of_week"] = float64(tf.DayOfWeek)
	fs["language"] = 0
	fs["month"] = float64(tf.Month)
	fs["mode"] = 0
	fs["day"] = float64(tf.Day)
	fs["repository"] = 1
	fs["year"] = float64(tf.Year)
	fs["repository_risk"] = 0
	fs["unusual_hour"] = 0
	fs["mode_category"] = 0
}
