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
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable indicates a model artifact is missing or corrupt.
	// The dependent scorer is disabled for the process lifetime.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrSchemaMismatch indicates a feature vector does not match the schema
	// the model was trained on. Scoring fails closed.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrInvalidModel indicates an artifact parsed but is inconsistent.
	ErrInvalidModel = errors.New("invalid model artifact")
)

// ArtifactError describes a failure to load one artifact file.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}
