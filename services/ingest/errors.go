// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication indicates a missing or mismatched payload signature.
	ErrAuthentication = errors.New("invalid signature")

	// ErrMalformedPayload indicates the body is not a valid push payload.
	ErrMalformedPayload = errors.New("malformed payload")
)

// FetchError describes a file whose content could not be retrieved. The file
// is skipped; the rest of the push is processed.
type FetchError struct {
	Owner    string
	Repo     string
	CommitID string
	Path     string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s %s@%s: %v", e.Owner, e.Repo, e.Path, e.CommitID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
