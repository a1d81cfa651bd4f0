// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned for a 404 from the API.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Endpoint   string
	// Body is a short excerpt of the response body.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap maps a 404 onto ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}
