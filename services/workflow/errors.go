// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable indicates the workflow engine could not be reached or
	// answered with an error status.
	ErrUnreachable = errors.New("workflow engine unreachable")

	// ErrShuttingDown is returned by Start after Shutdown began.
	ErrShuttingDown = errors.New("workflow coordinator shutting down")

	// ErrDuplicate is returned by Start for a record that already has an
	// execution.
	ErrDuplicate = errors.New("workflow already started for record")
)

// EngineError is a non-2xx answer from the workflow engine.
type EngineError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("workflow engine %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *EngineError) Unwrap() error {
	return ErrUnreachable
}
