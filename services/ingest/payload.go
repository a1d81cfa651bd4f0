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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidate = validator.New()

// PushEvent is the subset of a push notification the gateway reads.
type PushEvent struct {
	Ref        string       `json:"ref"`
	Repository Repository   `json:"repository"`
	Commits    []PushCommit `json:"commits" validate:"dive"`
}

// Repository identifies the pushed repository.
type Repository struct {
	Name  string `json:"name" validate:"required"`
	Owner Owner  `json:"owner"`
}

// Owner carries "name" in push payloads and "login" elsewhere.
type Owner struct {
	Name  string `json:"name"`
	Login string `json:"login"`
}

// PushCommit is one commit of the push.
type PushCommit struct {
	ID        string      `json:"id" validate:"required"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp" validate:"required"`
	Author    CommitActor `json:"author"`
	Modified  []string    `json:"modified"`
	Stats     *Stats      `json:"stats,omitempty"`
}

// CommitActor is a commit author.
type CommitActor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Stats are optional per-commit line counts.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// OwnerName returns the repository owner.
func (p *PushEvent) OwnerName() string {
	if p.Repository.Owner.Name != "" {
		return p.Repository.Owner.Name
	}
	return p.Repository.Owner.Login
}

// ParsePush decodes and validates a push payload.
func ParsePush(body []byte) (*PushEvent, error) {
	var ev PushEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := payloadValidate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.OwnerName() == "" {
		return nil, fmt.Errorf("%w: repository owner missing", ErrMalformedPayload)
	}
	return &ev, nil
}
