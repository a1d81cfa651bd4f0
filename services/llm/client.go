// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the chat-completion collaborator behind the chat endpoint.
package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the provider answers without a message.
var ErrNoChoices = errors.New("llm returned no choices")

// Client sends one chat-completion round. tools may be nil; when set the
// model may answer with tool calls instead of content.
type Client interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error)
}
