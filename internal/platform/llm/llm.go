// Package llm talks to hosted chat-completion models.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the model answered without any content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Chat message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single chat-completion call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
}

// Completion is the first choice returned by the model plus token usage.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
