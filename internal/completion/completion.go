// Package completion adapts external language-model APIs to a single lazy
// stream of text fragments.
package completion

import (
	"context"
	"errors"
	"iter"
)

// Generation settings applied to every request.
const (
	Temperature     = 0.7
	MaxOutputTokens = 2048
)

var ErrCompletion = errors.New("completion failed")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message of the conversation, in the order it was written.
type Turn struct {
	Role    Role
	Content string
}

// Client streams a model response to input given the prior history. The
// returned sequence is finite and can be ranged over once. It yields text
// fragments with a nil error, and on failure yields a single error wrapping
// ErrCompletion and stops. Breaking out of the range cancels the request.
type Client interface {
	Stream(ctx context.Context, history []Turn, input string) iter.Seq2[string, error]

	Model() string
}
