// Package llm routes completion requests between local and remote model
// backends under the session privacy policy. Logical model names decouple
// the pipeline from concrete backends; the router owns tier fallback.
package llm

import (
	"context"
	"errors"
)

// Model is a logical model name.
type Model string

const (
	ModelLocalFast     Model = "local-fast"
	ModelLocalPowerful Model = "local-powerful"
	ModelCloudBest     Model = "cloud-best"
)

// Local reports whether the model runs on a local backend. The privacy
// invariant is enforced against this predicate.
func (m Model) Local() bool {
	return m == ModelLocalFast || m == ModelLocalPowerful
}

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a completion request.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// ChunkFunc consumes one streamed output chunk. Returning an error cancels
// the stream at the chunk boundary.
type ChunkFunc func(chunk string) error

// Backend is a concrete completion backend bound to one model.
// Stream's concatenated chunks equal Complete's result for the same input.
type Backend interface {
	Name() string
	Local() bool
	Available(ctx context.Context) bool
	Complete(ctx context.Context, msgs []Message, opts Options) (string, error)
	Stream(ctx context.Context, msgs []Message, opts Options, fn ChunkFunc) error
}

// ErrPolicyViolation is returned when a local-only session selects a
// remote model. No remote call is made.
var ErrPolicyViolation = errors.New("policy violation: remote model forbidden in local-only session")

// ErrNoBackend is returned when no usable backend exists for a request.
var ErrNoBackend = errors.New("no usable llm backend")

// EstimateTokens is the rough chars/4 heuristic used for budget tracking.
func EstimateTokens(text string) int {
	return len(text) / 4
}
