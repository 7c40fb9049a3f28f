// Package llm adapts hosted model providers to the embedding and completion
// calls the chat engine needs.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces an assistant reply for an ordered message list.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// Provider serves both embeddings and completions.
type Provider interface {
	Embedder
	Completer
	Close() error
}
