package llm

import "context"

// ProviderAdapter is implemented by every completion backend.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "groq", "openai").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// Completer is the narrow contract the chat step depends on: an ordered list
// of messages in, assistant text out. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
