// Package llm defines the Provider interface for chat-completion backends.
//
// The clinic uses a language model for two narrow jobs: classifying what the
// customer is after (contradiction, meta questions about the argument, or a
// payment offer) and phrasing Mr. Barnard's reply. Both go through the single
// Complete method so any backend that can answer a chat prompt can serve.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Role names accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the prompt history.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResponseSchema asks the backend to constrain its reply to a JSON document
// matching Schema. Providers without structured output support fall back to
// plain text and rely on the prompt; callers must still validate the reply.
type ResponseSchema struct {
	// Name identifies the schema to backends that require one (OpenAI does).
	Name string

	// Schema is a JSON Schema object, typically produced by reflecting a Go
	// struct with github.com/invopop/jsonschema.
	Schema map[string]any
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages as a "system" message.
	SystemPrompt string

	// Messages is the ordered history, oldest first.
	Messages []Message

	// Temperature in [0.0, 2.0]. Zero means provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int

	// Schema, when non-nil, requests a structured JSON reply.
	Schema *ResponseSchema
}

// CompletionResponse is the full reply of a Complete call.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It must return promptly once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns a short identifier used in logs and metrics, e.g. "openai".
	Name() string
}
