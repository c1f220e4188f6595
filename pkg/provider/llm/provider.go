// Package llm defines the Provider interface for text completion backends.
//
// An LLM provider wraps a remote or local model API and exposes a uniform
// interface for completions and tool calling without coupling callers to any
// specific SDK. The chat assistant and the task extractor both sit on top of
// this interface.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is one turn of a conversation. Role is one of "system", "user",
// "assistant" or "tool".
type Message struct {
	Role    string
	Content string

	// ToolCallID links a "tool" role message to the call it answers.
	ToolCallID string

	// ToolCalls holds the calls an assistant message requested.
	ToolCalls []ToolCall
}

// ToolDefinition describes one function the model may invoke. Parameters is
// a JSON Schema object describing the arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a single tool invocation requested by the model. Args is the
// JSON-encoded argument object.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// SystemPrompt is an optional instruction injected before the history.
	SystemPrompt string

	// Tools is the set of tool definitions offered to the model.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, tool calls, a finish signal, or any combination.
type Chunk struct {
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "tool_calls", or "error".
	FinishReason string

	ToolCalls []ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the reply. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// ToolCalls lists the invocations the model requested. The caller
	// executes them and appends the results to the conversation.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full response. Returns an error
	// if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel emitting Chunk
	// values as they arrive. The implementation closes the channel when
	// generation finishes or ctx is cancelled. Errors after the stream
	// starts surface as a Chunk with FinishReason "error"; the error
	// return is non-nil only when the stream cannot start at all.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
