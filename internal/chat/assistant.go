package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxtasks/voxtasks/pkg/provider/llm"
)

// maxToolRounds bounds how many completion/tool-execution cycles one Send
// call may run before giving up on a looping model.
const maxToolRounds = 5

const defaultSystemPrompt = `You are a task management assistant. You manage
the user's task list through the provided tools. Keep answers short. When the
user mentions something actionable, add it as a task; confirm what you did.`

// Assistant is a text chat session over an LLM provider with task tools.
// Conversation history accumulates across Send calls until Reset.
//
// Not safe for concurrent use; each conversation gets its own Assistant.
type Assistant struct {
	provider llm.Provider
	tools    *TaskTools
	system   string
	logger   *slog.Logger

	history []llm.Message
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithSystemPrompt overrides the built-in system prompt.
func WithSystemPrompt(prompt string) AssistantOption {
	return func(a *Assistant) { a.system = prompt }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) AssistantOption {
	return func(a *Assistant) { a.logger = l }
}

// NewAssistant creates an Assistant speaking through provider and acting
// through tools.
func NewAssistant(provider llm.Provider, tools *TaskTools, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		provider: provider,
		tools:    tools,
		system:   defaultSystemPrompt,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Send appends the user message, runs the completion/tool loop until the
// model produces a plain text reply, and returns that reply. Tool failures
// are reported back to the model as tool results, not surfaced as errors, so
// the model can recover or apologise.
func (a *Assistant) Send(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", errors.New("chat: message must not be empty")
	}
	a.history = append(a.history, llm.Message{Role: "user", Content: text})

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     a.history,
			SystemPrompt: a.system,
			Tools:        a.tools.Definitions(),
		})
		if err != nil {
			return "", fmt.Errorf("chat: completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			a.history = append(a.history, llm.Message{Role: "assistant", Content: resp.Content})
			return resp.Content, nil
		}

		a.history = append(a.history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := a.tools.Execute(ctx, call.Name, call.Args)
			if err != nil {
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			a.history = append(a.history, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("chat: model did not settle after %d tool rounds", maxToolRounds)
}

// History returns a copy of the conversation so far.
func (a *Assistant) History() []llm.Message {
	return append([]llm.Message(nil), a.history...)
}

// Reset clears the conversation history.
func (a *Assistant) Reset() {
	a.history = nil
}
