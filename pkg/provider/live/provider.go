// Package live defines the Provider interface for realtime voice backends.
//
// A live provider wraps a bidirectional voice AI service that accepts raw
// audio input and streams synthesised audio output in a single, stateful
// session. The central abstraction is SessionHandle: everything the server
// sends back — audio, interruption signals, transcripts, lifecycle changes —
// arrives on one ordered event channel, so consumers observe events in
// exactly the order the server produced them. An interruption signal must
// never overtake the audio chunks that preceded it.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/voxtasks/voxtasks/pkg/provider/llm"
)

// ToolCallHandler is a callback invoked by the session whenever the model
// requests a tool call. The handler receives the tool name and a
// JSON-encoded arguments string and returns either a result string (injected
// back into the session as tool output) or an error.
//
// The handler may be called from the session's internal receive goroutine;
// implementors must not call blocking session methods from within the
// handler to avoid deadlocks.
type ToolCallHandler func(name string, args string) (string, error)

// EventType discriminates the variants of Event.
type EventType int

const (
	// EventAudio carries one PCM16LE audio chunk of model speech.
	EventAudio EventType = iota + 1

	// EventInterrupted signals that the model's current response was cut
	// off, typically because the user started speaking. All audio received
	// before this event belongs to the abandoned response and should be
	// discarded from playback.
	EventInterrupted

	// EventTurnComplete signals that the model finished its response.
	EventTurnComplete

	// EventTranscript carries a text rendering of user or model speech.
	EventTranscript

	// EventClosed signals that the session ended. It is the last event on
	// the channel before it closes; check [SessionHandle.Err] for the cause.
	EventClosed
)

// Event is one item on the session's ordered event stream. Exactly the
// fields relevant to Type are set.
type Event struct {
	Type EventType

	// PCM is the raw audio payload for EventAudio.
	PCM []byte

	// Role and Text are set for EventTranscript. Role is "user" or "model".
	Role string
	Text string
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the synthesised voice for model speech output.
	Voice string

	// Instructions is the system-level prompt defining the assistant's
	// behaviour for the whole session.
	Instructions string

	// Tools is the set of tool definitions offered to the model. Tool
	// calls are surfaced via the handler set with OnToolCall.
	Tools []llm.ToolDefinition
}

// SessionHandle represents an open live session.
//
// The session is the hot path of the voice pipeline: SendAudio must return
// quickly, and consumers must drain Events promptly so the provider's
// receive loop never stalls. All methods are safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one raw PCM chunk (16 kHz, s16le, mono) to the
	// model. Chunks sent before the provider acknowledges the session are
	// buffered and delivered, in order, once it does. Returns an error if
	// the session is closed or the send buffer is full.
	SendAudio(chunk []byte) error

	// SendText injects a text turn into the conversation, as if the user
	// had typed it. Useful for confirmations and out-of-band state.
	SendText(text string) error

	// Events returns the session's ordered event stream. The channel is
	// closed after an EventClosed is delivered; call Err afterwards to
	// check whether the session ended cleanly.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly. Valid after the Events channel closes.
	Err() error

	// OnToolCall registers the handler invoked for model tool calls. Only
	// one handler is active at a time; nil clears it.
	OnToolCall(handler ToolCallHandler)

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle accepts audio immediately; sends are
	// queued until the backend completes its handshake. The caller owns
	// the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
