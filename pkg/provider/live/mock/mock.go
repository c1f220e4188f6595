// Package mock provides a scriptable live.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxtasks/voxtasks/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider hands out pre-built Sessions, or fails when ConnectErr is set.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned by every Connect call.
	ConnectErr error

	sessions []*Session
	configs  []live.SessionConfig
}

// Connect returns a fresh Session and records the config it was opened with.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	return s, nil
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// LastConfig returns the config of the most recent Connect call.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.configs) == 0 {
		return live.SessionConfig{}
	}
	return p.configs[len(p.configs)-1]
}

// Session is a scriptable live.SessionHandle. Tests inject server events
// with Emit and observe sent audio with SentAudio.
type Session struct {
	events chan live.Event

	mu        sync.Mutex
	sent      [][]byte
	sentTexts []string
	handler   live.ToolCallHandler
	errVal    error
	closed    bool
	closes    int

	closeOnce sync.Once
}

// NewSession creates an open mock session.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit places an event on the session's stream.
func (s *Session) Emit(e live.Event) { s.events <- e }

// EmitAudio is shorthand for emitting one EventAudio.
func (s *Session) EmitAudio(pcm []byte) { s.Emit(live.Event{Type: live.EventAudio, PCM: pcm}) }

// End emits EventClosed with the given terminal error (nil for a clean end)
// and closes the event stream, as a real session does when the server hangs
// up.
func (s *Session) End(err error) {
	s.mu.Lock()
	s.errVal = err
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		s.events <- live.Event{Type: live.EventClosed}
		close(s.events)
	})
}

// CallTool invokes the registered tool handler the way a server-initiated
// tool call would.
func (s *Session) CallTool(name, args string) (string, error) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return "", fmt.Errorf("mock: no tool handler registered")
	}
	return handler(name, args)
}

// SentAudio returns every chunk passed to SendAudio, in order.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// SentTexts returns every string passed to SendText, in order.
func (s *Session) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentTexts...)
}

// CloseCount reports how many times Close has been called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	cp := append([]byte(nil), chunk...)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	s.sentTexts = append(s.sentTexts, text)
	return nil
}

func (s *Session) Events() <-chan live.Event { return s.events }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *Session) OnToolCall(handler live.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closes++
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.events <- live.Event{Type: live.EventClosed}
		close(s.events)
	})
	return nil
}
