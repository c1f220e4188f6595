// Package session wires the microphone, the live transport, and the speaker
// into one conversation and owns its lifecycle.
//
// A Controller moves through a fixed set of states:
//
//	Disconnected → Connecting → Connected ⇄ Muted → Closing → Disconnected
//
// Connect establishes the transport before touching any audio device, so a
// failed connection never leaves the microphone captured. Disconnect tears
// down in the order capture, transport, playback, and is safe to call any
// number of times from any state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxtasks/voxtasks/internal/observe"
	"github.com/voxtasks/voxtasks/pkg/audio"
	"github.com/voxtasks/voxtasks/pkg/provider/live"
)

// State is the lifecycle state of a Controller.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateMuted
	StateClosing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateMuted:
		return "muted"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Devices opens the audio endpoints for a session. Injecting the
// constructors keeps the controller testable without real hardware.
type Devices struct {
	OpenInput  func() (audio.InputDevice, error)
	OpenOutput func() (audio.OutputDevice, error)
}

// Config assembles a Controller's collaborators.
type Config struct {
	// Provider opens live sessions.
	Provider live.Provider

	// Session is the configuration passed to Provider.Connect.
	Session live.SessionConfig

	// Devices opens the microphone and speaker.
	Devices Devices

	// ToolHandler, when non-nil, is registered on every session for
	// model-initiated tool calls.
	ToolHandler live.ToolCallHandler

	// OnTranscript, when non-nil, receives transcript events. Role is
	// "user" or "model". Called from the event pump; must not block.
	OnTranscript func(role, text string)

	// OnStatus, when non-nil, receives human-readable status messages
	// (connected, disconnected, session errors). Must not block.
	OnStatus func(msg string)

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller owns one voice conversation at a time.
// All methods are safe for concurrent use.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	gen     uint64 // incremented on every Connect; stale pumps are ignored
	sess    live.SessionHandle
	capture *audio.Capture
	sched   *audio.Scheduler
	pumps   *errgroup.Group
}

// NewController creates a Controller in the Disconnected state.
func NewController(cfg Config) *Controller {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{cfg: cfg}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes a live session and starts streaming. The transport is
// connected first; the microphone is only acquired once the session exists,
// so a connection failure leaves no device open. Returns an error when
// called in any state other than Disconnected.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: connect in state %s", state)
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	start := time.Now()
	sess, err := c.cfg.Provider.Connect(ctx, c.cfg.Session)
	if err != nil {
		c.resetIfCurrent(gen)
		c.status(fmt.Sprintf("connect failed: %v", err))
		return fmt.Errorf("session: connect: %w", err)
	}
	c.cfg.Metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())

	if c.stale(gen) {
		_ = sess.Close()
		go audio.Drain(sess.Events())
		return fmt.Errorf("session: disconnected during connect")
	}

	if c.cfg.ToolHandler != nil {
		sess.OnToolCall(c.cfg.ToolHandler)
	}

	out, err := c.cfg.Devices.OpenOutput()
	if err != nil {
		_ = sess.Close()
		go audio.Drain(sess.Events())
		c.resetIfCurrent(gen)
		return fmt.Errorf("session: open speaker: %w", err)
	}
	sched := audio.NewScheduler(out, audio.PlaybackFormat)

	in, err := c.cfg.Devices.OpenInput()
	if err != nil {
		_ = sess.Close()
		go audio.Drain(sess.Events())
		_ = sched.Close()
		c.resetIfCurrent(gen)
		return fmt.Errorf("session: open microphone: %w", err)
	}
	capture := audio.StartCapture(in)

	// Install under the lock, re-checking that no Disconnect (or newer
	// Connect) overtook this attempt while the devices were opening. A
	// stale completion gives everything back instead of resurrecting a
	// torn-down session.
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		capture.Stop()
		_ = sess.Close()
		go audio.Drain(sess.Events())
		_ = sched.Close()
		return fmt.Errorf("session: disconnected during connect")
	}
	pumps := &errgroup.Group{}
	pumps.Go(func() error { return c.capturePump(gen, capture, sess) })
	pumps.Go(func() error { return c.eventPump(gen, sess, sched) })
	c.sess = sess
	c.capture = capture
	c.sched = sched
	c.pumps = pumps
	c.state = StateConnected
	c.mu.Unlock()

	c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	c.cfg.Logger.Info("session connected")
	c.status("session connected")
	return nil
}

// stale reports whether the connect attempt identified by gen was overtaken
// by a Disconnect or a newer Connect.
func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen || c.state != StateConnecting
}

// resetIfCurrent lands a failed connect attempt back in Disconnected, unless
// the attempt was already overtaken.
func (c *Controller) resetIfCurrent(gen uint64) {
	c.mu.Lock()
	if gen == c.gen && c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

func (c *Controller) status(msg string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(msg)
	}
}

// SetMuted toggles the microphone gate. Frames captured while muted are
// discarded before they reach the transport; playback is unaffected. No-op
// unless the controller is Connected or Muted.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnected, StateMuted:
	default:
		return
	}
	c.capture.SetMuted(muted)
	if muted {
		c.state = StateMuted
	} else {
		c.state = StateConnected
	}
}

// Muted reports whether the microphone gate is closed.
func (c *Controller) Muted() bool {
	return c.State() == StateMuted
}

// Disconnect ends the session: capture stops first, then the transport,
// then playback. Safe to call repeatedly and from any state; extra calls
// are no-ops.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.disconnectLocked(c.gen)
}

// disconnectLocked tears the session down if gen is still current. The
// caller holds c.mu; it is released before the blocking waits.
func (c *Controller) disconnectLocked(gen uint64) {
	if gen != c.gen || c.state == StateDisconnected || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	capture, sess, sched, pumps := c.capture, c.sess, c.sched, c.pumps
	c.capture, c.sess, c.sched, c.pumps = nil, nil, nil, nil
	c.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if sess != nil {
		_ = sess.Close()
	}
	if pumps != nil {
		_ = pumps.Wait()
	}
	if sched != nil {
		_ = sched.Close()
	}

	c.setState(StateDisconnected)
	if sess != nil {
		c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.cfg.Logger.Info("session disconnected")
	c.status("session disconnected")
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// capturePump forwards encoded microphone frames to the transport until the
// capture stops.
func (c *Controller) capturePump(gen uint64, capture *audio.Capture, sess live.SessionHandle) error {
	for frame := range capture.Frames() {
		if err := sess.SendAudio(frame); err != nil {
			c.cfg.Logger.Warn("send audio", "error", err)
			continue
		}
		c.cfg.Metrics.FramesSent.Add(context.Background(), 1)
	}
	if err := capture.Err(); err != nil {
		c.cfg.Logger.Error("capture failed", "error", err)
		go c.teardown(gen)
	}
	return nil
}

// eventPump consumes the session's ordered event stream. Audio goes to the
// playback scheduler; an interruption flushes everything scheduled so far.
func (c *Controller) eventPump(gen uint64, sess live.SessionHandle, sched *audio.Scheduler) error {
	ctx := context.Background()
	for e := range sess.Events() {
		switch e.Type {
		case live.EventAudio:
			if err := sched.Enqueue(e.PCM); err != nil {
				// A malformed chunk is dropped; the session continues.
				c.cfg.Logger.Warn("drop audio chunk", "error", err)
				c.cfg.Metrics.DecodeErrors.Add(ctx, 1)
				continue
			}
			c.cfg.Metrics.ChunksReceived.Add(ctx, 1)
		case live.EventInterrupted:
			sched.Flush()
			c.cfg.Metrics.Interruptions.Add(ctx, 1)
			c.cfg.Logger.Debug("model interrupted")
		case live.EventTurnComplete:
			c.cfg.Logger.Debug("turn complete")
		case live.EventTranscript:
			if c.cfg.OnTranscript != nil {
				c.cfg.OnTranscript(e.Role, e.Text)
			}
		case live.EventClosed:
			if err := sess.Err(); err != nil {
				c.cfg.Logger.Error("session ended", "error", err)
				c.status(fmt.Sprintf("session error: %v", err))
			}
		}
	}
	// The server ended the session; tear down our side unless a newer
	// connection has already replaced it.
	go c.teardown(gen)
	return nil
}

// teardown disconnects if gen is still the active session's generation.
func (c *Controller) teardown(gen uint64) {
	c.mu.Lock()
	c.disconnectLocked(gen)
}
