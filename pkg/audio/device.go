package audio

import (
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned when a microphone or output device cannot
// be acquired (no device present, permission denied, or revoked mid-session).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// InputDevice is an open microphone stream delivering fixed-size frames of
// float samples. Implementations own the underlying hardware handle
// exclusively between acquisition and Close.
//
// The real implementation is portaudio.Microphone; tests use fakes.
type InputDevice interface {
	// ReadFrame blocks until one frame of FrameSize samples is available and
	// returns it. The returned slice is owned by the caller. Returns an error
	// once the device is closed or lost.
	ReadFrame() ([]float32, error)

	// Close stops the stream and releases the hardware handle. Safe to call
	// more than once.
	Close() error
}

// Source is a handle to one scheduled playback buffer. Stopping a source
// that already finished playing is a no-op.
type Source interface {
	Stop()
}

// OutputDevice plays PCM16LE buffers on a continuous output timeline.
//
// The clock starts at zero when the device is opened and advances with
// played samples; Schedule positions a buffer on that timeline. The device
// is exclusively owned by the playback scheduler for its active lifetime.
type OutputDevice interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Schedule queues pcm to begin playing at the given clock position and
	// returns a handle that can cancel it. Start positions must be
	// non-decreasing across calls; the device does not reorder buffers.
	Schedule(pcm []byte, at time.Duration) (Source, error)

	// Close stops all playback and releases the hardware handle. Safe to
	// call more than once.
	Close() error
}
