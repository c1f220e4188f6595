package audio

import (
	"fmt"
	"sync"
	"time"
)

// Scheduler places model output chunks on the output device's timeline so
// that consecutive chunks play back-to-back with no gap or overlap.
//
// The timeline cursor (nextStart) is the earliest position the next buffer
// may occupy. It only moves forward, except on Flush, which resets it to
// zero: since the output clock is always positive and increasing, a zero
// cursor behaves as "unset" and the next chunk re-anchors to the current
// clock via the catch-up branch in Enqueue. This mirrors how an
// interruption is expected to restart the timeline; do not "fix" the reset
// to use the current clock time.
//
// All methods are safe for concurrent use, though in practice Enqueue and
// Flush are both driven by the single transport event pump.
type Scheduler struct {
	out    OutputDevice
	format Format

	mu        sync.Mutex
	nextStart time.Duration
	sources   []scheduled
	closed    bool
}

type scheduled struct {
	src Source
	end time.Duration
}

// NewScheduler creates a Scheduler that plays format-encoded PCM16LE chunks
// on out. The scheduler takes exclusive ownership of the device; Close
// releases it.
func NewScheduler(out OutputDevice, format Format) *Scheduler {
	return &Scheduler{out: out, format: format}
}

// Enqueue decodes one received PCM chunk and schedules it for gapless
// playback. Chunks arriving in order play in order. A malformed chunk
// (odd byte count) is rejected with an error; the caller drops it and the
// session continues.
func (s *Scheduler) Enqueue(pcm []byte) error {
	if len(pcm)%BytesPerSample != 0 {
		return fmt.Errorf("playback: odd PCM byte count %d", len(pcm))
	}
	if len(pcm) == 0 {
		return nil
	}
	d := s.format.Duration(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("playback: scheduler closed")
	}

	now := s.out.Now()

	// Catch up after a stall: never schedule in the past.
	if s.nextStart < now {
		s.nextStart = now
	}

	src, err := s.out.Schedule(pcm, s.nextStart)
	if err != nil {
		return fmt.Errorf("playback: schedule: %w", err)
	}

	s.pruneLocked(now)
	s.sources = append(s.sources, scheduled{src: src, end: s.nextStart + d})
	s.nextStart += d
	return nil
}

// Flush stops every scheduled buffer immediately and resets the timeline
// cursor. Called on an interruption signal from the model and on teardown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Pending reports how many buffers are scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.out.Now())
	return len(s.sources)
}

// Close flushes all pending playback and releases the output device.
// Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.flushLocked()
	s.closed = true
	s.mu.Unlock()
	return s.out.Close()
}

func (s *Scheduler) flushLocked() {
	for _, sc := range s.sources {
		// Stopping an already-finished source is a no-op by contract.
		sc.src.Stop()
	}
	s.sources = nil
	s.nextStart = 0
}

// pruneLocked drops sources whose playback window has already ended, so the
// set only holds buffers that are playing or queued.
func (s *Scheduler) pruneLocked(now time.Duration) {
	kept := s.sources[:0]
	for _, sc := range s.sources {
		if sc.end > now {
			kept = append(kept, sc)
		}
	}
	s.sources = kept
}
