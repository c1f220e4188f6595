// Package portaudio provides the real microphone and speaker devices for the
// Voxtasks audio pipeline, backed by the PortAudio library.
//
// Each open device holds its own PortAudio initialisation; PortAudio
// reference-counts Initialize/Terminate pairs, so microphone and speaker can
// be opened and closed independently.
package portaudio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxtasks/voxtasks/pkg/audio"
)

// speakerFramesPerBuffer is the device-side write granularity: 1024 samples
// at 24 kHz is ~43 ms per write, small enough for prompt interruption.
const speakerFramesPerBuffer = 1024

// Compile-time interface checks.
var _ audio.InputDevice = (*Microphone)(nil)
var _ audio.OutputDevice = (*Speaker)(nil)

// ── Microphone ────────────────────────────────────────────────────────────────

// Microphone is an [audio.InputDevice] reading float32 frames from the
// default system input device.
type Microphone struct {
	stream *portaudio.Stream
	buffer []float32

	mu     sync.Mutex
	closed bool
}

// OpenMicrophone acquires the default input device at the given format and
// starts the stream. Failure to acquire the device (none present, permission
// denied) is reported as [audio.ErrDeviceUnavailable].
func OpenMicrophone(format audio.Format) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	buffer := make([]float32, audio.FrameSize)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), len(buffer), buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	return &Microphone{stream: stream, buffer: buffer}, nil
}

// ReadFrame blocks until one frame of samples has been captured and returns
// a copy of it.
func (m *Microphone) ReadFrame() ([]float32, error) {
	if err := m.stream.Read(); err != nil {
		return nil, fmt.Errorf("portaudio: read frame: %w", err)
	}
	frame := make([]float32, len(m.buffer))
	copy(frame, m.buffer)
	return frame, nil
}

// Close stops the stream and releases the input device. Idempotent.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	_ = m.stream.Stop()
	_ = m.stream.Close()
	return portaudio.Terminate()
}

// ── Speaker ───────────────────────────────────────────────────────────────────

// Speaker is an [audio.OutputDevice] that plays scheduled PCM16LE buffers on
// the default system output device. A single writer goroutine owns the
// stream and renders the schedule; its clock is the count of samples pushed
// to the device.
type Speaker struct {
	stream *portaudio.Stream
	buffer []int16
	rate   int

	written atomic.Int64 // samples pushed to the device so far

	mu    sync.Mutex
	queue []*speakerSource

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	closed bool
}

// speakerSource is one scheduled buffer. offset is advanced only by the
// writer goroutine under the speaker mutex.
type speakerSource struct {
	samples []int16
	start   int64 // clock position of the first sample
	offset  int
	stopped atomic.Bool
}

// Stop cancels any unplayed remainder of the buffer. No-op if it already
// finished.
func (s *speakerSource) Stop() { s.stopped.Store(true) }

// OpenSpeaker acquires the default output device at the given format and
// starts the render goroutine. Acquisition failure is reported as
// [audio.ErrDeviceUnavailable].
func OpenSpeaker(format audio.Format) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	buffer := make([]int16, speakerFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), len(buffer), buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	s := &Speaker{
		stream: stream,
		buffer: buffer,
		rate:   format.SampleRate,
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.renderLoop()
	return s, nil
}

// Now returns the output clock position: the duration of audio pushed to
// the device since the speaker was opened.
func (s *Speaker) Now() time.Duration {
	return time.Duration(s.written.Load()) * time.Second / time.Duration(s.rate)
}

// Schedule queues pcm to start playing at the given clock position. The
// scheduler guarantees positions are non-decreasing; gaps are rendered as
// silence.
func (s *Speaker) Schedule(pcm []byte, at time.Duration) (audio.Source, error) {
	src := &speakerSource{
		samples: audio.BytesToInt16(pcm),
		start:   int64(at) * int64(s.rate) / int64(time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("portaudio: speaker closed")
	}
	s.queue = append(s.queue, src)
	return src, nil
}

// Close stops the render goroutine and releases the output device.
// Idempotent.
func (s *Speaker) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		s.wg.Wait()

		_ = s.stream.Stop()
		_ = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return nil
}

// renderLoop fills the device buffer from the schedule, writing silence
// wherever no buffer is due, and advances the sample clock.
func (s *Speaker) renderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		base := s.written.Load()

		s.mu.Lock()
		for i := range s.buffer {
			s.buffer[i] = 0
			pos := base + int64(i)

			// Drop stopped or exhausted heads before rendering this slot.
			for len(s.queue) > 0 {
				head := s.queue[0]
				if head.stopped.Load() || head.offset >= len(head.samples) {
					s.queue = s.queue[1:]
					continue
				}
				break
			}
			if len(s.queue) == 0 {
				continue
			}

			head := s.queue[0]
			if pos < head.start {
				continue // silence until the head's start position
			}
			s.buffer[i] = head.samples[head.offset]
			head.offset++
		}
		s.mu.Unlock()

		if err := s.stream.Write(); err != nil {
			// Underflow after a stall is recoverable; a closed stream is not.
			select {
			case <-s.done:
				return
			default:
			}
		}
		s.written.Add(int64(len(s.buffer)))
	}
}
