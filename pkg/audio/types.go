package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureFormat is the fixed microphone format expected by the live
// endpoint: 16 kHz mono PCM16.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// PlaybackFormat is the fixed model output format: 24 kHz mono PCM16.
var PlaybackFormat = Format{SampleRate: 24000, Channels: 1}

// FrameSize is the number of samples delivered per capture callback.
const FrameSize = 4096

// BytesPerSample is fixed at 2 for 16-bit signed little-endian PCM.
const BytesPerSample = 2

// Duration returns the play time of a PCM16LE byte buffer in this format.
// Returns 0 for invalid formats or odd-length buffers.
func (f Format) Duration(pcm []byte) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(pcm)%BytesPerSample != 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Frame is a single captured chunk of microphone audio flowing through the
// pipeline. Samples are raw floats in [-1, 1] as delivered by the input
// device; the capture pipeline converts them to PCM16 before transport.
type Frame struct {
	// Samples holds FrameSize float samples at CaptureFormat's rate.
	Samples []float32

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
