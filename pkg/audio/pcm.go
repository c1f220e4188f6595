// Package audio implements the realtime audio pipeline for Voxtasks: PCM
// sample conversion, microphone capture, and gapless playback scheduling.
//
// The pipeline moves fixed-size frames from an [InputDevice] through PCM16
// encoding to the live transport, and schedules model output chunks on a
// continuous timeline through an [OutputDevice]. Device access is behind
// narrow interfaces so tests can run against fakes; the real implementations
// live in the portaudio subpackage.
package audio

import "encoding/base64"

// FloatToInt16PCM converts float samples in [-1, 1] to signed 16-bit PCM.
// Out-of-range samples are clamped before scaling. The mapping is the usual
// asymmetric one: 1.0 → 32767 and -1.0 → -32768, matching the
// two's-complement int16 range. An empty input yields an empty output.
func FloatToInt16PCM(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1.0:
			out[i] = 32767
		case s <= -1.0:
			out[i] = -32768
		case s < 0:
			out[i] = int16(s * 32768)
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToBytes packs int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 unpacks little-endian PCM bytes into int16 samples.
// A trailing odd byte is dropped.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// EncodePCM encodes a PCM byte buffer for text-safe transport.
// DecodePCM is its exact inverse for every input, including the empty buffer.
func EncodePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM decodes a text-safe PCM payload back to raw bytes.
func DecodePCM(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
