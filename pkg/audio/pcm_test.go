package audio_test

import (
	"bytes"
	"testing"

	"github.com/voxtasks/voxtasks/pkg/audio"
)

func TestFloatToInt16PCM_Extremes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float32
		want int16
	}{
		{"one", 1.0, 32767},
		{"above one", 2.5, 32767},
		{"negative one", -1.0, -32768},
		{"below negative one", -7.0, -32768},
		{"zero", 0.0, 0},
		{"half", 0.5, 16383},
		{"negative half", -0.5, -16384},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.FloatToInt16PCM([]float32{tc.in})
			if len(got) != 1 {
				t.Fatalf("expected 1 sample, got %d", len(got))
			}
			if got[0] != tc.want {
				t.Errorf("FloatToInt16PCM(%v) = %d; want %d", tc.in, got[0], tc.want)
			}
		})
	}
}

func TestFloatToInt16PCM_Empty(t *testing.T) {
	t.Parallel()
	if got := audio.FloatToInt16PCM(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %d samples", len(got))
	}
}

func TestFloatToInt16PCM_Monotonic(t *testing.T) {
	t.Parallel()

	// A rising ramp of inputs must produce non-decreasing outputs.
	in := []float32{-1.5, -1.0, -0.9, -0.3, 0, 0.3, 0.9, 1.0, 1.5}
	out := audio.FloatToInt16PCM(in)
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("output not monotonic at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestInt16Bytes_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestEncodePCM_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		{},
		{0x00},
		{0xFF, 0x7F},
		{0x00, 0x80, 0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0xAB, 0xCD}, 4096),
	}

	for _, in := range cases {
		out, err := audio.DecodePCM(audio.EncodePCM(in))
		if err != nil {
			t.Fatalf("DecodePCM: %v", err)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestDecodePCM_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := audio.DecodePCM("not!!base64???"); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	// 24000 samples of mono PCM16 at 24 kHz is exactly one second.
	pcm := make([]byte, 24000*2)
	if d := audio.PlaybackFormat.Duration(pcm); d.Seconds() != 1.0 {
		t.Errorf("Duration = %v; want 1s", d)
	}

	// Odd byte counts are invalid.
	if d := audio.PlaybackFormat.Duration(pcm[:3]); d != 0 {
		t.Errorf("Duration of odd buffer = %v; want 0", d)
	}
}
