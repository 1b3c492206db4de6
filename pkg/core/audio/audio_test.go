package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s & 0xFF)
		pcm[i*2+1] = byte((s >> 8) & 0xFF)
	}
	return pcm
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
	}{
		{name: "empty", pcm: []byte{}},
		{name: "single sample", pcm: []byte{0x12, 0x34}},
		{name: "one frame", pcm: bytes.Repeat([]byte{0xAB, 0xCD}, 160)},
		{name: "odd bytes", pcm: []byte{0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodePayload(EncodePayload(tt.pcm))
			if err != nil {
				t.Fatalf("round trip failed: %v", err)
			}
			if !bytes.Equal(decoded, tt.pcm) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(tt.pcm))
			}
		})
	}
}

func TestDecodePayloadInvalid(t *testing.T) {
	if _, err := DecodePayload("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestConfigDuration(t *testing.T) {
	c := DefaultConfig()

	// 8 kHz 16-bit mono: 16000 bytes per second.
	if got := c.BytesPerSecond(); got != 16000 {
		t.Fatalf("BytesPerSecond = %d, want 16000", got)
	}
	if got := c.DurationMs(8000); got != 500 {
		t.Errorf("DurationMs(8000) = %d, want 500", got)
	}
	if got := c.Duration(320); got != 20*time.Millisecond {
		t.Errorf("Duration(320) = %v, want 20ms", got)
	}
	if got := c.BytesForDuration(20 * time.Millisecond); got != 320 {
		t.Errorf("BytesForDuration(20ms) = %d, want 320", got)
	}
}

func TestFrames(t *testing.T) {
	c := DefaultConfig()

	tests := []struct {
		name      string
		totalMs   int
		wantCount int
		lastBytes int
	}{
		{name: "exact frames", totalMs: 100, wantCount: 5, lastBytes: 320},
		{name: "trailing partial", totalMs: 110, wantCount: 6, lastBytes: 160},
		{name: "single short frame", totalMs: 10, wantCount: 1, lastBytes: 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, c.BytesForDuration(time.Duration(tt.totalMs)*time.Millisecond))
			frames := Frames(c, pcm, 20*time.Millisecond)
			if len(frames) != tt.wantCount {
				t.Fatalf("got %d frames, want %d", len(frames), tt.wantCount)
			}
			if len(frames[len(frames)-1]) != tt.lastBytes {
				t.Errorf("last frame = %d bytes, want %d", len(frames[len(frames)-1]), tt.lastBytes)
			}
			var total int
			for _, f := range frames {
				total += len(f)
			}
			if total != len(pcm) {
				t.Errorf("frames cover %d bytes, want %d", total, len(pcm))
			}
		})
	}
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, 16384, 16384, 16384}, expected: 0.5},
		{name: "mixed signal", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	pcm := pcmFromSamples([]int16{100, -32768, 5000})
	if got := PeakAmplitude(pcm); math.Abs(got-1.0) > 0.001 {
		t.Errorf("expected peak 1.0, got %.3f", got)
	}
	if got := PeakAmplitude(nil); got != 0 {
		t.Errorf("expected 0 for empty input, got %.3f", got)
	}
}

func TestTone(t *testing.T) {
	c := DefaultConfig()
	pcm := Tone(c, 440, 100*time.Millisecond, 0.5)
	if len(pcm) != c.BytesForDuration(100*time.Millisecond) {
		t.Fatalf("tone length = %d, want %d", len(pcm), c.BytesForDuration(100*time.Millisecond))
	}
	if RMSEnergy(pcm) < 0.1 {
		t.Error("tone should carry audible energy")
	}
}
