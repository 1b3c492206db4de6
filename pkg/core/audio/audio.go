// Package audio handles the telephony wire format: 16-bit little-endian
// linear PCM, 8000 Hz, mono, base64-encoded on the transport.
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for linear PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the telephony audio configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:    8000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the playback duration of the given byte count.
func (c Config) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDuration returns the byte count for the given duration, rounded
// down to a whole sample.
func (c Config) BytesForDuration(d time.Duration) int {
	n := int(int64(c.BytesPerSecond()) * d.Milliseconds() / 1000)
	sample := c.Channels * (c.BitsPerSample / 8)
	if sample == 0 {
		return n
	}
	return n - n%sample
}

// DecodePayload decodes a base64 transport payload into raw PCM bytes.
func DecodePayload(payload string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return pcm, nil
}

// EncodePayload encodes raw PCM bytes into a base64 transport payload.
func EncodePayload(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Frames splits PCM audio into fixed-duration frames for paced streaming.
// The final frame may be shorter than frameDuration.
func Frames(c Config, pcm []byte, frameDuration time.Duration) [][]byte {
	size := c.BytesForDuration(frameDuration)
	if size <= 0 {
		return nil
	}

	frames := make([][]byte, 0, len(pcm)/size+1)
	for i := 0; i < len(pcm); i += size {
		end := i + size
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[i:end])
	}
	return frames
}
