package turn

import (
	"sync"

	"github.com/voxline-ai/voxline/pkg/core/audio"
)

// BargeInConfig tunes interruption detection during agent speech.
// Detection must resolve faster than turn-end silence detection, so
// VoicedFrames is deliberately a much smaller run than the detector's
// trailing-silence window.
type BargeInConfig struct {
	// EnergyThreshold is the voiced classification level, shared with the
	// turn detector's scale.
	EnergyThreshold float64 `json:"energy_threshold"`

	// VoicedFrames is the run of consecutive voiced frames that confirms
	// a barge-in. At 20 ms frames the default of 3 reacts in ~60 ms.
	VoicedFrames int `json:"voiced_frames"`
}

// DefaultBargeInConfig returns barge-in settings for 20 ms frames.
func DefaultBargeInConfig() BargeInConfig {
	return BargeInConfig{
		EnergyThreshold: 0.015,
		VoicedFrames:    3,
	}
}

// BargeIn watches inbound frames while the agent speaks and fires once a
// voiced run long enough to rule out line noise is observed.
type BargeIn struct {
	cfg BargeInConfig

	mu  sync.Mutex
	run int
}

// NewBargeIn creates a barge-in detector.
func NewBargeIn(cfg BargeInConfig) *BargeIn {
	return &BargeIn{cfg: cfg}
}

// Feed processes one inbound frame observed during agent speech. It
// returns true when the voiced run reaches the configured length.
func (b *BargeIn) Feed(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if audio.RMSEnergy(frame) > b.cfg.EnergyThreshold {
		b.run++
	} else {
		b.run = 0
	}
	return b.run >= b.cfg.VoicedFrames
}

// Reset clears the voiced run, typically when agent speech starts or ends.
func (b *BargeIn) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = 0
}
